package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"periph.io/x/host/v3"

	"github.com/openairlink/airlink/internal/chanio"
	"github.com/openairlink/airlink/internal/config"
	"github.com/openairlink/airlink/internal/hal/spi"
	"github.com/openairlink/airlink/internal/hal/uart"
	"github.com/openairlink/airlink/internal/metrics"
	"github.com/openairlink/airlink/internal/statusserver"
	"github.com/openairlink/airlink/internal/store"
	"github.com/openairlink/airlink/internal/telemetrybridge"
	"github.com/openairlink/airlink/libs/airio"
	"github.com/openairlink/airlink/libs/bind"
	"github.com/openairlink/airlink/libs/pairing"
	"github.com/openairlink/airlink/libs/radio"
	"github.com/openairlink/airlink/libs/radio/sx127x"
	"github.com/openairlink/airlink/libs/rmp"
	"github.com/openairlink/airlink/libs/rxengine"
	"github.com/openairlink/airlink/libs/substream"
)

const tickInterval = 500 * time.Microsecond

func main() {
	// ************************************************************************
	// = Platform Setup ===
	// ------------------------------------------------------------------------
	if _, err := host.Init(); err != nil {
		panic(err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() { <-sigChan; cancel() }() // Wait for Ctrl + C, basically

	configPath := flag.String("config", "config.yaml", "path to configuration file")
	doBind := flag.Bool("bind", false, "run the bind procedure before starting the link")
	flag.Parse()
	// ------------------------------------------------------------------------

	// ************************************************************************
	// = Logger ===
	// ------------------------------------------------------------------------
	opts := &slog.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: false,
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, opts))
	slog.SetDefault(logger)
	// ------------------------------------------------------------------------

	// ************************************************************************
	// = Config ===
	// ------------------------------------------------------------------------
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("Critical error loading configuration", "error", err)
		os.Exit(1)
	}

	cfgJSON, _ := json.MarshalIndent(cfg, "", "  ")
	fmt.Printf("Loaded Config:\n%s\n", string(cfgJSON))
	// ------------------------------------------------------------------------

	// ************************************************************************
	// = Settings store ===
	// ------------------------------------------------------------------------
	st, err := store.Open(cfg.StatePath)
	if err != nil {
		logger.Error("Critical settings store failure", "error", err)
		os.Exit(1)
	}
	// ------------------------------------------------------------------------

	// ************************************************************************
	// = SPI + SX127x ===
	// ------------------------------------------------------------------------
	spiConn, spiClose, err := spi.Setup(&cfg.SPI)
	if err != nil {
		logger.Error("Critical SPI init failure", "error", err)
		os.Exit(1)
	}
	defer spiClose()

	rdo, err := sx127x.New(spiConn, &cfg.Radio)
	if err != nil {
		logger.Error("Critical SX127x modem failure", "error", err)
		os.Exit(1)
	}
	if err := rdo.Init(); err != nil {
		logger.Error("Critical SX127x init failure", "error", err)
		os.Exit(1)
	}
	defer rdo.Shutdown()
	// ------------------------------------------------------------------------

	// ************************************************************************
	// = FC serial ===
	// ------------------------------------------------------------------------
	fcConn, fcClose, err := uart.Setup(&cfg.RX)
	if err != nil {
		logger.Error("FC serial failure, continuing without it", "error", err)
		fcConn = nil
	} else {
		defer fcClose()
	}
	// ------------------------------------------------------------------------

	caps := pairing.Capabilities{
		MaxTXPowerDBm:  17,
		NumChannels:    16,
		SupportedModes: pairing.NewModeMask(pairing.Mode1, pairing.Mode2, pairing.Mode3, pairing.Mode4, pairing.Mode5),
	}

	// ************************************************************************
	// = Bind (when requested or unpaired) ===
	// ------------------------------------------------------------------------
	p, havePairing := st.GetPairedTX()
	peer, _ := st.GetAirInfo(p.PeerAddress)
	band := peer.Band
	if *doBind || !havePairing {
		var scanBands []pairing.Band
		for _, b := range cfg.RX.ScanBands {
			scanBands = append(scanBands, pairing.Band(b))
		}
		result, err := runBind(ctx, rdo, scanBands, st, caps, cfg.RX.DeviceName, cfg.RX.RequireConfirm)
		if err != nil {
			logger.Error("Bind failed", "error", err)
			os.Exit(1)
		}
		p = result.Pairing
		peer = result.Peer
		band = result.Band
	}
	if band == 0 && len(cfg.RX.ScanBands) > 0 {
		band = pairing.Band(cfg.RX.ScanBands[0])
	}
	logger.Info("Operating pairing", "peer", p.PeerAddress, "band", band)
	// ------------------------------------------------------------------------

	// ************************************************************************
	// = Observability sinks ===
	// ------------------------------------------------------------------------
	var mq *telemetrybridge.Bridge
	if cfg.MQTT.Enable {
		mq, err = telemetrybridge.Open(&cfg.MQTT)
		if err != nil {
			logger.Error("MQTT bridge failure", "error", err)
			os.Exit(1)
		}
		defer mq.Close()
	}

	var status *statusserver.Server
	if cfg.Status.Enable {
		status = statusserver.New(&cfg.Status)
	}

	var link *metrics.Link
	if cfg.Metrics.Enable {
		link = metrics.NewLink("rx")
	}
	// ------------------------------------------------------------------------

	// ************************************************************************
	// = Engine + RMP ===
	// ------------------------------------------------------------------------
	sink := chanio.New()

	eng, err := rxengine.Open(rdo, p.Key, band.CenterHz(), caps.SupportedModes, peer.Capabilities.SupportedModes, sink,
		func(id uint8, kind substream.TelemetryKind, value uint32, now time.Time) {
			if mq != nil {
				mq.PublishUplink(id, kind, value, now)
			}
		})
	if err != nil {
		logger.Error("Critical RX engine open failure", "error", err)
		os.Exit(1)
	}
	eng.AttachAirIO(airio.New(p, peer))

	node := rmp.NewNode(st.OwnAddress(), cfg.RX.DeviceName, nil)
	node.SetKey(p.Key)
	eng.HandleTunnel(func(cmd substream.Cmd, data []byte) {
		switch cmd {
		case substream.CmdMSP:
			// MSP chunks tunneled from the TX go straight down the FC
			// serial link; framing them is the FC protocol layer's job.
			if fcConn != nil {
				_ = fcConn.Tx(data, nil)
			}
		case substream.CmdRMP:
			if m, err := rmp.DecodeMessage(data); err == nil {
				_ = node.Dispatch(time.Now(), m)
			}
		}
	})
	// ------------------------------------------------------------------------

	// ************************************************************************
	// = Supervised loops ===
	// ------------------------------------------------------------------------
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return engineLoop(ctx, eng, node, status, link) })
	if status != nil {
		g.Go(status.Serve)
	}
	if cfg.Metrics.Enable {
		g.Go(func() error { return metrics.Serve(&cfg.Metrics) })
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Error("Link terminated", "error", err)
		os.Exit(1)
	}
	// ------------------------------------------------------------------------
}

// runBind drives the RX bind procedure: scan the enabled bands until a TX
// advertises, reply, and persist the result.
func runBind(ctx context.Context, rdo radio.Radio, bands []pairing.Band, st *store.Store, caps pairing.Capabilities, name string, requireConfirm bool) (*bind.Result, error) {
	be, err := bind.NewRXEngine(rdo, bands, st.OwnAddress(), caps, name, requireConfirm)
	if err != nil {
		return nil, err
	}
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case now := <-ticker.C:
			result, err := be.Tick(now)
			if err != nil {
				return nil, err
			}
			if result != nil {
				if err := st.SetPairedTX(result.Pairing); err != nil {
					return nil, err
				}
				if err := st.SetAirInfo(result.Pairing.PeerAddress, result.Peer, result.Band); err != nil {
					return nil, err
				}
				return result, nil
			}
		}
	}
}

func engineLoop(ctx context.Context, eng *rxengine.Engine, node *rmp.Node, status *statusserver.Server, link *metrics.Link) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	nextSnapshotAt := time.Now()
	var prev rxengine.Stats

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if err := eng.Tick(now); err != nil {
				return fmt.Errorf("rx engine: %w", err)
			}
			for _, m := range node.Tick(now) {
				eng.Tunnel(substream.CmdRMP, rmp.EncodeMessage(m))
			}

			if now.After(nextSnapshotAt) {
				nextSnapshotAt = now.Add(time.Second)
				publishSnapshot(eng, status, link, &prev, now)
			}
		}
	}
}

func publishSnapshot(eng *rxengine.Engine, status *statusserver.Server, link *metrics.Link, prev *rxengine.Stats, now time.Time) {
	var rssi, snr, lq float64
	if air := eng.AirIO(); air != nil {
		rssi, snr, lq = air.RSSI.Value(), air.SNR.Value(), air.LQ.Value()
	}

	if status != nil {
		status.Broadcast(statusserver.Snapshot{
			Mode:        eng.CurrentMode().String(),
			Failsafe:    eng.Failsafe(),
			RSSIDBm:     rssi,
			SNRDB:       snr,
			LinkQuality: uint8(lq),
			At:          now.UTC().Format(time.RFC3339Nano),
		})
	}

	if link != nil {
		stats := eng.Stats()
		link.RSSI.Set(rssi)
		link.SNR.Set(snr)
		link.LinkQuality.Set(lq)
		link.Mode.Set(float64(eng.CurrentMode()))
		if eng.Failsafe() {
			link.Failsafe.Set(1)
		} else {
			link.Failsafe.Set(0)
		}
		link.FramesValid.Add(float64(stats.ValidUplinks - prev.ValidUplinks))
		link.FramesInvalid.Add(float64(stats.InvalidUplinks - prev.InvalidUplinks))
		link.FramesLost.Add(float64(stats.Misses - prev.Misses))
		link.ModeSwitches.Add(float64(stats.ModeSwitches - prev.ModeSwitches))
		link.FailsafeCount.Add(float64(stats.FailsafeEvents - prev.FailsafeEvents))
		*prev = stats
	}
}
