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
	"github.com/openairlink/airlink/libs/substream"
	"github.com/openairlink/airlink/libs/txengine"
)

// tickInterval paces the cooperative engine loop well inside the
// shortest (mode 1) cycle time.
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

	caps := pairing.Capabilities{
		MaxTXPowerDBm:  17,
		NumChannels:    16,
		SupportedModes: pairing.NewModeMask(pairing.Mode1, pairing.Mode2, pairing.Mode3, pairing.Mode4, pairing.Mode5),
	}
	band := pairing.Band(cfg.TX.Band)

	// ************************************************************************
	// = Bind (when requested or unpaired) ===
	// ------------------------------------------------------------------------
	// The paired-RX list is kept in recency order; operate with the most
	// recently bound one.
	var p pairing.Pairing
	havePairing := false
	for idx := 0; ; idx++ {
		next, ok := st.GetPairedRX(idx)
		if !ok {
			break
		}
		p, havePairing = next, true
	}
	if *doBind || !havePairing {
		result, err := runBind(ctx, rdo, band, st, caps, cfg.TX.DeviceName)
		if err != nil {
			logger.Error("Bind failed", "error", err)
			os.Exit(1)
		}
		p = result.Pairing
	}
	peer, _ := st.GetAirInfo(p.PeerAddress)
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
		link = metrics.NewLink("tx")
	}
	// ------------------------------------------------------------------------

	// ************************************************************************
	// = Engine + RMP ===
	// ------------------------------------------------------------------------
	// The handset decoder (CRSF/SBUS/IBUS/PPM, external to this binary)
	// pushes values into this buffer; until it does, the source reports
	// input failsafe and the engine hops without transmitting.
	source := chanio.New()

	eng, err := txengine.Open(rdo, p.Key, band.CenterHz(), caps.SupportedModes, peer.Capabilities.SupportedModes, source,
		func(id uint8, kind substream.TelemetryKind, value uint32, now time.Time) {
			if mq != nil {
				mq.PublishDownlink(id, kind, value, now)
			}
		})
	if err != nil {
		logger.Error("Critical TX engine open failure", "error", err)
		os.Exit(1)
	}
	eng.AttachAirIO(airio.New(p, peer))

	node := rmp.NewNode(st.OwnAddress(), cfg.TX.DeviceName, nil)
	node.SetKey(p.Key)
	eng.HandleTunnel(func(cmd substream.Cmd, data []byte) {
		if cmd != substream.CmdRMP {
			return
		}
		if m, err := rmp.DecodeMessage(data); err == nil {
			_ = node.Dispatch(time.Now(), m)
		}
	})
	// ------------------------------------------------------------------------

	// ************************************************************************
	// = Supervised loops ===
	// ------------------------------------------------------------------------
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return engineLoop(ctx, eng, node, source, status, link) })
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

// runBind drives the TX bind procedure until an RX accepts, then
// persists the pairing and peer info.
func runBind(ctx context.Context, rdo radio.Radio, band pairing.Band, st *store.Store, caps pairing.Capabilities, name string) (*bind.Result, error) {
	be, err := bind.NewTXEngine(rdo, band, st.OwnAddress(), caps, name)
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
				if err := st.AddPairedRX(result.Pairing); err != nil {
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

// engineLoop is the single cooperative control loop of the TX side: tick
// the engine, service RMP housekeeping, and push observability
// snapshots at a human cadence.
func engineLoop(ctx context.Context, eng *txengine.Engine, node *rmp.Node, source *chanio.Buffer, status *statusserver.Server, link *metrics.Link) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	nextSnapshotAt := time.Now()
	var prev txengine.Stats

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if err := eng.Tick(now); err != nil {
				return fmt.Errorf("tx engine: %w", err)
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

func publishSnapshot(eng *txengine.Engine, status *statusserver.Server, link *metrics.Link, prev *txengine.Stats, now time.Time) {
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
		link.FramesValid.Add(float64(stats.ValidDownlinks - prev.ValidDownlinks))
		link.FramesInvalid.Add(float64(stats.InvalidDownlinks - prev.InvalidDownlinks))
		link.FramesLost.Add(float64(stats.LostCycles - prev.LostCycles))
		link.ModeSwitches.Add(float64(stats.ModeSwitches - prev.ModeSwitches))
		link.FailsafeCount.Add(float64(stats.FailsafeEvents - prev.FailsafeEvents))
		*prev = stats
	}
}
