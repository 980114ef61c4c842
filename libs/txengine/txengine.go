// Package txengine drives the uplink-initiator side of the air link:
// build and send an uplink frame every cycle, wait for the
// matching downlink, and own mode-switch initiation based on the RX's
// reported SNR.
package txengine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/openairlink/airlink/libs/airframe"
	"github.com/openairlink/airlink/libs/airio"
	"github.com/openairlink/airlink/libs/datastate"
	"github.com/openairlink/airlink/libs/freqtable"
	"github.com/openairlink/airlink/libs/pairing"
	"github.com/openairlink/airlink/libs/radio"
	"github.com/openairlink/airlink/libs/substream"
)

// ChannelSource is the consumer collaborator providing control channel
// values and an input-failsafe flag.
type ChannelSource interface {
	Channel(idx int) (value int, ok bool)
	Failsafe() bool
}

// phase is the TX engine's cooperative-loop cycle phase: {IDLE, TX,
// TX_DONE, RX, RX_DONE} collapsed to the phases this non-blocking Tick
// implementation actually distinguishes.
type phase uint8

const (
	phaseIdle phase = iota
	phaseWaitTXDone
	phaseWaitRXDone
)

type modeSwitch struct {
	target pairing.Mode
	atSeq  uint8
}

type telemetryItem struct {
	kind  substream.TelemetryKind
	value uint32
}

// Engine is one open TX air link.
type Engine struct {
	radio   radio.Radio
	source  ChannelSource
	sink    func(id uint8, kind substream.TelemetryKind, value uint32, now time.Time) // downlink telemetry -> consumer

	key        uint32
	freqTable  freqtable.Table
	air        *airio.State
	stream     *substream.Stream
	heuristic  *radio.Heuristic

	ownModes     pairing.ModeMask
	commonModes  pairing.ModeMask
	currentMode  pairing.Mode

	uplinkTelemetry     *datastate.Table
	uplinkTelemetryVals map[uint8]telemetryItem
	channelDS           *datastate.Table // channels >= 4, carried via substream

	seq          uint8
	lastChannels [4]uint16
	phase        phase
	nextPacketAt time.Time
	rxDeadline   time.Time

	onTunnel func(cmd substream.Cmd, data []byte)

	proposedMode   pairing.Mode // SWITCH_MODE_n sent, ACK not yet seen
	pendingSwitch  *modeSwitch
	pendingPowerDB *int8

	lastValidDownlinkAt time.Time
	failsafe            bool

	stats Stats

	log *slog.Logger
}

// Stats are the engine's lifetime counters, exposed for the metrics
// exporter.
type Stats struct {
	ValidDownlinks   uint64
	InvalidDownlinks uint64
	LostCycles       uint64
	ModeSwitches     uint64
	FailsafeEvents   uint64
}

// Open builds a TX engine for an already-agreed pairing. It fails if the
// peer's supported modes and ours share nothing in common.
func Open(r radio.Radio, key uint32, baseHz uint32, ownModes pairing.ModeMask, peerModes pairing.ModeMask, source ChannelSource, onDownlinkTelemetry func(id uint8, kind substream.TelemetryKind, value uint32, now time.Time)) (*Engine, error) {
	common := ownModes.Common(peerModes)
	if common.Empty() {
		return nil, fmt.Errorf("txengine: no common mode between TX and RX")
	}

	e := &Engine{
		radio:               r,
		source:              source,
		sink:                onDownlinkTelemetry,
		key:                 key,
		freqTable:           freqtable.Init(key, baseHz),
		ownModes:            ownModes,
		commonModes:         common,
		currentMode:         common.Fastest(),
		uplinkTelemetry:     datastate.NewTable(),
		uplinkTelemetryVals: make(map[uint8]telemetryItem),
		channelDS:           datastate.NewTable(),
		log:                 slog.With("func", "txengine.Engine", "package", "txengine"),
	}
	e.heuristic = radio.NewHeuristic(e.currentMode)
	// seq is pre-incremented at the start of each cycle, so seeding it at
	// the last slot makes the first transmitted frame seq 0, the slot an
	// RX engine listens at immediately after open.
	e.seq = freqtable.NumSlots - 1
	for i := range e.lastChannels {
		e.lastChannels[i] = airframe.EncodeChannel(airframe.ChannelCenter)
	}

	e.stream = substream.New(substream.Decoders{
		OnDownlinkTelemetry: func(tv substream.TelemetryValue, now time.Time) {
			if e.sink != nil {
				e.sink(tv.ID, tv.Kind, tv.Payload, now)
			}
		},
		OnCommand: e.handleCommand,
	})

	if err := r.SetMode(e.currentMode); err != nil {
		return nil, err
	}
	if err := r.SetPayloadSize(airframe.UplinkSize); err != nil {
		return nil, err
	}
	if err := r.SetSyncWord(airframe.SyncWord(key)); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) handleCommand(cmd substream.Cmd, data []byte) {
	switch cmd {
	case substream.CmdSwitchModeAck:
		if len(data) < 2 || e.proposedMode == 0 {
			return
		}
		target := pairing.Mode(data[0])
		if target != e.proposedMode {
			return
		}
		e.pendingSwitch = &modeSwitch{target: target, atSeq: data[1] % 16}
		e.proposedMode = 0
	case substream.CmdRejectMode:
		if len(data) < 1 {
			return
		}
		rejected := pairing.Mode(data[0])
		e.commonModes = e.commonModes.Without(rejected)
		e.proposedMode = 0
		e.pendingSwitch = nil
		e.heuristic.Reset(e.currentMode)
	case substream.CmdMSP, substream.CmdRMP:
		if e.onTunnel != nil {
			e.onTunnel(cmd, data)
		}
	}
}

// HandleTunnel registers the consumer callback for tunneled MSP chunks
// and RMP datagrams arriving over the downlink substream.
func (e *Engine) HandleTunnel(fn func(cmd substream.Cmd, data []byte)) {
	e.onTunnel = fn
}

// Tunnel enqueues a tunneled MSP chunk or RMP datagram onto the uplink
// substream.
func (e *Engine) Tunnel(cmd substream.Cmd, data []byte) {
	e.stream.FeedOutputCmd(cmd, data)
}

// SetUplinkTelemetry enqueues a fresh uplink telemetry value for
// scheduling onto the substream.
func (e *Engine) SetUplinkTelemetry(now time.Time, id uint8, kind substream.TelemetryKind, value uint32) {
	e.uplinkTelemetryVals[id] = telemetryItem{kind: kind, value: value}
	e.uplinkTelemetry.Set(id, now)
}

// SetChannel marks channel idx (>=4) dirty for substream delivery; the
// first four channels ride directly in the uplink frame instead.
func (e *Engine) SetChannel(now time.Time, idx uint8) {
	e.channelDS.Set(idx, now)
}

// RequestTXPower schedules a deferred power change, applied at the start
// of the next cycle.
func (e *Engine) RequestTXPower(dBm int8) {
	e.pendingPowerDB = &dBm
}

func (e *Engine) Failsafe() bool { return e.failsafe }

func (e *Engine) Stats() Stats { return e.stats }

// CurrentMode reports the mode the engine is presently cycling at.
func (e *Engine) CurrentMode() pairing.Mode { return e.currentMode }

func (e *Engine) AirIO() *airio.State { return e.air }

func (e *Engine) topUpSubstream(now time.Time) {
	for e.stream.OutputCount() < airframe.UplinkSubstreamBytes {
		if id, ok := e.uplinkTelemetry.Highest(now); ok {
			item := e.uplinkTelemetryVals[id]
			e.uplinkTelemetry.MarkSent(id, now, e.seq)
			e.stream.FeedOutputUplinkTelemetry(substream.TelemetryValue{ID: id, Kind: item.kind, Payload: item.value})
			continue
		}
		if idx, ok := e.channelDS.Highest(now); ok {
			v, has := e.source.Channel(int(idx))
			if has {
				e.channelDS.MarkSent(idx, now, e.seq)
				e.stream.FeedOutputChannel(idx, airframe.EncodeChannel(v))
				continue
			}
		}
		break
	}
}

// Tick advances the engine's cooperative control loop one step. It never
// blocks; call it repeatedly from the surrounding event loop.
func (e *Engine) Tick(now time.Time) error {
	switch e.phase {
	case phaseIdle:
		return e.startCycle(now)
	case phaseWaitTXDone:
		if !e.radio.IsTXDone() {
			return nil
		}
		if err := e.radio.SetPayloadSize(airframe.DownlinkSize); err != nil {
			return err
		}
		if err := e.radio.StartRX(); err != nil {
			return err
		}
		e.rxDeadline = now.Add(radio.CycleDeadline(e.currentMode))
		e.phase = phaseWaitRXDone
		return nil
	case phaseWaitRXDone:
		return e.waitDownlink(now)
	}
	return nil
}

func (e *Engine) startCycle(now time.Time) error {
	if now.Before(e.nextPacketAt) {
		return nil
	}
	e.seq = (e.seq + 1) % 16

	if e.pendingSwitch != nil && e.pendingSwitch.atSeq == e.seq {
		e.currentMode = e.pendingSwitch.target
		if err := e.radio.SetMode(e.currentMode); err != nil {
			return err
		}
		e.heuristic.Reset(e.currentMode)
		e.pendingSwitch = nil
		e.stats.ModeSwitches++
	}
	if e.pendingPowerDB != nil {
		if err := e.radio.SetTXPower(*e.pendingPowerDB); err != nil {
			return err
		}
		e.pendingPowerDB = nil
	}

	slot := int(e.seq)
	if err := e.radio.SetFrequency(e.freqTable.FreqHz(slot), e.freqTable.ErrorHint(slot)); err != nil {
		return err
	}

	if e.source.Failsafe() {
		// Input failsafe: keep hopping and keep the substream scheduler
		// warm, but transmit nothing so the RX sees the silence and
		// declares link failsafe on its own.
		e.topUpSubstream(now)
		e.checkFailsafe(now)
		e.finishCycle(now)
		return nil
	}
	for i := 0; i < 4; i++ {
		if v, ok := e.source.Channel(i); ok {
			e.lastChannels[i] = airframe.EncodeChannel(v)
		}
	}

	e.topUpSubstream(now)
	var frame airframe.UplinkFrame
	frame.Seq = e.seq
	frame.Channels = e.lastChannels
	frame.Data[0], _ = e.stream.PopOutput()
	frame.Data[1], _ = e.stream.PopOutput()
	frame.TxPacketPrepare(e.key)

	if err := e.radio.SetPayloadSize(airframe.UplinkSize); err != nil {
		return err
	}
	wire := frame.Encode()
	if err := e.radio.Send(wire[:]); err != nil {
		return err
	}
	e.phase = phaseWaitTXDone
	return nil
}

func (e *Engine) waitDownlink(now time.Time) error {
	if e.radio.IsRXDone() {
		valid := false
		buf := make([]byte, airframe.DownlinkSize)
		n, err := e.radio.Read(buf)
		if err == nil && n == airframe.DownlinkSize {
			df, derr := airframe.DecodeDownlinkFrame(buf)
			if derr == nil && df.Validate(e.key) {
				valid = true
				e.stats.ValidDownlinks++
				e.stream.FeedInput(df.Seq, df.Data[:], now)
				e.uplinkTelemetry.AckAll(df.AckSeq)
				e.channelDS.AckAll(df.AckSeq)

				rssi, snr, lq := e.radio.RSSI()
				if e.air != nil {
					e.air.RecordFrame(now, rssi, snr, lq)
				}
				e.lastValidDownlinkAt = now
				e.failsafe = false

				if e.pendingSwitch == nil && e.proposedMode == 0 {
					if target, ok := e.heuristic.Observe(now, float64(snr)/4.0); ok && e.commonModes.Has(target) {
						e.proposedMode = target
						e.stream.FeedOutputCmd(substream.SwitchModeCmd(uint8(target)), nil)
					}
				}
			}
		}
		if !valid {
			e.stats.InvalidDownlinks++
		}
		e.finishCycle(now)
		return nil
	}

	if now.After(e.rxDeadline) {
		e.stats.LostCycles++
		e.checkFailsafe(now)
		// The deadline already lies past this cycle's length: start the
		// next cycle on the following tick.
		e.phase = phaseIdle
	}
	return nil
}

func (e *Engine) finishCycle(now time.Time) {
	e.nextPacketAt = now.Add(radio.CycleTime(e.currentMode))
	e.phase = phaseIdle
}

// checkFailsafe asserts TX-side failsafe when no valid
// downlink has been seen for the mode's failsafe interval.
func (e *Engine) checkFailsafe(now time.Time) {
	if e.lastValidDownlinkAt.IsZero() {
		e.lastValidDownlinkAt = now
		return
	}
	if now.Sub(e.lastValidDownlinkAt) >= radio.FailsafeInterval(e.currentMode) {
		if !e.failsafe {
			e.stats.FailsafeEvents++
		}
		e.failsafe = true
		if e.air != nil {
			e.air.Invalidate()
		}
		e.proposedMode = 0
		e.pendingSwitch = nil
		longest := e.commonModes.Longest()
		if longest != e.currentMode {
			e.currentMode = longest
			_ = e.radio.SetMode(e.currentMode)
			e.heuristic.Reset(e.currentMode)
		}
	}
}

// AttachAirIO installs the link-quality state once the engine knows the
// peer's air info (constructed by the caller after bind/pairing lookup).
func (e *Engine) AttachAirIO(a *airio.State) { e.air = a }
