// Package rxengine drives the downlink side of the air link:
// listen for the uplink frame predicted by the frequency table, answer
// with a downlink frame, and recover lock after consecutive misses by
// sweeping nearby hop slots instead of re-running bind.
package rxengine

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

// ChannelSink receives the first four control channels as they are
// decoded off each valid uplink frame, plus any channel >=4 carried over
// the substream.
type ChannelSink interface {
	SetChannel(idx int, value uint16)
}

const (
	// slowSweepThreshold is N/2: past this many consecutive misses the
	// engine stops chasing the hop sequence forward and starts a slow
	// backward sweep to re-acquire a restarted or drifted TX.
	slowSweepThreshold = freqtable.NumSlots / 2

	// slowSweepDwell is how many listen deadlines the slow sweep spends
	// on each slot before stepping backward.
	slowSweepDwell = 4

	// recoveryFrames is how many consecutive valid uplink frames it takes
	// to deassert failsafe once frames resume.
	recoveryFrames = 5
)

type phase uint8

const (
	phaseListen phase = iota
	phaseWaitTXDone
)

// pendingSwitch is a SWITCH_MODE_n received but not yet answered.
type pendingSwitch struct {
	target pairing.Mode
	accept bool
}

// scheduledSwitch is an acked mode change waiting for its agreed-upon tx
// sequence to come around.
type scheduledSwitch struct {
	target pairing.Mode
	atSeq  uint8
}

// Engine is one open RX air link.
type Engine struct {
	radio radio.Radio
	sink  ChannelSink
	onUplinkTelemetry func(id uint8, kind substream.TelemetryKind, value uint32, now time.Time)

	onTunnel func(cmd substream.Cmd, data []byte)

	key       uint32
	freqTable freqtable.Table
	air       *airio.State
	stream    *substream.Stream

	ownModes    pairing.ModeMask
	commonModes pairing.ModeMask
	currentMode pairing.Mode

	downlinkTelemetry     *datastate.Table
	downlinkTelemetryVals map[uint8]telemetrySlotValue

	predictedSeq    uint8
	consecutiveLost int
	sweepSlot       int
	sweepDwell      int
	phase           phase
	listenDeadline  time.Time
	deadlineExtended bool

	lastFrameAt   time.Time
	failsafe      bool
	goodStreak    int
	pendingSwitch *pendingSwitch
	scheduled     *scheduledSwitch

	stats Stats

	log *slog.Logger
}

// Stats are the engine's lifetime counters, exposed for the metrics
// exporter.
type Stats struct {
	ValidUplinks   uint64
	InvalidUplinks uint64
	Misses         uint64
	ModeSwitches   uint64
	FailsafeEvents uint64
}

type telemetrySlotValue struct {
	kind  substream.TelemetryKind
	value uint32
}

// Open builds an RX engine already tuned to the paired frequency table and
// ready to listen.
func Open(r radio.Radio, key uint32, baseHz uint32, ownModes, peerModes pairing.ModeMask, sink ChannelSink, onUplinkTelemetry func(id uint8, kind substream.TelemetryKind, value uint32, now time.Time)) (*Engine, error) {
	common := ownModes.Common(peerModes)
	if common.Empty() {
		return nil, fmt.Errorf("rxengine: no common mode between RX and TX")
	}

	e := &Engine{
		radio:                 r,
		sink:                  sink,
		onUplinkTelemetry:     onUplinkTelemetry,
		key:                   key,
		freqTable:             freqtable.Init(key, baseHz),
		ownModes:              ownModes,
		commonModes:           common,
		currentMode:           common.Fastest(),
		downlinkTelemetry:     datastate.NewTable(),
		downlinkTelemetryVals: make(map[uint8]telemetrySlotValue),
		log:                   slog.With("func", "rxengine.Engine", "package", "rxengine"),
	}

	e.stream = substream.New(substream.Decoders{
		OnChannel: func(idx uint8, value uint16) {
			if e.sink != nil {
				e.sink.SetChannel(int(idx), airframe.DecodeChannel(value))
			}
		},
		OnUplinkTelemetry: func(tv substream.TelemetryValue, now time.Time) {
			if e.onUplinkTelemetry != nil {
				e.onUplinkTelemetry(tv.ID, tv.Kind, tv.Payload, now)
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
	if err := e.listenAt(e.predictedSeq); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) handleCommand(cmd substream.Cmd, data []byte) {
	switch {
	case cmd >= substream.CmdSwitchMode1 && cmd <= substream.CmdSwitchMode5:
		target := pairing.Mode(cmd)
		e.pendingSwitch = &pendingSwitch{target: target, accept: e.commonModes.Has(target)}
	case cmd == substream.CmdMSP || cmd == substream.CmdRMP:
		if e.onTunnel != nil {
			e.onTunnel(cmd, data)
		}
	}
}

// HandleTunnel registers the consumer callback for tunneled MSP chunks
// and RMP datagrams arriving over the uplink substream.
func (e *Engine) HandleTunnel(fn func(cmd substream.Cmd, data []byte)) {
	e.onTunnel = fn
}

// Tunnel enqueues a tunneled MSP chunk or RMP datagram onto the downlink
// substream.
func (e *Engine) Tunnel(cmd substream.Cmd, data []byte) {
	e.stream.FeedOutputCmd(cmd, data)
}

// SetDownlinkTelemetry enqueues a fresh RX-side telemetry value (e.g.
// flight controller sensor data) for scheduling onto the downlink
// substream.
func (e *Engine) SetDownlinkTelemetry(now time.Time, id uint8, kind substream.TelemetryKind, value uint32) {
	e.downlinkTelemetryVals[id] = telemetrySlotValue{kind: kind, value: value}
	e.downlinkTelemetry.Set(id, now)
}

func (e *Engine) Failsafe() bool { return e.failsafe }

func (e *Engine) Stats() Stats { return e.stats }

// CurrentMode reports the mode the engine is presently listening at.
func (e *Engine) CurrentMode() pairing.Mode { return e.currentMode }

func (e *Engine) AttachAirIO(a *airio.State) { e.air = a }

func (e *Engine) AirIO() *airio.State { return e.air }

func (e *Engine) listenAt(seq uint8) error {
	slot := int(seq) % freqtable.NumSlots
	if err := e.radio.SetFrequency(e.freqTable.FreqHz(slot), e.freqTable.ErrorHint(slot)); err != nil {
		return err
	}
	if err := e.radio.SetPayloadSize(airframe.UplinkSize); err != nil {
		return err
	}
	return e.radio.StartRX()
}

// maybeApplyScheduledSwitch applies an acked mode change once the agreed
// tx sequence is the next one expected, keeping both sides on the same
// logical frame.
func (e *Engine) maybeApplyScheduledSwitch() error {
	if e.scheduled == nil || e.scheduled.atSeq != e.predictedSeq {
		return nil
	}
	e.currentMode = e.scheduled.target
	e.scheduled = nil
	e.stats.ModeSwitches++
	return e.radio.SetMode(e.currentMode)
}

func (e *Engine) topUpSubstream(now time.Time, ackSeq uint8, lostAtReceive int) {
	if e.pendingSwitch != nil {
		// The ACK must go out whole on this downlink frame, so flush
		// whatever was queued first.
		e.stream.ResetOutput()
		if e.pendingSwitch.accept {
			atSeq := uint8((int(ackSeq) + radio.Confirmations(e.currentMode) + lostAtReceive) % freqtable.NumSlots)
			e.stream.FeedOutputCmd(substream.CmdSwitchModeAck, []byte{byte(e.pendingSwitch.target), atSeq})
			e.scheduled = &scheduledSwitch{target: e.pendingSwitch.target, atSeq: atSeq}
		} else {
			e.stream.FeedOutputCmd(substream.CmdRejectMode, []byte{byte(e.pendingSwitch.target)})
		}
		e.pendingSwitch = nil
	}
	for e.stream.OutputCount() < airframe.DownlinkSubstreamBytes {
		id, ok := e.downlinkTelemetry.Highest(now)
		if !ok {
			break
		}
		item := e.downlinkTelemetryVals[id]
		e.downlinkTelemetry.MarkSent(id, now, ackSeq)
		// No wire field acknowledges downlink sends (the uplink frame has
		// no spare bits for one), so settle the send immediately; a fresh
		// Set() call is what makes it eligible again.
		e.downlinkTelemetry.AckAll(ackSeq)
		e.stream.FeedOutputDownlinkTelemetry(substream.TelemetryValue{ID: id, Kind: item.kind, Payload: item.value})
	}
}

// Tick advances the RX engine's cooperative loop one step.
func (e *Engine) Tick(now time.Time) error {
	switch e.phase {
	case phaseListen:
		return e.pollListen(now)
	case phaseWaitTXDone:
		if !e.radio.IsTXDone() {
			return nil
		}
		e.phase = phaseListen
		if err := e.maybeApplyScheduledSwitch(); err != nil {
			return err
		}
		return e.listenAt(e.predictedSeq)
	}
	return nil
}

func (e *Engine) pollListen(now time.Time) error {
	if e.listenDeadline.IsZero() {
		e.listenDeadline = now.Add(radio.CycleDeadline(e.currentMode))
		e.deadlineExtended = false
	}

	if e.radio.IsRXDone() {
		buf := make([]byte, airframe.UplinkSize)
		n, err := e.radio.Read(buf)
		if err == nil && n == airframe.UplinkSize {
			uf, derr := airframe.DecodeUplinkFrame(buf)
			if derr == nil && uf.Validate(e.key) {
				return e.handleUplink(now, uf)
			}
		}
		e.stats.InvalidUplinks++
		// Heard something on this slot but it didn't validate; count it
		// and keep listening on this slot until the deadline.
	}

	if now.After(e.listenDeadline) {
		// A frame mid-air at the deadline gets one 10% grace extension
		// before the slot is written off.
		if !e.deadlineExtended && e.radio.IsRXInProgress() {
			e.deadlineExtended = true
			e.listenDeadline = e.listenDeadline.Add(radio.CycleTime(e.currentMode) / 10)
			return nil
		}
		return e.handleMiss(now)
	}
	return nil
}

func (e *Engine) handleUplink(now time.Time, uf airframe.UplinkFrame) error {
	e.stats.ValidUplinks++
	lostAtReceive := e.consecutiveLost
	e.consecutiveLost = 0
	e.sweepSlot, e.sweepDwell = 0, 0
	e.predictedSeq = (uf.Seq + 1) % freqtable.NumSlots
	e.listenDeadline = time.Time{}
	e.lastFrameAt = now
	if e.failsafe {
		e.goodStreak++
		if e.goodStreak >= recoveryFrames {
			e.failsafe = false
			e.goodStreak = 0
		}
	}

	for i, ch := range uf.Channels {
		if e.sink != nil {
			e.sink.SetChannel(i, airframe.DecodeChannel(ch))
		}
	}
	e.stream.FeedInput(uf.Seq, uf.Data[:], now)

	rssi, snr, lq := e.radio.RSSI()
	if e.air != nil {
		e.air.RecordFrame(now, rssi, snr, lq)
	}
	e.freqTable.RecordError(int(uf.Seq), e.radio.FrequencyError())

	e.topUpSubstream(now, uf.Seq, lostAtReceive)
	var df airframe.DownlinkFrame
	df.Seq = uf.Seq
	df.AckSeq = uf.Seq
	df.Data[0], _ = e.stream.PopOutput()
	df.Data[1], _ = e.stream.PopOutput()
	df.Data[2], _ = e.stream.PopOutput()
	df.RxPacketPrepare(e.key)

	// Sleep before send resets the FIFO between the uplink just drained
	// and the downlink about to be queued.
	if err := e.radio.Sleep(); err != nil {
		return err
	}
	if err := e.radio.SetPayloadSize(airframe.DownlinkSize); err != nil {
		return err
	}
	wire := df.Encode()
	if err := e.radio.Send(wire[:]); err != nil {
		return err
	}
	e.phase = phaseWaitTXDone
	return nil
}

// nextListenSlot implements loss recovery. Under normal loss
// the engine keeps hopping forward with the TX it can no longer hear:
// slot (lastSeq + 1 + consecutive_lost) mod 16, which predictedSeq
// already tracks. Past slowSweepThreshold it dwells slowSweepDwell
// deadlines per slot and walks backward from the expected slot, covering
// a TX that restarted or drifted behind us.
func (e *Engine) nextListenSlot() uint8 {
	if e.consecutiveLost <= slowSweepThreshold {
		e.predictedSeq = (e.predictedSeq + 1) % freqtable.NumSlots
		return e.predictedSeq
	}

	e.sweepDwell++
	if e.sweepDwell >= slowSweepDwell {
		e.sweepDwell = 0
		e.sweepSlot++
	}
	slot := (int(e.predictedSeq) - e.sweepSlot) % freqtable.NumSlots
	if slot < 0 {
		slot += freqtable.NumSlots
	}
	return uint8(slot)
}

func (e *Engine) handleMiss(now time.Time) error {
	e.consecutiveLost++
	e.stats.Misses++
	e.goodStreak = 0
	e.listenDeadline = time.Time{}

	if e.lastFrameAt.IsZero() {
		e.lastFrameAt = now
	}
	if !e.failsafe && now.Sub(e.lastFrameAt) >= radio.FailsafeInterval(e.currentMode) {
		e.failsafe = true
		e.stats.FailsafeEvents++
		e.scheduled = nil
		e.pendingSwitch = nil
		if e.air != nil {
			e.air.Invalidate()
		}
		longest := e.commonModes.Longest()
		if longest != e.currentMode {
			e.currentMode = longest
			if err := e.radio.SetMode(e.currentMode); err != nil {
				return err
			}
		}
	}

	next := e.nextListenSlot()
	if err := e.maybeApplyScheduledSwitch(); err != nil {
		return err
	}
	return e.listenAt(next)
}
