package txengine

import (
	"testing"
	"time"

	"github.com/openairlink/airlink/libs/airframe"
	"github.com/openairlink/airlink/libs/pairing"
	"github.com/openairlink/airlink/libs/radio/software"
	"github.com/openairlink/airlink/libs/rxengine"
	"github.com/openairlink/airlink/libs/substream"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	channels [4]int
	failsafe bool
}

func (f *fakeSource) Channel(idx int) (int, bool) {
	if idx < 0 || idx >= len(f.channels) {
		return 0, false
	}
	return f.channels[idx], true
}
func (f *fakeSource) Failsafe() bool { return f.failsafe }

type fakeSink struct {
	channels [16]uint16
}

func (s *fakeSink) SetChannel(idx int, value uint16) {
	if idx >= 0 && idx < len(s.channels) {
		s.channels[idx] = value
	}
}

// TestSteadyLink exercises the basic data-flow path: a bound TX and RX
// exchange channels and telemetry in both directions over many cycles.
func TestSteadyLink(t *testing.T) {
	medium := software.NewMedium()
	txRadio := software.New(medium)
	rxRadio := software.New(medium)

	const key = 0xCAFEBABE
	const baseHz = 868_000_000
	modes := pairing.NewModeMask(pairing.Mode1, pairing.Mode2)

	source := &fakeSource{channels: [4]int{1500, 1000, 1700, 172}}
	sink := &fakeSink{}

	var downlinkGot struct {
		id    uint8
		kind  substream.TelemetryKind
		value uint32
		seen  bool
	}
	tx, err := Open(txRadio, key, baseHz, modes, modes, source, func(id uint8, kind substream.TelemetryKind, value uint32, now time.Time) {
		downlinkGot.id, downlinkGot.kind, downlinkGot.value, downlinkGot.seen = id, kind, value, true
	})
	require.NoError(t, err)

	var uplinkGot struct {
		id    uint8
		value uint32
		seen  bool
	}
	rx, err := rxengine.Open(rxRadio, key, baseHz, modes, modes, sink, func(id uint8, kind substream.TelemetryKind, value uint32, now time.Time) {
		uplinkGot.id, uplinkGot.value, uplinkGot.seen = id, value, true
	})
	require.NoError(t, err)

	now := time.Now()
	tx.SetUplinkTelemetry(now, 3, substream.KindU16, 1234)
	rx.SetDownlinkTelemetry(now, 7, substream.KindU8, 42)

	for i := 0; i < 2000; i++ {
		now = now.Add(100 * time.Microsecond)
		require.NoError(t, rx.Tick(now))
		require.NoError(t, tx.Tick(now))
	}

	// Channel values arrive quantized through the 9-bit wire field.
	wire := func(v int) uint16 { return airframe.DecodeChannel(airframe.EncodeChannel(v)) }
	require.Equal(t, wire(1500), sink.channels[0])
	require.Equal(t, wire(1000), sink.channels[1])
	require.Equal(t, wire(1700), sink.channels[2])
	require.Equal(t, uint16(172), sink.channels[3])

	require.True(t, downlinkGot.seen, "TX never received RX's downlink telemetry")
	require.Equal(t, uint8(7), downlinkGot.id)
	require.Equal(t, uint32(42), downlinkGot.value)

	require.True(t, uplinkGot.seen, "RX never received TX's uplink telemetry")
	require.Equal(t, uint8(3), uplinkGot.id)
	require.Equal(t, uint32(1234), uplinkGot.value)

	require.False(t, tx.Failsafe())
	require.False(t, rx.Failsafe())
}

// TestFailsafeAssertsOnSilence: when the RX stops hearing
// uplink frames for the mode's failsafe interval, it asserts failsafe.
func TestFailsafeAssertsOnSilence(t *testing.T) {
	medium := software.NewMedium()
	txRadio := software.New(medium)
	rxRadio := software.New(medium)

	const key = 0x11223344
	const baseHz = 433_000_000
	modes := pairing.NewModeMask(pairing.Mode1)

	source := &fakeSource{channels: [4]int{992, 992, 992, 992}}
	sink := &fakeSink{}

	tx, err := Open(txRadio, key, baseHz, modes, modes, source, nil)
	require.NoError(t, err)
	rx, err := rxengine.Open(rxRadio, key, baseHz, modes, modes, sink, nil)
	require.NoError(t, err)

	now := time.Now()
	for i := 0; i < 50; i++ {
		now = now.Add(100 * time.Microsecond)
		require.NoError(t, rx.Tick(now))
		require.NoError(t, tx.Tick(now))
	}
	require.False(t, rx.Failsafe())

	// TX goes silent; RX must assert failsafe within its failsafe interval.
	for i := 0; i < 5000; i++ {
		now = now.Add(100 * time.Microsecond)
		require.NoError(t, rx.Tick(now))
	}
	require.True(t, rx.Failsafe())
}
