package rxengine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openairlink/airlink/libs/pairing"
	"github.com/openairlink/airlink/libs/radio/software"
	"github.com/openairlink/airlink/libs/rxengine"
	"github.com/openairlink/airlink/libs/txengine"
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
	updates  int
}

func (s *fakeSink) SetChannel(idx int, value uint16) {
	if idx >= 0 && idx < len(s.channels) {
		s.channels[idx] = value
		s.updates++
	}
}

type link struct {
	medium *software.Medium
	tx     *txengine.Engine
	rx     *rxengine.Engine
	source *fakeSource
	sink   *fakeSink
	now    time.Time
}

func newLink(t *testing.T, txModes, rxModes, txBeliefOfPeer pairing.ModeMask) *link {
	t.Helper()
	medium := software.NewMedium()
	txRadio := software.New(medium)
	rxRadio := software.New(medium)

	const key = 0x600DF00D
	const baseHz = 868_000_000

	source := &fakeSource{channels: [4]int{992, 1500, 500, 1811}}
	sink := &fakeSink{}

	tx, err := txengine.Open(txRadio, key, baseHz, txModes, txBeliefOfPeer, source, nil)
	require.NoError(t, err)
	rx, err := rxengine.Open(rxRadio, key, baseHz, rxModes, txModes, sink, nil)
	require.NoError(t, err)

	return &link{medium: medium, tx: tx, rx: rx, source: source, sink: sink, now: time.Now()}
}

// run ticks both engines for the given simulated duration in 100µs steps.
func (l *link) run(t *testing.T, d time.Duration) {
	t.Helper()
	steps := int(d / (100 * time.Microsecond))
	for i := 0; i < steps; i++ {
		l.now = l.now.Add(100 * time.Microsecond)
		require.NoError(t, l.rx.Tick(l.now))
		require.NoError(t, l.tx.Tick(l.now))
	}
}

// TestLossRecovery: six consecutive dropped uplink frames
// accumulate misses, the link keeps hopping, the seventh frame lands,
// and failsafe never asserts (all within mode 1's failsafe interval).
func TestLossRecovery(t *testing.T) {
	modes := pairing.NewModeMask(pairing.Mode1)
	l := newLink(t, modes, modes, modes)

	l.run(t, 100*time.Millisecond)
	require.False(t, l.rx.Failsafe())
	baseline := l.rx.Stats()
	require.NotZero(t, baseline.ValidUplinks)

	l.medium.DropNext = 6
	l.run(t, 100*time.Millisecond)

	after := l.rx.Stats()
	require.GreaterOrEqual(t, after.Misses-baseline.Misses, uint64(6))
	require.Greater(t, after.ValidUplinks, baseline.ValidUplinks, "link never re-acquired after the drop burst")
	require.False(t, l.rx.Failsafe(), "failsafe must not assert for a 6-frame burst in mode 1")
}

// TestFailsafeRecoveryNeedsConsecutiveFrames: once failsafe asserts, it
// deasserts only after frames
// resume and a run of consecutive valid uplinks lands.
func TestFailsafeRecoveryNeedsConsecutiveFrames(t *testing.T) {
	modes := pairing.NewModeMask(pairing.Mode1)
	l := newLink(t, modes, modes, modes)

	l.run(t, 50*time.Millisecond)
	require.False(t, l.rx.Failsafe())

	// Silence the TX past mode 1's failsafe interval.
	l.source.failsafe = true
	l.run(t, 400*time.Millisecond)
	require.True(t, l.rx.Failsafe())

	// Resume. Failsafe must clear, but only after several valid frames.
	l.source.failsafe = false
	before := l.rx.Stats().ValidUplinks
	l.run(t, 300*time.Millisecond)
	require.False(t, l.rx.Failsafe())
	require.GreaterOrEqual(t, l.rx.Stats().ValidUplinks-before, uint64(5))
}

// TestInputFailsafePropagates: a TX whose channel
// source is in failsafe keeps hopping but stops transmitting, and the RX
// detects the silence as link failsafe.
func TestInputFailsafePropagates(t *testing.T) {
	modes := pairing.NewModeMask(pairing.Mode1)
	l := newLink(t, modes, modes, modes)

	l.run(t, 50*time.Millisecond)
	require.False(t, l.rx.Failsafe())
	frozen := l.sink.channels

	l.source.failsafe = true
	l.run(t, 400*time.Millisecond)

	require.True(t, l.rx.Failsafe())
	require.Equal(t, frozen, l.sink.channels, "channels must hold their last value in failsafe")
}

// TestModeSwitchUnderSNRDrop: a sustained SNR collapse
// makes the TX propose the next-longer mode, the RX acks it at an agreed
// tx sequence, and both sides end up cycling at the new mode with the
// link still alive.
func TestModeSwitchUnderSNRDrop(t *testing.T) {
	modes := pairing.NewModeMask(pairing.Mode2, pairing.Mode3)
	l := newLink(t, modes, modes, modes)
	l.medium.SetSNR(10)

	l.run(t, 500*time.Millisecond)
	require.Equal(t, pairing.Mode2, l.tx.CurrentMode())
	require.False(t, l.rx.Failsafe())

	l.medium.SetSNR(0)
	l.run(t, 3*time.Second)

	require.Equal(t, pairing.Mode3, l.tx.CurrentMode())
	require.Equal(t, pairing.Mode3, l.rx.CurrentMode())
	require.EqualValues(t, 1, l.tx.Stats().ModeSwitches)
	require.EqualValues(t, 1, l.rx.Stats().ModeSwitches)

	// The link must keep flowing at the new mode.
	before := l.rx.Stats().ValidUplinks
	l.run(t, 500*time.Millisecond)
	require.Greater(t, l.rx.Stats().ValidUplinks, before)
}

// TestRejectModeClearsSessionMask: an RX that does not support the
// proposed mode answers REJECT_MODE and the TX stops proposing it for
// the rest of the session.
func TestRejectModeClearsSessionMask(t *testing.T) {
	txModes := pairing.NewModeMask(pairing.Mode2, pairing.Mode3)
	rxModes := pairing.NewModeMask(pairing.Mode2)
	// The TX was bound when the peer still advertised mode 3.
	l := newLink(t, txModes, rxModes, txModes)
	l.medium.SetSNR(0)

	l.run(t, 4*time.Second)

	require.Equal(t, pairing.Mode2, l.tx.CurrentMode())
	require.Equal(t, pairing.Mode2, l.rx.CurrentMode())
	require.Zero(t, l.tx.Stats().ModeSwitches)
	require.Zero(t, l.rx.Stats().ModeSwitches)
	require.False(t, l.rx.Failsafe())
}
