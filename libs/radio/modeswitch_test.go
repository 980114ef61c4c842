package radio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openairlink/airlink/libs/pairing"
)

func TestConfirmations(t *testing.T) {
	tests := []struct {
		current pairing.Mode
		want    int
	}{
		{pairing.Mode1, 15}, // 4*(5+1-1)=20, capped
		{pairing.Mode2, 15}, // 4*4=16, capped
		{pairing.Mode3, 12},
		{pairing.Mode4, 8},
		{pairing.Mode5, 4},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Confirmations(tt.current), "current=%v", tt.current)
	}
}

func TestSwitchDirection(t *testing.T) {
	// FSK mode: longer threshold is 5 dB.
	require.Equal(t, +1, SwitchDirection(pairing.Mode1, 5.0))
	require.Equal(t, 0, SwitchDirection(pairing.Mode1, 5.1))

	// LoRa modes: longer threshold is 1.5 dB.
	require.Equal(t, +1, SwitchDirection(pairing.Mode3, 1.5))
	require.Equal(t, 0, SwitchDirection(pairing.Mode3, 2.0))

	// Faster needs 4 dB per step; targets are always one step away.
	require.Equal(t, -1, SwitchDirection(pairing.Mode2, 4.0))
	require.Equal(t, 0, SwitchDirection(pairing.Mode2, 3.9))
	require.Equal(t, -1, SwitchDirection(pairing.Mode5, 4.5))

	// Nothing is faster than mode 1.
	require.Equal(t, 0, SwitchDirection(pairing.Mode1, 30.0))
}

func TestHeuristicRequiresStreakAndHold(t *testing.T) {
	h := NewHeuristic(pairing.Mode5)
	now := time.Now()

	need := Confirmations(pairing.Mode5)

	// A qualifying streak shorter than the hold time proposes nothing.
	for i := 0; i < need+5; i++ {
		now = now.Add(10 * time.Millisecond)
		_, ok := h.Observe(now, 0)
		require.False(t, ok)
	}

	// Keep observing past the hold time; now it proposes, clamped at the
	// longest mode... there is nothing longer than mode 5, so the target
	// stays mode 5.
	now = now.Add(HoldTime)
	target, ok := h.Observe(now, 0)
	require.True(t, ok)
	require.Equal(t, pairing.Mode5, target)
}

func TestHeuristicStreakResetsOnNeutralSample(t *testing.T) {
	h := NewHeuristic(pairing.Mode4)
	now := time.Now()

	for i := 0; i < Confirmations(pairing.Mode4)-1; i++ {
		now = now.Add(50 * time.Millisecond)
		_, ok := h.Observe(now, 0)
		require.False(t, ok)
	}

	// One good sample wipes the streak.
	_, ok := h.Observe(now, 3.0)
	require.False(t, ok)

	// The next bad sample starts over: no proposal yet.
	now = now.Add(50 * time.Millisecond)
	_, ok = h.Observe(now, 0)
	require.False(t, ok)
}

func TestHeuristicProposesFasterNeighbor(t *testing.T) {
	h := NewHeuristic(pairing.Mode3)
	now := time.Now()

	var target pairing.Mode
	var ok bool
	for i := 0; i < Confirmations(pairing.Mode3)+200 && !ok; i++ {
		now = now.Add(33 * time.Millisecond)
		target, ok = h.Observe(now, 20.0)
	}
	require.True(t, ok)
	require.Equal(t, pairing.Mode2, target)
}

func TestCycleDeadlineIsTenPercentGrace(t *testing.T) {
	for m := pairing.Mode1; m <= pairing.Mode5; m++ {
		ct := CycleTime(m)
		require.Equal(t, ct+ct/10, CycleDeadline(m))
	}
}
