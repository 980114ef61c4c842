package chanio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmptyBufferIsFailsafe(t *testing.T) {
	b := New()
	require.True(t, b.Failsafe())
	_, ok := b.Channel(0)
	require.False(t, ok)
}

func TestPushClearsFailsafe(t *testing.T) {
	b := New()
	b.Push(0, 1500)
	require.False(t, b.Failsafe())
	v, ok := b.Channel(0)
	require.True(t, ok)
	require.Equal(t, 1500, v)
}

func TestExplicitFailsafeFlag(t *testing.T) {
	b := New()
	b.Push(2, 992)
	b.SetFailsafe(true)
	require.True(t, b.Failsafe())

	// A fresh value from the decoder clears it again.
	b.Push(2, 993)
	require.False(t, b.Failsafe())
}

func TestOutOfRangeIndexIgnored(t *testing.T) {
	b := New()
	b.Push(-1, 100)
	b.Push(16, 100)
	_, ok := b.Channel(-1)
	require.False(t, ok)
	_, ok = b.Channel(16)
	require.False(t, ok)
}

func TestSinkSideSnapshot(t *testing.T) {
	b := New()
	b.SetChannel(0, 172)
	b.SetChannel(5, 1811)
	values, have := b.Snapshot()
	require.True(t, have[0])
	require.True(t, have[5])
	require.False(t, have[1])
	require.Equal(t, 172, values[0])
	require.Equal(t, 1811, values[5])
}
