package datastate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNeverSentOutranksStaleAcked(t *testing.T) {
	now := time.Now()
	tbl := NewTable()

	tbl.Set(1, now.Add(-10*time.Second))
	tbl.MarkSent(1, now.Add(-9*time.Second), 3)
	tbl.AckAll(3)

	tbl.Set(2, now)

	best, ok := tbl.Highest(now)
	require.True(t, ok)
	require.Equal(t, uint8(2), best)
}

func TestAckedAtLatestValueNeverPicked(t *testing.T) {
	now := time.Now()
	tbl := NewTable()

	tbl.Set(5, now.Add(-5*time.Second))
	tbl.MarkSent(5, now.Add(-4*time.Second), 1)
	tbl.AckAll(1)

	_, ok := tbl.Highest(now)
	require.False(t, ok)
}

func TestAckSemanticsOnlyMatchesSentSeq(t *testing.T) {
	now := time.Now()
	tbl := NewTable()

	tbl.Set(1, now)
	tbl.MarkSent(1, now, 5)
	tbl.Set(2, now)
	tbl.MarkSent(2, now, 6)

	tbl.AckAll(5)

	require.True(t, tbl.values[1].Acknowledged())
	require.False(t, tbl.values[2].Acknowledged())
}

func TestNewUpdateAfterAckIsScoredAgain(t *testing.T) {
	now := time.Now()
	tbl := NewTable()

	tbl.Set(7, now.Add(-time.Second))
	tbl.MarkSent(7, now.Add(-900*time.Millisecond), 2)
	tbl.AckAll(2)

	tbl.Set(7, now) // fresh value arrives after the ack

	_, ok := tbl.Highest(now)
	require.True(t, ok)
}
