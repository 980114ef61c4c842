package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openairlink/airlink/libs/pairing"
)

func TestFirstBootGeneratesAddress(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := Open(path)
	require.NoError(t, err)
	require.True(t, s.OwnAddress().Valid())

	// Reopening keeps the same address.
	s2, err := Open(path)
	require.NoError(t, err)
	require.Equal(t, s.OwnAddress(), s2.OwnAddress())
}

func TestPairingRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := Open(path)
	require.NoError(t, err)

	_, ok := s.GetPairedTX()
	require.False(t, ok)

	p := pairing.Pairing{
		PeerAddress: pairing.Address{1, 2, 3, 4, 5, 6},
		Key:         0xDEADBEEF,
	}
	require.NoError(t, s.SetPairedTX(p))
	require.NoError(t, s.SetAirInfo(p.PeerAddress, pairing.PeerInfo{Name: "bench-tx"}, pairing.Band868))

	s2, err := Open(path)
	require.NoError(t, err)
	got, ok := s2.GetPairedTX()
	require.True(t, ok)
	require.Equal(t, p, got)

	info, ok := s2.GetAirInfo(p.PeerAddress)
	require.True(t, ok)
	require.Equal(t, "bench-tx", info.Name)
}

func TestAddPairedRXKeepsRecencyOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := Open(path)
	require.NoError(t, err)

	a := pairing.Pairing{PeerAddress: pairing.Address{1, 0, 0, 0, 0, 1}, Key: 1}
	b := pairing.Pairing{PeerAddress: pairing.Address{2, 0, 0, 0, 0, 2}, Key: 2}

	require.NoError(t, s.AddPairedRX(a))
	require.NoError(t, s.AddPairedRX(b))

	// Re-binding a moves it to the most-recent position.
	require.NoError(t, s.AddPairedRX(a))

	first, ok := s.GetPairedRX(0)
	require.True(t, ok)
	require.Equal(t, b, first)
	second, ok := s.GetPairedRX(1)
	require.True(t, ok)
	require.Equal(t, a, second)
	_, ok = s.GetPairedRX(2)
	require.False(t, ok)
}
