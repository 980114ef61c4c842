package pairing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestModeMaskOps(t *testing.T) {
	mm := NewModeMask(Mode1, Mode3, Mode5)
	require.True(t, mm.Has(Mode1))
	require.False(t, mm.Has(Mode2))

	require.False(t, mm.Without(Mode3).Has(Mode3))
	require.True(t, mm.With(Mode2).Has(Mode2))

	common := mm.Common(NewModeMask(Mode3, Mode4, Mode5))
	require.False(t, common.Has(Mode1))
	require.True(t, common.Has(Mode3))
	require.True(t, common.Has(Mode5))

	require.True(t, ModeMask(0).Empty())
	require.False(t, mm.Empty())
}

func TestModeMaskExtremes(t *testing.T) {
	mm := NewModeMask(Mode2, Mode4)
	require.Equal(t, Mode2, mm.Fastest())
	require.Equal(t, Mode4, mm.Longest())
}

func TestModeMaskNeighbor(t *testing.T) {
	mm := NewModeMask(Mode1, Mode3, Mode5)
	require.Equal(t, Mode5, mm.Neighbor(Mode3, +1))
	require.Equal(t, Mode1, mm.Neighbor(Mode3, -1))
	require.Equal(t, Mode5, mm.Neighbor(Mode5, +1), "no slower neighbor leaves cur unchanged")
	require.Equal(t, Mode1, mm.Neighbor(Mode1, -1), "no faster neighbor leaves cur unchanged")
}

func TestAddressSpecialValues(t *testing.T) {
	require.False(t, Address{}.Valid())
	require.True(t, Broadcast.IsBroadcast())
	require.True(t, Broadcast.Valid())

	a := Address{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	require.True(t, a.Valid())
	require.False(t, a.IsBroadcast())
	require.Equal(t, "01:02:03:04:05:06", a.String())
}

func TestNewAddressNeverSpecial(t *testing.T) {
	for i := 0; i < 32; i++ {
		a, err := NewAddress()
		require.NoError(t, err)
		require.True(t, a.Valid())
		require.False(t, a.IsBroadcast())
	}
}

func TestBandCenter(t *testing.T) {
	require.Equal(t, uint32(868_000_000), Band868.CenterHz())
	require.Equal(t, uint32(433_000_000), Band433.CenterHz())
}
