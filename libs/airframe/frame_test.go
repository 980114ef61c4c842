package airframe

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUplinkFrameEncodeDecodeRoundTrip(t *testing.T) {
	f := UplinkFrame{
		Seq:      9,
		Channels: [4]uint16{EncodeChannel(172), EncodeChannel(992), EncodeChannel(1811), EncodeChannel(1000)},
		Data:     [2]byte{0xAB, 0x7E},
	}
	f.TxPacketPrepare(0x11223344)
	wire := f.Encode()

	got, err := DecodeUplinkFrame(wire[:])
	require.NoError(t, err)
	require.Equal(t, f.Seq, got.Seq)
	require.Equal(t, f.Channels, got.Channels)
	require.Equal(t, f.Data, got.Data)
	require.True(t, got.Validate(0x11223344))
}

func TestDownlinkFrameEncodeDecodeRoundTrip(t *testing.T) {
	f := DownlinkFrame{Seq: 4, AckSeq: 9, Data: [3]byte{1, 2, 3}}
	f.RxPacketPrepare(0xFEEDFACE)
	wire := f.Encode()

	got, err := DecodeDownlinkFrame(wire[:])
	require.NoError(t, err)
	require.Equal(t, f.Seq, got.Seq)
	require.Equal(t, f.AckSeq, got.AckSeq)
	require.Equal(t, f.Data, got.Data)
	require.True(t, got.Validate(0xFEEDFACE))
}

func TestDecodeRejectsWrongSize(t *testing.T) {
	_, err := DecodeUplinkFrame(make([]byte, 7))
	require.Error(t, err)

	_, err = DecodeDownlinkFrame(make([]byte, 4))
	require.Error(t, err)
}

func TestChannelScalingEndpointsExact(t *testing.T) {
	require.Equal(t, uint16(ChannelMin), DecodeChannel(EncodeChannel(ChannelMin)))
	require.Equal(t, uint16(ChannelCenter), DecodeChannel(EncodeChannel(ChannelCenter)))
	require.Equal(t, uint16(ChannelMax), DecodeChannel(EncodeChannel(ChannelMax)))

	require.Equal(t, uint16(0), EncodeChannel(ChannelMin))
	require.Equal(t, uint16((1<<channelBits)-1), EncodeChannel(ChannelMax))
}

func TestEncodeChannelClamps(t *testing.T) {
	require.Equal(t, EncodeChannel(ChannelMin), EncodeChannel(0))
	require.Equal(t, EncodeChannel(ChannelMax), EncodeChannel(5000))
}

// TestChannelScalingRoundTripError: the 9-bit field has 1639/511 ≈ 3.2
// CRSF counts per step, so decode(encode(v)) must stay within one step
// of v across the whole range and never leave it.
func TestChannelScalingRoundTripError(t *testing.T) {
	for v := ChannelMin; v <= ChannelMax; v++ {
		got := int(DecodeChannel(EncodeChannel(v)))
		require.GreaterOrEqual(t, got, ChannelMin)
		require.LessOrEqual(t, got, ChannelMax)
		diff := got - v
		if diff < 0 {
			diff = -diff
		}
		require.LessOrEqualf(t, diff, 4, "v=%d decoded to %d", v, got)
	}
}
