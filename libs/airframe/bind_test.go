package airframe

import (
	"testing"

	"github.com/openairlink/airlink/libs/pairing"
	"github.com/stretchr/testify/require"
)

func sampleBind() BindPacket {
	return BindPacket{
		SenderAddress: pairing.Address{0x01, 0x02, 0x03, 0x04, 0x05, 0x06},
		Key:           0xDEADBEEF,
		Role:          pairing.RoleTX,
		Capabilities: pairing.Capabilities{
			HasBand:        [7]bool{false, false, false, true, false, true, false},
			HasScreen:      true,
			MaxTXPowerDBm:  20,
			NumChannels:    16,
			SupportedModes: pairing.NewModeMask(pairing.Mode1, pairing.Mode2, pairing.Mode3),
		},
		Name: "pilot-1",
	}
}

// TestBindEncodeDecodeRoundTrip checks the codec round-trip.
func TestBindEncodeDecodeRoundTrip(t *testing.T) {
	b := sampleBind()
	wire := b.Encode()
	require.True(t, ValidateBind(wire[:]))

	got, err := DecodeBindPacket(wire[:])
	require.NoError(t, err)
	require.Equal(t, b.SenderAddress, got.SenderAddress)
	require.Equal(t, b.Key, got.Key)
	require.Equal(t, b.Role, got.Role)
	require.Equal(t, b.Capabilities, got.Capabilities)
	require.Equal(t, b.Name, got.Name)
}

// TestBindValidateRejectsTamperedBytes: flipping prefix, version or CRC
// bytes must make validate fail.
func TestBindValidateRejectsTamperedBytes(t *testing.T) {
	b := sampleBind()
	wire := b.Encode()

	prefixTampered := wire
	prefixTampered[0] ^= 0xFF
	require.False(t, ValidateBind(prefixTampered[:]))

	versionTampered := wire
	versionTampered[3] = ProtocolVersion + 1
	require.False(t, ValidateBind(versionTampered[:]))

	crcTampered := wire
	crcTampered[BindSize-1] ^= 0x01
	require.False(t, ValidateBind(crcTampered[:]))
}

func TestBindPacketSizeIsWireExact(t *testing.T) {
	wire := sampleBind().Encode()
	require.Len(t, wire, BindSize)
}
