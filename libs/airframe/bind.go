package airframe

import (
	"fmt"

	"github.com/openairlink/airlink/libs/pairing"
)

const (
	BindSize = 64

	bindPrefix         = "RVN"
	ProtocolVersion    = 1
	bindNameMaxLen     = 32
	bindCapsBytes      = 5
	bindReservedBytes  = BindSize - 3 - 1 - 6 - 4 - 1 - bindCapsBytes - bindNameMaxLen - 1
)

// BindPacket is the fixed 64-byte payload exchanged on the bind channel.
// Its size is, by invariant, equal to the frame size
// used for the whole binding procedure.
type BindPacket struct {
	SenderAddress pairing.Address
	Key           uint32
	Role          pairing.Role
	Capabilities  pairing.Capabilities
	Name          string
}

func clampName(name string) string {
	if len(name) > bindNameMaxLen {
		return name[:bindNameMaxLen]
	}
	return name
}

// Encode serializes the bind packet and appends the keyed CRC. Bind
// packets are keyed with the sender's own key (the value being
// advertised or confirmed), matching the firmware's "prepare" step for
// every other frame type.
func (b BindPacket) Encode() [BindSize]byte {
	var out [BindSize]byte
	off := 0

	copy(out[off:], bindPrefix)
	off += 3

	out[off] = ProtocolVersion
	off++

	copy(out[off:], b.SenderAddress[:])
	off += 6

	out[off] = byte(b.Key >> 24)
	out[off+1] = byte(b.Key >> 16)
	out[off+2] = byte(b.Key >> 8)
	out[off+3] = byte(b.Key)
	off += 4

	out[off] = byte(b.Role)
	off++

	caps := b.Capabilities
	var bandByte byte
	for i, present := range caps.HasBand {
		if present {
			bandByte |= 1 << uint(i)
		}
	}
	out[off] = bandByte

	var flagByte byte
	if caps.HasScreen {
		flagByte |= 1 << 0
	}
	if caps.HasButton {
		flagByte |= 1 << 1
	}
	if caps.HasBattery {
		flagByte |= 1 << 2
	}
	if caps.HasAntennaDiversity {
		flagByte |= 1 << 3
	}
	out[off+1] = flagByte
	out[off+2] = byte(caps.MaxTXPowerDBm)
	out[off+3] = caps.NumChannels
	out[off+4] = byte(caps.SupportedModes)
	off += bindCapsBytes

	name := clampName(b.Name)
	copy(out[off:off+bindNameMaxLen], name)
	off += bindNameMaxLen

	off += bindReservedBytes // reserved, left zero

	out[off] = KeyedCRC8(b.Key, out[:off])
	off++

	if off != BindSize {
		panic(fmt.Sprintf("airframe: bind packet layout drifted, wrote %d of %d bytes", off, BindSize))
	}
	return out
}

// DecodeBindPacket parses a wire bind packet into a BindPacket without
// validating it. Use Validate to check the prefix, version and CRC.
func DecodeBindPacket(buf []byte) (BindPacket, error) {
	if len(buf) != BindSize {
		return BindPacket{}, fmt.Errorf("airframe: bind packet must be %d bytes, got %d", BindSize, len(buf))
	}

	var b BindPacket
	off := 3 // skip prefix, checked separately in Validate
	off++    // skip version

	copy(b.SenderAddress[:], buf[off:off+6])
	off += 6

	b.Key = uint32(buf[off])<<24 | uint32(buf[off+1])<<16 | uint32(buf[off+2])<<8 | uint32(buf[off+3])
	off += 4

	b.Role = pairing.Role(buf[off])
	off++

	bandByte := buf[off]
	for i := range b.Capabilities.HasBand {
		b.Capabilities.HasBand[i] = bandByte&(1<<uint(i)) != 0
	}
	flagByte := buf[off+1]
	b.Capabilities.HasScreen = flagByte&(1<<0) != 0
	b.Capabilities.HasButton = flagByte&(1<<1) != 0
	b.Capabilities.HasBattery = flagByte&(1<<2) != 0
	b.Capabilities.HasAntennaDiversity = flagByte&(1<<3) != 0
	b.Capabilities.MaxTXPowerDBm = int8(buf[off+2])
	b.Capabilities.NumChannels = buf[off+3]
	b.Capabilities.SupportedModes = pairing.ModeMask(buf[off+4])
	off += bindCapsBytes

	nameBytes := buf[off : off+bindNameMaxLen]
	nul := bindNameMaxLen
	for i, c := range nameBytes {
		if c == 0 {
			nul = i
			break
		}
	}
	b.Name = string(nameBytes[:nul])

	return b, nil
}

// ValidateBind checks the wire prefix, protocol version and CRC of a raw
// bind packet. It does not decode the packet; callers should call
// DecodeBindPacket first and ValidateBind on the same bytes, or just rely
// on this to gate the decode.
func ValidateBind(buf []byte) bool {
	if len(buf) != BindSize {
		return false
	}
	if string(buf[:3]) != bindPrefix {
		return false
	}
	if buf[3] > ProtocolVersion {
		return false
	}

	key := uint32(buf[4+6])<<24 | uint32(buf[4+6+1])<<16 | uint32(buf[4+6+2])<<8 | uint32(buf[4+6+3])
	want := KeyedCRC8(key, buf[:BindSize-1])
	return want == buf[BindSize-1]
}
