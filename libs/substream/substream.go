// Package substream implements the byte-stuffed air-stream multiplexer: a
// sentinel-framed substream carrying channel updates,
// telemetry and commands inside the 2-3 data bytes of every uplink or
// downlink frame.
package substream

import "time"

const (
	Sentinel byte = 0x7E
	Escape   byte = 0x7D
	XORMask  byte = 0x20
)

// Decoders are the callbacks invoked as FeedInput decodes items. Any
// unset callback simply drops that item type.
type Decoders struct {
	OnChannel           func(idx uint8, value uint16)
	OnUplinkTelemetry   func(tv TelemetryValue, now time.Time)
	OnDownlinkTelemetry func(tv TelemetryValue, now time.Time)
	OnCommand           func(cmd Cmd, data []byte)
}

// Stream is one direction-agnostic substream instance. A TX engine owns
// one for uplink telemetry/commands out and downlink telemetry/commands
// in; an RX engine owns the mirror image.
type Stream struct {
	decoders Decoders

	out    []byte
	outPos int // read cursor into out; compacted when it grows large

	inFrame      bool
	pendingEsc   bool
	current      []byte
}

func New(decoders Decoders) *Stream {
	return &Stream{decoders: decoders}
}

func stuffAppend(dst []byte, raw []byte) []byte {
	for _, b := range raw {
		if b == Sentinel || b == Escape {
			dst = append(dst, Escape, b^XORMask)
		} else {
			dst = append(dst, b)
		}
	}
	return dst
}

func (s *Stream) enqueue(raw []byte) int {
	before := len(s.out)
	s.out = append(s.out, Sentinel)
	s.out = stuffAppend(s.out, raw)
	s.out = append(s.out, Sentinel)
	return len(s.out) - before
}

// FeedOutputChannel enqueues a channel update item, value being the
// channel's 9-bit wire encoding, and returns the number of raw (stuffed)
// bytes pushed to the output buffer.
func (s *Stream) FeedOutputChannel(idx uint8, value uint16) int {
	raw := []byte{byte(ItemChannel), idx, byte(value), byte(value >> 8 & 0x01)}
	return s.enqueue(raw)
}

func encodeTelemetry(itemType ItemType, tv TelemetryValue) []byte {
	raw := []byte{byte(itemType), tv.ID, byte(tv.Kind)}
	switch tv.Kind.size() {
	case 1:
		raw = append(raw, byte(tv.Payload))
	case 2:
		raw = append(raw, byte(tv.Payload), byte(tv.Payload>>8))
	case 4:
		raw = append(raw, byte(tv.Payload), byte(tv.Payload>>8), byte(tv.Payload>>16), byte(tv.Payload>>24))
	}
	return raw
}

func (s *Stream) FeedOutputUplinkTelemetry(tv TelemetryValue) int {
	return s.enqueue(encodeTelemetry(ItemUplinkTelemetry, tv))
}

func (s *Stream) FeedOutputDownlinkTelemetry(tv TelemetryValue) int {
	return s.enqueue(encodeTelemetry(ItemDownlinkTelemetry, tv))
}

// FeedOutputCmd enqueues a command item with at most 255 bytes of payload.
func (s *Stream) FeedOutputCmd(cmd Cmd, data []byte) int {
	raw := make([]byte, 0, 2+len(data))
	raw = append(raw, byte(ItemCommand), byte(cmd), byte(len(data)))
	raw = append(raw, data...)
	return s.enqueue(raw)
}

// OutputCount reports how many stuffed bytes remain to be drained.
func (s *Stream) OutputCount() int {
	return len(s.out) - s.outPos
}

// PopOutput drains one byte from the output buffer. When the buffer is
// empty it returns the sentinel byte and false, so a caller topping up a
// frame's data area with nothing to send still emits a valid resync point.
func (s *Stream) PopOutput() (byte, bool) {
	if s.outPos >= len(s.out) {
		return Sentinel, false
	}
	b := s.out[s.outPos]
	s.outPos++
	if s.outPos > 256 && s.outPos*2 > len(s.out) {
		s.out = append([]byte(nil), s.out[s.outPos:]...)
		s.outPos = 0
	}
	return b, true
}

// ResetOutput empties the output buffer. Used only to make room for a
// guaranteed mode-switch ACK.
func (s *Stream) ResetOutput() {
	s.out = s.out[:0]
	s.outPos = 0
}

func (s *Stream) parseItem(now time.Time) {
	if len(s.current) == 0 {
		return
	}
	itemType := ItemType(s.current[0])
	payload := s.current[1:]

	switch itemType {
	case ItemChannel:
		if len(payload) < 3 {
			return
		}
		if s.decoders.OnChannel != nil {
			value := uint16(payload[1]) | uint16(payload[2]&0x01)<<8
			s.decoders.OnChannel(payload[0], value)
		}
	case ItemUplinkTelemetry, ItemDownlinkTelemetry:
		if len(payload) < 2 {
			return
		}
		kind := TelemetryKind(payload[1])
		size := kind.size()
		if len(payload) < 2+size {
			return
		}
		var v uint32
		for i := 0; i < size; i++ {
			v |= uint32(payload[2+i]) << uint(8*i)
		}
		tv := TelemetryValue{ID: payload[0], Kind: kind, Payload: v}
		if itemType == ItemUplinkTelemetry {
			if s.decoders.OnUplinkTelemetry != nil {
				s.decoders.OnUplinkTelemetry(tv, now)
			}
		} else {
			if s.decoders.OnDownlinkTelemetry != nil {
				s.decoders.OnDownlinkTelemetry(tv, now)
			}
		}
	case ItemCommand:
		if len(payload) < 2 {
			return
		}
		n := int(payload[1])
		if len(payload) < 2+n {
			return
		}
		if s.decoders.OnCommand != nil {
			s.decoders.OnCommand(Cmd(payload[0]), payload[2:2+n])
		}
	}
}

// FeedInput decodes a received data slice, invoking the configured
// decoder callbacks for every complete item recognized. seq identifies
// the frame the bytes arrived on; it is not interpreted by the substream
// itself. A dropped or corrupted frame simply means fewer bytes reach
// FeedInput; byte-stuffing lets decoding resynchronize at the next
// sentinel with no special-case handling here.
func (s *Stream) FeedInput(seq uint8, data []byte, now time.Time) {
	_ = seq
	for _, b := range data {
		if b == Sentinel {
			if s.inFrame && len(s.current) > 0 {
				s.parseItem(now)
			}
			s.inFrame = true
			s.pendingEsc = false
			s.current = s.current[:0]
			continue
		}
		if !s.inFrame {
			continue
		}
		if b == Escape {
			s.pendingEsc = true
			continue
		}
		if s.pendingEsc {
			b ^= XORMask
			s.pendingEsc = false
		}
		s.current = append(s.current, b)
	}
}
