package airframe

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestUplinkCRCRoundTrip checks the round-trip property: for
// all keys and all well-formed frames, validate(prepare(p, key), key) is
// true.
func TestUplinkCRCRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		key := rapid.Uint32().Draw(rt, "key")
		seq := rapid.UintRange(0, 15).Draw(rt, "seq")
		var f UplinkFrame
		f.Seq = uint8(seq)
		for i := range f.Channels {
			f.Channels[i] = EncodeChannel(rapid.IntRange(ChannelMin, ChannelMax).Draw(rt, "ch"))
		}
		for i := range f.Data {
			f.Data[i] = rapid.Byte().Draw(rt, "data")
		}

		f.TxPacketPrepare(key)
		require.True(rt, f.Validate(key))
	})
}

func TestDownlinkCRCRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		key := rapid.Uint32().Draw(rt, "key")
		var f DownlinkFrame
		f.Seq = uint8(rapid.UintRange(0, 15).Draw(rt, "seq"))
		f.AckSeq = uint8(rapid.UintRange(0, 15).Draw(rt, "ack"))
		for i := range f.Data {
			f.Data[i] = rapid.Byte().Draw(rt, "data")
		}

		f.RxPacketPrepare(key)
		require.True(rt, f.Validate(key))
	})
}

// TestCrossKeyValidationRate: frames keyed with K1 must not validate
// under K2 except with probability ~1/256, sampled over a large
// population of frames.
func TestCrossKeyValidationRate(t *testing.T) {
	const k1, k2 = uint32(0xDEADBEEF), uint32(0xCAFEF00D)
	const trials = 10_000

	falseAccepts := 0
	for i := 0; i < trials; i++ {
		var f UplinkFrame
		f.Seq = uint8(i % 16)
		for c := range f.Channels {
			f.Channels[c] = EncodeChannel(ChannelCenter + c*7 + i)
		}
		for d := range f.Data {
			f.Data[d] = byte(i * (d + 1))
		}
		f.TxPacketPrepare(k1)
		if f.Validate(k2) {
			falseAccepts++
		}
	}

	require.LessOrEqualf(t, falseAccepts, trials/200+1, "expected roughly <=1/256 false-accept rate, got %d/%d", falseAccepts, trials)
}
