package rmp

import (
	"testing"
	"time"

	"github.com/openairlink/airlink/libs/pairing"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct{ sent [][]byte }

func (f *fakeTransport) Send(raw []byte) error {
	f.sent = append(f.sent, raw)
	return nil
}

func TestSignatureRoundTrip(t *testing.T) {
	src := pairing.Address{1, 2, 3, 4, 5, 6}
	dst := pairing.Address{6, 5, 4, 3, 2, 1}
	m := Message{Src: src, SrcPort: 7, Dst: dst, DstPort: 9, Payload: []byte("hello")}
	m.Signature = Sign(0xDEADBEEF, m)
	m.Signed = true

	node := NewNode(dst, "rx-1", nil)
	node.SetKey(0xDEADBEEF)
	require.NoError(t, node.Dispatch(time.Now(), m))
}

func TestSignatureMismatchRejected(t *testing.T) {
	src := pairing.Address{1, 2, 3, 4, 5, 6}
	dst := pairing.Address{6, 5, 4, 3, 2, 1}
	m := Message{Src: src, SrcPort: 7, Dst: dst, DstPort: 9, Payload: []byte("hello")}
	m.Signature = Sign(0x11111111, m)
	m.Signed = true

	node := NewNode(dst, "rx-1", nil)
	node.SetKey(0xDEADBEEF)
	require.Error(t, node.Dispatch(time.Now(), m))
}

func TestPeerExpiry(t *testing.T) {
	node := NewNode(pairing.Address{1}, "tx-1", nil)
	now := time.Now()
	node.touchPeer(now, pairing.Address{9}, pairing.PeerInfo{})
	require.True(t, node.KnowsPeer(pairing.Address{9}))

	node.ExpirePeers(now.Add(PeerExpiry + time.Second))
	require.False(t, node.KnowsPeer(pairing.Address{9}))
}

func TestTickEmitsDeviceInfoAndPing(t *testing.T) {
	transport := &fakeTransport{}
	node := NewNode(pairing.Address{1}, "tx-1", transport)

	msgs := node.Tick(time.Now())
	require.Len(t, msgs, 2)
	require.Len(t, transport.sent, 2)
}

func TestMessageEncodeDecodeRoundTrip(t *testing.T) {
	m := Message{
		Src: pairing.Address{1, 2, 3, 4, 5, 6}, SrcPort: 7,
		Dst: pairing.Address{6, 5, 4, 3, 2, 1}, DstPort: 9,
		Payload: []byte("ping"),
	}
	m.Signature = Sign(42, m)
	m.Signed = true

	buf := EncodeMessage(m)
	got, err := DecodeMessage(buf)
	require.NoError(t, err)
	require.Equal(t, m.Src, got.Src)
	require.Equal(t, m.Dst, got.Dst)
	require.Equal(t, m.Payload, got.Payload)
	require.Equal(t, m.Signature, got.Signature)
}
