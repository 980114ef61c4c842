// Package rmp implements the reliable messaging protocol: an
// addressed, optionally-signed datagram layer carried over the air
// stream's AIR_CMD_RMP command and/or a separate sidechannel transport.
package rmp

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/openairlink/airlink/libs/pairing"
)

const (
	PeerExpiry        = 3 * time.Second
	DeviceInfoInterval = 30 * time.Second
	DiscoveryPingInterval = 500 * time.Millisecond

	PortDeviceInfo = 0
	PortDiscovery  = 1
)

// Message is one RMP datagram.
type Message struct {
	Src      pairing.Address
	SrcPort  uint16
	Dst      pairing.Address
	DstPort  uint16
	Payload  []byte
	Signature [4]byte
	Signed   bool
}

// Sign computes the tamper-resistance signature:
// the last 4 bytes of MD5(key || src || srcPort || dst || dstPort ||
// payload). This is not a cryptographic authentication mechanism; it
// only guards against accidental cross-talk between pairings sharing a
// sidechannel.
func Sign(key uint32, m Message) [4]byte {
	h := md5.New()
	var keyBuf [4]byte
	binary.BigEndian.PutUint32(keyBuf[:], key)
	h.Write(keyBuf[:])
	h.Write(m.Src[:])
	var portBuf [2]byte
	binary.BigEndian.PutUint16(portBuf[:], m.SrcPort)
	h.Write(portBuf[:])
	h.Write(m.Dst[:])
	binary.BigEndian.PutUint16(portBuf[:], m.DstPort)
	h.Write(portBuf[:])
	h.Write(m.Payload)

	sum := h.Sum(nil)
	var sig [4]byte
	copy(sig[:], sum[len(sum)-4:])
	return sig
}

// Transport is a sidechannel a Node can additionally send/receive RMP
// messages over (e.g. WiFi), separate from the air-stream AIR_CMD_RMP
// path. The air-stream path does not use this interface: callers pass
// received payloads through DecodeMessage and Dispatch, and send the
// messages Tick returns encoded with EncodeMessage.
type Transport interface {
	Send(raw []byte) error
}

type peerState struct {
	lastSeen time.Time
	info     pairing.PeerInfo
}

// Node is one side's RMP endpoint: it dispatches inbound messages to
// per-port handlers, deduplicates/ages out peers, and emits the periodic
// announcements.
type Node struct {
	own        pairing.Address
	deviceName string
	sessionID  string
	key        *uint32 // nil if no pairing key is known yet

	handlers map[uint16]func(Message)
	peers    map[pairing.Address]*peerState

	transport Transport

	nextDeviceInfoAt time.Time
	nextPingAt       time.Time

	log *slog.Logger
}

func NewNode(own pairing.Address, deviceName string, transport Transport) *Node {
	return &Node{
		own:        own,
		deviceName: deviceName,
		sessionID:  uuid.NewString(),
		handlers:   make(map[uint16]func(Message)),
		peers:      make(map[pairing.Address]*peerState),
		transport:  transport,
		log:        slog.With("func", "rmp.Node", "package", "rmp"),
	}
}

// SetKey installs the pairing key used to sign/verify outbound/inbound
// messages once a pairing is known.
func (n *Node) SetKey(key uint32) { n.key = &key }

// Handle registers a handler for a destination port. MSP tunneling and
// the settings/menu system are both ordinary RMP port handlers.
func (n *Node) Handle(port uint16, fn func(Message)) {
	n.handlers[port] = fn
}

// Dispatch verifies the signature of a Signed message when a key is known
// (unsigned messages are routed unverified), routes one inbound message,
// and refreshes the sender's peer-liveness timestamp.
func (n *Node) Dispatch(now time.Time, m Message) error {
	if n.key != nil && m.Signed {
		want := Sign(*n.key, m)
		if want != m.Signature {
			return fmt.Errorf("rmp: signature mismatch from %s", m.Src)
		}
	}

	n.touchPeer(now, m.Src, pairing.PeerInfo{})

	if h, ok := n.handlers[m.DstPort]; ok {
		h(m)
	}
	return nil
}

func (n *Node) touchPeer(now time.Time, addr pairing.Address, info pairing.PeerInfo) {
	p, ok := n.peers[addr]
	if !ok {
		p = &peerState{}
		n.peers[addr] = p
	}
	p.lastSeen = now
	if info.Name != "" {
		p.info = info
	}
}

// ExpirePeers drops any peer not heard from within PeerExpiry.
func (n *Node) ExpirePeers(now time.Time) {
	for addr, p := range n.peers {
		if now.Sub(p.lastSeen) > PeerExpiry {
			delete(n.peers, addr)
		}
	}
}

func (n *Node) PeerCount() int { return len(n.peers) }

func (n *Node) KnowsPeer(addr pairing.Address) bool {
	_, ok := n.peers[addr]
	return ok
}

// newMessage builds and, if a key is known, signs an outbound message.
func (n *Node) newMessage(dst pairing.Address, srcPort, dstPort uint16, payload []byte) Message {
	m := Message{Src: n.own, SrcPort: srcPort, Dst: dst, DstPort: dstPort, Payload: payload}
	if n.key != nil {
		m.Signature = Sign(*n.key, m)
		m.Signed = true
	}
	return m
}

// Tick emits the periodic device-info announcement and discovery ping
// when due, returning any messages that should be sent (over the air
// AIR_CMD_RMP command and/or the sidechannel transport).
func (n *Node) Tick(now time.Time) []Message {
	var out []Message

	if n.nextDeviceInfoAt.IsZero() || now.After(n.nextDeviceInfoAt) {
		out = append(out, n.newMessage(pairing.Broadcast, PortDeviceInfo, PortDeviceInfo, []byte(n.deviceName+"|"+n.sessionID)))
		n.nextDeviceInfoAt = now.Add(DeviceInfoInterval)
	}

	if n.nextPingAt.IsZero() || now.After(n.nextPingAt) {
		out = append(out, n.newMessage(pairing.Broadcast, PortDiscovery, PortDiscovery, nil))
		n.nextPingAt = now.Add(DiscoveryPingInterval)
	}

	n.ExpirePeers(now)

	for _, m := range out {
		if n.transport != nil {
			_ = n.transport.Send(EncodeMessage(m))
		}
	}
	return out
}

// EncodeMessage serializes a Message for either the sidechannel transport
// or the AIR_CMD_RMP substream command payload.
func EncodeMessage(m Message) []byte {
	buf := make([]byte, 0, 6+2+6+2+1+len(m.Payload)+4)
	buf = append(buf, m.Src[:]...)
	buf = append(buf, byte(m.SrcPort>>8), byte(m.SrcPort))
	buf = append(buf, m.Dst[:]...)
	buf = append(buf, byte(m.DstPort>>8), byte(m.DstPort))
	signedFlag := byte(0)
	if m.Signed {
		signedFlag = 1
	}
	buf = append(buf, signedFlag, byte(len(m.Payload)))
	buf = append(buf, m.Payload...)
	if m.Signed {
		buf = append(buf, m.Signature[:]...)
	}
	return buf
}

// DecodeMessage reverses EncodeMessage.
func DecodeMessage(buf []byte) (Message, error) {
	const headerLen = 6 + 2 + 6 + 2 + 1 + 1
	if len(buf) < headerLen {
		return Message{}, fmt.Errorf("rmp: message too short: %d bytes", len(buf))
	}
	var m Message
	off := 0
	copy(m.Src[:], buf[off:off+6])
	off += 6
	m.SrcPort = uint16(buf[off])<<8 | uint16(buf[off+1])
	off += 2
	copy(m.Dst[:], buf[off:off+6])
	off += 6
	m.DstPort = uint16(buf[off])<<8 | uint16(buf[off+1])
	off += 2
	m.Signed = buf[off] != 0
	off++
	n := int(buf[off])
	off++
	if len(buf) < off+n {
		return Message{}, fmt.Errorf("rmp: truncated payload")
	}
	m.Payload = append([]byte(nil), buf[off:off+n]...)
	off += n
	if m.Signed {
		if len(buf) < off+4 {
			return Message{}, fmt.Errorf("rmp: truncated signature")
		}
		copy(m.Signature[:], buf[off:off+4])
	}
	return m, nil
}
