// Package bind implements the rendezvous/binding protocol:
// a fixed bind channel, periodic advertisement, and the TX/RX exchange
// that ends with both sides holding a persisted Pairing and the peer's
// capabilities.
package bind

import (
	"log/slog"
	"math/rand"
	"time"

	"github.com/openairlink/airlink/libs/airframe"
	"github.com/openairlink/airlink/libs/pairing"
	"github.com/openairlink/airlink/libs/radio"
)

const (
	AdvertiseInterval = 500 * time.Millisecond
	ReplyExpiration   = 2 * time.Second
	BandRotateInterval = 2 * time.Second
	ReplyWindow       = 10 * time.Millisecond

	BindSyncWord = 0x12
)

// Result is what a completed bind hands back to the caller to persist.
type Result struct {
	Pairing pairing.Pairing
	Peer    pairing.PeerInfo
	Band    pairing.Band
}

func decodeValid(buf []byte) (airframe.BindPacket, bool) {
	if !airframe.ValidateBind(buf) {
		return airframe.BindPacket{}, false
	}
	pkt, err := airframe.DecodeBindPacket(buf)
	if err != nil {
		return airframe.BindPacket{}, false
	}
	return pkt, true
}

func peerInfoFrom(pkt airframe.BindPacket, band pairing.Band) pairing.PeerInfo {
	return pairing.PeerInfo{Name: pkt.Name, Band: band, Capabilities: pkt.Capabilities}
}

// TXEngine drives the TX side of bind: broadcast a fresh pairing key on
// the bind channel until an RX accepts it.
type TXEngine struct {
	radio   radio.Radio
	band    pairing.Band
	own     pairing.Address
	key     uint32
	caps    pairing.Capabilities
	name    string

	nextAdvertiseAt time.Time
	pendingSince    time.Time
	pendingPeer     pairing.Address

	log *slog.Logger
}

func NewTXEngine(r radio.Radio, band pairing.Band, own pairing.Address, caps pairing.Capabilities, name string) (*TXEngine, error) {
	e := &TXEngine{
		radio: r,
		band:  band,
		own:   own,
		key:   rand.Uint32(),
		caps:  caps,
		name:  name,
		log:   slog.With("func", "bind.TXEngine", "package", "bind"),
	}

	if err := r.SetMode(radio.BindMode); err != nil {
		return nil, err
	}
	if err := r.SetFrequency(band.CenterHz(), 0); err != nil {
		return nil, err
	}
	if err := r.SetSyncWord(BindSyncWord); err != nil {
		return nil, err
	}
	if err := r.SetPayloadSize(airframe.BindSize); err != nil {
		return nil, err
	}
	if err := r.StartRX(); err != nil {
		return nil, err
	}

	e.log.Info("TX bind started", "band", band, "key", e.key)
	return e, nil
}

func (e *TXEngine) advertisement() airframe.BindPacket {
	return airframe.BindPacket{
		SenderAddress: e.own,
		Key:           e.key,
		Role:          pairing.RoleTX,
		Capabilities:  e.caps,
		Name:          e.name,
	}
}

// Tick advances the bind state machine one step. It returns a non-nil
// Result once the RX has confirmed.
func (e *TXEngine) Tick(now time.Time) (*Result, error) {
	if e.radio.IsRXDone() {
		buf := make([]byte, airframe.BindSize)
		n, err := e.radio.Read(buf)
		if err == nil && n == airframe.BindSize {
			if pkt, ok := decodeValid(buf); ok && pkt.Key == e.key {
				switch pkt.Role {
				case pairing.RoleRXAwaitingConfirmation:
					e.pendingSince = now
					e.pendingPeer = pkt.SenderAddress
					e.log.Info("RX pending user confirmation", "peer", pkt.SenderAddress)
				case pairing.RoleRX:
					e.log.Info("RX accepted bind", "peer", pkt.SenderAddress)
					return &Result{
						Pairing: pairing.Pairing{PeerAddress: pkt.SenderAddress, Key: e.key},
						Peer:    peerInfoFrom(pkt, e.band),
						Band:    e.band,
					}, nil
				}
			}
		}
		_ = e.radio.StartRX()
	}

	if !e.pendingSince.IsZero() && now.Sub(e.pendingSince) > ReplyExpiration {
		e.pendingSince = time.Time{}
	}

	if now.After(e.nextAdvertiseAt) || e.nextAdvertiseAt.IsZero() {
		pkt := e.advertisement().Encode()
		if err := e.radio.Send(pkt[:]); err != nil {
			return nil, err
		}
		e.nextAdvertiseAt = now.Add(AdvertiseInterval)
	}

	return nil, nil
}

// RXEngine drives the RX side of bind: scan bands for a TX advertisement,
// reply, and finalize once the user (or a button/screen-less unit)
// accepts.
type RXEngine struct {
	radio      radio.Radio
	own        pairing.Address
	caps       pairing.Capabilities
	name       string
	bands      []pairing.Band
	bandIdx    int
	nextRotate time.Time

	awaiting     bool
	needsConfirm bool
	txAddr       pairing.Address
	txKey        uint32
	txBand       pairing.Band
	txPeer       pairing.PeerInfo

	log *slog.Logger
}

func NewRXEngine(r radio.Radio, bands []pairing.Band, own pairing.Address, caps pairing.Capabilities, name string, needsConfirm bool) (*RXEngine, error) {
	e := &RXEngine{
		radio:        r,
		own:          own,
		caps:         caps,
		name:         name,
		bands:        bands,
		needsConfirm: needsConfirm,
		log:          slog.With("func", "bind.RXEngine", "package", "bind"),
	}
	if err := e.tuneToBand(e.bands[0]); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *RXEngine) tuneToBand(band pairing.Band) error {
	if err := e.radio.SetMode(radio.BindMode); err != nil {
		return err
	}
	if err := e.radio.SetFrequency(band.CenterHz(), 0); err != nil {
		return err
	}
	if err := e.radio.SetSyncWord(BindSyncWord); err != nil {
		return err
	}
	if err := e.radio.SetPayloadSize(airframe.BindSize); err != nil {
		return err
	}
	return e.radio.StartRX()
}

// Accept is called once the user has confirmed the pending bind (or
// immediately, on hardware with no screen/button).
func (e *RXEngine) Accept() {
	e.awaiting = false
}

func (e *RXEngine) Tick(now time.Time) (*Result, error) {
	if e.radio.IsRXDone() {
		buf := make([]byte, airframe.BindSize)
		n, err := e.radio.Read(buf)
		if err == nil && n == airframe.BindSize {
			if pkt, ok := decodeValid(buf); ok && pkt.Role == pairing.RoleTX {
				band := e.bands[e.bandIdx]
				e.txAddr, e.txKey, e.txBand = pkt.SenderAddress, pkt.Key, band
				e.txPeer = peerInfoFrom(pkt, band)

				role := pairing.RoleRX
				if e.needsConfirm {
					role = pairing.RoleRXAwaitingConfirmation
					e.awaiting = true
				}
				reply := airframe.BindPacket{
					SenderAddress: e.own,
					Key:           pkt.Key,
					Role:          role,
					Capabilities:  e.caps,
					Name:          e.name,
				}.Encode()
				if err := e.radio.Send(reply[:]); err != nil {
					return nil, err
				}

				if role == pairing.RoleRX {
					return &Result{
						Pairing: pairing.Pairing{PeerAddress: pkt.SenderAddress, Key: pkt.Key},
						Peer:    peerInfoFrom(pkt, band),
						Band:    band,
					}, nil
				}
			}
		}
		_ = e.radio.StartRX()
		return nil, nil
	}

	if e.awaiting {
		return nil, nil // wait for Accept()
	}

	if e.nextRotate.IsZero() {
		e.nextRotate = now.Add(BandRotateInterval)
	} else if now.After(e.nextRotate) {
		e.bandIdx = (e.bandIdx + 1) % len(e.bands)
		e.nextRotate = now.Add(BandRotateInterval)
		if err := e.tuneToBand(e.bands[e.bandIdx]); err != nil {
			return nil, err
		}
	}

	return nil, nil
}

// FinalizeConfirmed sends the final Role=RX bind packet after user
// acceptance and returns the bind Result.
func (e *RXEngine) FinalizeConfirmed() (*Result, error) {
	reply := airframe.BindPacket{
		SenderAddress: e.own,
		Key:           e.txKey,
		Role:          pairing.RoleRX,
		Capabilities:  e.caps,
		Name:          e.name,
	}.Encode()
	if err := e.radio.Send(reply[:]); err != nil {
		return nil, err
	}
	return &Result{
		Pairing: pairing.Pairing{PeerAddress: e.txAddr, Key: e.txKey},
		Peer:    e.txPeer,
		Band:    e.txBand,
	}, nil
}
