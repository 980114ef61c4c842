// Package software implements an in-process Radio used by engine and
// scenario tests: two instances joined by a Medium stand in for a
// physical half-duplex FSK/LoRa link, including frequency/sync-word
// gating and programmable packet loss.
package software

import (
	"sync"

	"github.com/openairlink/airlink/libs/pairing"
	"github.com/openairlink/airlink/libs/radio"
)

// Medium is the shared "air" two Radios transmit into and receive from.
// It only delivers a transmitted packet to a peer tuned to the same
// frequency and sync word, modeling the hardware-level rejection a keyed
// sync word provides.
type Medium struct {
	mu      sync.Mutex
	peers   []*Radio
	DropNext int // number of subsequent sends to silently drop
	SNRdB    float64
}

func NewMedium() *Medium {
	return &Medium{SNRdB: 15}
}

func (m *Medium) join(r *Radio) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peers = append(m.peers, r)
}

func (m *Medium) transmit(from *Radio, buf []byte) {
	m.mu.Lock()
	drop := m.DropNext > 0
	if drop {
		m.DropNext--
	}
	peers := append([]*Radio(nil), m.peers...)
	snr := m.SNRdB
	m.mu.Unlock()

	from.fireTXDone()

	if drop {
		return
	}

	for _, p := range peers {
		if p == from {
			continue
		}
		p.mu.Lock()
		sameChannel := p.freqHz == from.freqHz && p.syncWord == from.syncWord
		if sameChannel {
			p.rxBuf = append([]byte(nil), buf...)
			p.rxPending = true
			p.lastSNR = snr
		}
		p.mu.Unlock()
		if sameChannel {
			p.fireRXDone()
		}
	}
}

// Radio is a Medium-backed software implementation of radio.Radio.
type Radio struct {
	medium *Medium

	mu        sync.Mutex
	mode      pairing.Mode
	freqHz    uint32
	freqErr   int32
	syncWord  byte
	txPower   int8
	payloadSz int

	rxBuf     []byte
	rxPending bool
	txDone    bool
	lastSNR   float64

	cb func(event radio.Event)
}

func New(medium *Medium) *Radio {
	r := &Radio{medium: medium}
	medium.join(r)
	return r
}

func (r *Radio) Init() error                               { return nil }
func (r *Radio) Sleep() error                               { return nil }
func (r *Radio) Shutdown() error                            { return nil }
func (r *Radio) Calibrate(centerHz uint32) error            { return nil }
func (r *Radio) SetMode(m pairing.Mode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mode = m
	return nil
}
func (r *Radio) SetFrequency(hz uint32, errHint int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.freqHz = hz
	r.freqErr = errHint
	return nil
}
func (r *Radio) SetSyncWord(word byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.syncWord = word
	return nil
}
func (r *Radio) SetTXPower(dBm int8) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txPower = dBm
	return nil
}
func (r *Radio) SetPayloadSize(n int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloadSz = n
	return nil
}

// StartRX keeps any packet the Medium has already delivered pending until
// Read: delivery is instantaneous here, so a peer's reply can land before
// the receiver has switched into RX.
func (r *Radio) StartRX() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return nil
}

func (r *Radio) Send(buf []byte) error {
	r.medium.transmit(r, buf)
	return nil
}

func (r *Radio) Read(buf []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := copy(buf, r.rxBuf)
	r.rxPending = false
	return n, nil
}

func (r *Radio) IsTXDone() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	done := r.txDone
	r.txDone = false
	return done
}

func (r *Radio) IsRXDone() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rxPending
}

func (r *Radio) IsRXInProgress() bool { return false }

func (r *Radio) RSSI() (float64, int16, uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snr := r.lastSNR
	lq := uint8(100)
	if snr < 0 {
		lq = 0
	}
	return -60, int16(snr * 4), lq
}

func (r *Radio) FrequencyError() int32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.freqErr
}

func (r *Radio) SetCallback(fn func(event radio.Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cb = fn
}

func (r *Radio) fireTXDone() {
	r.mu.Lock()
	r.txDone = true
	cb := r.cb
	r.mu.Unlock()
	if cb != nil {
		cb(radio.EventTXDone)
	}
}

func (r *Radio) fireRXDone() {
	r.mu.Lock()
	cb := r.cb
	r.mu.Unlock()
	if cb != nil {
		cb(radio.EventRXDone)
	}
}

// SetSNR lets a test drive the simulated link-quality heuristic inputs.
func (m *Medium) SetSNR(db float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SNRdB = db
}
