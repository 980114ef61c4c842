// Package store is the file-backed settings store the engines are
// injected with: the unit's own address,
// generated once at first boot, plus the pairings and peer info recorded
// during bind. The core never touches the file directly; it sees only
// the pairing.Store interface.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/openairlink/airlink/libs/pairing"
)

type peerRecord struct {
	Info pairing.PeerInfo `json:"info"`
	Band pairing.Band     `json:"band"`
}

type fileState struct {
	OwnAddress pairing.Address                `json:"own_address"`
	PairedTX   *pairing.Pairing               `json:"paired_tx,omitempty"`
	PairedRX   []pairing.Pairing              `json:"paired_rx,omitempty"`
	Peers      map[string]peerRecord          `json:"peers,omitempty"`
}

// Store implements pairing.Store over a single JSON file, rewritten
// whole on every mutation. Pairing state changes only at bind time, so
// write volume is irrelevant; crash-consistency comes from the
// write-to-temp-then-rename below.
type Store struct {
	mu    sync.Mutex
	path  string
	state fileState
	log   *slog.Logger
}

// Open loads the store at path, creating it (and generating a fresh own
// address) on first boot.
func Open(path string) (*Store, error) {
	s := &Store{
		path: path,
		log:  slog.With("func", "store.Store", "package", "store"),
	}
	s.state.Peers = make(map[string]peerRecord)

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(raw, &s.state); err != nil {
			return nil, fmt.Errorf("store: corrupt state file %q: %w", path, err)
		}
		if s.state.Peers == nil {
			s.state.Peers = make(map[string]peerRecord)
		}
	case os.IsNotExist(err):
		addr, aerr := pairing.NewAddress()
		if aerr != nil {
			return nil, fmt.Errorf("store: %w", aerr)
		}
		s.state.OwnAddress = addr
		if err := s.flushLocked(); err != nil {
			return nil, err
		}
		s.log.Info("first boot, generated address", "address", addr)
	default:
		return nil, fmt.Errorf("store: read %q: %w", path, err)
	}
	return s, nil
}

func (s *Store) flushLocked() error {
	raw, err := json.MarshalIndent(&s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("store: write %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("store: rename %q: %w", tmp, err)
	}
	return nil
}

func (s *Store) OwnAddress() pairing.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.OwnAddress
}

func (s *Store) GetPairedTX() (pairing.Pairing, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.PairedTX == nil {
		return pairing.Pairing{}, false
	}
	return *s.state.PairedTX, true
}

// SetPairedTX records the single TX an RX unit is bound to.
func (s *Store) SetPairedTX(p pairing.Pairing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.PairedTX = &p
	return s.flushLocked()
}

func (s *Store) GetPairedRX(idx int) (pairing.Pairing, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx < 0 || idx >= len(s.state.PairedRX) {
		return pairing.Pairing{}, false
	}
	return s.state.PairedRX[idx], true
}

// AddPairedRX appends a newly bound RX, moving an already-known peer to
// the end so the list doubles as a recency order.
func (s *Store) AddPairedRX(p pairing.Pairing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.state.PairedRX {
		if existing.PeerAddress == p.PeerAddress {
			s.state.PairedRX = append(s.state.PairedRX[:i], s.state.PairedRX[i+1:]...)
			break
		}
	}
	s.state.PairedRX = append(s.state.PairedRX, p)
	return s.flushLocked()
}

func (s *Store) GetAirInfo(addr pairing.Address) (pairing.PeerInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.state.Peers[addr.String()]
	if !ok {
		return pairing.PeerInfo{}, false
	}
	return rec.Info, true
}

func (s *Store) SetAirInfo(addr pairing.Address, info pairing.PeerInfo, band pairing.Band) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Peers[addr.String()] = peerRecord{Info: info, Band: band}
	return s.flushLocked()
}
