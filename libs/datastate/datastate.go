// Package datastate tracks per-channel and per-telemetry-value freshness
// and acknowledgment, and picks which dirty value the substream feeder
// should inject next.
package datastate

import "time"

// State is one tracked value's send/ack bookkeeping.
type State struct {
	hasValue     bool
	lastUpdate   time.Time
	lastSent     time.Time
	lastSentSeq  uint8
	ackReceived  bool
}

// Set records a new value, marking the slot dirty relative to its last
// send.
func (s *State) Set(now time.Time) {
	s.hasValue = true
	s.lastUpdate = now
}

func (s *State) HasValue() bool { return s.hasValue }

// MarkSent records that this value was just transmitted on tx sequence
// seq, pending acknowledgment.
func (s *State) MarkSent(now time.Time, seq uint8) {
	s.lastSent = now
	s.lastSentSeq = seq
	s.ackReceived = false
}

// Ack marks the value acknowledged if it was last sent on seq.
func (s *State) Ack(seq uint8) {
	if !s.lastSent.IsZero() && s.lastSentSeq == seq {
		s.ackReceived = true
	}
}

func (s *State) Acknowledged() bool { return s.ackReceived }

// Score is a monotone function of staleness used to pick the next item to
// inject into the substream: never-sent values always outrank sent
// values, acknowledged-at-the-latest-value items score zero (never
// re-sent), and otherwise staler unacked values score higher.
func (s *State) Score(now time.Time) float64 {
	if !s.hasValue {
		return -1 // nothing to send
	}
	if s.lastSent.IsZero() {
		// Never sent: always preferred, scaled by how long it's been
		// waiting so multiple never-sent items still order sensibly.
		return 1e9 + now.Sub(s.lastUpdate).Seconds()
	}
	if s.ackReceived && !s.lastUpdate.After(s.lastSent) {
		// Acked and no newer value since: nothing to gain by resending.
		return 0
	}
	return now.Sub(s.lastSent).Seconds()
}

// Table is a keyed collection of tracked values (by channel index or
// telemetry id), and the scheduling logic the TX/RX engines call while
// topping up a frame's substream data.
type Table struct {
	values map[uint8]*State
}

func NewTable() *Table {
	return &Table{values: make(map[uint8]*State)}
}

func (t *Table) entry(id uint8) *State {
	s, ok := t.values[id]
	if !ok {
		s = &State{}
		t.values[id] = s
	}
	return s
}

func (t *Table) Set(id uint8, now time.Time) {
	t.entry(id).Set(now)
}

func (t *Table) MarkSent(id uint8, now time.Time, seq uint8) {
	t.entry(id).MarkSent(now, seq)
}

// AckAll marks every tracked value whose last-sent sequence equals seq as
// acknowledged, regardless of how many frames have passed.
func (t *Table) AckAll(seq uint8) {
	for _, s := range t.values {
		s.Ack(seq)
	}
}

// Highest returns the id of the tracked value with the highest score, and
// whether any candidate exists at all.
func (t *Table) Highest(now time.Time) (uint8, bool) {
	bestID := uint8(0)
	bestScore := -1.0
	found := false
	for id, s := range t.values {
		sc := s.Score(now)
		if sc <= 0 {
			continue
		}
		if !found || sc > bestScore {
			bestScore, bestID, found = sc, id, true
		}
	}
	return bestID, found
}
