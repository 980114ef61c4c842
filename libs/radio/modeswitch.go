package radio

import (
	"time"

	"github.com/openairlink/airlink/libs/pairing"
)

// Confirmations returns the number of consecutive positive SNR
// observations required before a proposed mode switch is actually
// requested: min(15, 4*(LONGEST+1-current)).
func Confirmations(current pairing.Mode) int {
	n := 4 * (int(pairing.ModeLongest) + 1 - int(current))
	if n > 15 {
		return 15
	}
	return n
}

// HoldTime is the minimum duration a proposed switch must remain stable
// before it is actually requested.
const HoldTime = 1 * time.Second

// SwitchDirection reports which way, if any, the SNR heuristic wants to
// move relative to current. 0 means stay. Switching faster needs 4 dB
// per step of improvement; only single-step targets are ever proposed,
// so the threshold is a flat 4 dB.
func SwitchDirection(current pairing.Mode, snrDB float64) int {
	switch {
	case current == pairing.Mode1:
		if snrDB <= 5 {
			return +1
		}
	default:
		if snrDB <= 1.5 {
			return +1
		}
	}
	if current > pairing.Mode1 && snrDB >= 4 {
		return -1
	}
	return 0
}

// Heuristic accumulates consecutive positive observations for a single
// candidate direction and reports when a switch should be proposed: the
// confirmation count has been reached AND the candidate has held for at
// least HoldTime.
type Heuristic struct {
	current      pairing.Mode
	dir          int
	streak       int
	candidateSet time.Time
}

func NewHeuristic(current pairing.Mode) *Heuristic {
	return &Heuristic{current: current}
}

// Observe folds in one new SNR sample at time now. It returns the target
// mode and true if a switch should now be proposed.
func (h *Heuristic) Observe(now time.Time, snrDB float64) (pairing.Mode, bool) {
	dir := SwitchDirection(h.current, snrDB)
	if dir == 0 {
		h.dir, h.streak = 0, 0
		return 0, false
	}
	if dir != h.dir {
		h.dir = dir
		h.streak = 1
		h.candidateSet = now
		return 0, false
	}
	h.streak++
	need := Confirmations(h.current)
	if h.streak < need {
		return 0, false
	}
	if now.Sub(h.candidateSet) < HoldTime {
		return 0, false
	}

	target := h.current + pairing.Mode(dir)
	if target < pairing.Mode1 {
		target = pairing.Mode1
	}
	if target > pairing.ModeLongest {
		target = pairing.ModeLongest
	}
	return target, true
}

// Reset re-seats the heuristic on a new current mode, e.g. after a switch
// has actually been applied.
func (h *Heuristic) Reset(current pairing.Mode) {
	h.current = current
	h.dir, h.streak = 0, 0
}
