// Package freqtable derives the 16-entry frequency hopping table from a
// pairing key. The derivation is a pure function of its
// inputs so that two independently-paired radios compute byte-identical
// tables without ever exchanging the table itself, only the key.
package freqtable

const (
	// SlotBits is AIR_SEQ_BITS: the table has 2^SlotBits entries, one per
	// possible frame sequence number.
	SlotBits = 4
	NumSlots = 1 << SlotBits

	// MaxOffsetSteps is the maximum LFSR-derived offset from band center,
	// in units of StepHz. 23 steps of 125 kHz gives a ±~2.9 MHz spread.
	MaxOffsetSteps = 23
	StepHz         = 125_000
)

// Slot is one hopping-table entry: an absolute frequency plus the running
// frequency-error state the radio abstraction accumulates for that slot
// (a decayed running average, not a bare last-sample).
type Slot struct {
	FreqHz       uint32
	RunningError int32 // decayed running estimate, Hz
	LastError    int32 // last raw measurement, Hz
}

// Table is the full 16-slot hopping table for one pairing.
type Table struct {
	Slots [NumSlots]Slot
}

// lfsrNext advances a 16-bit Fibonacci LFSR one step. The tap mask
// (0xB400, taps at bits 15,13,12,10) is the standard maximal-length
// 16-bit LFSR polynomial x^16+x^14+x^13+x^11+1.
func lfsrNext(state uint16) uint16 {
	bit := (state ^ (state >> 2) ^ (state >> 3) ^ (state >> 5)) & 1
	return (state >> 1) | (bit << 15)
}

// Init seeds the LFSR with key and derives all NumSlots frequencies
// around baseHz. Two calls with identical (key, baseHz) always produce
// identical tables.
func Init(key uint32, baseHz uint32) Table {
	var t Table

	seed := uint16(key ^ (key >> 16))
	if seed == 0 {
		seed = 0xACE1 // LFSR cannot run from an all-zero state
	}

	state := seed
	span := uint32(2 * MaxOffsetSteps)
	for i := 0; i < NumSlots; i++ {
		state = lfsrNext(state)
		offsetSteps := int32(uint32(state)%span) - MaxOffsetSteps
		t.Slots[i] = Slot{
			FreqHz: uint32(int64(baseHz) + int64(offsetSteps)*StepHz),
		}
	}
	return t
}

// RecordError folds a newly measured frequency-error sample into the
// slot's decayed running estimate: a single-pole filter rather than a
// plain moving average.
func (t *Table) RecordError(slot int, measuredHz int32) {
	s := &t.Slots[slot]
	s.LastError = measuredHz
	// weight 1/4 new sample, matching the filter shape used elsewhere for
	// RSSI/SNR/LQ (libs/airio), kept consistent across the firmware.
	s.RunningError += (measuredHz - s.RunningError) / 4
}

// ErrorHint returns the running frequency-error estimate to feed into the
// radio's set_frequency(hz, error_hint) call for a slot.
func (t *Table) ErrorHint(slot int) int32 {
	return t.Slots[slot].RunningError
}

func (t *Table) FreqHz(slot int) uint32 {
	return t.Slots[slot%NumSlots].FreqHz
}
