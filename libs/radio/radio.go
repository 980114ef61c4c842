// Package radio defines the abstract transceiver contract that both
// engines are built against, and the mode table every radio
// implementation must honor. Implementations surface hardware I/O errors
// explicitly; it is the caller's responsibility to treat them as fatal.
package radio

import (
	"time"

	"github.com/openairlink/airlink/libs/pairing"
)

// Radio is the hardware abstraction every TX/RX engine is built against.
// A concrete implementation drives one physical FSK/LoRa transceiver.
type Radio interface {
	Init() error
	Sleep() error
	Shutdown() error
	Calibrate(centerHz uint32) error

	SetMode(m pairing.Mode) error
	SetFrequency(hz uint32, errorHintHz int32) error
	SetSyncWord(word byte) error
	SetTXPower(dBm int8) error
	SetPayloadSize(n int) error

	StartRX() error
	// Send transmits buf. Completion shows in IsTXDone and is reported to
	// the callback set via SetCallback; when that callback runs depends on
	// the implementation.
	Send(buf []byte) error
	// Read drains the FIFO of the most recently received packet into buf,
	// returning the number of bytes copied.
	Read(buf []byte) (int, error)

	IsTXDone() bool
	IsRXDone() bool
	IsRXInProgress() bool

	// RSSI returns dBm after a receive; snrQuarterDB is in 0.25 dB units;
	// lq is a 0..100 link-quality estimate.
	RSSI() (dBm float64, snrQuarterDB int16, lq uint8)
	FrequencyError() int32

	SetCallback(fn func(event Event))
}

// Event identifies what fired a radio completion callback.
type Event uint8

const (
	EventTXDone Event = iota
	EventRXDone
)

// ModeParams is one entry of the canonical mode table.
type ModeParams struct {
	Mode              pairing.Mode
	CycleTime         time.Duration
	FailsafeInterval  time.Duration
	Description       string
}

// Modes is the canonical mode table, indexed by Mode (1-based; index 0
// unused).
var Modes = map[pairing.Mode]ModeParams{
	pairing.Mode1: {pairing.Mode1, 6700 * time.Microsecond, 250 * time.Millisecond, "FSK 200kbps"},
	pairing.Mode2: {pairing.Mode2, 20 * time.Millisecond, 250 * time.Millisecond, "LoRa SF7 BW500"},
	pairing.Mode3: {pairing.Mode3, 33 * time.Millisecond, 400 * time.Millisecond, "LoRa SF8 BW500"},
	pairing.Mode4: {pairing.Mode4, 66 * time.Millisecond, 600 * time.Millisecond, "LoRa SF9 BW500"},
	pairing.Mode5: {pairing.Mode5, 115 * time.Millisecond, 700 * time.Millisecond, "LoRa SF10 BW500"},
}

func CycleTime(m pairing.Mode) time.Duration     { return Modes[m].CycleTime }
func FailsafeInterval(m pairing.Mode) time.Duration { return Modes[m].FailsafeInterval }

// CycleDeadline is the per-cycle timeout: cycle_time + 10%.
func CycleDeadline(m pairing.Mode) time.Duration {
	ct := CycleTime(m)
	return ct + ct/10
}

// BindMode is the fixed "fast mode" (mode 2 parameters) the bind
// procedure always runs at.
const BindMode = pairing.Mode2
