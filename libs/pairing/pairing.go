// Package pairing holds the types shared by both ends of an air link:
// addresses, pairings, capability advertisements and the supported-mode
// bitset arithmetic used to negotiate a common mode.
package pairing

import (
	"crypto/rand"
	"fmt"
)

// Mode is one of the five (modulation, bandwidth, spreading-factor/bitrate,
// coding-rate) presets a link can run at. Smaller is faster / shorter range.
type Mode uint8

const (
	Mode1 Mode = 1 // FSK 200 kbps
	Mode2 Mode = 2 // LoRa SF7
	Mode3 Mode = 3 // LoRa SF8
	Mode4 Mode = 4 // LoRa SF9
	Mode5 Mode = 5 // LoRa SF10

	ModeLongest = Mode5
	modeCount   = 5
)

func (m Mode) String() string {
	if m < Mode1 || m > Mode5 {
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
	return fmt.Sprintf("mode%d", uint8(m))
}

// ModeMask is a bitset over Mode1..Mode5, bit (m-1) set means m is supported.
type ModeMask uint8

func NewModeMask(modes ...Mode) ModeMask {
	var mm ModeMask
	for _, m := range modes {
		mm = mm.With(m)
	}
	return mm
}

func (mm ModeMask) With(m Mode) ModeMask    { return mm | (1 << (m - 1)) }
func (mm ModeMask) Without(m Mode) ModeMask { return mm &^ (1 << (m - 1)) }
func (mm ModeMask) Has(m Mode) bool         { return mm&(1<<(m-1)) != 0 }
func (mm ModeMask) Common(other ModeMask) ModeMask { return mm & other }
func (mm ModeMask) Empty() bool             { return mm == 0 }

// Longest returns the slowest/longest-range mode present in the mask, used
// as the failsafe fallback target. Callers are expected to have rejected an
// empty mask at open time.
func (mm ModeMask) Longest() Mode {
	for m := ModeLongest; m >= Mode1; m-- {
		if mm.Has(m) {
			return m
		}
	}
	return 0
}

func (mm ModeMask) Fastest() Mode {
	for m := Mode1; m <= ModeLongest; m++ {
		if mm.Has(m) {
			return m
		}
	}
	return 0
}

// Neighbor returns the next faster (dir<0) or slower (dir>0) mode present
// in the mask relative to cur, or cur unchanged if there is none.
func (mm ModeMask) Neighbor(cur Mode, dir int) Mode {
	if dir < 0 {
		for m := cur - 1; m >= Mode1; m-- {
			if mm.Has(m) {
				return m
			}
		}
		return cur
	}
	for m := cur + 1; m <= ModeLongest; m++ {
		if mm.Has(m) {
			return m
		}
	}
	return cur
}

// Address is a 6-byte endpoint identifier. The zero value is invalid; all
// 0xFF bytes is the broadcast address.
type Address [6]byte

var Broadcast = Address{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

func (a Address) IsZero() bool      { return a == Address{} }
func (a Address) IsBroadcast() bool { return a == Broadcast }
func (a Address) Valid() bool       { return !a.IsZero() }

func (a Address) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[0], a[1], a[2], a[3], a[4], a[5])
}

// NewAddress draws a fresh random address from crypto/rand, rerolling on
// the (astronomically unlikely) zero or broadcast collision, as the
// firmware does at first boot.
func NewAddress() (Address, error) {
	for {
		var a Address
		if _, err := rand.Read(a[:]); err != nil {
			return Address{}, fmt.Errorf("generate address: %w", err)
		}
		if a.Valid() && !a.IsBroadcast() {
			return a, nil
		}
	}
}

// Role identifies which side of a bind exchange a bind packet was sent by.
type Role uint8

const (
	RoleTX                     Role = 0
	RoleRX                     Role = 1
	RoleRXAwaitingConfirmation Role = 2
)

// Capabilities is the bitmask-and-scalar capability advertisement
// exchanged during bind.
type Capabilities struct {
	HasBand            [7]bool  `default:"[false,false,false,false,false,false,false]"`
	HasScreen          bool     `default:"false"`
	HasButton          bool     `default:"false"`
	HasBattery         bool     `default:"false"`
	HasAntennaDiversity bool    `default:"false"`
	MaxTXPowerDBm      int8     `default:"20"`
	NumChannels        uint8    `default:"16"`
	SupportedModes     ModeMask `default:"31"`
}

// Pairing is the persisted (address, key) relationship between a TX and
// an RX. The key is chosen by the TX during bind.
type Pairing struct {
	PeerAddress Address
	Key         uint32
}

// PeerInfo is what each side remembers about the peer beyond the bare
// pairing: capabilities, last-seen band and a human name.
type PeerInfo struct {
	Name         string
	Band         Band
	Capabilities Capabilities
}

// Band is one of the regulatory sub-GHz bands the radio can be configured
// for. The numeric value is the nominal center frequency in MHz.
type Band uint16

const (
	Band147 Band = 147
	Band169 Band = 169
	Band315 Band = 315
	Band433 Band = 433
	Band470 Band = 470
	Band868 Band = 868
	Band915 Band = 915
)

// CenterHz returns the exact bind-channel center frequency for the band.
func (b Band) CenterHz() uint32 { return uint32(b) * 1_000_000 }

// Store is the persistence collaborator the engines are injected with.
// It is never mutated by the engines except at open/close.
type Store interface {
	OwnAddress() Address
	GetPairedTX() (Pairing, bool)
	GetPairedRX(idx int) (Pairing, bool)
	AddPairedRX(p Pairing) error
	GetAirInfo(addr Address) (PeerInfo, bool)
	SetAirInfo(addr Address, info PeerInfo, band Band) error
}
