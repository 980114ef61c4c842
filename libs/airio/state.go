package airio

import (
	"time"

	"github.com/openairlink/airlink/libs/pairing"
)

// defaultWeight matches the 1/4-weight single-pole filter used for the
// frequency-table error estimate (libs/freqtable), kept consistent across
// every smoothed signal in the firmware.
const defaultWeight = 0.25

// State is the per-pairing link-quality and peer-info state an engine
// carries for the lifetime of an open air link.
type State struct {
	Pairing pairing.Pairing
	Peer    pairing.PeerInfo

	RSSI     Filter
	SNR      Filter
	LQ       Filter
	Interval Filter

	LastFrameAt time.Time
}

func New(p pairing.Pairing, peer pairing.PeerInfo) *State {
	return &State{
		Pairing:  p,
		Peer:     peer,
		RSSI:     NewFilter(defaultWeight),
		SNR:      NewFilter(defaultWeight),
		LQ:       NewFilter(defaultWeight),
		Interval: NewFilter(defaultWeight),
	}
}

// RecordFrame folds one received frame's signal quality into the filters
// and updates the inter-frame interval estimate.
func (s *State) RecordFrame(now time.Time, rssiDBm float64, snrQuarterDB int16, lq uint8) {
	if !s.LastFrameAt.IsZero() {
		s.Interval.Update(float64(now.Sub(s.LastFrameAt)))
	}
	s.LastFrameAt = now
	s.RSSI.Update(rssiDBm)
	s.SNR.Update(float64(snrQuarterDB) / 4.0)
	s.LQ.Update(float64(lq))
}

// Invalidate zeroes the reported signal quality on failsafe.
func (s *State) Invalidate() {
	s.RSSI.Reset()
	s.SNR.Reset()
	s.LQ.Reset()
}

// CommonModes intersects our own supported modes with the peer's,
// reduced by whatever per-session rejections the caller has already
// applied to sessionMask.
func (s *State) CommonModes(ownModes pairing.ModeMask, sessionMask pairing.ModeMask) pairing.ModeMask {
	return ownModes.Common(s.Peer.Capabilities.SupportedModes).Common(sessionMask)
}
