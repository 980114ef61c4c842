// Package chanio is the latest-wins channel buffer sitting between the
// air-link engines and the external handset decoder or FC encoder:
// the decoder pushes values in, the engine polls them out. Failsafe on
// the source side is staleness-driven: a handset decoder that stops
// pushing is indistinguishable from an unplugged handset.
package chanio

import (
	"sync"
	"time"
)

// StaleAfter is how long the source side tolerates no updates before it
// reports input failsafe to the TX engine.
const StaleAfter = 500 * time.Millisecond

// Buffer is a thread-safe latest-value store for up to 16 control
// channels. It implements txengine.ChannelSource on the handset side and
// rxengine.ChannelSink on the FC side.
type Buffer struct {
	mu        sync.Mutex
	values    [16]int
	have      [16]bool
	updatedAt time.Time
	failsafe  bool
}

func New() *Buffer {
	return &Buffer{}
}

// Push records a fresh channel value from the decoder.
func (b *Buffer) Push(idx int, value int) {
	if idx < 0 || idx >= len(b.values) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values[idx] = value
	b.have[idx] = true
	b.updatedAt = time.Now()
	b.failsafe = false
}

// SetFailsafe forces the failsafe flag, for decoders that signal loss
// explicitly (e.g. the SBUS failsafe bit) rather than by going silent.
func (b *Buffer) SetFailsafe(on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failsafe = on
}

// Channel implements txengine.ChannelSource.
func (b *Buffer) Channel(idx int) (int, bool) {
	if idx < 0 || idx >= len(b.values) {
		return 0, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.values[idx], b.have[idx]
}

// Failsafe implements txengine.ChannelSource: explicit flag, or silence
// past StaleAfter.
func (b *Buffer) Failsafe() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failsafe {
		return true
	}
	if b.updatedAt.IsZero() {
		return true // nothing pushed yet
	}
	return time.Since(b.updatedAt) > StaleAfter
}

// SetChannel implements rxengine.ChannelSink.
func (b *Buffer) SetChannel(idx int, value uint16) {
	b.Push(idx, int(value))
}

// Snapshot copies out the current channel values for an FC encoder to
// frame and forward.
func (b *Buffer) Snapshot() ([16]int, [16]bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.values, b.have
}
