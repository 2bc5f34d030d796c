package render

import (
	"sync"
	"time"
)

// Reading is one per-channel measurement kept for rendering.
type Reading struct {
	At     time.Time
	FreqHz int64
	SNRDB  float64
}

// History is a bounded ring of sweep readings. It implements the scanner's
// Observer interface so the sweep loop can feed it directly.
type History struct {
	mu   sync.Mutex
	buf  []Reading
	next int
	full bool
}

func NewHistory(max int) *History {
	if max <= 0 {
		max = 4096
	}
	return &History{buf: make([]Reading, max)}
}

func (h *History) Observe(freqHz int64, _, snrDB float64, now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf[h.next] = Reading{At: now, FreqHz: freqHz, SNRDB: snrDB}
	h.next++
	if h.next == len(h.buf) {
		h.next = 0
		h.full = true
	}
}

// Snapshot returns the retained readings in chronological order.
func (h *History) Snapshot() []Reading {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.full {
		out := make([]Reading, h.next)
		copy(out, h.buf[:h.next])
		return out
	}
	out := make([]Reading, 0, len(h.buf))
	out = append(out, h.buf[h.next:]...)
	out = append(out, h.buf[:h.next]...)
	return out
}
