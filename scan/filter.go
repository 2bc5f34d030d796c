package scan

import "time"

// Filterer decides whether a measurement should be dropped before it
// reaches the downstream observers.
type Filterer interface {
	ShouldIgnore(freqHz int64, snrDB float64) bool
}

// Filtered wraps an observer and applies filters in order; the first filter
// that matches drops the measurement.
type Filtered struct {
	Next    Observer
	Filters []Filterer
}

func (f *Filtered) Observe(freqHz int64, powerDB, snrDB float64, now time.Time) {
	for _, flt := range f.Filters {
		if flt.ShouldIgnore(freqHz, snrDB) {
			return
		}
	}
	f.Next.Observe(freqHz, powerDB, snrDB, now)
}

// FreqMask drops measurements inside a frequency range, e.g. a known local
// interferer that would otherwise flood the tracker.
type FreqMask struct {
	FreqLow  int64
	FreqHigh int64
}

func (f *FreqMask) ShouldIgnore(freqHz int64, _ float64) bool {
	return freqHz >= f.FreqLow && freqHz <= f.FreqHigh
}
