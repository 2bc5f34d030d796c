// Package sdr abstracts IQ capture from the physical receiver.
package sdr

import (
	"context"
	"time"
)

// Sampler captures a block of complex baseband samples from a receiver tuned
// to a center frequency. Only one capture may be in flight at a time; the
// arbiter enforces that, not the sampler.
type Sampler interface {
	Name() string
	Capture(ctx context.Context, freqHz int64, sampleRateHz int, numSamples int) ([]complex128, error)
}

// NumSamples is the capture length for a dwell at a given sample rate.
// A floor of 1024 keeps very short dwells usable for the detector.
func NumSamples(sampleRateHz int, dwell time.Duration) int {
	n := int(float64(sampleRateHz) * dwell.Seconds())
	if n < 1024 {
		n = 1024
	}
	return n
}
