package sdr

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

const SyntheticSourceName = "synthetic"

// Synthetic emulates a receiver: complex Gaussian noise everywhere, plus a
// tone 10 kHz off center when tuned to HotFreqHz. Useful for development
// without hardware and for end-to-end tests.
type Synthetic struct {
	// HotFreqHz is the only frequency that carries a signal. Zero means
	// noise everywhere.
	HotFreqHz int64
	// ToneAmplitude defaults to 0.8 when unset.
	ToneAmplitude float64
	// NoiseStdDev defaults to 0.2 when unset.
	NoiseStdDev float64
	// Seed makes captures reproducible when non-zero.
	Seed int64
	// Dwell simulates capture duration. Zero means captures return
	// immediately.
	Dwell time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

func (s *Synthetic) Name() string { return SyntheticSourceName }

func (s *Synthetic) Capture(ctx context.Context, freqHz int64, sampleRateHz int, numSamples int) ([]complex128, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rnd == nil {
		seed := s.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		s.rnd = rand.New(rand.NewSource(seed))
	}
	if s.Dwell > 0 {
		select {
		case <-time.After(s.Dwell):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	sigma := s.NoiseStdDev
	if sigma == 0 {
		sigma = 0.2
	}
	amp := s.ToneAmplitude
	if amp == 0 {
		amp = 0.8
	}

	iq := make([]complex128, numSamples)
	for i := range iq {
		iq[i] = complex(s.rnd.NormFloat64()*sigma, s.rnd.NormFloat64()*sigma)
	}
	if s.HotFreqHz != 0 && freqHz == s.HotFreqHz {
		const toneOffsetHz = 10e3
		for i := range iq {
			phase := 2 * math.Pi * toneOffsetHz * float64(i) / float64(sampleRateHz)
			iq[i] += complex(amp*math.Cos(phase), amp*math.Sin(phase))
		}
	}
	return iq, nil
}
