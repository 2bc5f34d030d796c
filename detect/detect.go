// Package detect computes band power and SNR for a single channel capture.
//
// The measurement follows the usual survey recipe: remove the DC bias, apply
// a Hann window, take the power spectral density and compare the in-band
// energy against a noise estimate taken from a ring of bins just outside the
// channel. Everything is pure computation on the input block, so calls are
// deterministic and safe to run concurrently for independent captures.
package detect

import (
	"math"
	"math/cmplx"
	"sort"
)

// epsilon keeps log10 away from zero power.
const epsilon = 1e-20

type Config struct {
	SampleRateHz int
	// ChannelBWHz is the occupied bandwidth of one channel. The in-band
	// region is ±ChannelBWHz/2 around the capture center.
	ChannelBWHz float64
	// DCGuardHz excludes bins around DC where LO leakage concentrates.
	DCGuardHz float64
}

// Metrics returns (bandPowerDB, snrDB) for a block of complex baseband
// samples. Band power is the summed in-band PSD in dB (relative, not
// calibrated dBm). The noise reference is the median edge-ring bin scaled to
// the in-band bin count, so pure noise lands near 0 dB SNR.
func Metrics(iq []complex128, cfg Config) (float64, float64) {
	n := len(iq)
	if n == 0 || cfg.SampleRateHz <= 0 {
		return -120.0, 0.0
	}

	// Mean removal to suppress DC/LO leakage bias.
	var mean complex128
	for _, s := range iq {
		mean += s
	}
	mean /= complex(float64(n), 0)

	// Hann window, zero padded to the next power of two for the FFT.
	nfft := 1
	for nfft < n {
		nfft <<= 1
	}
	x := make([]complex128, nfft)
	winEnergy := 0.0
	for i, s := range iq {
		w := 0.5 * (1.0 - math.Cos(2.0*math.Pi*float64(i)/float64(n-1)))
		if n == 1 {
			w = 1.0
		}
		x[i] = (s - mean) * complex(w, 0)
		winEnergy += w * w
	}
	if winEnergy == 0 {
		return -120.0, 0.0
	}
	fft(x)

	fs := float64(cfg.SampleRateHz)
	nyq := fs / 2.0
	// Clamp the in-band half width so a noise ring always fits below
	// Nyquist, even when the channel bandwidth equals the sample rate.
	halfBW := math.Min(cfg.ChannelBWHz/2.0, nyq*0.70)
	edgeHigh := math.Min(halfBW*1.25, nyq*0.98)

	bandSum := 0.0
	bandCount := 0
	var edge []float64
	for k := 0; k < nfft; k++ {
		f := float64(k) * fs / float64(nfft)
		if k > nfft/2 {
			f -= fs
		}
		af := math.Abs(f)
		psd := real(x[k])*real(x[k]) + imag(x[k])*imag(x[k])
		psd /= winEnergy
		switch {
		case af < cfg.DCGuardHz:
			// DC guard, skip.
		case af <= halfBW:
			bandSum += psd
			bandCount++
		case af <= edgeHigh:
			edge = append(edge, psd)
		}
	}

	noiseBin := median(edge)
	if len(edge) == 0 && bandCount > 0 {
		// No noise ring fits; fall back to the band's own per-bin mean so
		// the SNR degrades to ~0 instead of exploding.
		noiseBin = bandSum / float64(bandCount)
	}

	bandPowerDB := 10.0 * math.Log10(bandSum+epsilon)
	noiseDB := 10.0 * math.Log10(noiseBin*math.Max(1.0, float64(bandCount))+epsilon)
	return bandPowerDB, bandPowerDB - noiseDB
}

// BinResolutionHz is the frequency width of one PSD bin for a capture of
// numSamples at sampleRateHz. The plan loader uses this to check that the DC
// guard spans several bins.
func BinResolutionHz(sampleRateHz, numSamples int) float64 {
	if numSamples <= 0 {
		return 0
	}
	return float64(sampleRateHz) / float64(numSamples)
}

func median(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	s := make([]float64, len(v))
	copy(s, v)
	sort.Float64s(s)
	if len(s)%2 == 1 {
		return s[len(s)/2]
	}
	return (s[len(s)/2-1] + s[len(s)/2]) / 2.0
}

// fft is an in-place iterative radix-2 Cooley-Tukey transform.
// len(x) must be a power of two.
func fft(x []complex128) {
	n := len(x)
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j |= bit
		if i < j {
			x[i], x[j] = x[j], x[i]
		}
	}
	for length := 2; length <= n; length <<= 1 {
		wl := cmplx.Exp(complex(0, -2.0*math.Pi/float64(length)))
		for i := 0; i < n; i += length {
			w := complex(1, 0)
			for j := 0; j < length/2; j++ {
				u := x[i+j]
				v := x[i+j+length/2] * w
				x[i+j] = u + v
				x[i+j+length/2] = u - v
				w *= wl
			}
		}
	}
}
