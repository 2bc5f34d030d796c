package sdr

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"

	"github.com/golang/glog"
)

const (
	HackRFSourceName = "hackrf"
	captureAlias     = "hackrf_transfer"
)

// HackRF captures IQ by shelling out to hackrf_transfer, which writes
// interleaved signed 8 bit I/Q pairs to stdout.
type HackRF struct {
	Identifier string

	// Gain settings passed straight through to hackrf_transfer.
	AmpEnable bool
	LNAGain   int // 0-40 dB, 8 dB steps
	VGAGain   int // 0-62 dB, 2 dB steps
}

func (h *HackRF) Name() string { return HackRFSourceName }

func (h *HackRF) Capture(ctx context.Context, freqHz int64, sampleRateHz int, numSamples int) ([]complex128, error) {
	amp := "0"
	if h.AmpEnable {
		amp = "1"
	}
	args := []string{
		"-r", "-", // raw IQ to stdout
		"-f", strconv.FormatInt(freqHz, 10),
		"-s", strconv.Itoa(sampleRateHz),
		"-n", strconv.Itoa(numSamples),
		"-a", amp,
		"-l", strconv.Itoa(h.LNAGain),
		"-g", strconv.Itoa(h.VGAGain),
	}
	cmd := exec.CommandContext(ctx, captureAlias, args...)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	glog.V(3).Infof("running HackRF capture: %q", cmd)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("unable to start %s: %w", captureAlias, err)
	}

	raw := make([]byte, numSamples*2)
	n, err := io.ReadFull(out, raw)
	if err != nil && err != io.ErrUnexpectedEOF {
		cmd.Wait()
		return nil, fmt.Errorf("unable to read capture: %w", err)
	}
	// Drain whatever the process still buffers so Wait doesn't block on a
	// full pipe.
	io.Copy(io.Discard, out)
	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("%s ended with error: %w", captureAlias, err)
	}

	iq := make([]complex128, n/2)
	for i := range iq {
		re := float64(int8(raw[2*i])) / 128.0
		im := float64(int8(raw[2*i+1])) / 128.0
		iq[i] = complex(re, im)
	}
	return iq, nil
}
