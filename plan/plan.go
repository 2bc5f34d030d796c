// Package plan loads and validates the channel plan the scanner sweeps.
package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

var ErrConfigInvalid = errors.New("channel plan invalid")

// minGuardBins is how many PSD bins the DC guard must span at least;
// a narrower guard lets LO leakage contaminate the in-band sum.
const minGuardBins = 4

// Band is a named group of channel center frequencies.
type Band struct {
	Name     string  `json:"name"`
	Channels []int64 `json:"channels"`
}

// Persistence is the N-of-M debounce policy: a candidate needs Hits
// qualifying detections within the last Window passes to be confirmed.
type Persistence struct {
	Hits   int `json:"hits"`
	Window int `json:"window"`
}

// ChannelPlan describes one sweep: which frequencies to visit and how to
// capture and judge each of them. Immutable once loaded; the scanner picks
// up a replacement at its next pass boundary.
type ChannelPlan struct {
	Bands        []Band      `json:"bands"`
	DwellMs      int         `json:"dwell_ms"`
	SampleRateHz int         `json:"sample_rate"`
	ChannelBWHz  float64     `json:"channel_bw_hz"`
	MinSNRDB     float64     `json:"min_snr_db"`
	Alert        Persistence `json:"alert_persistence"`
	DCGuardHz    float64     `json:"dc_guard_hz"`
	// SweepBudgetMs is the soft latency budget for one full pass. Exceeding
	// it is reported as degraded performance, not a failure. Zero disables
	// the check.
	SweepBudgetMs int `json:"sweep_budget_ms,omitempty"`
	// RehydrateOnStart reloads candidate EMA state from the durable store
	// on engine start instead of cold starting every sweep.
	RehydrateOnStart bool `json:"rehydrate_on_start,omitempty"`
}

// Default is the 5.8 GHz Raceband plan.
func Default() *ChannelPlan {
	return &ChannelPlan{
		Bands: []Band{{
			Name: "Raceband",
			Channels: []int64{
				5658000000, 5695000000, 5732000000, 5769000000,
				5806000000, 5843000000, 5880000000, 5917000000,
			},
		}},
		DwellMs:       15,
		SampleRateHz:  8000000,
		ChannelBWHz:   8000000,
		MinSNRDB:      6,
		Alert:         Persistence{Hits: 3, Window: 5},
		DCGuardHz:     50000,
		SweepBudgetMs: 2000,
	}
}

// Channels flattens all bands into the sweep order.
func (p *ChannelPlan) Channels() []int64 {
	var freqs []int64
	for _, b := range p.Bands {
		freqs = append(freqs, b.Channels...)
	}
	return freqs
}

func (p *ChannelPlan) Dwell() time.Duration {
	return time.Duration(p.DwellMs) * time.Millisecond
}

// Validate rejects plans the scanner cannot run safely.
func (p *ChannelPlan) Validate() error {
	if len(p.Channels()) == 0 {
		return fmt.Errorf("%w: no channels defined", ErrConfigInvalid)
	}
	for _, b := range p.Bands {
		for _, f := range b.Channels {
			if f <= 0 {
				return fmt.Errorf("%w: band %q has non-positive channel frequency %d", ErrConfigInvalid, b.Name, f)
			}
		}
	}
	if p.DwellMs <= 0 {
		return fmt.Errorf("%w: dwell_ms must be positive, got %d", ErrConfigInvalid, p.DwellMs)
	}
	if p.SampleRateHz <= 0 {
		return fmt.Errorf("%w: sample_rate must be positive, got %d", ErrConfigInvalid, p.SampleRateHz)
	}
	if p.ChannelBWHz <= 0 {
		return fmt.Errorf("%w: channel_bw_hz must be positive, got %f", ErrConfigInvalid, p.ChannelBWHz)
	}
	if p.DCGuardHz < 0 {
		return fmt.Errorf("%w: dc_guard_hz must not be negative, got %f", ErrConfigInvalid, p.DCGuardHz)
	}
	if p.DCGuardHz >= p.ChannelBWHz/2 {
		return fmt.Errorf("%w: dc_guard_hz %f must be below half the channel bandwidth %f", ErrConfigInvalid, p.DCGuardHz, p.ChannelBWHz/2)
	}
	// The guard has to span several PSD bins or DC leakage bleeds into the
	// in-band sum. Bin width is sample_rate/N with N samples per dwell.
	n := int(float64(p.SampleRateHz) * float64(p.DwellMs) / 1000.0)
	if n > 0 {
		binHz := float64(p.SampleRateHz) / float64(n)
		if p.DCGuardHz < float64(minGuardBins)*binHz {
			return fmt.Errorf("%w: dc_guard_hz %f spans fewer than %d bins (bin width %f Hz)", ErrConfigInvalid, p.DCGuardHz, minGuardBins, binHz)
		}
	}
	if p.Alert.Hits <= 0 || p.Alert.Window <= 0 {
		return fmt.Errorf("%w: alert_persistence hits and window must be positive, got %+v", ErrConfigInvalid, p.Alert)
	}
	if p.Alert.Hits > p.Alert.Window {
		return fmt.Errorf("%w: alert_persistence hits %d exceeds window %d", ErrConfigInvalid, p.Alert.Hits, p.Alert.Window)
	}
	return nil
}

// Parse decodes and validates a plan from its JSON form.
func Parse(raw []byte) (*ChannelPlan, error) {
	p := &ChannelPlan{}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Canonical is the stored JSON form of the plan. Parsing the canonical form
// and re-encoding it yields byte-identical output, so reloading a just-read
// plan is idempotent.
func (p *ChannelPlan) Canonical() []byte {
	raw, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		// A ChannelPlan always marshals; json can only fail on types we
		// don't carry.
		panic(err)
	}
	return raw
}

// LoadFile reads and validates a plan file. A missing file yields the
// default Raceband plan.
func LoadFile(path string) (*ChannelPlan, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}
