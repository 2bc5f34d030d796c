// Package engine assembles the surveillance components into one facade the
// binaries talk to: sweep control, focus sessions, candidate queries and
// channel plan management.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/sozanskiy/vtx-new/arbiter"
	"github.com/sozanskiy/vtx-new/bus"
	"github.com/sozanskiy/vtx-new/focus"
	"github.com/sozanskiy/vtx-new/plan"
	"github.com/sozanskiy/vtx-new/render"
	"github.com/sozanskiy/vtx-new/scan"
	"github.com/sozanskiy/vtx-new/sdr"
	"github.com/sozanskiy/vtx-new/store"
	"github.com/sozanskiy/vtx-new/track"
)

// Options configure an engine. Sampler is required, everything else has a
// usable zero value.
type Options struct {
	Sampler sdr.Sampler
	// Store persists candidates across restarts. nil keeps them in memory
	// only.
	Store store.Store
	// Plan is the initial channel plan. nil means the default Raceband plan.
	Plan *plan.ChannelPlan
	// DemodCommand is the external demodulator argv for focus sessions, with
	// %f standing in for the frequency in Hz. Empty means a no-op pipeline.
	DemodCommand []string
	// HistorySize bounds the sweep history ring used for waterfall rendering.
	HistorySize int
	// Filters restrict which sweep measurements reach the tracker.
	Filters []scan.Filterer
}

// Engine owns the component graph. All methods are safe for concurrent use.
type Engine struct {
	bus     *bus.Bus
	arb     *arbiter.Arbiter
	tracker *track.Tracker
	scanner *scan.Scanner
	focus   *focus.Manager
	history *render.History
	store   store.Store

	mu   sync.Mutex
	plan *plan.ChannelPlan
}

// Status is the externally visible engine state.
type Status struct {
	Scan               scan.State     `json:"scan_state"`
	CurrentPassElapsed int64          `json:"current_pass_elapsed_ms"`
	Focus              focus.State    `json:"focus_state"`
	Session            *focus.Session `json:"session,omitempty"`
	Candidates         int            `json:"candidates"`
}

func New(opts Options) (*Engine, error) {
	if opts.Sampler == nil {
		return nil, fmt.Errorf("no sampler configured")
	}
	p := opts.Plan
	if p == nil {
		p = plan.Default()
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	b := bus.New()
	arb := arbiter.New()

	var sink track.Sink
	if opts.Store != nil {
		sink = opts.Store
	}
	tracker := track.New(track.Config{
		MinSNRDB: p.MinSNRDB,
		Hits:     p.Alert.Hits,
		Window:   p.Alert.Window,
	}, b, sink)
	history := render.NewHistory(opts.HistorySize)

	var trackerObs scan.Observer = tracker
	if len(opts.Filters) > 0 {
		trackerObs = &scan.Filtered{Next: tracker, Filters: opts.Filters}
	}
	scanner := scan.New(opts.Sampler, arb, b, trackerObs, history)

	newPipeline := func(freqHz int64) focus.Pipeline {
		if len(opts.DemodCommand) == 0 {
			return &focus.NullPipeline{}
		}
		return &focus.ExecPipeline{Command: opts.DemodCommand}
	}
	fm := focus.New(arb, scanner, b, newPipeline)

	e := &Engine{
		bus:     b,
		arb:     arb,
		tracker: tracker,
		scanner: scanner,
		focus:   fm,
		history: history,
		store:   opts.Store,
		plan:    p,
	}

	if p.RehydrateOnStart && opts.Store != nil {
		snaps, err := opts.Store.List(0)
		if err != nil {
			glog.Warningf("unable to rehydrate candidates: %s", err)
		} else {
			tracker.Rehydrate(snaps)
		}
	}
	return e, nil
}

// StartScan begins the repeating sweep over the current plan.
func (e *Engine) StartScan() error {
	e.mu.Lock()
	p := e.plan
	e.mu.Unlock()
	return e.scanner.Start(p)
}

// StopScan halts the sweep after the in-flight capture. Idempotent.
func (e *Engine) StopScan() {
	e.scanner.Stop()
}

func (e *Engine) Status() Status {
	scanState, elapsed := e.scanner.State()
	focusState, session := e.focus.State()
	return Status{
		Scan:               scanState,
		CurrentPassElapsed: elapsed.Milliseconds(),
		Focus:              focusState,
		Session:            session,
		Candidates:         len(e.tracker.Top(0)),
	}
}

// Focus opens an exclusive demodulation session on freqHz, pausing the
// sweep for its duration.
func (e *Engine) Focus(ctx context.Context, freqHz int64) (*focus.Session, error) {
	return e.focus.Focus(ctx, freqHz)
}

// StopFocus closes the live session and lets the sweep resume. Idempotent.
func (e *Engine) StopFocus() error {
	return e.focus.Stop()
}

// SetRecording toggles a recording flag on the live focus session.
func (e *Engine) SetRecording(kind string, enable bool) (*focus.Session, error) {
	return e.focus.SetRecording(kind, enable)
}

// Candidates returns up to limit candidates ranked by smoothed SNR.
// limit <= 0 means all.
func (e *Engine) Candidates(limit int) []track.Snapshot {
	return e.tracker.Top(limit)
}

// Config returns the canonical JSON form of the active plan.
func (e *Engine) Config() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.plan.Canonical()
}

// Plan returns the active channel plan.
func (e *Engine) Plan() *plan.ChannelPlan {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.plan
}

// LoadConfig validates and installs a replacement plan. A running sweep
// finishes its current pass on the old plan first; an invalid plan changes
// nothing.
func (e *Engine) LoadConfig(raw []byte) error {
	p, err := plan.Parse(raw)
	if err != nil {
		return err
	}
	e.SetPlan(p)
	return nil
}

// SetPlan installs an already validated plan.
func (e *Engine) SetPlan(p *plan.ChannelPlan) {
	e.mu.Lock()
	e.plan = p
	e.mu.Unlock()

	e.tracker.SetPolicy(p.MinSNRDB, p.Alert.Hits, p.Alert.Window)
	e.scanner.SetPlan(p)
	glog.Infof("channel plan replaced: %d channels, min snr %.1f dB", len(p.Channels()), p.MinSNRDB)
}

// Subscribe attaches an event consumer. See bus for delivery semantics.
func (e *Engine) Subscribe(buffer int) (<-chan bus.Event, func()) {
	return e.bus.Subscribe(buffer)
}

// History returns the retained sweep readings for rendering.
func (e *Engine) History() []render.Reading {
	return e.history.Snapshot()
}

// Store exposes the durable candidate store, nil when not configured.
func (e *Engine) Store() store.Store {
	return e.store
}

// Prune drops stale lost candidates from the durable store.
func (e *Engine) Prune(olderThan time.Duration) (int64, error) {
	if e.store == nil {
		return 0, nil
	}
	return e.store.Prune(time.Now().Add(-olderThan))
}

// Close stops everything and releases the durable store.
func (e *Engine) Close() error {
	e.focus.Stop()
	e.scanner.Stop()
	if e.store == nil {
		return nil
	}
	return e.store.Close()
}
