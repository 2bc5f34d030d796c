package scan

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sozanskiy/vtx-new/arbiter"
	"github.com/sozanskiy/vtx-new/bus"
	"github.com/sozanskiy/vtx-new/plan"
	"github.com/sozanskiy/vtx-new/sdr"
)

type recorder struct {
	mu   sync.Mutex
	obs  []int64
	snrs map[int64]float64
}

func newRecorder() *recorder {
	return &recorder{snrs: map[int64]float64{}}
}

func (r *recorder) Observe(freqHz int64, _, snrDB float64, _ time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.obs = append(r.obs, freqHz)
	r.snrs[freqHz] = snrDB
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.obs)
}

func testPlan() *plan.ChannelPlan {
	p := plan.Default()
	// Short dwell keeps the synthetic captures small; NumSamples floors at
	// 1024 anyway.
	p.DwellMs = 1
	p.SampleRateHz = 1000000
	p.ChannelBWHz = 1000000
	p.DCGuardHz = 5000
	return p
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestStartStop(t *testing.T) {
	rec := newRecorder()
	s := New(&sdr.Synthetic{Seed: 1}, arbiter.New(), nil, rec)

	require.NoError(t, s.Start(testPlan()))
	assert.ErrorIs(t, s.Start(testPlan()), ErrAlreadyRunning)

	waitFor(t, func() bool { return rec.count() >= 16 }, "expected at least two full passes")

	st, _ := s.State()
	assert.Equal(t, StateRunning, st)

	s.Stop()
	s.Stop() // idempotent
	st, elapsed := s.State()
	assert.Equal(t, StateStopped, st)
	assert.Equal(t, time.Duration(0), elapsed)

	// The receiver is free after stop.
	a := arbiter.New()
	g, err := a.Acquire("test")
	require.NoError(t, err)
	require.NoError(t, a.Release(g))
}

func TestSweepOrderAndDetection(t *testing.T) {
	hot := int64(5806000000)
	rec := newRecorder()
	s := New(&sdr.Synthetic{Seed: 1, HotFreqHz: hot}, arbiter.New(), nil, rec)

	p := testPlan()
	require.NoError(t, s.Start(p))
	waitFor(t, func() bool { return rec.count() >= 8 }, "expected one full pass")
	s.Stop()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	// The first pass visits channels in plan order.
	assert.Equal(t, p.Channels(), rec.obs[:8])
	// Only the hot channel carries signal.
	assert.Greater(t, rec.snrs[hot], 6.0)
	for _, f := range p.Channels() {
		if f != hot {
			assert.Less(t, rec.snrs[f], 6.0, "freq %d", f)
		}
	}
}

func TestPauseHandshake(t *testing.T) {
	rec := newRecorder()
	arb := arbiter.New()
	s := New(&sdr.Synthetic{Seed: 1}, arb, nil, rec)
	s.SetRetryInterval(time.Millisecond)

	require.NoError(t, s.Start(testPlan()))
	waitFor(t, func() bool { return rec.count() > 0 }, "scanner never produced observations")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Pause(ctx))

	// Once the pause is confirmed the scanner holds no grant and stays off
	// the receiver.
	g, err := arb.Acquire("focus")
	require.NoError(t, err)
	before := rec.count()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, before, rec.count(), "paused scanner must not observe")

	require.NoError(t, arb.Release(g))
	s.Resume()
	waitFor(t, func() bool { return rec.count() > before }, "scanner did not resume")
	s.Stop()
}

func TestPauseWhileStopped(t *testing.T) {
	s := New(&sdr.Synthetic{Seed: 1}, arbiter.New(), nil)
	require.NoError(t, s.Pause(context.Background()))
	s.Resume()
}

func TestBusyArbiterAbortsPassStepOnly(t *testing.T) {
	rec := newRecorder()
	arb := arbiter.New()
	s := New(&sdr.Synthetic{Seed: 1}, arb, nil, rec)
	s.SetRetryInterval(time.Millisecond)

	// Someone else holds the receiver before the scan starts.
	g, err := arb.Acquire("focus")
	require.NoError(t, err)

	require.NoError(t, s.Start(testPlan()))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, rec.count(), "no observations while the receiver is busy")

	// Handing the receiver back lets the sweep proceed within a polling
	// interval.
	require.NoError(t, arb.Release(g))
	waitFor(t, func() bool { return rec.count() > 0 }, "scanner did not recover the grant")
	s.Stop()
}

func TestPlanSwapAtPassBoundary(t *testing.T) {
	rec := newRecorder()
	s := New(&sdr.Synthetic{Seed: 1}, arbiter.New(), nil, rec)

	p := testPlan()
	require.NoError(t, s.Start(p))

	swapped := testPlan()
	swapped.Bands = []plan.Band{{Name: "single", Channels: []int64{1000000000}}}
	s.SetPlan(swapped)

	waitFor(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.obs) > 0 && rec.obs[len(rec.obs)-1] == int64(1000000000)
	}, "swapped plan never took effect")
	s.Stop()
}

func TestScanStateEvents(t *testing.T) {
	b := bus.New()
	events, cancel := b.Subscribe(8)
	defer cancel()

	s := New(&sdr.Synthetic{Seed: 1}, arbiter.New(), b, newRecorder())
	require.NoError(t, s.Start(testPlan()))
	s.Stop()
	s.Stop() // no duplicate event

	e := <-events
	assert.Equal(t, bus.TypeScanState, e.Type)
	assert.Equal(t, map[string]any{"state": "running"}, e.Payload)
	e = <-events
	assert.Equal(t, map[string]any{"state": "stopped"}, e.Payload)
	assert.Empty(t, events)
}

func TestFreqMaskFilter(t *testing.T) {
	rec := newRecorder()
	f := &Filtered{
		Next:    rec,
		Filters: []Filterer{&FreqMask{FreqLow: 5800000000, FreqHigh: 5810000000}},
	}
	f.Observe(5806000000, -40, 10, time.Now())
	f.Observe(5658000000, -40, 10, time.Now())
	assert.Equal(t, 1, rec.count())
	assert.Equal(t, int64(5658000000), rec.obs[0])
}
