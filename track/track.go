// Package track maintains the per-frequency candidate set.
//
// The tracker is the only writer of candidate state; the scanner feeds it
// observations in sweep order and everyone else gets read-only snapshots.
package track

import (
	"sort"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/sozanskiy/vtx-new/bus"
)

type Status string

const (
	StatusNew    Status = "new"
	StatusActive Status = "active"
	StatusLost   Status = "lost"
)

// Snapshot is a read-only copy of one candidate, safe to hand to the API
// layer and the event bus.
type Snapshot struct {
	FreqHz    int64     `json:"freq_hz"`
	PowerDB   float64   `json:"power_dbm"`
	SNRDB     float64   `json:"snr_db"`
	EMAPower  float64   `json:"ema_power"`
	EMASNR    float64   `json:"ema_snr"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Hits      int       `json:"hits"`
	Status    Status    `json:"status"`
}

// Sink receives every candidate mutation, write-through. The durable store
// behind it is a cache the tracker can rebuild from a fresh sweep.
type Sink interface {
	Upsert(Snapshot) error
}

type Config struct {
	MinSNRDB float64
	// Hits of Window: qualifying detections needed within the persistence
	// window to confirm a candidate.
	Hits   int
	Window int
	// EMAAlpha is the smoothing constant for power/SNR, default 0.1.
	EMAAlpha float64
	// MaterialDeltaDB suppresses bus events for sub-threshold metric
	// jitter, default 1 dB. Status transitions always emit.
	MaterialDeltaDB float64
}

type candidate struct {
	snap       Snapshot
	missStreak int
	// last metrics that went out on the bus, for delta suppression
	emittedSNR   float64
	emittedPower float64
}

type Tracker struct {
	cfg  Config
	bus  *bus.Bus
	sink Sink

	mu    sync.Mutex
	cands map[int64]*candidate
}

// New creates a tracker. Both b and sink may be nil.
func New(cfg Config, b *bus.Bus, sink Sink) *Tracker {
	if cfg.EMAAlpha == 0 {
		cfg.EMAAlpha = 0.1
	}
	if cfg.MaterialDeltaDB == 0 {
		cfg.MaterialDeltaDB = 1.0
	}
	return &Tracker{
		cfg:   cfg,
		bus:   b,
		sink:  sink,
		cands: map[int64]*candidate{},
	}
}

// SetPolicy applies the detection policy of a replacement channel plan.
// Existing hit counters keep their values; the new thresholds apply from
// the next observation on.
func (t *Tracker) SetPolicy(minSNRDB float64, hits, window int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cfg.MinSNRDB = minSNRDB
	t.cfg.Hits = hits
	t.cfg.Window = window
}

// statusOf is the single place candidate status is derived. It is a pure
// function of the hit counter and the miss streak.
func statusOf(hits, missStreak int, cfg Config) Status {
	switch {
	case missStreak >= cfg.Window:
		return StatusLost
	case hits >= cfg.Hits:
		return StatusActive
	default:
		return StatusNew
	}
}

// Observe applies one sweep measurement. Calls must be serialized per
// frequency in sweep order; the scanner's single in-flight capture
// guarantees that.
func (t *Tracker) Observe(freqHz int64, powerDB, snrDB float64, now time.Time) {
	qualifies := snrDB >= t.cfg.MinSNRDB

	t.mu.Lock()
	c, ok := t.cands[freqHz]
	if !ok {
		if !qualifies {
			t.mu.Unlock()
			return
		}
		c = &candidate{
			snap: Snapshot{
				FreqHz:    freqHz,
				PowerDB:   powerDB,
				SNRDB:     snrDB,
				EMAPower:  powerDB, // cold start: EMA equals the instantaneous value
				EMASNR:    snrDB,
				FirstSeen: now,
				LastSeen:  now,
				Hits:      1,
				Status:    statusOf(1, 0, t.cfg),
			},
			emittedSNR:   snrDB,
			emittedPower: powerDB,
		}
		t.cands[freqHz] = c
		snap := c.snap
		t.mu.Unlock()

		glog.V(1).Infof("new candidate %d Hz (snr %.1f dB)", freqHz, snrDB)
		t.flush(snap)
		return
	}

	a := t.cfg.EMAAlpha
	c.snap.PowerDB = powerDB
	c.snap.SNRDB = snrDB
	c.snap.EMAPower = (1-a)*c.snap.EMAPower + a*powerDB
	c.snap.EMASNR = (1-a)*c.snap.EMASNR + a*snrDB
	c.snap.LastSeen = now
	if qualifies {
		if c.snap.Hits < t.cfg.Hits {
			c.snap.Hits++
		}
		c.missStreak = 0
	} else {
		if c.snap.Hits > 0 {
			c.snap.Hits--
		}
		c.missStreak++
	}
	prev := c.snap.Status
	c.snap.Status = statusOf(c.snap.Hits, c.missStreak, t.cfg)
	transitioned := c.snap.Status != prev

	material := transitioned ||
		abs(snrDB-c.emittedSNR) >= t.cfg.MaterialDeltaDB ||
		abs(powerDB-c.emittedPower) >= t.cfg.MaterialDeltaDB
	if material {
		c.emittedSNR = snrDB
		c.emittedPower = powerDB
	}
	snap := c.snap
	t.mu.Unlock()

	if transitioned {
		glog.V(1).Infof("candidate %d Hz: %s -> %s (hits %d)", freqHz, prev, snap.Status, snap.Hits)
	}
	if material {
		t.flush(snap)
	} else if t.sink != nil {
		// Durable state tracks every mutation even when the bus is quiet.
		if err := t.sink.Upsert(snap); err != nil {
			glog.Warningf("error storing candidate %d Hz: %s", freqHz, err)
		}
	}
}

// flush persists a snapshot and publishes it as a single-item delta batch.
func (t *Tracker) flush(snap Snapshot) {
	if t.sink != nil {
		if err := t.sink.Upsert(snap); err != nil {
			glog.Warningf("error storing candidate %d Hz: %s", snap.FreqHz, err)
		}
	}
	if t.bus != nil {
		t.bus.Publish(bus.Event{Type: bus.TypeCandidates, Payload: []Snapshot{snap}})
	}
}

// Top returns up to limit candidate snapshots ranked by smoothed SNR,
// most recently seen first on ties. limit <= 0 means all.
func (t *Tracker) Top(limit int) []Snapshot {
	t.mu.Lock()
	snaps := make([]Snapshot, 0, len(t.cands))
	for _, c := range t.cands {
		snaps = append(snaps, c.snap)
	}
	t.mu.Unlock()

	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].EMASNR != snaps[j].EMASNR {
			return snaps[i].EMASNR > snaps[j].EMASNR
		}
		return snaps[i].LastSeen.After(snaps[j].LastSeen)
	})
	if limit > 0 && len(snaps) > limit {
		snaps = snaps[:limit]
	}
	return snaps
}

// Rehydrate seeds the candidate set from durable snapshots. Used on start
// when the plan opts in; sweeps overwrite the seeded state as they come.
func (t *Tracker) Rehydrate(snaps []Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range snaps {
		if _, ok := t.cands[s.FreqHz]; ok {
			continue
		}
		t.cands[s.FreqHz] = &candidate{
			snap:         s,
			emittedSNR:   s.SNRDB,
			emittedPower: s.PowerDB,
		}
	}
	glog.Infof("rehydrated %d candidates from store", len(snaps))
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
