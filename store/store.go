// Package store persists candidate records, one durable row per frequency.
//
// The store is a write-through cache: the tracker pushes every mutation and
// can rebuild the whole table from a fresh sweep, so losing it is never
// fatal.
package store

import (
	"time"

	"github.com/sozanskiy/vtx-new/track"
)

type Store interface {
	// Upsert writes one candidate row keyed by freq_hz.
	Upsert(track.Snapshot) error
	// List returns candidates ranked by smoothed SNR descending.
	// limit <= 0 means all.
	List(limit int) ([]track.Snapshot, error)
	// Prune drops lost candidates last seen before the horizon. Retention
	// is storage policy; live tracker state is unaffected.
	Prune(horizon time.Time) (int64, error)
	Close() error
}
