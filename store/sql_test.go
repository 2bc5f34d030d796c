package store

import (
	"bytes"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	// sqlite3 driver for the in-memory test DB.
	_ "github.com/mattn/go-sqlite3"

	"github.com/sozanskiy/vtx-new/track"
)

func testStore(t *testing.T) *SQL {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	s, err := NewSQLite(db)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func snap(freq int64, emaSNR float64, status track.Status, seen time.Time) track.Snapshot {
	return track.Snapshot{
		FreqHz:    freq,
		PowerDB:   -40,
		SNRDB:     emaSNR,
		EMAPower:  -41,
		EMASNR:    emaSNR,
		FirstSeen: seen.Add(-time.Minute),
		LastSeen:  seen,
		Hits:      3,
		Status:    status,
	}
}

func TestUpsertAndList(t *testing.T) {
	s := testStore(t)
	now := time.Now().Truncate(time.Millisecond).UTC()

	require.NoError(t, s.Upsert(snap(5806000000, 12, track.StatusActive, now)))
	require.NoError(t, s.Upsert(snap(5658000000, 8, track.StatusNew, now)))
	// Second upsert of the same frequency updates in place.
	require.NoError(t, s.Upsert(snap(5806000000, 14, track.StatusActive, now.Add(time.Second))))

	snaps, err := s.List(0)
	require.NoError(t, err)
	require.Len(t, snaps, 2, "one row per frequency")
	assert.Equal(t, int64(5806000000), snaps[0].FreqHz)
	assert.Equal(t, 14.0, snaps[0].EMASNR)
	assert.Equal(t, track.StatusActive, snaps[0].Status)
	assert.Equal(t, now.Add(time.Second), snaps[0].LastSeen)

	limited, err := s.List(1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestPruneDropsOnlyStaleLost(t *testing.T) {
	s := testStore(t)
	now := time.Now().UTC()

	require.NoError(t, s.Upsert(snap(5806000000, 12, track.StatusActive, now.Add(-2*time.Hour))))
	require.NoError(t, s.Upsert(snap(5658000000, 3, track.StatusLost, now.Add(-2*time.Hour))))
	require.NoError(t, s.Upsert(snap(5732000000, 3, track.StatusLost, now)))

	n, err := s.Prune(now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "only lost rows beyond the horizon go")

	snaps, err := s.List(0)
	require.NoError(t, err)
	assert.Len(t, snaps, 2)
}

func TestWriteCSV(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	var buf bytes.Buffer
	err := WriteCSV(&buf, []track.Snapshot{snap(5806000000, 12, track.StatusActive, now)})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "FreqHz,"))
	assert.True(t, strings.HasPrefix(lines[1], "5806000000,"))
	assert.True(t, strings.HasSuffix(lines[1], ",active"))
}
