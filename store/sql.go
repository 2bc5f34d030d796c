package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/sozanskiy/vtx-new/track"
)

const (
	sqliteCreateTableTmpl = `CREATE TABLE IF NOT EXISTS candidates (
		"FreqHz"    INTEGER NOT NULL PRIMARY KEY,
		"PowerDB"   REAL NOT NULL,
		"SNRDB"     REAL NOT NULL,
		"EMAPower"  REAL NOT NULL,
		"EMASNR"    REAL NOT NULL,
		"FirstSeen" INTEGER NOT NULL,
		"LastSeen"  INTEGER NOT NULL,
		"Hits"      INTEGER NOT NULL,
		"Status"    TEXT NOT NULL
	);`
	sqliteUpsertTmpl = `INSERT INTO candidates (
		FreqHz, PowerDB, SNRDB, EMAPower, EMASNR, FirstSeen, LastSeen, Hits, Status
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(FreqHz) DO UPDATE SET
		PowerDB=excluded.PowerDB,
		SNRDB=excluded.SNRDB,
		EMAPower=excluded.EMAPower,
		EMASNR=excluded.EMASNR,
		LastSeen=excluded.LastSeen,
		Hits=excluded.Hits,
		Status=excluded.Status;`

	mysqlCreateTableTmpl = `CREATE TABLE IF NOT EXISTS candidates (
		FreqHz    BIGINT NOT NULL PRIMARY KEY,
		PowerDB   DOUBLE NOT NULL,
		SNRDB     DOUBLE NOT NULL,
		EMAPower  DOUBLE NOT NULL,
		EMASNR    DOUBLE NOT NULL,
		FirstSeen BIGINT NOT NULL,
		LastSeen  BIGINT NOT NULL,
		Hits      INT NOT NULL,
		Status    VARCHAR(8) NOT NULL
	);`
	mysqlUpsertTmpl = `INSERT INTO candidates (
		FreqHz, PowerDB, SNRDB, EMAPower, EMASNR, FirstSeen, LastSeen, Hits, Status
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON DUPLICATE KEY UPDATE
		PowerDB=VALUES(PowerDB),
		SNRDB=VALUES(SNRDB),
		EMAPower=VALUES(EMAPower),
		EMASNR=VALUES(EMASNR),
		LastSeen=VALUES(LastSeen),
		Hits=VALUES(Hits),
		Status=VALUES(Status);`

	listTmpl = `SELECT
		FreqHz, PowerDB, SNRDB, EMAPower, EMASNR, FirstSeen, LastSeen, Hits, Status
	FROM candidates
	ORDER BY EMASNR DESC, LastSeen DESC
	LIMIT ?;`
	pruneTmpl = `DELETE FROM candidates WHERE Status = 'lost' AND LastSeen < ?;`
)

// SQL persists candidates in a relational table. Use NewSQLite or NewMySQL.
type SQL struct {
	db     *sql.DB
	upsert string
}

func newSQL(db *sql.DB, createTmpl, upsertTmpl string) (*SQL, error) {
	if _, err := db.Exec(createTmpl); err != nil {
		return nil, fmt.Errorf("unable to create candidates table: %w", err)
	}
	return &SQL{db: db, upsert: upsertTmpl}, nil
}

// NewSQLite wraps a DB opened with the sqlite3 driver.
func NewSQLite(db *sql.DB) (*SQL, error) {
	return newSQL(db, sqliteCreateTableTmpl, sqliteUpsertTmpl)
}

// NewMySQL wraps a DB opened with the mysql driver.
func NewMySQL(db *sql.DB) (*SQL, error) {
	return newSQL(db, mysqlCreateTableTmpl, mysqlUpsertTmpl)
}

func (s *SQL) Upsert(c track.Snapshot) error {
	_, err := s.db.Exec(s.upsert,
		c.FreqHz, c.PowerDB, c.SNRDB, c.EMAPower, c.EMASNR,
		c.FirstSeen.UnixMilli(), c.LastSeen.UnixMilli(), c.Hits, string(c.Status))
	return err
}

func (s *SQL) List(limit int) ([]track.Snapshot, error) {
	if limit <= 0 {
		limit = 1<<31 - 1 // effectively unlimited, valid for both drivers
	}
	rows, err := s.db.Query(listTmpl, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []track.Snapshot
	for rows.Next() {
		var c track.Snapshot
		var first, last int64
		var status string
		if err := rows.Scan(&c.FreqHz, &c.PowerDB, &c.SNRDB, &c.EMAPower, &c.EMASNR, &first, &last, &c.Hits, &status); err != nil {
			glog.Warningf("unable to scan candidate row: %s", err)
			continue
		}
		c.FirstSeen = time.UnixMilli(first).UTC()
		c.LastSeen = time.UnixMilli(last).UTC()
		c.Status = track.Status(status)
		snaps = append(snaps, c)
	}
	return snaps, rows.Err()
}

func (s *SQL) Prune(horizon time.Time) (int64, error) {
	res, err := s.db.Exec(pruneTmpl, horizon.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQL) Close() error {
	return s.db.Close()
}
