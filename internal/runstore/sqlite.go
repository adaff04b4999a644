package runstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/randomizedcoder/go-daq-bufman/internal/bufman"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	run_uuid           TEXT NOT NULL UNIQUE,
	started_unix_ns    INTEGER NOT NULL,
	run_time_ns        INTEGER NOT NULL,
	triggers           INTEGER NOT NULL,
	life_time_ns       INTEGER NOT NULL,
	consistency_faults INTEGER NOT NULL DEFAULT 0
)`

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
}

// Run is a stored summary.
type Run struct {
	ID   int64
	UUID string
	bufman.RunSummary
}

// SQLite stores run summaries in a single table.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
// Use ":memory:" for a throwaway store.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// a single connection keeps ":memory:" databases shared across calls
	db.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %s: %w", p, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// WriteSummary implements bufman.SummaryWriter.
func (s *SQLite) WriteSummary(ctx context.Context, r bufman.RunSummary) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_uuid, started_unix_ns, run_time_ns, triggers, life_time_ns, consistency_faults)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), r.Started.UnixNano(), int64(r.RunTime), int64(r.Triggers), int64(r.LifeTime), int64(r.ConsistencyFaults))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Runs returns stored runs, oldest first.
func (s *SQLite) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_uuid, started_unix_ns, run_time_ns, triggers, life_time_ns, consistency_faults
		 FROM runs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r                      Run
			started, runTime, life int64
			triggers, faults       int64
		)
		if err := rows.Scan(&r.ID, &r.UUID, &started, &runTime, &triggers, &life, &faults); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Started = time.Unix(0, started)
		r.RunTime = time.Duration(runTime)
		r.LifeTime = time.Duration(life)
		r.Triggers = uint64(triggers)
		r.ConsistencyFaults = uint64(faults)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
