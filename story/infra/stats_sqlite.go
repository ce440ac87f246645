package infra

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"story-gateway/story/domain"

	_ "modernc.org/sqlite"
)

const createAdmissionTable = `
CREATE TABLE IF NOT EXISTS admission_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	scope      TEXT NOT NULL,
	allowed    INTEGER NOT NULL,
	method     TEXT NOT NULL DEFAULT '',
	path       TEXT NOT NULL DEFAULT '',
	created_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_admission_events_created ON admission_events(created_ms);
`

// SQLiteStatsStore grava cada decisão de admissão em um arquivo SQLite.
type SQLiteStatsStore struct {
	db *sql.DB
}

func NewSQLiteStatsStore(dbPath string) (*SQLiteStatsStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open stats db: %w", err)
	}
	if _, err := db.Exec(createAdmissionTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate stats db: %w", err)
	}
	return &SQLiteStatsStore{db: db}, nil
}

func (s *SQLiteStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	allowed := 0
	if ev.Allowed {
		allowed = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO admission_events (scope, allowed, method, path, created_ms) VALUES (?, ?, ?, ?, ?)`,
		ev.Scope, allowed, ev.Method, ev.Path, at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("stats record: %w", err)
	}
	return nil
}

// Totals soma as decisões registradas desde `since`.
func (s *SQLiteStatsStore) Totals(ctx context.Context, since time.Time) (Counters, error) {
	var c Counters
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(allowed), 0), COALESCE(SUM(1 - allowed), 0)
		 FROM admission_events WHERE created_ms >= ?`,
		since.UnixMilli(),
	).Scan(&c.Allowed, &c.Denied)
	if err != nil {
		return Counters{}, fmt.Errorf("stats totals: %w", err)
	}
	return c, nil
}

// Prune apaga eventos anteriores a `before`.
func (s *SQLiteStatsStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM admission_events WHERE created_ms < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("stats prune: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStatsStore) Close() error {
	return s.db.Close()
}
