// Package sqlite provides the transition journal: an append-only record
// of every mutating command and the name of the currently active mode.
// Uses WAL mode for crash-safe writes.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)

	"github.com/power-mode/power-mode/internal/domain"
)

const activeModeKey = "active_mode"

// FileName is the journal database name inside its directory.
const FileName = "journal.db"

// Exists reports whether a journal has been created in dir.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, FileName))
	return err == nil
}

// DB wraps a SQLite connection with WAL mode and migrations.
type DB struct {
	db *sql.DB
}

var _ domain.Journal = (*DB)(nil)

// Open creates or opens the journal database at dir/journal.db.
// Enables WAL mode, foreign keys, and 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: create journal dir: %v", domain.ErrStorage, err)
	}

	dbPath := filepath.Join(dir, FileName)
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %v", domain.ErrStorage, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping sqlite: %v", domain.ErrStorage, err)
	}

	// Connection pool settings for SQLite
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate: %v", domain.ErrStorage, err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping() error {
	return d.db.Ping()
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS transitions (
			id          TEXT PRIMARY KEY,
			kind        TEXT NOT NULL,
			mode        TEXT NOT NULL DEFAULT '',
			outcome     TEXT NOT NULL,
			gpu         TEXT NOT NULL DEFAULT '',
			error       TEXT NOT NULL DEFAULT '',
			started_at  INTEGER NOT NULL,
			finished_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transitions_started ON transitions(started_at)`,

		`CREATE TABLE IF NOT EXISTS host_state (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}

	for i, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}

// ─── Transitions ────────────────────────────────────────────────────────────

// Record appends t and updates the active mode in one transaction. A
// successful apply makes t.Mode active; a restore clears it.
func (d *DB) Record(ctx context.Context, t domain.Transition) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", domain.ErrStorage, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO transitions (id, kind, mode, outcome, gpu, error, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, string(t.Kind), t.Mode, t.Outcome, string(t.GPU), t.Error,
		t.StartedAt.UnixMilli(), nullableUnixMilli(t.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("%w: insert transition: %v", domain.ErrStorage, err)
	}

	switch {
	case t.Kind == domain.KindApply && t.Outcome == string(domain.StateApplied):
		err = setState(ctx, tx, activeModeKey, t.Mode)
	case t.Kind == domain.KindRestore && t.Outcome != domain.OutcomeFailed:
		err = setState(ctx, tx, activeModeKey, "")
	}
	if err != nil {
		return fmt.Errorf("%w: update active mode: %v", domain.ErrStorage, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", domain.ErrStorage, err)
	}
	return nil
}

// Recent returns up to limit transitions, newest first.
func (d *DB) Recent(ctx context.Context, limit int) ([]domain.Transition, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, kind, mode, outcome, gpu, error, started_at, finished_at
		 FROM transitions ORDER BY started_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: query transitions: %v", domain.ErrStorage, err)
	}
	defer rows.Close()

	var out []domain.Transition
	for rows.Next() {
		t, err := scanTransition(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan transition: %v", domain.ErrStorage, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ─── Host State ─────────────────────────────────────────────────────────────

// ActiveMode returns the mode last applied successfully and not since
// restored, or "" when there is none.
func (d *DB) ActiveMode(ctx context.Context) (string, error) {
	var value string
	err := d.db.QueryRowContext(ctx, `SELECT value FROM host_state WHERE key = ?`, activeModeKey).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: read active mode: %v", domain.ErrStorage, err)
	}
	return value, nil
}

func setState(ctx context.Context, tx *sql.Tx, key, value string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO host_state (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value,
	)
	return err
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTransition(s scanner) (domain.Transition, error) {
	var t domain.Transition
	var kind, gpu string
	var startedAt int64
	var finishedAt sql.NullInt64

	if err := s.Scan(&t.ID, &kind, &t.Mode, &t.Outcome, &gpu, &t.Error, &startedAt, &finishedAt); err != nil {
		return domain.Transition{}, err
	}
	t.Kind = domain.TransitionKind(kind)
	t.GPU = domain.GPUOutcome(gpu)
	t.StartedAt = time.UnixMilli(startedAt)
	if finishedAt.Valid {
		t.FinishedAt = time.UnixMilli(finishedAt.Int64)
	}
	return t, nil
}

func nullableUnixMilli(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}
