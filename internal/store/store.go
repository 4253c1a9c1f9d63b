// Package store is ChallengeCtl's single-writer relational backend
// (spec.md §4.1). It is the only component that performs writes; every
// invariant in spec.md §3 is enforced inside WithWrite.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Store wraps a SQLite database and serializes all writers through a
// single-slot semaphore, matching spec.md §4.1's "concurrent callers
// serialize" contract. Reads share the same connection pool but never
// take the writer slot, and may observe state from immediately before any
// concurrent writer commits
// (spec.md §4.1 WithRead).
type Store struct {
	db    *sql.DB
	write chan struct{} // capacity 1: held while a write transaction is open
}

// Open creates or opens the SQLite database at path, applying the schema
// and any pending migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)

	s := &Store{
		db:    db,
		write: make(chan struct{}, 1),
	}
	s.write <- struct{}{}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	return s, nil
}

// OpenMemory opens an in-memory store, used by tests.
func OpenMemory() (*Store, error) {
	return Open("file::memory:?cache=shared")
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&count); err != nil {
		return fmt.Errorf("check schema version: %w", err)
	}
	if count == 0 {
		if _, err := s.db.Exec("INSERT INTO system_state (key, value) VALUES ('paused', 'false')"); err != nil {
			return fmt.Errorf("seed system state: %w", err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_version (version) VALUES (1)"); err != nil {
			return fmt.Errorf("seed schema version: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Tx is the handle passed to WithWrite/WithRead callbacks. It carries the
// *sql.Tx plus the "now" the transaction should treat as current, taken
// once from the wall clock (UTC) when the transaction begins so every
// timestamp written inside it agrees.
type Tx struct {
	tx  *sql.Tx
	now time.Time
}

// Now returns the instant this transaction should treat as "now".
func (t *Tx) Now() time.Time { return t.now }

// WithWrite acquires the exclusive writer and runs f inside a single SQL
// transaction. If f returns an error, every effect is rolled back and the
// error is returned unchanged (spec.md §4.1, §7). Acquisition that does not
// succeed before ctx is done returns Busy.
func (s *Store) WithWrite(ctx context.Context, f func(tx *Tx) error) error {
	select {
	case <-s.write:
	case <-ctx.Done():
		return Busy
	}
	defer func() { s.write <- struct{}{} }()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin write transaction: %w", err)
	}

	txErr := f(&Tx{tx: sqlTx, now: time.Now().UTC()})
	if txErr != nil {
		_ = sqlTx.Rollback()
		return txErr
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit write transaction: %w", err)
	}
	return nil
}

// WithRead runs f against a read-only snapshot. Readers never block behind
// each other and may run concurrently with a writer (spec.md §4.1).
func (s *Store) WithRead(ctx context.Context, f func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("begin read transaction: %w", err)
	}
	defer sqlTx.Rollback()

	return f(&Tx{tx: sqlTx, now: time.Now().UTC()})
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
