package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"sync"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - Initial schema
// 2 - Index on spells.seq for ordered listings
const currentSchemaVersion = 2

// Clock hands out logical sequence numbers. Next must be strictly
// increasing.
type Clock interface {
	Next() int64
}

// IDGenerator hands out verification run IDs.
type IDGenerator interface {
	New() uuid.UUID
}

// Store is the SQLite database. Safe for concurrent use.
type Store struct {
	db    *sql.DB
	clock Clock
	ids   IDGenerator
}

type Option func(*Store)

// WithClock replaces the sequence clock. The default continues after the
// highest seq already stored.
func WithClock(c Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithIDs replaces the run ID generator. The default generates UUIDv7s.
func WithIDs(g IDGenerator) Option {
	return func(s *Store) { s.ids = g }
}

// Open creates or opens the database at path and applies pragmas and
// migrations. Safe to call on an existing database.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{db: db, ids: uuidV7{}}
	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		var last int64
		err := db.QueryRow(`
			SELECT COALESCE(MAX(seq), 0) FROM (
				SELECT seq FROM spells UNION ALL SELECT seq FROM verifications
			)
		`).Scan(&last)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to read sequence: %w", err)
		}
		s.clock = &seqClock{seq: last}
	}
	return s, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Query executes a query and returns the resulting rows. Callers close
// the rows.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 2 {
		if err := migrateToV2(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

func migrateToV2(db *sql.DB) error {
	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_spells_seq ON spells(seq)`)
	if err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

type seqClock struct {
	mu  sync.Mutex
	seq int64
}

func (c *seqClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

type uuidV7 struct{}

func (uuidV7) New() uuid.UUID {
	// NewV7 only fails when the system random source does.
	return uuid.Must(uuid.NewV7())
}
