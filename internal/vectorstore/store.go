// Package vectorstore provides the backing store for entities, sparse
// pair counts, and class memberships. All other packages in this module
// reach the durable store only through the Store interface defined here.
package vectorstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// EntityKind discriminates an atomic (leaf) entity from a class (aggregator)
// entity, per spec.md §3/§9 "tagged variant".
type EntityKind string

const (
	Atomic EntityKind = "atomic"
	Class  EntityKind = "class"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("vectorstore: entity not found")

// Entity is an identifiable symbol — either a word (Atomic) or an
// aggregator over ≥1 atomic entities (Class).
type Entity struct {
	Name string
	Kind EntityKind
}

// Pair is a (entity, basis) tuple with a strictly positive count. A pair
// with count ≤ 0 does not exist in the store (spec.md §3 Invariant 1).
type Pair struct {
	Entity string
	Basis  string
	Count  float64
}

// PairedSlot is one co-iterated basis from PairedRightStars: A and/or B
// holds the pair at that basis for the corresponding entity, or nil when
// that entity has no pair there. At most one of A, B is nil.
type PairedSlot struct {
	Basis string
	A     *Pair
	B     *Pair
}

// Store is the abstract backing store contract (spec.md §4.1, §6).
// Any backend may implement it; SQLiteStore is the only implementation in
// this module.
type Store interface {
	// CreateEntity registers a new entity. It is a no-op if the entity
	// already exists with the same kind.
	CreateEntity(ctx context.Context, name string, kind EntityKind) error
	GetEntity(ctx context.Context, name string) (*Entity, error)

	// Count returns the current count of (entity, basis), or 0 if absent.
	Count(ctx context.Context, entity, basis string) (float64, error)
	// SetCount upserts (entity, basis) → c when c > 0, or deletes the pair
	// when c ≤ 0 (spec.md §4.1, §3 Invariant 1).
	SetCount(ctx context.Context, entity, basis string, c float64) error

	// RightStars returns every extant pair with entity on the left.
	RightStars(ctx context.Context, entity string) ([]Pair, error)
	// PairedRightStars co-iterates the union of bases of e1 and e2.
	PairedRightStars(ctx context.Context, e1, e2 string) ([]PairedSlot, error)

	// RightWildcard returns the cached observation total for entity.
	// It does not recompute — callers must Prefetch first for a fresh value.
	RightWildcard(ctx context.Context, entity string) (float64, error)
	// Prefetch recomputes and caches the observation total for entity.
	Prefetch(ctx context.Context, entity string) error

	// PersistMembership records that atomic belongs to class.
	PersistMembership(ctx context.Context, atomic, class string) error
	// MembersOf returns the atomic entities belonging to class.
	MembersOf(ctx context.Context, class string) ([]string, error)

	// NextClassName allocates a new, stable class identity (spec.md §3
	// Invariant 4 — identity is fixed at creation and never renamed).
	NextClassName(ctx context.Context) (string, error)

	// AllEntityNames returns every known entity name (atomic and class).
	AllEntityNames(ctx context.Context) ([]string, error)

	Close() error
}

// SQLiteStore implements Store using modernc.org/sqlite. All mutating
// operations are serialized behind writeMu: SQLite accepts only one
// writer at a time even under WAL.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex
}

// Config holds construction options for a SQLiteStore.
type Config struct {
	// DBPath is the database file path, or ":memory:" for an ephemeral
	// in-process database (used throughout this module's tests).
	DBPath string
}

// Open creates (or opens) a SQLite-backed Store and ensures its schema.
func Open(cfg Config) (*SQLiteStore, error) {
	path := cfg.DBPath
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS entities (
			name TEXT PRIMARY KEY,
			kind TEXT NOT NULL CHECK (kind IN ('atomic','class')),
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS pairs (
			entity TEXT NOT NULL REFERENCES entities(name),
			basis  TEXT NOT NULL,
			count  REAL NOT NULL CHECK (count > 0),
			PRIMARY KEY (entity, basis)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pairs_basis ON pairs(basis)`,
		`CREATE TABLE IF NOT EXISTS memberships (
			atomic TEXT NOT NULL REFERENCES entities(name),
			class  TEXT NOT NULL REFERENCES entities(name),
			PRIMARY KEY (atomic, class)
		)`,
		`CREATE TABLE IF NOT EXISTS wildcards (
			entity TEXT PRIMARY KEY REFERENCES entities(name),
			total  REAL NOT NULL DEFAULT 0,
			refreshed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing %q: %w", stmt, err)
		}
	}
	return nil
}
