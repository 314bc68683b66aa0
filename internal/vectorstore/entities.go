package vectorstore

import (
	"context"
	"database/sql"
	"fmt"
)

// CreateEntity registers name with kind if it does not already exist.
func (s *SQLiteStore) CreateEntity(ctx context.Context, name string, kind EntityKind) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entities (name, kind) VALUES (?, ?)
		 ON CONFLICT(name) DO NOTHING`,
		name, string(kind),
	)
	if err != nil {
		return fmt.Errorf("creating entity %q: %w", name, err)
	}
	return nil
}

// GetEntity returns the entity named name, or ErrNotFound.
func (s *SQLiteStore) GetEntity(ctx context.Context, name string) (*Entity, error) {
	var kind string
	err := s.db.QueryRowContext(ctx,
		`SELECT kind FROM entities WHERE name = ?`, name,
	).Scan(&kind)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting entity %q: %w", name, err)
	}
	return &Entity{Name: name, Kind: EntityKind(kind)}, nil
}

// AllEntityNames returns every known entity name, atomic and class alike.
func (s *SQLiteStore) AllEntityNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM entities`)
	if err != nil {
		return nil, fmt.Errorf("listing entities: %w", err)
	}
	defer rows.Close()

	names := make([]string, 0, 64)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning entity name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// NextClassName allocates a fresh, never-reused class identity backed by
// a persisted counter. Once allocated, a class's name never changes
// (spec.md §3 Invariant 4) — only its vector and member set do.
func (s *SQLiteStore) NextClassName(ctx context.Context) (string, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin class name allocation: %w", err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'class_seq'`).Scan(&raw)
	seq := 0
	if err == nil {
		fmt.Sscanf(raw, "%d", &seq)
	} else if err != sql.ErrNoRows {
		return "", fmt.Errorf("reading class sequence: %w", err)
	}
	seq++
	// Skip names already held by an entity created outside this allocator.
	for {
		var taken int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM entities WHERE name = ?`, fmt.Sprintf("class-%04d", seq),
		).Scan(&taken); err != nil {
			return "", fmt.Errorf("checking class name: %w", err)
		}
		if taken == 0 {
			break
		}
		seq++
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES ('class_seq', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		fmt.Sprintf("%d", seq),
	); err != nil {
		return "", fmt.Errorf("writing class sequence: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit class name allocation: %w", err)
	}

	return fmt.Sprintf("class-%04d", seq), nil
}

// PersistMembership records that atomic belongs to class. Membership is
// many-to-many (spec.md §3 Invariant 3): an atomic entity may belong to
// several classes.
func (s *SQLiteStore) PersistMembership(ctx context.Context, atomic, class string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memberships (atomic, class) VALUES (?, ?)
		 ON CONFLICT(atomic, class) DO NOTHING`,
		atomic, class,
	)
	if err != nil {
		return fmt.Errorf("persisting membership (%s, %s): %w", atomic, class, err)
	}
	return nil
}

// MembersOf returns the atomic entities belonging to class.
func (s *SQLiteStore) MembersOf(ctx context.Context, class string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT atomic FROM memberships WHERE class = ? ORDER BY atomic`, class,
	)
	if err != nil {
		return nil, fmt.Errorf("listing members of %q: %w", class, err)
	}
	defer rows.Close()

	members := make([]string, 0, 4)
	for rows.Next() {
		var atomic string
		if err := rows.Scan(&atomic); err != nil {
			return nil, fmt.Errorf("scanning member row: %w", err)
		}
		members = append(members, atomic)
	}
	return members, rows.Err()
}
