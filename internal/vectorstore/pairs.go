package vectorstore

import (
	"context"
	"database/sql"
	"fmt"
)

// Count returns the current count of (entity, basis), or 0 if absent.
// A missing pair is never an error (spec.md §7 "Missing-pair").
func (s *SQLiteStore) Count(ctx context.Context, entity, basis string) (float64, error) {
	var c float64
	err := s.db.QueryRowContext(ctx,
		`SELECT count FROM pairs WHERE entity = ? AND basis = ?`, entity, basis,
	).Scan(&c)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading count(%s,%s): %w", entity, basis, err)
	}
	return c, nil
}

// SetCount upserts (entity, basis) to c when c > 0, or deletes the pair
// when c ≤ 0 (spec.md §3 Invariant 1, §4.1).
func (s *SQLiteStore) SetCount(ctx context.Context, entity, basis string, c float64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if c <= 0 {
		_, err := s.db.ExecContext(ctx,
			`DELETE FROM pairs WHERE entity = ? AND basis = ?`, entity, basis,
		)
		if err != nil {
			return fmt.Errorf("deleting pair (%s,%s): %w", entity, basis, err)
		}
		return nil
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pairs (entity, basis, count) VALUES (?, ?, ?)
		 ON CONFLICT(entity, basis) DO UPDATE SET count = excluded.count`,
		entity, basis, c,
	)
	if err != nil {
		return fmt.Errorf("setting count(%s,%s)=%v: %w", entity, basis, c, err)
	}
	return nil
}

// RightStars returns every extant pair with entity on the left.
func (s *SQLiteStore) RightStars(ctx context.Context, entity string) ([]Pair, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT basis, count FROM pairs WHERE entity = ?`, entity,
	)
	if err != nil {
		return nil, fmt.Errorf("reading right-stars of %q: %w", entity, err)
	}
	defer rows.Close()

	pairs := make([]Pair, 0, 16)
	for rows.Next() {
		var basis string
		var count float64
		if err := rows.Scan(&basis, &count); err != nil {
			return nil, fmt.Errorf("scanning right-star row: %w", err)
		}
		pairs = append(pairs, Pair{Entity: entity, Basis: basis, Count: count})
	}
	return pairs, rows.Err()
}

// PairedRightStars co-iterates the union of bases of e1 and e2, yielding
// one PairedSlot per basis with whichever side(s) have a pair there
// (spec.md §4.1 "paired-star enumeration"). Order is unspecified but
// consistent within one call.
func (s *SQLiteStore) PairedRightStars(ctx context.Context, e1, e2 string) ([]PairedSlot, error) {
	a, err := s.RightStars(ctx, e1)
	if err != nil {
		return nil, err
	}
	b, err := s.RightStars(ctx, e2)
	if err != nil {
		return nil, err
	}

	byBasisA := make(map[string]*Pair, len(a))
	for i := range a {
		byBasisA[a[i].Basis] = &a[i]
	}
	byBasisB := make(map[string]*Pair, len(b))
	for i := range b {
		byBasisB[b[i].Basis] = &b[i]
	}

	seen := make(map[string]struct{}, len(a)+len(b))
	slots := make([]PairedSlot, 0, len(a)+len(b))
	for _, p := range a {
		if _, ok := seen[p.Basis]; ok {
			continue
		}
		seen[p.Basis] = struct{}{}
		slots = append(slots, PairedSlot{Basis: p.Basis, A: byBasisA[p.Basis], B: byBasisB[p.Basis]})
	}
	for _, p := range b {
		if _, ok := seen[p.Basis]; ok {
			continue
		}
		seen[p.Basis] = struct{}{}
		slots = append(slots, PairedSlot{Basis: p.Basis, A: byBasisA[p.Basis], B: byBasisB[p.Basis]})
	}
	return slots, nil
}

// RightWildcard returns the cached observation total for entity. It does
// not recompute; call Prefetch first for a fresh value (spec.md §3
// Invariant 5, §4.2).
func (s *SQLiteStore) RightWildcard(ctx context.Context, entity string) (float64, error) {
	var total float64
	err := s.db.QueryRowContext(ctx,
		`SELECT total FROM wildcards WHERE entity = ?`, entity,
	).Scan(&total)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading wildcard total for %q: %w", entity, err)
	}
	return total, nil
}

// Prefetch recomputes and caches the observation total for entity by
// summing its current right-stars.
func (s *SQLiteStore) Prefetch(ctx context.Context, entity string) error {
	pairs, err := s.RightStars(ctx, entity)
	if err != nil {
		return err
	}
	total := 0.0
	for _, p := range pairs {
		total += p.Count
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO wildcards (entity, total, refreshed_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(entity) DO UPDATE SET total = excluded.total, refreshed_at = CURRENT_TIMESTAMP`,
		entity, total,
	)
	if err != nil {
		return fmt.Errorf("caching wildcard total for %q: %w", entity, err)
	}
	return nil
}
