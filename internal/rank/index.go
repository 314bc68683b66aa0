// Package rank maintains per-entity observation totals and supplies
// ranked, filtered entity lists to the clustering loop.
package rank

import (
	"context"
	"fmt"
	"sort"

	"github.com/hurttlocker/wordclass/internal/vectorstore"
)

// Index wraps a vectorstore.Store to provide ranking over cached
// observation totals (spec.md §4.2).
type Index struct {
	store vectorstore.Store
}

// New returns a rank Index backed by store.
func New(store vectorstore.Store) *Index {
	return &Index{store: store}
}

// Totaled pairs an entity name with its cached observation total.
type Totaled struct {
	Name  string
	Total float64
}

// Prefetch ensures the cached wildcard total for entity reflects its
// current pairs. Callers must Prefetch every candidate before ranking
// (spec.md §4.2).
func (idx *Index) Prefetch(ctx context.Context, entity string) error {
	if err := idx.store.Prefetch(ctx, entity); err != nil {
		return fmt.Errorf("rank: prefetching %q: %w", entity, err)
	}
	return nil
}

// Refresh re-prefetches every entity in names. It exists separately from
// Prefetch so the clustering loop can refresh cached totals once per chunk
// without threading individual Prefetch calls through block logic.
func (idx *Index) Refresh(ctx context.Context, names []string) error {
	for _, n := range names {
		if err := idx.Prefetch(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

// ObservationTotal returns the cached total count over all pairs of
// entity. It does not refresh the cache; call Prefetch first.
func (idx *Index) ObservationTotal(ctx context.Context, entity string) (float64, error) {
	total, err := idx.store.RightWildcard(ctx, entity)
	if err != nil {
		return 0, fmt.Errorf("rank: reading total for %q: %w", entity, err)
	}
	return total, nil
}

// TrimAndRank filters names to those whose cached total is ≥ minObs,
// then sorts descending by total, stable on ties (spec.md §4.2, P6).
func (idx *Index) TrimAndRank(ctx context.Context, names []string, minObs float64) ([]Totaled, error) {
	kept := make([]Totaled, 0, len(names))
	for _, n := range names {
		total, err := idx.ObservationTotal(ctx, n)
		if err != nil {
			return nil, err
		}
		if total < minObs {
			continue
		}
		kept = append(kept, Totaled{Name: n, Total: total})
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Total > kept[j].Total
	})
	return kept, nil
}
