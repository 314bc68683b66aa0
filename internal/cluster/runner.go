// Package cluster drives the full-corpus agglomerative clustering pass:
// rank, skip-ahead, chunk, and assign, tracking true classes separately
// from provisional singletons.
package cluster

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/hurttlocker/wordclass/internal/assign"
	"github.com/hurttlocker/wordclass/internal/rank"
	"github.com/hurttlocker/wordclass/internal/vectorstore"
)

// SkipAheadMode selects the exponent applied to the class-list size when
// computing how many already-exhausted frontier entities to skip at the
// start of a run (spec.md §9, open question: the source carries a typo
// ambiguous between n² and n·m semantics).
type SkipAheadMode int

const (
	// SkipAheadSquared skips skip_fraction·|classes|² entities. This is
	// the default: it is the more conservative reading and matches the
	// only unambiguous exponent in the source ("cnl" squared), and grows
	// the skip window faster as true classes accumulate, which better
	// matches the documented intent of "avoid reprocessing an exhausted
	// frontier" on long runs.
	SkipAheadSquared SkipAheadMode = iota
	// SkipAheadLinearByMembers skips skip_fraction·|classes|·m, where m is
	// the count of entities already touched — approximated here as the
	// total atomic membership count across all true classes, since that is
	// what the Runner can see without external bookkeeping. This is the
	// alternative (n·m) reading; it is available for callers who determine
	// empirically that it tracks their corpus better, but is not the
	// default.
	SkipAheadLinearByMembers
)

// Options configures a clustering Runner. Defaults match spec.md §6.
type Options struct {
	CosineThreshold   float64
	MergeFraction     float64
	MinObservations   float64
	InitialChunkSize  int
	SkipFraction      float64
	SkipAheadMode     SkipAheadMode
	// AssignToClasses selects the provisional-singleton strategy (spec.md
	// §4.6 step 5) instead of the default block-assign strategy. The
	// controller chooses one strategy for the whole run.
	AssignToClasses bool
}

// DefaultOptions returns the configuration defaults from spec.md §6.
func DefaultOptions() Options {
	return Options{
		CosineThreshold:  0.65,
		MergeFraction:    0.3,
		MinObservations:  20,
		InitialChunkSize: 20,
		SkipFraction:     0.35,
		SkipAheadMode:    SkipAheadSquared,
	}
}

// BlockEvent is emitted once per processed block (spec.md §6
// Observability: "remaining count and class count with wall-clock
// stamp"). At is the wall-clock time at which the Runner finished the
// block.
type BlockEvent struct {
	BlockIndex   int       `json:"block_index"`
	BlockSize    int       `json:"block_size"`
	Remaining    int       `json:"remaining"`
	TrueClasses  int       `json:"true_classes"`
	Provisionals int       `json:"provisionals"`
	At           time.Time `json:"at"`
}

// BlockSink receives BlockEvents. A nil BlockSink discards events.
type BlockSink func(BlockEvent)

// Report summarizes one clustering pass.
type Report struct {
	Scanned      int          `json:"scanned"`
	TrueClasses  []string     `json:"true_classes"`
	Provisionals []string     `json:"provisionals"`
	Blocks       []BlockEvent `json:"blocks"`
}

// Runner drives one clustering pass over a corpus of entities.
type Runner struct {
	store      vectorstore.Store
	rankIdx    *rank.Index
	controller *assign.Controller
	opts       Options
	blockSink  BlockSink
}

// New returns a Runner.
func New(store vectorstore.Store, rankIdx *rank.Index, controller *assign.Controller, opts Options, blockSink BlockSink) *Runner {
	return &Runner{store: store, rankIdx: rankIdx, controller: controller, opts: opts, blockSink: blockSink}
}

// Run executes one full clustering pass over every known entity,
// starting from the existingTrueClasses already known to the caller
// (e.g. from a prior run) and returns the updated Report (spec.md §4.6).
func (r *Runner) Run(ctx context.Context, existingTrueClasses []string) (*Report, error) {
	names, err := r.store.AllEntityNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("cluster: listing entities: %w", err)
	}

	if err := r.rankIdx.Refresh(ctx, names); err != nil {
		return nil, fmt.Errorf("cluster: initial rank refresh: %w", err)
	}
	ranked, err := r.rankIdx.TrimAndRank(ctx, names, r.opts.MinObservations)
	if err != nil {
		return nil, fmt.Errorf("cluster: ranking entities: %w", err)
	}

	trueClasses := append([]string{}, existingTrueClasses...)
	skip, err := r.skipAhead(ctx, trueClasses)
	if err != nil {
		return nil, err
	}
	if skip > len(ranked) {
		skip = len(ranked)
	}
	surviving := ranked[skip:]

	report := &Report{Scanned: len(surviving)}
	var provisionals []string

	chunks := chunkSizes(len(surviving), r.opts.InitialChunkSize)
	offset := 0
	blockIndex := 0
	for _, size := range chunks {
		block := surviving[offset : offset+size]
		offset += size

		blockNames := make([]string, len(block))
		for i, t := range block {
			blockNames[i] = t.Name
		}
		// Cached totals are refreshed once per chunk, for just this block's
		// entities; the ranked order computed above is not recomputed.
		if err := r.rankIdx.Refresh(ctx, blockNames); err != nil {
			return nil, fmt.Errorf("cluster: refreshing block %d: %w", blockIndex, err)
		}

		if r.opts.AssignToClasses {
			trueClasses, provisionals, err = r.assignToClassesBlock(ctx, blockNames, trueClasses, provisionals)
		} else {
			trueClasses, err = r.blockAssign(ctx, blockNames, trueClasses)
		}
		if err != nil {
			return nil, fmt.Errorf("cluster: processing block %d: %w", blockIndex, err)
		}

		ev := BlockEvent{
			BlockIndex:   blockIndex,
			BlockSize:    size,
			Remaining:    len(surviving) - offset,
			TrueClasses:  len(trueClasses),
			Provisionals: len(provisionals),
			At:           time.Now(),
		}
		report.Blocks = append(report.Blocks, ev)
		if r.blockSink != nil {
			r.blockSink(ev)
		}
		blockIndex++
	}

	report.TrueClasses = trueClasses
	report.Provisionals = provisionals
	return report, nil
}

// blockAssign implements spec.md §4.6 step 4, the default strategy.
func (r *Runner) blockAssign(ctx context.Context, block []string, trueClasses []string) ([]string, error) {
	for i, w := range block {
		merged, err := r.controller.AssignWordToClass(ctx, w, trueClasses)
		if err != nil {
			return nil, err
		}
		if merged != w {
			// w joined an existing true class; advance.
			continue
		}

		expanded, err := r.controller.AssignExpandClass(ctx, w, block[i+1:])
		if err != nil {
			return nil, err
		}
		if expanded == w {
			continue
		}
		members, err := r.store.MembersOf(ctx, expanded)
		if err != nil {
			return nil, fmt.Errorf("cluster: checking membership of %q: %w", expanded, err)
		}
		if len(members) >= 2 {
			trueClasses = append(trueClasses, expanded)
		}
	}
	return trueClasses, nil
}

// assignToClassesBlock implements the alternative provisional-singleton
// strategy (spec.md §4.6 step 5).
func (r *Runner) assignToClassesBlock(ctx context.Context, block []string, trueClasses, provisionals []string) ([]string, []string, error) {
	for _, w := range block {
		merged, err := r.controller.AssignWordToClass(ctx, w, trueClasses)
		if err != nil {
			return nil, nil, err
		}
		if merged != w {
			continue
		}

		matched, err := r.controller.AssignWordToClass(ctx, w, provisionals)
		if err != nil {
			return nil, nil, err
		}
		if matched != w {
			// w paired with a provisional singleton; the pair becomes a
			// true class and leaves the provisional pool.
			trueClasses = append(trueClasses, matched)
			members, err := r.store.MembersOf(ctx, matched)
			if err != nil {
				return nil, nil, fmt.Errorf("cluster: checking membership of %q: %w", matched, err)
			}
			for _, m := range members {
				provisionals = removeName(provisionals, m)
			}
			continue
		}

		provisionals = append(provisionals, w)
	}
	return trueClasses, provisionals, nil
}

func removeName(names []string, name string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}

// skipAhead computes the number of ranked entities to drop before
// chunking, per the resolved reading of spec.md §9's open question.
func (r *Runner) skipAhead(ctx context.Context, trueClasses []string) (int, error) {
	n := float64(len(trueClasses))
	switch r.opts.SkipAheadMode {
	case SkipAheadLinearByMembers:
		var m float64
		for _, c := range trueClasses {
			members, err := r.store.MembersOf(ctx, c)
			if err != nil {
				return 0, fmt.Errorf("cluster: counting members of %q for skip-ahead: %w", c, err)
			}
			m += float64(len(members))
		}
		return int(math.Floor(r.opts.SkipFraction * n * m)), nil
	default:
		return int(math.Floor(r.opts.SkipFraction * n * n)), nil
	}
}

// chunkSizes partitions total items into blocks starting at initial size
// and doubling each block (spec.md §4.6 step 3).
func chunkSizes(total, initial int) []int {
	if total <= 0 {
		return nil
	}
	if initial <= 0 {
		initial = 1
	}
	var sizes []int
	remaining := total
	size := initial
	for remaining > 0 {
		take := size
		if take > remaining {
			take = remaining
		}
		sizes = append(sizes, take)
		remaining -= take
		size *= 2
	}
	return sizes
}
