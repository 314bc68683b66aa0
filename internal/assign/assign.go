// Package assign implements single-word-to-class assignment and
// within-block class expansion for the clustering loop.
package assign

import (
	"context"
	"fmt"

	"github.com/hurttlocker/wordclass/internal/merge"
	"github.com/hurttlocker/wordclass/internal/similarity"
)

// Controller drives word-to-class assignment via a similarity oracle and
// a merge engine.
type Controller struct {
	oracle *similarity.Oracle
	merger *merge.Engine
}

// New returns a Controller.
func New(oracle *similarity.Oracle, merger *merge.Engine) *Controller {
	return &Controller{oracle: oracle, merger: merger}
}

// hit records a matching class at its position in the input class list,
// used to pick a deterministic winner under parallel dispatch.
type hit struct {
	index int
	class string
}

// AssignWordToClass scans classList for the first class that should
// merge with word, merges it in, and returns the resulting class.
// If none match, word is returned unchanged (spec.md §4.5.1).
//
// Comparisons are dispatched concurrently; the winner is always the
// lowest-indexed match in classList, regardless of completion order
// (spec.md §5 "deterministic tie-break on input order").
func (c *Controller) AssignWordToClass(ctx context.Context, word string, classList []string) (string, error) {
	if len(classList) == 0 {
		return word, nil
	}

	hits := make(chan hit, len(classList))
	errs := make(chan error, len(classList))
	for i, class := range classList {
		i, class := i, class
		go func() {
			ok, err := c.oracle.ShouldMerge(ctx, class, word)
			if err != nil {
				errs <- fmt.Errorf("assign: comparing %q against %q: %w", class, word, err)
				return
			}
			if ok {
				hits <- hit{index: i, class: class}
				return
			}
			hits <- hit{index: i, class: ""}
		}()
	}

	results := make([]string, len(classList))
	for i := 0; i < len(classList); i++ {
		select {
		case h := <-hits:
			results[h.index] = h.class
		case err := <-errs:
			return "", err
		}
	}

	for _, class := range results {
		if class == "" {
			continue
		}
		merged, err := c.merger.MergeOrtho(ctx, class, word)
		if err != nil {
			return "", fmt.Errorf("assign: merging %q into %q: %w", word, class, err)
		}
		return merged, nil
	}
	return word, nil
}

// AssignExpandClass iteratively folds every matching candidate in
// candidateList into class, continuing with the remainder after each
// merge (spec.md §4.5.2). It returns the (possibly expanded) class.
func (c *Controller) AssignExpandClass(ctx context.Context, class string, candidateList []string) (string, error) {
	current := class
	for _, cand := range candidateList {
		ok, err := c.oracle.ShouldMerge(ctx, current, cand)
		if err != nil {
			return "", fmt.Errorf("assign: comparing %q against %q: %w", current, cand, err)
		}
		if !ok {
			continue
		}
		merged, err := c.merger.MergeOrtho(ctx, current, cand)
		if err != nil {
			return "", fmt.Errorf("assign: expanding %q with %q: %w", current, cand, err)
		}
		current = merged
	}
	return current, nil
}
