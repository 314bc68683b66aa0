// Package merge implements the orthogonal and semantic merge policies
// that fold two entities' sparse vectors into a class entity.
package merge

import (
	"context"
	"errors"
	"fmt"

	"github.com/hurttlocker/wordclass/internal/vectorstore"
)

// ErrSelfMerge is returned when a caller attempts to merge an entity
// with itself (spec.md §7 "Class-self-merge").
var ErrSelfMerge = errors.New("merge: cannot merge an entity with itself")

// ErrEmptyVector is returned by callers that wish to distinguish a
// zero-length-vector no-op from a genuine merge; the Engine itself does
// not return it — a zero-length merge is a no-op that returns the
// unmerged WA unchanged, per spec.md §7.
var ErrEmptyVector = errors.New("merge: vector has zero length")

// Engine executes merge_ortho and merge_semantic against a store.
type Engine struct {
	store vectorstore.Store
	alpha float64
}

// DefaultAlpha is α from spec.md §6.
const DefaultAlpha = 0.3

// New returns an Engine with merge fraction alpha.
func New(store vectorstore.Store, alpha float64) *Engine {
	return &Engine{store: store, alpha: alpha}
}

func toMap(pairs []vectorstore.Pair) map[string]float64 {
	m := make(map[string]float64, len(pairs))
	for _, p := range pairs {
		m[p.Basis] = p.Count
	}
	return m
}

// MergeOrtho executes the orthogonal merge policy (spec.md §4.4.1).
// wa may be atomic or a class; wb must be atomic. It returns the class
// entity K, or wa unchanged with nothing written if either side has empty
// support or the class vector would have zero length (no mass to persist).
func (e *Engine) MergeOrtho(ctx context.Context, wa, wb string) (string, error) {
	if wa == wb {
		return "", ErrSelfMerge
	}
	waEnt, err := e.store.GetEntity(ctx, wa)
	if err != nil {
		return "", fmt.Errorf("merge: resolving %q: %w", wa, err)
	}
	waAtomic := waEnt.Kind == vectorstore.Atomic

	slots, err := e.store.PairedRightStars(ctx, wa, wb)
	if err != nil {
		return "", fmt.Errorf("merge: co-iterating %q, %q: %w", wa, wb, err)
	}

	// An empty side, or a class vector that would receive no mass, makes the
	// merge a no-op; detect it before allocating the class so nothing is written.
	waHas, wbHas, massless := false, false, e.alpha <= 0
	for _, slot := range slots {
		waHas = waHas || slot.A != nil
		wbHas = wbHas || slot.B != nil
		massless = massless && !(slot.A != nil && (slot.B != nil || !waAtomic))
	}
	if !waHas || !wbHas || massless {
		return wa, nil
	}

	className := wa
	if waAtomic {
		className, err = e.store.NextClassName(ctx)
		if err != nil {
			return "", fmt.Errorf("merge: allocating class name: %w", err)
		}
		if err := e.store.CreateEntity(ctx, className, vectorstore.Class); err != nil {
			return "", fmt.Errorf("merge: creating class %q: %w", className, err)
		}
	}

	var l2 float64
	for _, slot := range slots {
		var a, w float64
		if slot.A != nil {
			a = slot.A.Count
		}
		if slot.B != nil {
			w = slot.B.Count
		}

		var aPrime, wPrime float64
		switch {
		case slot.A != nil && slot.B != nil:
			aPrime, wPrime = a, w
		case slot.A != nil && slot.B == nil:
			if waAtomic {
				aPrime = e.alpha * a
			} else {
				// Lone side belongs to a class: take full mass, never shrink.
				aPrime = a
			}
		case slot.A == nil && slot.B != nil:
			wPrime = e.alpha * w
		}

		k := aPrime + wPrime
		if k > 0 {
			if err := e.store.SetCount(ctx, className, slot.Basis, k); err != nil {
				return "", fmt.Errorf("merge: depositing class mass at %q: %w", slot.Basis, err)
			}
			l2 += k * k
		}
	}

	if l2 == 0 {
		// Zero-length merge: no-op (spec.md §7).
		return wa, nil
	}

	if err := e.orthogonalize(ctx, className, wb, l2); err != nil {
		return "", err
	}
	if waAtomic {
		if err := e.orthogonalize(ctx, className, wa, l2); err != nil {
			return "", err
		}
	}

	if waAtomic {
		if err := e.store.PersistMembership(ctx, wa, className); err != nil {
			return "", fmt.Errorf("merge: persisting membership: %w", err)
		}
	}
	if err := e.store.PersistMembership(ctx, wb, className); err != nil {
		return "", fmt.Errorf("merge: persisting membership: %w", err)
	}

	return className, nil
}

// orthogonalize projects constituent against class k and clamps negative
// residuals to deletion (spec.md §4.4.1 Pass 3).
func (e *Engine) orthogonalize(ctx context.Context, k, constituent string, l2 float64) error {
	if l2 <= 0 {
		return nil
	}
	slots, err := e.store.PairedRightStars(ctx, k, constituent)
	if err != nil {
		return fmt.Errorf("merge: co-iterating %q, %q: %w", k, constituent, err)
	}

	var dot float64
	for _, slot := range slots {
		var kVal, eVal float64
		if slot.A != nil {
			kVal = slot.A.Count
		}
		if slot.B != nil {
			eVal = slot.B.Count
		}
		dot += kVal * eVal
	}
	u := dot / l2

	for _, slot := range slots {
		var kVal, eVal float64
		if slot.A != nil {
			kVal = slot.A.Count
		}
		if slot.B != nil {
			eVal = slot.B.Count
		}
		orth := eVal - u*kVal
		if orth < 0 {
			orth = 0
		}
		if err := e.store.SetCount(ctx, constituent, slot.Basis, orth); err != nil {
			return fmt.Errorf("merge: orthogonalizing %q at %q: %w", constituent, slot.Basis, err)
		}
	}
	return nil
}

// MergeSemantic executes the semantic (overlap-projection) merge policy
// (spec.md §4.4.2). It returns the class entity K, or wa unchanged if
// either vector is empty or no mass results.
func (e *Engine) MergeSemantic(ctx context.Context, wa, wb string) (string, error) {
	if wa == wb {
		return "", ErrSelfMerge
	}
	waEnt, err := e.store.GetEntity(ctx, wa)
	if err != nil {
		return "", fmt.Errorf("merge: resolving %q: %w", wa, err)
	}
	waAtomic := waEnt.Kind == vectorstore.Atomic

	waPairs, err := e.store.RightStars(ctx, wa)
	if err != nil {
		return "", fmt.Errorf("merge: reading %q: %w", wa, err)
	}
	wbPairs, err := e.store.RightStars(ctx, wb)
	if err != nil {
		return "", fmt.Errorf("merge: reading %q: %w", wb, err)
	}
	if len(waPairs) == 0 || len(wbPairs) == 0 {
		return wa, nil
	}
	waMap, wbMap := toMap(waPairs), toMap(wbPairs)

	className := wa
	if waAtomic {
		className, err = e.store.NextClassName(ctx)
		if err != nil {
			return "", fmt.Errorf("merge: allocating class name: %w", err)
		}
		if err := e.store.CreateEntity(ctx, className, vectorstore.Class); err != nil {
			return "", fmt.Errorf("merge: creating class %q: %w", className, err)
		}
	}

	var normA2, dot float64
	for _, a := range waMap {
		normA2 += a * a
	}
	overlap := make([]string, 0, len(waMap))
	for b, a := range waMap {
		if bw, ok := wbMap[b]; ok {
			dot += a * bw
			overlap = append(overlap, b)
		}
	}
	var u float64
	if normA2 > 0 {
		u = dot / normA2
	}

	// Overlap bases are deposited into K as a projection, not a plain sum:
	// vPerp is the component of WB's overlap mass orthogonal to WA, clamped
	// to zero same as MergeOrtho's orthogonalize. Only an α-fraction of the
	// clamped orthogonal mass is redistributed back into K (spec.md §4.4.2);
	// the rest stays behind as WB's residual, so nothing is minted at b.
	createdMass := false
	for _, b := range overlap {
		a, bw := waMap[b], wbMap[b]

		vPerp := bw - u*a
		vClamp := vPerp
		if vClamp < 0 {
			vClamp = 0
		}
		redistributed := e.alpha * vClamp

		k := a + bw - vClamp + redistributed
		if k > 0 {
			if err := e.store.SetCount(ctx, className, b, k); err != nil {
				return "", fmt.Errorf("merge: depositing overlap mass at %q: %w", b, err)
			}
			createdMass = true
		}
		if waAtomic {
			if err := e.store.SetCount(ctx, wa, b, 0); err != nil {
				return "", fmt.Errorf("merge: clearing overlap residual on %q: %w", wa, err)
			}
		}
		if err := e.store.SetCount(ctx, wb, b, vClamp-redistributed); err != nil {
			return "", fmt.Errorf("merge: orthogonalizing overlap residual on %q: %w", wb, err)
		}
	}

	if !createdMass {
		return wa, nil
	}

	if waAtomic {
		if err := e.store.PersistMembership(ctx, wa, className); err != nil {
			return "", fmt.Errorf("merge: persisting membership: %w", err)
		}
	}
	if err := e.store.PersistMembership(ctx, wb, className); err != nil {
		return "", fmt.Errorf("merge: persisting membership: %w", err)
	}

	return className, nil
}
