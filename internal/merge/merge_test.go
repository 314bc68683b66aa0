package merge

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/hurttlocker/wordclass/internal/vectorstore"
)

func newTestEngine(t *testing.T, alpha float64) (*Engine, vectorstore.Store) {
	t.Helper()
	store, err := vectorstore.Open(vectorstore.Config{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store, alpha), store
}

func approxEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestMergeOrthoSelfMergeRejected(t *testing.T) {
	ctx := context.Background()
	e, store := newTestEngine(t, 0.3)
	store.CreateEntity(ctx, "A", vectorstore.Atomic)

	_, err := e.MergeOrtho(ctx, "A", "A")
	if !errors.Is(err, ErrSelfMerge) {
		t.Fatalf("got %v, want ErrSelfMerge", err)
	}
}

func TestMergeOrthoScenarioS1(t *testing.T) {
	// S1: A={x:4,y:2}, B={x:2,y:4}, alpha=0.3 -> K={x:6,y:6}, A_post={x:1}, B_post={y:1}
	ctx := context.Background()
	e, store := newTestEngine(t, 0.3)
	store.CreateEntity(ctx, "A", vectorstore.Atomic)
	store.CreateEntity(ctx, "B", vectorstore.Atomic)
	store.SetCount(ctx, "A", "x", 4)
	store.SetCount(ctx, "A", "y", 2)
	store.SetCount(ctx, "B", "x", 2)
	store.SetCount(ctx, "B", "y", 4)

	k, err := e.MergeOrtho(ctx, "A", "B")
	if err != nil {
		t.Fatalf("MergeOrtho: %v", err)
	}

	kx, _ := store.Count(ctx, k, "x")
	ky, _ := store.Count(ctx, k, "y")
	if !approxEqual(kx, 6) || !approxEqual(ky, 6) {
		t.Fatalf("got K={x:%v,y:%v}, want {x:6,y:6}", kx, ky)
	}

	ax, _ := store.Count(ctx, "A", "x")
	ay, _ := store.Count(ctx, "A", "y")
	if !approxEqual(ax, 1) || ay != 0 {
		t.Fatalf("got A_post={x:%v,y:%v}, want {x:1,y:deleted}", ax, ay)
	}

	bx, _ := store.Count(ctx, "B", "x")
	by, _ := store.Count(ctx, "B", "y")
	if bx != 0 || !approxEqual(by, 1) {
		t.Fatalf("got B_post={x:%v,y:%v}, want {x:deleted,y:1}", bx, by)
	}

	members, _ := store.MembersOf(ctx, k)
	if len(members) != 2 {
		t.Fatalf("got %d members, want 2", len(members))
	}
}

func TestMergeOrthoScenarioS3(t *testing.T) {
	// S3: A={x:3,y:3}, B={y:3,z:3}, alpha=0.3 -> K={x:0.9,y:6,z:0.9}
	ctx := context.Background()
	e, store := newTestEngine(t, 0.3)
	store.CreateEntity(ctx, "A", vectorstore.Atomic)
	store.CreateEntity(ctx, "B", vectorstore.Atomic)
	store.SetCount(ctx, "A", "x", 3)
	store.SetCount(ctx, "A", "y", 3)
	store.SetCount(ctx, "B", "y", 3)
	store.SetCount(ctx, "B", "z", 3)

	k, err := e.MergeOrtho(ctx, "A", "B")
	if err != nil {
		t.Fatalf("MergeOrtho: %v", err)
	}

	kx, _ := store.Count(ctx, k, "x")
	ky, _ := store.Count(ctx, k, "y")
	kz, _ := store.Count(ctx, k, "z")
	if !approxEqual(kx, 0.9) || !approxEqual(ky, 6) || !approxEqual(kz, 0.9) {
		t.Fatalf("got K={x:%v,y:%v,z:%v}, want {x:0.9,y:6,z:0.9}", kx, ky, kz)
	}
}

func TestMergeOrthoEmptySupportIsNoop(t *testing.T) {
	// B1: empty support on either side -> no merge, no class created.
	ctx := context.Background()
	e, store := newTestEngine(t, 0.3)
	store.CreateEntity(ctx, "A", vectorstore.Atomic)
	store.CreateEntity(ctx, "empty", vectorstore.Atomic)
	store.SetCount(ctx, "A", "x", 4)

	before, _ := store.AllEntityNames(ctx)
	result, err := e.MergeOrtho(ctx, "A", "empty")
	if err != nil {
		t.Fatalf("MergeOrtho: %v", err)
	}
	if result != "A" {
		t.Fatalf("got %q, want unchanged A", result)
	}
	after, _ := store.AllEntityNames(ctx)
	if len(after) != len(before) {
		t.Fatalf("a class entity leaked into the store: before=%v after=%v", before, after)
	}
}

func TestMergeOrthoAlphaZeroDisjointSupportsPersistsNothing(t *testing.T) {
	// B2: alpha=0 with disjoint supports -> empty class, must not persist.
	ctx := context.Background()
	e, store := newTestEngine(t, 0)
	store.CreateEntity(ctx, "A", vectorstore.Atomic)
	store.CreateEntity(ctx, "B", vectorstore.Atomic)
	store.SetCount(ctx, "A", "x", 4)
	store.SetCount(ctx, "B", "y", 4)

	before, _ := store.AllEntityNames(ctx)
	result, err := e.MergeOrtho(ctx, "A", "B")
	if err != nil {
		t.Fatalf("MergeOrtho: %v", err)
	}
	if result != "A" {
		t.Fatalf("got %q, want unchanged A", result)
	}
	after, _ := store.AllEntityNames(ctx)
	if len(after) != len(before) {
		t.Fatalf("an empty class entity leaked into the store: before=%v after=%v", before, after)
	}
}

func TestMergeOrthoAlphaOneDisjointSupports(t *testing.T) {
	// B3: alpha=1 with disjoint supports -> class contains full sum.
	ctx := context.Background()
	e, store := newTestEngine(t, 1)
	store.CreateEntity(ctx, "A", vectorstore.Atomic)
	store.CreateEntity(ctx, "B", vectorstore.Atomic)
	store.SetCount(ctx, "A", "x", 4)
	store.SetCount(ctx, "B", "y", 5)

	k, err := e.MergeOrtho(ctx, "A", "B")
	if err != nil {
		t.Fatalf("MergeOrtho: %v", err)
	}
	kx, _ := store.Count(ctx, k, "x")
	ky, _ := store.Count(ctx, k, "y")
	if !approxEqual(kx, 4) || !approxEqual(ky, 5) {
		t.Fatalf("got K={x:%v,y:%v}, want {x:4,y:5}", kx, ky)
	}
}

func TestMergeOrthoClassNeverShrinks(t *testing.T) {
	// Merging a third atomic word into an existing class must not reduce
	// the class's existing mass at bases absent from the new word.
	ctx := context.Background()
	e, store := newTestEngine(t, 0.3)
	store.CreateEntity(ctx, "A", vectorstore.Atomic)
	store.CreateEntity(ctx, "B", vectorstore.Atomic)
	store.SetCount(ctx, "A", "x", 4)
	store.SetCount(ctx, "A", "y", 2)
	store.SetCount(ctx, "B", "x", 2)
	store.SetCount(ctx, "B", "y", 4)

	k, err := e.MergeOrtho(ctx, "A", "B")
	if err != nil {
		t.Fatalf("MergeOrtho: %v", err)
	}
	kxBefore, _ := store.Count(ctx, k, "x")

	store.CreateEntity(ctx, "C", vectorstore.Atomic)
	store.SetCount(ctx, "C", "z", 9)

	k2, err := e.MergeOrtho(ctx, k, "C")
	if err != nil {
		t.Fatalf("MergeOrtho expand: %v", err)
	}
	if k2 != k {
		t.Fatalf("expanding an existing class must not rename it: got %q, want %q", k2, k)
	}
	kxAfter, _ := store.Count(ctx, k, "x")
	if kxAfter < kxBefore {
		t.Fatalf("class x-mass shrank from %v to %v", kxBefore, kxAfter)
	}
}

func TestMergeSemanticOverlapOnly(t *testing.T) {
	// A={x:3,y:3}, B={y:3,z:3}, alpha=0.3: overlap is basis y.
	// normA2 = 3²+3² = 18, dot = 3·3 = 9, u = 0.5.
	// vPerp = 3 - 0.5·3 = 1.5 = vClamp; redistributed = 0.3·1.5 = 0.45.
	// K.y = 3 + 3 - 1.5 + 0.45 = 4.95; B.y residual = 1.5 - 0.45 = 1.05.
	ctx := context.Background()
	e, store := newTestEngine(t, 0.3)
	store.CreateEntity(ctx, "A", vectorstore.Atomic)
	store.CreateEntity(ctx, "B", vectorstore.Atomic)
	store.SetCount(ctx, "A", "x", 3)
	store.SetCount(ctx, "A", "y", 3)
	store.SetCount(ctx, "B", "y", 3)
	store.SetCount(ctx, "B", "z", 3)

	k, err := e.MergeSemantic(ctx, "A", "B")
	if err != nil {
		t.Fatalf("MergeSemantic: %v", err)
	}
	ky, _ := store.Count(ctx, k, "y")
	if !approxEqual(ky, 4.95) {
		t.Fatalf("got K.y=%v, want 4.95", ky)
	}
	// WA's overlap contribution is fully absorbed; WB keeps the
	// non-redistributed slice of its orthogonal component as a residual.
	ay, _ := store.Count(ctx, "A", "y")
	by, _ := store.Count(ctx, "B", "y")
	if ay != 0 || !approxEqual(by, 1.05) {
		t.Fatalf("got A.y=%v B.y=%v, want A.y=0 B.y=1.05", ay, by)
	}
}

func TestMergeSemanticConservesOverlapMass(t *testing.T) {
	// P3: Σcount(K)+Σcount(WA)+Σcount(WB) must never exceed the pre-merge
	// sum, for any alpha. Sweep several alphas over the same S3-style
	// scenario used for MergeOrtho.
	for _, alpha := range []float64{0, 0.3, 0.7, 1} {
		ctx := context.Background()
		e, store := newTestEngine(t, alpha)
		store.CreateEntity(ctx, "A", vectorstore.Atomic)
		store.CreateEntity(ctx, "B", vectorstore.Atomic)
		store.SetCount(ctx, "A", "x", 3)
		store.SetCount(ctx, "A", "y", 3)
		store.SetCount(ctx, "B", "y", 3)
		store.SetCount(ctx, "B", "z", 3)
		pre := 3.0 + 3.0 + 3.0 + 3.0

		k, err := e.MergeSemantic(ctx, "A", "B")
		if err != nil {
			t.Fatalf("alpha=%v: MergeSemantic: %v", alpha, err)
		}

		var post float64
		for _, entity := range []string{k, "A", "B"} {
			pairs, err := store.RightStars(ctx, entity)
			if err != nil {
				t.Fatalf("alpha=%v: RightStars(%q): %v", alpha, entity, err)
			}
			for _, p := range pairs {
				post += p.Count
			}
		}
		if post > pre+1e-9 {
			t.Fatalf("alpha=%v: mass grew from %v to %v", alpha, pre, post)
		}
	}
}

func TestMergeSemanticSelfMergeRejected(t *testing.T) {
	ctx := context.Background()
	e, store := newTestEngine(t, 0.3)
	store.CreateEntity(ctx, "A", vectorstore.Atomic)

	_, err := e.MergeSemantic(ctx, "A", "A")
	if !errors.Is(err, ErrSelfMerge) {
		t.Fatalf("got %v, want ErrSelfMerge", err)
	}
}

func TestMergeOrthoRoundTripResidualExplainedByClamp(t *testing.T) {
	// R2: merge_ortho(K,w) immediately followed by should_merge(K,w) must
	// be false, or explained by the clamp. Here the clamp fires: K={x:6,y:6}
	// and B's unclamped residual {x:-1,y:1} is orthogonal to K, but x is
	// clamped to zero, leaving B_post={y:1}. The residual dot is therefore
	// K.y·B.y = 6 instead of 0 (cosine 6/√72 ≈ 0.71).
	ctx := context.Background()
	e, store := newTestEngine(t, 0.3)
	store.CreateEntity(ctx, "A", vectorstore.Atomic)
	store.CreateEntity(ctx, "B", vectorstore.Atomic)
	store.SetCount(ctx, "A", "x", 4)
	store.SetCount(ctx, "A", "y", 2)
	store.SetCount(ctx, "B", "x", 2)
	store.SetCount(ctx, "B", "y", 4)

	k, err := e.MergeOrtho(ctx, "A", "B")
	if err != nil {
		t.Fatalf("MergeOrtho: %v", err)
	}

	slots, err := store.PairedRightStars(ctx, k, "B")
	if err != nil {
		t.Fatalf("PairedRightStars: %v", err)
	}
	var dot float64
	for _, slot := range slots {
		var kv, bv float64
		if slot.A != nil {
			kv = slot.A.Count
		}
		if slot.B != nil {
			bv = slot.B.Count
		}
		dot += kv * bv
	}
	if !approxEqual(dot, 6) {
		t.Fatalf("got residual dot %v after orthogonalization, want 6 (K.y·B.y left by the x clamp)", dot)
	}
}
