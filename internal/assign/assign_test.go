package assign

import (
	"context"
	"testing"

	"github.com/hurttlocker/wordclass/internal/merge"
	"github.com/hurttlocker/wordclass/internal/similarity"
	"github.com/hurttlocker/wordclass/internal/vectorstore"
)

func newTestController(t *testing.T) (*Controller, vectorstore.Store) {
	t.Helper()
	store, err := vectorstore.Open(vectorstore.Config{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	oracle := similarity.New(store)
	merger := merge.New(store, merge.DefaultAlpha)
	return New(oracle, merger), store
}

func TestAssignWordToClassEmptyListUnchanged(t *testing.T) {
	ctx := context.Background()
	c, store := newTestController(t)
	store.CreateEntity(ctx, "dog", vectorstore.Atomic)
	store.SetCount(ctx, "dog", "bark", 4)

	result, err := c.AssignWordToClass(ctx, "dog", nil)
	if err != nil {
		t.Fatalf("AssignWordToClass: %v", err)
	}
	if result != "dog" {
		t.Fatalf("got %q, want unchanged dog", result)
	}
}

func TestAssignWordToClassNoMatch(t *testing.T) {
	ctx := context.Background()
	c, store := newTestController(t)
	store.CreateEntity(ctx, "dog", vectorstore.Atomic)
	store.CreateEntity(ctx, "class-x", vectorstore.Class)
	store.SetCount(ctx, "dog", "bark", 4)
	store.SetCount(ctx, "class-x", "swim", 9)

	result, err := c.AssignWordToClass(ctx, "dog", []string{"class-x"})
	if err != nil {
		t.Fatalf("AssignWordToClass: %v", err)
	}
	if result != "dog" {
		t.Fatalf("got %q, want unchanged dog (orthogonal supports)", result)
	}
}

func TestAssignWordToClassDeterministicFirstMatch(t *testing.T) {
	// Two classes both match; the lowest-indexed one must win regardless
	// of dispatch order (spec.md §5).
	ctx := context.Background()
	c, store := newTestController(t)
	store.CreateEntity(ctx, "word", vectorstore.Atomic)
	store.CreateEntity(ctx, "class-a", vectorstore.Class)
	store.CreateEntity(ctx, "class-b", vectorstore.Class)
	store.SetCount(ctx, "word", "x", 4)
	store.SetCount(ctx, "word", "y", 4)
	store.SetCount(ctx, "class-a", "x", 4)
	store.SetCount(ctx, "class-a", "y", 4)
	store.SetCount(ctx, "class-b", "x", 4)
	store.SetCount(ctx, "class-b", "y", 4)

	for i := 0; i < 10; i++ {
		result, err := c.AssignWordToClass(ctx, "word", []string{"class-a", "class-b"})
		if err != nil {
			t.Fatalf("AssignWordToClass: %v", err)
		}
		if result != "class-a" {
			t.Fatalf("iteration %d: got %q, want class-a (lowest index)", i, result)
		}
		// Undo the merge side effect for the next iteration by recreating word.
		store.CreateEntity(ctx, "word", vectorstore.Atomic)
		store.SetCount(ctx, "word", "x", 4)
		store.SetCount(ctx, "word", "y", 4)
	}
}

func TestAssignExpandClassFoldsMatches(t *testing.T) {
	ctx := context.Background()
	c, store := newTestController(t)
	store.CreateEntity(ctx, "dog", vectorstore.Atomic)
	store.CreateEntity(ctx, "cat", vectorstore.Atomic)
	store.CreateEntity(ctx, "rock", vectorstore.Atomic)
	store.SetCount(ctx, "dog", "chase", 4)
	store.SetCount(ctx, "dog", "eat", 4)
	store.SetCount(ctx, "cat", "chase", 4)
	store.SetCount(ctx, "cat", "eat", 4)
	store.SetCount(ctx, "rock", "sit", 9)

	result, err := c.AssignExpandClass(ctx, "dog", []string{"cat", "rock"})
	if err != nil {
		t.Fatalf("AssignExpandClass: %v", err)
	}
	if result == "dog" {
		t.Fatalf("expected dog to expand into a class after merging with cat")
	}
	members, err := store.MembersOf(ctx, result)
	if err != nil {
		t.Fatalf("MembersOf: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("got %d members, want 2 (dog, cat) — rock should not have joined", len(members))
	}
}
