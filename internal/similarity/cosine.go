// Package similarity computes and thresholds cosine similarity between
// two entities' sparse observation vectors.
package similarity

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/hurttlocker/wordclass/internal/vectorstore"
)

// Event describes one similarity comparison for observability purposes
// (spec.md §6): cosine value, entity kind, both names, elapsed time.
// Callers wire a sink to consume these; nothing here owns a logger.
type Event struct {
	EntityA        string                 `json:"entity_a"`
	EntityB        string                 `json:"entity_b"`
	KindA          vectorstore.EntityKind `json:"kind_a"`
	KindB          vectorstore.EntityKind `json:"kind_b"`
	Cosine         float64                `json:"cosine"`
	ElapsedSeconds float64                `json:"elapsed_seconds"`
}

// Sink receives similarity Events. A nil Sink is valid and discards events.
type Sink func(Event)

// Oracle computes cosine similarity by co-iterating pairs through a store.
type Oracle struct {
	store     vectorstore.Store
	threshold float64
	sink      Sink
}

// Option configures an Oracle.
type Option func(*Oracle)

// WithThreshold overrides the default cosine threshold (spec.md §4.3, θ).
func WithThreshold(theta float64) Option {
	return func(o *Oracle) { o.threshold = theta }
}

// WithSink registers an observability sink for comparison events.
func WithSink(sink Sink) Option {
	return func(o *Oracle) { o.sink = sink }
}

// DefaultThreshold is θ from spec.md §6.
const DefaultThreshold = 0.65

// New returns an Oracle backed by store with DefaultThreshold unless
// overridden by opts.
func New(store vectorstore.Store, opts ...Option) *Oracle {
	o := &Oracle{store: store, threshold: DefaultThreshold}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Cosine computes cosine(e1, e2) by co-iterating their pairs (spec.md
// §4.3). An entity with empty support yields cosine 0.
func (o *Oracle) Cosine(ctx context.Context, e1, e2 string) (float64, error) {
	slots, err := o.store.PairedRightStars(ctx, e1, e2)
	if err != nil {
		return 0, fmt.Errorf("similarity: co-iterating %q, %q: %w", e1, e2, err)
	}

	var dot, normA, normB float64
	for _, slot := range slots {
		var a, b float64
		if slot.A != nil {
			a = slot.A.Count
		}
		if slot.B != nil {
			b = slot.B.Count
		}
		dot += a * b
		normA += a * a
		normB += b * b
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// ShouldMerge reports whether cosine(e1, e2) meets the configured
// threshold (spec.md §4.3). Comparing against an empty-support entity
// always returns false (B1).
func (o *Oracle) ShouldMerge(ctx context.Context, e1, e2 string) (bool, error) {
	start := time.Now()
	cos, err := o.Cosine(ctx, e1, e2)
	if err != nil {
		return false, err
	}
	if o.sink != nil {
		ent1, err1 := o.store.GetEntity(ctx, e1)
		ent2, err2 := o.store.GetEntity(ctx, e2)
		ev := Event{EntityA: e1, EntityB: e2, Cosine: cos, ElapsedSeconds: time.Since(start).Seconds()}
		if err1 == nil {
			ev.KindA = ent1.Kind
		}
		if err2 == nil {
			ev.KindB = ent2.Kind
		}
		o.sink(ev)
	}
	return cos >= o.threshold, nil
}
