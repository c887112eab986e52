// Package pipeline wires the stages together: raw frames in, normalized and
// identity-resolved events handed to the dispatcher.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"wabridge/internal/domain"
	"wabridge/internal/identity"
	"wabridge/internal/normalizer"
)

// defaultDrainInterval is how often accumulating buffers are checked for
// emission. It should sit well under the normalizer window.
const defaultDrainInterval = 100 * time.Millisecond

// Enqueuer accepts resolved events for delivery.
type Enqueuer interface {
	Enqueue(ctx context.Context, event domain.NormalizedEvent)
}

// Pipeline connects the normalizer, the identity resolver and the
// dispatcher. Frames arrive via OnBatch; Run owns the drain loop.
type Pipeline struct {
	normalizer *normalizer.Normalizer
	resolver   *identity.Resolver
	dispatcher Enqueuer
	logger     *slog.Logger
	tracer     trace.Tracer
	interval   time.Duration
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

func WithDrainInterval(interval time.Duration) Option {
	return func(p *Pipeline) { p.interval = interval }
}

// New constructs a Pipeline over its three stages.
func New(n *normalizer.Normalizer, r *identity.Resolver, d Enqueuer, opts ...Option) (*Pipeline, error) {
	if n == nil || r == nil || d == nil {
		return nil, fmt.Errorf("normalizer, resolver and dispatcher are all required")
	}
	p := &Pipeline{
		normalizer: n,
		resolver:   r,
		dispatcher: d,
		logger:     slog.Default(),
		tracer:     otel.Tracer("wabridge/pipeline"),
		interval:   defaultDrainInterval,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// OnBatch accepts one upstream frame. The payload may be a single document
// or a batch array; either way every document goes through the normalizer.
func (p *Pipeline) OnBatch(eventType string, payload json.RawMessage) {
	for _, doc := range splitDocs(payload) {
		p.normalizer.Ingest(eventType, doc)
	}
}

// splitDocs decodes a payload into its constituent documents. Batches arrive
// as arrays; anything that is not an object or an array of objects yields an
// empty document so the event still carries its kind downstream.
func splitDocs(payload json.RawMessage) []map[string]any {
	trimmed := trimLeft(payload)
	if len(trimmed) == 0 {
		return []map[string]any{{}}
	}

	switch trimmed[0] {
	case '[':
		var batch []map[string]any
		if err := json.Unmarshal(payload, &batch); err != nil || len(batch) == 0 {
			return []map[string]any{{}}
		}
		return batch
	case '{':
		var doc map[string]any
		if err := json.Unmarshal(payload, &doc); err != nil {
			return []map[string]any{{}}
		}
		return []map[string]any{doc}
	default:
		return []map[string]any{{}}
	}
}

func trimLeft(payload json.RawMessage) []byte {
	i := 0
	for i < len(payload) {
		switch payload[i] {
		case ' ', '\t', '\n', '\r':
			i++
		default:
			return payload[i:]
		}
	}
	return nil
}

// Run drains ready events on a fixed cadence until ctx is cancelled, then
// performs one final flush-and-drain so buffered state is not lost on
// shutdown.
func (p *Pipeline) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.normalizer.Flush()
			p.drain(context.WithoutCancel(ctx))
			return ctx.Err()
		case <-ticker.C:
			p.drain(ctx)
		}
	}
}

// drain moves every ready event through identity resolution and into the
// dispatch queue.
func (p *Pipeline) drain(ctx context.Context) {
	ready := p.normalizer.DrainReady()
	if len(ready) == 0 {
		return
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.drain",
		trace.WithAttributes(attribute.Int("pipeline.events", len(ready))))
	defer span.End()

	for _, event := range ready {
		resolved := p.resolver.Resolve(ctx, event)
		p.dispatcher.Enqueue(ctx, resolved)
	}
}
