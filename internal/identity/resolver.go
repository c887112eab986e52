package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"wabridge/internal/domain"
	"wabridge/internal/identity/metrics"
)

// identifierPairs maps each identifier-bearing payload field to the
// companion field the upstream library uses for the alternate form of the
// same participant. Upstream emits the alternate sporadically, which is
// exactly why sightings are cached.
var identifierPairs = map[string]string{
	"remoteJid":   "remoteJidAlt",
	"participant": "participantAlt",
	"sender":      "senderPn",
}

// Resolver rewrites ambiguous identifiers in normalized events to their
// canonical form using the identity cache. It is a pure transform apart from
// cache reads and writes: it never blocks dispatch and never fails an event.
type Resolver struct {
	cache   Cache
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

func WithLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = logger }
}

func WithMetrics(m *metrics.Metrics) ResolverOption {
	return func(r *Resolver) { r.metrics = m }
}

// NewResolver constructs a Resolver backed by cache.
func NewResolver(cache Cache, opts ...ResolverOption) (*Resolver, error) {
	if cache == nil {
		return nil, fmt.Errorf("identity cache is required")
	}
	r := &Resolver{cache: cache, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Resolve rewrites every identifier-bearing field in the event payload.
//
// When an alternate accompanies an opaque primary in the same document, the
// alternate becomes the externally visible identifier and the pairing is
// cached so later events carrying only the opaque form still resolve. A
// lookup miss leaves the original identifier untouched and flags the event;
// it never withholds it from dispatch.
func (r *Resolver) Resolve(ctx context.Context, event domain.NormalizedEvent) domain.NormalizedEvent {
	incomplete := false
	sawIdentifier := false

	r.walk(ctx, event.Payload, &incomplete, &sawIdentifier)

	if !event.SubjectID.IsZero() {
		sawIdentifier = true
		event.SubjectID = r.resolveOne(ctx, event.SubjectID, &incomplete)
	}

	// Administrative events can arrive without any identifier at all; that
	// is an unresolved event, not a reason to invent a synthetic subject.
	if !sawIdentifier {
		incomplete = true
	}

	if incomplete {
		r.metrics.RecordIncomplete()
	}
	event.ResolutionIncomplete = incomplete
	return event
}

func (r *Resolver) walk(ctx context.Context, doc map[string]any, incomplete, sawIdentifier *bool) {
	if doc == nil {
		return
	}
	for primaryField, altField := range identifierPairs {
		raw, ok := doc[primaryField].(string)
		if !ok || raw == "" {
			continue
		}
		*sawIdentifier = true

		primary := domain.ParseIdentifier(raw)
		if alt, ok := doc[altField].(string); ok && alt != "" {
			canonical := domain.ParseIdentifier(alt)
			rec, err := r.cache.Upsert(ctx, canonical, primary, displayName(doc))
			if err != nil {
				r.logger.Warn("identity upsert failed", "identifier", raw, "error", err)
				*incomplete = true
				continue
			}
			doc[primaryField] = canonical.Value
			r.fillName(doc, rec)
			continue
		}

		resolved := r.resolveOne(ctx, primary, incomplete)
		doc[primaryField] = resolved.Value
		if rec, err := r.cache.Resolve(ctx, resolved); err == nil {
			r.fillName(doc, rec)
		}
	}

	for _, v := range doc {
		switch child := v.(type) {
		case map[string]any:
			r.walk(ctx, child, incomplete, sawIdentifier)
		case []any:
			for _, item := range child {
				if m, ok := item.(map[string]any); ok {
					r.walk(ctx, m, incomplete, sawIdentifier)
				}
			}
		}
	}
}

// resolveOne maps a single identifier to canonical form. Phone and group
// identifiers are already canonical; only opaque forms need the cache.
func (r *Resolver) resolveOne(ctx context.Context, id domain.Identifier, incomplete *bool) domain.Identifier {
	if id.Form != domain.FormOpaque {
		return id
	}
	rec, err := r.cache.Resolve(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			r.logger.Warn("identity resolve failed", "identifier", id.Value, "error", err)
		}
		r.metrics.RecordMiss()
		*incomplete = true
		return id
	}
	r.metrics.RecordHit()
	return rec.CanonicalID
}

// fillName backfills a missing push name from the cached display name. It
// never falls back to the numeric portion of an identifier: an absent name
// stays absent.
func (r *Resolver) fillName(doc map[string]any, rec domain.IdentityRecord) {
	if rec.DisplayName == "" {
		return
	}
	if current, ok := doc["pushName"].(string); ok && current != "" {
		return
	}
	if _, present := doc["pushName"]; present || docExpectsName(doc) {
		doc["pushName"] = rec.DisplayName
	}
}

// docExpectsName reports whether the document shape carries sender-level
// fields where subscribers expect a friendly name.
func docExpectsName(doc map[string]any) bool {
	_, hasSender := doc["sender"]
	_, hasParticipant := doc["participant"]
	return hasSender || hasParticipant
}

func displayName(doc map[string]any) string {
	if name, ok := doc["pushName"].(string); ok {
		return name
	}
	return ""
}
