package domain

import (
	"time"

	"github.com/google/uuid"
)

// NormalizedEvent is the fixed internal representation every upstream batch
// is converted into before resolution and dispatch. Payload is a generic
// document because its shape varies per kind; Kind is always drawn from the
// closed canonical set.
type NormalizedEvent struct {
	ID             string
	Kind           EventKind
	Instance       string
	SubjectID      Identifier
	Payload        map[string]any
	ObservedAt     time.Time
	BufferGroupKey string

	// ResolutionIncomplete marks events carrying at least one identifier
	// the resolver could not map. It is a flag for metrics and payload
	// annotation, never a reason to withhold dispatch.
	ResolutionIncomplete bool
}

// NewNormalizedEvent stamps identity and observation time. The buffer group
// key joins subject and kind so only events eligible for merge share a key.
func NewNormalizedEvent(kind EventKind, instance string, subject Identifier, payload map[string]any) NormalizedEvent {
	return NormalizedEvent{
		ID:             uuid.NewString(),
		Kind:           kind,
		Instance:       instance,
		SubjectID:      subject,
		Payload:        payload,
		ObservedAt:     time.Now().UTC(),
		BufferGroupKey: BufferGroupKey(subject, kind),
	}
}

// BufferGroupKey is the merge key for the normalizer's buffering window.
func BufferGroupKey(subject Identifier, kind EventKind) string {
	return subject.Value + "|" + string(kind)
}

// WebhookEnvelope is the stable outbound wire shape. Field names are a
// compatibility surface for existing subscribers; do not rename.
type WebhookEnvelope struct {
	Event    string         `json:"event"`
	Instance string         `json:"instance"`
	Data     map[string]any `json:"data"`
	DateTime string         `json:"date_time"`
	Sender   string         `json:"sender,omitempty"`
}

// Envelope renders the event onto the outbound contract. sender is the
// originating instance's own identity when known, empty otherwise.
func (e NormalizedEvent) Envelope(sender string) WebhookEnvelope {
	return WebhookEnvelope{
		Event:    string(e.Kind),
		Instance: e.Instance,
		Data:     e.Payload,
		DateTime: e.ObservedAt.Format(time.RFC3339),
		Sender:   sender,
	}
}
