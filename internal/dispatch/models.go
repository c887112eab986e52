package dispatch

import (
	"time"

	"wabridge/internal/domain"
)

// Subscription is one recipient endpoint with the canonical kinds it wants.
// It is owned by the control plane; the dispatcher only reads it.
type Subscription struct {
	ID           string
	Instance     string
	RecipientURL string
	// Secret signs the Authorization token on deliveries to this endpoint.
	Secret string
	// IgnoreGroups suppresses group-chat events for this subscription. It
	// travels with the snapshot and is never read from ambient state.
	IgnoreGroups bool
	EnabledKinds map[domain.EventKind]bool
}

// Wants reports whether the subscription should receive the event. Matching
// is by canonical kind exactly: no substring matching, no case folding, no
// aliasing layer.
func (s Subscription) Wants(event domain.NormalizedEvent) bool {
	if s.Instance != "" && s.Instance != event.Instance {
		return false
	}
	if !s.EnabledKinds[event.Kind] {
		return false
	}
	if s.IgnoreGroups && event.SubjectID.Form == domain.FormGroup {
		return false
	}
	return true
}

// Snapshot is an immutable view of the subscription configuration. Senders
// maps an instance scope to that instance's own wire identity for the
// envelope's sender field.
type Snapshot struct {
	Subscriptions []Subscription
	Senders       map[string]string
}

// Match returns the subscriptions the event should be delivered to.
func (s Snapshot) Match(event domain.NormalizedEvent) []Subscription {
	var matched []Subscription
	for _, sub := range s.Subscriptions {
		if sub.Wants(event) {
			matched = append(matched, sub)
		}
	}
	return matched
}

// DeliveryStatus is the terminal state of one delivery attempt.
type DeliveryStatus string

const (
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliverySkipped   DeliveryStatus = "skipped"
)

// DeliveryOutcome records what happened to one event for one recipient, so
// operators can answer "was this event attempted, delivered, or failed".
type DeliveryOutcome struct {
	ID             string         `json:"id"`
	EventID        string         `json:"event_id"`
	Kind           string         `json:"kind"`
	SubscriptionID string         `json:"subscription_id"`
	RecipientURL   string         `json:"recipient_url"`
	Status         DeliveryStatus `json:"status"`
	Attempts       int            `json:"attempts"`
	HTTPStatus     int            `json:"http_status,omitempty"`
	Error          string         `json:"error,omitempty"`
	LatencyMs      int64          `json:"latency_ms"`
	AttemptedAt    time.Time      `json:"attempted_at"`
}
