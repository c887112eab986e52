package dispatch

import (
	"context"
	"sync"
)

// OutcomeStore keeps delivery outcomes for operational debugging. Outcomes
// are append-only and queried by event.
type OutcomeStore interface {
	Record(ctx context.Context, outcome DeliveryOutcome) error
	ListByEvent(ctx context.Context, eventID string) ([]DeliveryOutcome, error)
}

// memoryOutcomeLimit caps retained outcomes so a long-running process does
// not grow without bound; the oldest event's outcomes are evicted first.
const memoryOutcomeLimit = 10000

// MemoryOutcomeStore is the in-process OutcomeStore for tests and
// single-node setups.
type MemoryOutcomeStore struct {
	mu      sync.RWMutex
	byEvent map[string][]DeliveryOutcome
	order   []string
	count   int
}

// NewMemoryOutcomeStore creates an empty in-memory outcome store.
func NewMemoryOutcomeStore() *MemoryOutcomeStore {
	return &MemoryOutcomeStore{byEvent: make(map[string][]DeliveryOutcome)}
}

func (s *MemoryOutcomeStore) Record(_ context.Context, outcome DeliveryOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEvent[outcome.EventID]; !ok {
		s.order = append(s.order, outcome.EventID)
	}
	s.byEvent[outcome.EventID] = append(s.byEvent[outcome.EventID], outcome)
	s.count++

	for s.count > memoryOutcomeLimit && len(s.order) > 0 {
		oldest := s.order[0]
		s.order = s.order[1:]
		s.count -= len(s.byEvent[oldest])
		delete(s.byEvent, oldest)
	}
	return nil
}

func (s *MemoryOutcomeStore) ListByEvent(_ context.Context, eventID string) ([]DeliveryOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	outcomes := s.byEvent[eventID]
	out := make([]DeliveryOutcome, len(outcomes))
	copy(out, outcomes)
	return out, nil
}
