package normalizer

import (
	"sync"
	"time"

	"wabridge/internal/domain"
)

// buffer is the per-key accumulation state. A key is subject+kind, so only
// events eligible for merge ever share one. Each buffer carries its own lock:
// ingestion for different keys proceeds independently, while mutation of one
// key is serialized.
//
// Lifecycle: created on first arrival (Idle -> Accumulating), snapshotted and
// removed on drain (-> Emitted -> Idle).
type buffer struct {
	mu           sync.Mutex
	event        domain.NormalizedEvent
	lastTouched  time.Time
	flushPending bool
	// taken marks a buffer already snapshotted by a drain. A writer holding
	// a stale pointer must not merge into it: the key has left the map and
	// anything absorbed here would be lost.
	taken bool
}

// absorb deep-merges doc into the accumulated payload and refreshes the idle
// clock. Later fields overwrite earlier ones; fields absent from a later
// event never erase values accumulated earlier in the same window. Returns
// false when the buffer was already drained, in which case the caller must
// re-enter through the key map.
func (b *buffer) absorb(doc map[string]any, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.taken {
		return false
	}
	b.event.Payload = deepMerge(b.event.Payload, doc)
	b.lastTouched = now
	return true
}

// markFlush requests emission on the next drain regardless of idle time.
func (b *buffer) markFlush() {
	b.mu.Lock()
	b.flushPending = true
	b.mu.Unlock()
}

// takeIfReady snapshots and resets the buffer when a flush is pending or the
// idle window has elapsed. The snapshot is exclusive: no accumulated field
// can be lost or duplicated across the drain boundary.
func (b *buffer) takeIfReady(now time.Time, window time.Duration) (domain.NormalizedEvent, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.flushPending && now.Sub(b.lastTouched) < window {
		return domain.NormalizedEvent{}, false
	}
	event := b.event
	b.event = domain.NormalizedEvent{}
	b.flushPending = false
	b.taken = true
	return event, true
}

// deepMerge merges src into dst recursively. Nested documents merge key by
// key; scalars and arrays from src replace dst wholesale. dst is returned for
// the nil case.
func deepMerge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		if srcDoc, ok := v.(map[string]any); ok {
			if dstDoc, ok := dst[k].(map[string]any); ok {
				dst[k] = deepMerge(dstDoc, srcDoc)
				continue
			}
		}
		dst[k] = v
	}
	return dst
}
