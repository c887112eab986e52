package normalizer

import (
	"log/slog"
	"sync"
	"time"

	"wabridge/internal/domain"
	"wabridge/internal/normalizer/metrics"
)

// defaultWindow bounds how long a buffer may sit idle before it is eligible
// for emission. A tunable, not a correctness requirement.
const defaultWindow = 400 * time.Millisecond

// bufferedKinds are the kinds the upstream library emits as partial,
// sometimes-merged update bursts. Only these accumulate; everything else
// passes straight through so two distinct messages are never merged.
var bufferedKinds = map[domain.EventKind]bool{
	domain.KindConnectionUpdate: true,
	domain.KindQRCodeUpdated:    true,
	domain.KindContactsUpdate:   true,
	domain.KindChatsUpdate:      true,
	domain.KindGroupsUpdate:     true,
	domain.KindPresenceUpdate:   true,
}

// Clock abstracts time for deterministic window tests.
type Clock func() time.Time

// Normalizer converts raw upstream batches into normalized events, merging
// partial updates for the same subject+kind within a buffering window.
// Ingest never blocks on I/O; it is pure transformation plus buffer
// mutation. Emission happens only through DrainReady.
type Normalizer struct {
	instance string
	window   time.Duration
	clock    Clock
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu      sync.RWMutex
	buffers map[string]*buffer

	readyMu sync.Mutex
	ready   []domain.NormalizedEvent
}

// Option configures a Normalizer.
type Option func(*Normalizer)

func WithWindow(window time.Duration) Option {
	return func(n *Normalizer) { n.window = window }
}

func WithClock(clock Clock) Option {
	return func(n *Normalizer) {
		if clock != nil {
			n.clock = clock
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(n *Normalizer) { n.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(n *Normalizer) { n.metrics = m }
}

// New constructs a Normalizer for one instance scope.
func New(instance string, opts ...Option) *Normalizer {
	n := &Normalizer{
		instance: instance,
		window:   defaultWindow,
		clock:    time.Now,
		logger:   slog.Default(),
		buffers:  make(map[string]*buffer),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Ingest accepts one raw upstream event. Kinds outside the canonical set are
// dropped with a counted diagnostic and never reach the dispatcher.
func (n *Normalizer) Ingest(eventType string, doc map[string]any) {
	kind := domain.EventKind(eventType)
	if !kind.IsValid() {
		n.metrics.RecordDropped()
		n.logger.Warn("dropping event of unknown kind", "kind", eventType, "instance", n.instance)
		return
	}

	subject := subjectOf(doc)
	event := domain.NewNormalizedEvent(kind, n.instance, subject, doc)

	if !bufferedKinds[kind] {
		n.readyMu.Lock()
		n.ready = append(n.ready, event)
		n.readyMu.Unlock()
		return
	}

	for {
		buf, created := n.bufferFor(event.BufferGroupKey, event)
		if created {
			break
		}
		if buf.absorb(doc, n.clock()) {
			n.metrics.RecordMerged()
			break
		}
		// Lost a race with a drain that snapshotted this buffer; re-enter
		// through the map so the field lands in a fresh window.
	}

	// A stable connection is itself a flush signal: the burst that
	// accompanies (re)connection is over once the state settles to open.
	if kind == domain.KindConnectionUpdate && connectionOpen(doc) {
		n.Flush()
	}
}

// bufferFor returns the buffer for key, creating it in Accumulating state
// when absent. The double-checked lock keeps ingestion for distinct keys off
// a global write lock in the common case.
func (n *Normalizer) bufferFor(key string, seed domain.NormalizedEvent) (*buffer, bool) {
	n.mu.RLock()
	buf, ok := n.buffers[key]
	n.mu.RUnlock()
	if ok {
		return buf, false
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if buf, ok := n.buffers[key]; ok {
		return buf, false
	}
	buf = &buffer{event: seed, lastTouched: n.clock()}
	n.buffers[key] = buf
	n.metrics.SetActiveBuffers(len(n.buffers))
	return buf, true
}

// Flush requests emission of every accumulating buffer on the next drain.
func (n *Normalizer) Flush() {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, buf := range n.buffers {
		buf.markFlush()
	}
}

// DrainReady returns the events whose buffers are flushed or past the idle
// window, plus any pass-through events. It is finite per call and
// restartable: whatever keeps accumulating is picked up by a later drain.
func (n *Normalizer) DrainReady() []domain.NormalizedEvent {
	n.readyMu.Lock()
	out := n.ready
	n.ready = nil
	n.readyMu.Unlock()

	now := n.clock()

	n.mu.Lock()
	for key, buf := range n.buffers {
		if event, ok := buf.takeIfReady(now, n.window); ok {
			event.ObservedAt = now
			out = append(out, event)
			delete(n.buffers, key)
		}
	}
	n.metrics.SetActiveBuffers(len(n.buffers))
	n.mu.Unlock()

	n.metrics.RecordEmitted(len(out))
	return out
}

// subjectOf extracts the chat or participant the document is about. Update
// bursts identify their subject as remoteJid or a bare id depending on kind;
// message documents nest it under key.
func subjectOf(doc map[string]any) domain.Identifier {
	if jid, ok := doc["remoteJid"].(string); ok && jid != "" {
		return domain.ParseIdentifier(jid)
	}
	if key, ok := doc["key"].(map[string]any); ok {
		if jid, ok := key["remoteJid"].(string); ok && jid != "" {
			return domain.ParseIdentifier(jid)
		}
	}
	if id, ok := doc["id"].(string); ok && id != "" {
		return domain.ParseIdentifier(id)
	}
	return domain.Identifier{}
}

func connectionOpen(doc map[string]any) bool {
	state, _ := doc["state"].(string)
	return state == "open"
}
