package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"wabridge/internal/dispatch/metrics"
	"wabridge/internal/domain"
	"wabridge/pkg/platform/circuit"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultQueueSize   = 1024
	defaultConcurrency = 16
	retryDelay         = 500 * time.Millisecond
	// endpointRate bounds deliveries per endpoint per second, with a small
	// burst. A chatty instance must not hammer one subscriber.
	endpointRate  = rate.Limit(20)
	endpointBurst = 40
	// defaultBreakerCooldown is how long an open recipient breaker waits
	// before probing the recipient again.
	defaultBreakerCooldown = 30 * time.Second
)

// SnapshotProvider yields the current subscription snapshot. The dispatcher
// re-reads it per event so hot reloads take effect between events, never in
// the middle of one fan-out.
type SnapshotProvider interface {
	Current() Snapshot
}

// Sink receives every dispatched event in addition to webhook recipients,
// e.g. a broker topic.
type Sink interface {
	Name() string
	Publish(ctx context.Context, event domain.NormalizedEvent) error
}

// Dispatcher fans normalized events out to matching subscriptions. Delivery
// is decoupled from ingestion by a queue and bounded by a semaphore: a slow
// recipient delays neither other recipients nor the normalization path.
type Dispatcher struct {
	provider SnapshotProvider
	outcomes OutcomeStore
	client   *http.Client
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	sinks    []Sink

	timeout         time.Duration
	concurrency     int64
	breakerCooldown time.Duration
	sem             *semaphore.Weighted
	queue           chan domain.NormalizedEvent

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	breakers map[string]*circuit.Breaker
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = logger }
}

func WithMetrics(m *metrics.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.timeout = timeout }
}

func WithConcurrency(n int64) DispatcherOption {
	return func(d *Dispatcher) { d.concurrency = n }
}

// WithBreakerCooldown sets how long an open recipient breaker waits before
// letting a probe delivery through.
func WithBreakerCooldown(d time.Duration) DispatcherOption {
	return func(dp *Dispatcher) { dp.breakerCooldown = d }
}

func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) { d.queue = make(chan domain.NormalizedEvent, n) }
}

func WithHTTPClient(client *http.Client) DispatcherOption {
	return func(d *Dispatcher) { d.client = client }
}

func WithSink(sink Sink) DispatcherOption {
	return func(d *Dispatcher) { d.sinks = append(d.sinks, sink) }
}

// NewDispatcher constructs a Dispatcher over the given subscription source
// and outcome store.
func NewDispatcher(provider SnapshotProvider, outcomes OutcomeStore, opts ...DispatcherOption) (*Dispatcher, error) {
	if provider == nil {
		return nil, fmt.Errorf("subscription provider is required")
	}
	if outcomes == nil {
		return nil, fmt.Errorf("outcome store is required")
	}
	d := &Dispatcher{
		provider:        provider,
		outcomes:        outcomes,
		logger:          slog.Default(),
		tracer:          otel.Tracer("wabridge/dispatch"),
		timeout:         defaultTimeout,
		concurrency:     defaultConcurrency,
		breakerCooldown: defaultBreakerCooldown,
		limiters:        make(map[string]*rate.Limiter),
		breakers:        make(map[string]*circuit.Breaker),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.client == nil {
		d.client = &http.Client{Timeout: d.timeout}
	}
	if d.queue == nil {
		d.queue = make(chan domain.NormalizedEvent, defaultQueueSize)
	}
	d.sem = semaphore.NewWeighted(d.concurrency)
	return d, nil
}

// Enqueue hands an event to the dispatch queue without blocking the caller.
// A full queue is recorded as a skipped outcome: backpressure must never be
// a silent drop.
func (d *Dispatcher) Enqueue(ctx context.Context, event domain.NormalizedEvent) {
	select {
	case d.queue <- event:
		d.metrics.SetQueueDepth(len(d.queue))
	default:
		d.logger.Error("dispatch queue full, event skipped", "event_id", event.ID, "kind", event.Kind)
		d.record(ctx, DeliveryOutcome{
			ID:          uuid.NewString(),
			EventID:     event.ID,
			Kind:        string(event.Kind),
			Status:      DeliverySkipped,
			Error:       "dispatch queue full",
			AttemptedAt: time.Now().UTC(),
		})
		d.metrics.RecordDelivery(string(DeliverySkipped), 0)
	}
}

// Run consumes the queue until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-d.queue:
			d.metrics.SetQueueDepth(len(d.queue))
			d.Dispatch(ctx, event)
		}
	}
}

// Dispatch delivers one event to every matching subscription and publishes
// it to the configured sinks. Deliveries to distinct recipients run
// concurrently under the semaphore; Dispatch returns when all have settled.
func (d *Dispatcher) Dispatch(ctx context.Context, event domain.NormalizedEvent) []DeliveryOutcome {
	ctx, span := d.tracer.Start(ctx, "dispatch",
		trace.WithAttributes(
			attribute.String("event.kind", string(event.Kind)),
			attribute.String("event.id", event.ID),
		))
	defer span.End()

	snapshot := d.provider.Current()
	matched := snapshot.Match(event)
	sender := snapshot.Senders[event.Instance]

	outcomes := make([]DeliveryOutcome, len(matched))
	var wg sync.WaitGroup
	for i, sub := range matched {
		if err := d.sem.Acquire(ctx, 1); err != nil {
			outcomes[i] = d.skipped(ctx, event, sub, "dispatcher shutting down")
			continue
		}
		wg.Add(1)
		go func(i int, sub Subscription) {
			defer wg.Done()
			defer d.sem.Release(1)
			outcomes[i] = d.deliver(ctx, event, sub, sender)
		}(i, sub)
	}
	wg.Wait()

	for _, sink := range d.sinks {
		if err := sink.Publish(ctx, event); err != nil {
			d.logger.Error("sink publish failed", "sink", sink.Name(), "event_id", event.ID, "error", err)
		}
	}

	span.SetAttributes(attribute.Int("dispatch.recipients", len(matched)))
	return outcomes
}

// deliver executes one bounded-timeout POST, with a single short retry. A
// failure affects neither other recipients nor other events.
func (d *Dispatcher) deliver(ctx context.Context, event domain.NormalizedEvent, sub Subscription, sender string) DeliveryOutcome {
	outcome := DeliveryOutcome{
		ID:             uuid.NewString(),
		EventID:        event.ID,
		Kind:           string(event.Kind),
		SubscriptionID: sub.ID,
		RecipientURL:   sub.RecipientURL,
		AttemptedAt:    time.Now().UTC(),
	}

	breaker := d.breakerFor(sub.RecipientURL)
	if !breaker.Allow() {
		outcome.Status = DeliverySkipped
		outcome.Error = "recipient circuit open"
		d.record(ctx, outcome)
		d.metrics.RecordDelivery(string(DeliverySkipped), 0)
		return outcome
	}

	body, err := json.Marshal(event.Envelope(sender))
	if err != nil {
		outcome.Status = DeliveryFailed
		outcome.Error = fmt.Sprintf("encode envelope: %v", err)
		d.record(ctx, outcome)
		d.metrics.RecordDelivery(string(DeliveryFailed), 0)
		return outcome
	}

	start := time.Now()
	for attempt := 1; attempt <= 2; attempt++ {
		outcome.Attempts = attempt
		status, err := d.post(ctx, sub, event, body)
		outcome.HTTPStatus = status
		if err == nil {
			outcome.Status = DeliveryDelivered
			outcome.Error = ""
			breaker.RecordSuccess()
			break
		}
		outcome.Status = DeliveryFailed
		outcome.Error = err.Error()
		if _, change := breaker.RecordFailure(); change.Opened {
			d.metrics.RecordBreakerOpen()
			d.logger.Warn("recipient circuit opened", "url", sub.RecipientURL)
		}
		if attempt == 1 && !breaker.IsOpen() {
			select {
			case <-ctx.Done():
				attempt = 2
			case <-time.After(retryDelay):
			}
		}
	}

	outcome.LatencyMs = time.Since(start).Milliseconds()
	d.record(ctx, outcome)
	d.metrics.RecordDelivery(string(outcome.Status), time.Since(start).Seconds())

	if outcome.Status == DeliveryFailed {
		d.logger.Error("webhook delivery failed",
			"url", sub.RecipientURL, "event_id", event.ID, "kind", event.Kind,
			"attempts", outcome.Attempts, "error", outcome.Error)
	}
	return outcome
}

// post performs one attempt: rate-limited, signed, bounded by the per-call
// timeout. Any non-2xx status is a failure.
func (d *Dispatcher) post(ctx context.Context, sub Subscription, event domain.NormalizedEvent, body []byte) (int, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.limiterFor(sub.RecipientURL).Wait(callCtx); err != nil {
		return 0, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, sub.RecipientURL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", string(event.Kind))
	req.Header.Set("X-Webhook-Instance", event.Instance)
	if sub.Secret != "" {
		token, err := signDelivery(sub.Secret, event.Instance, event.ID, string(event.Kind))
		if err != nil {
			return 0, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("recipient returned %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func (d *Dispatcher) skipped(ctx context.Context, event domain.NormalizedEvent, sub Subscription, reason string) DeliveryOutcome {
	outcome := DeliveryOutcome{
		ID:             uuid.NewString(),
		EventID:        event.ID,
		Kind:           string(event.Kind),
		SubscriptionID: sub.ID,
		RecipientURL:   sub.RecipientURL,
		Status:         DeliverySkipped,
		Error:          reason,
		AttemptedAt:    time.Now().UTC(),
	}
	d.record(ctx, outcome)
	return outcome
}

// record never lets outcome persistence failures interrupt dispatch; the
// failure itself is logged so there is always a recorded reason somewhere.
func (d *Dispatcher) record(ctx context.Context, outcome DeliveryOutcome) {
	if err := d.outcomes.Record(ctx, outcome); err != nil {
		d.logger.Error("failed to record delivery outcome", "event_id", outcome.EventID, "error", err)
	}
}

func (d *Dispatcher) limiterFor(url string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	limiter, ok := d.limiters[url]
	if !ok {
		limiter = rate.NewLimiter(endpointRate, endpointBurst)
		d.limiters[url] = limiter
	}
	return limiter
}

func (d *Dispatcher) breakerFor(url string) *circuit.Breaker {
	d.mu.Lock()
	defer d.mu.Unlock()
	breaker, ok := d.breakers[url]
	if !ok {
		breaker = circuit.New(url, circuit.WithCooldown(d.breakerCooldown))
		d.breakers[url] = breaker
	}
	return breaker
}
