package httptransport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"wabridge/internal/dispatch"
	"wabridge/pkg/testutil"
)

type staticCheck struct {
	err error
}

func (c staticCheck) Health(ctx context.Context) error { return c.err }

func seededOutcomes(t *testing.T) *dispatch.MemoryOutcomeStore {
	t.Helper()
	store := dispatch.NewMemoryOutcomeStore()
	require.NoError(t, store.Record(context.Background(), dispatch.DeliveryOutcome{
		ID:          "o1",
		EventID:     "evt-1",
		Kind:        "messages.upsert",
		Status:      dispatch.DeliveryDelivered,
		Attempts:    1,
		HTTPStatus:  200,
		AttemptedAt: time.Now().UTC(),
	}))
	return store
}

func TestHealth_AllDependenciesHealthy(t *testing.T) {
	h := New(seededOutcomes(t), map[string]HealthChecker{
		"redis": staticCheck{},
	}, slog.Default())
	router := NewRouter(h, nil, "")

	rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodGet, "/health", nil))

	testutil.AssertStatus(t, rr, http.StatusOK)
	testutil.AssertJSONContains(t, rr, "status", "ok")
}

func TestHealth_FailedDependencyDegrades(t *testing.T) {
	h := New(seededOutcomes(t), map[string]HealthChecker{
		"redis": staticCheck{err: errors.New("connection refused")},
	}, slog.Default())
	router := NewRouter(h, nil, "")

	rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodGet, "/health", nil))

	testutil.AssertStatus(t, rr, http.StatusServiceUnavailable)
	testutil.AssertJSONContains(t, rr, "status", "degraded")
}

func TestOutcomes_ReturnsRecordedDeliveries(t *testing.T) {
	h := New(seededOutcomes(t), nil, slog.Default())
	router := NewRouter(h, nil, "")

	rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodGet, "/outcomes?event_id=evt-1", nil))

	testutil.AssertStatus(t, rr, http.StatusOK)
	type response struct {
		EventID  string                     `json:"event_id"`
		Outcomes []dispatch.DeliveryOutcome `json:"outcomes"`
	}
	resp := testutil.UnmarshalResponse[response](t, rr)
	require.Len(t, resp.Outcomes, 1)
	assert.Equal(t, dispatch.DeliveryDelivered, resp.Outcomes[0].Status)
	assert.Equal(t, "messages.upsert", resp.Outcomes[0].Kind)
}

func TestOutcomes_RequiresEventID(t *testing.T) {
	h := New(seededOutcomes(t), nil, slog.Default())
	router := NewRouter(h, nil, "")

	rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodGet, "/outcomes", nil))

	testutil.AssertStatus(t, rr, http.StatusBadRequest)
}

func TestOutcomes_APIKeyEnforced(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("letmein"), bcrypt.MinCost)
	require.NoError(t, err)

	h := New(seededOutcomes(t), nil, slog.Default())
	router := NewRouter(h, nil, string(hash))

	rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodGet, "/outcomes?event_id=evt-1", nil))
	testutil.AssertStatus(t, rr, http.StatusUnauthorized)

	req := testutil.NewJSONRequest(t, http.MethodGet, "/outcomes?event_id=evt-1", nil)
	req.Header.Set("X-API-Key", "wrong")
	testutil.AssertStatus(t, testutil.DoRequest(router, req), http.StatusUnauthorized)

	req = testutil.NewJSONRequest(t, http.MethodGet, "/outcomes?event_id=evt-1", nil)
	req.Header.Set("X-API-Key", "letmein")
	testutil.AssertStatus(t, testutil.DoRequest(router, req), http.StatusOK)

	// Health stays open for probes even with a key configured.
	rr = testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodGet, "/health", nil))
	testutil.AssertStatus(t, rr, http.StatusOK)
}
