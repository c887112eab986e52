// Package httptransport exposes the operational HTTP surface: health,
// metrics and delivery outcome queries. Event ingestion does not pass
// through here; it arrives over the websocket source.
package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wabridge/internal/dispatch"
	"wabridge/internal/platform/middleware"
)

// HealthChecker reports whether a named dependency is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Handler wires the operational endpoints to their backing stores.
type Handler struct {
	outcomes dispatch.OutcomeStore
	checks   map[string]HealthChecker
	logger   *slog.Logger
}

// New constructs the operational handler. checks may be nil when the server
// has no external dependencies to probe.
func New(outcomes dispatch.OutcomeStore, checks map[string]HealthChecker, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{outcomes: outcomes, checks: checks, logger: logger}
}

// NewRouter mounts all operational endpoints. Query endpoints sit behind the
// API key; health and metrics stay open for probes and scrapers. msgs is nil
// when no message store is configured.
func NewRouter(h *Handler, msgs *MessagesHandler, apiKeyHash string) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Get("/health", h.HandleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAPIKey(apiKeyHash, h.logger))
		r.Get("/outcomes", h.HandleOutcomes)
	})

	if msgs != nil && msgs.store != nil {
		msgs.Register(r, apiKeyHash)
	}
	return r
}

// decodeJSON decodes the request body, answering 400 itself on failure.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var req T
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return req, false
	}
	return req, true
}

// HandleHealth reports overall health plus per-dependency detail. Any failed
// dependency makes the whole probe fail.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := http.StatusOK
	detail := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check.Health(ctx); err != nil {
			status = http.StatusServiceUnavailable
			detail[name] = err.Error()
			continue
		}
		detail[name] = "ok"
	}
	writeJSON(w, status, map[string]any{
		"status":       httpStatusWord(status),
		"dependencies": detail,
	})
}

// HandleOutcomes handles GET /outcomes?event_id=<id>.
func (h *Handler) HandleOutcomes(w http.ResponseWriter, r *http.Request) {
	eventID := r.URL.Query().Get("event_id")
	if eventID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "event_id query parameter is required",
		})
		return
	}

	outcomes, err := h.outcomes.ListByEvent(r.Context(), eventID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "outcome lookup failed", "event_id", eventID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "outcome lookup failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"event_id": eventID,
		"outcomes": outcomes,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func httpStatusWord(status int) string {
	if status == http.StatusOK {
		return "ok"
	}
	return "degraded"
}
