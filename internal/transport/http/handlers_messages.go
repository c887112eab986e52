package httptransport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"wabridge/internal/domain"
	"wabridge/internal/messages"
	"wabridge/internal/platform/middleware"
)

// MessageStore is the slice of the message adapter the handler needs.
type MessageStore interface {
	FindMessageByKey(ctx context.Context, ref domain.MessageRef) (domain.Message, error)
	CountUnread(ctx context.Context, instance string, chat domain.Identifier, status domain.MessageStatus) (int, error)
	UpdateStatusForChatUpToTimestamp(ctx context.Context, instance string, chat domain.Identifier, timestamp int64, newStatus domain.MessageStatus, onlyIf []domain.MessageStatus) (int64, error)
}

// MessagesHandler exposes the message store over the operational surface:
// key lookups, unread counts and read-marking.
type MessagesHandler struct {
	store  MessageStore
	logger *slog.Logger
}

// NewMessagesHandler constructs the handler. A nil store is allowed; the
// caller simply does not register the routes.
func NewMessagesHandler(store MessageStore, logger *slog.Logger) *MessagesHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MessagesHandler{store: store, logger: logger}
}

// Register mounts the message endpoints behind the API key.
func (h *MessagesHandler) Register(r chi.Router, apiKeyHash string) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAPIKey(apiKeyHash, h.logger))
		r.Get("/messages", h.HandleFind)
		r.Get("/messages/unread", h.HandleUnreadCount)
		r.Post("/messages/read", h.HandleMarkRead)
	})
}

// HandleFind handles GET /messages?instance=&chat_id=&message_id=&from_me=.
func (h *MessagesHandler) HandleFind(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ref := domain.MessageRef{
		InstanceScope: q.Get("instance"),
		ChatID:        domain.ParseIdentifier(q.Get("chat_id")),
		MessageID:     q.Get("message_id"),
		FromMe:        q.Get("from_me") == "true",
	}
	if ref.InstanceScope == "" || ref.ChatID.IsZero() || ref.MessageID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "instance, chat_id and message_id are required",
		})
		return
	}

	msg, err := h.store.FindMessageByKey(r.Context(), ref)
	if errors.Is(err, messages.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "message not found"})
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "message lookup failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "message lookup failed"})
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// HandleUnreadCount handles GET /messages/unread?instance=&chat_id=.
func (h *MessagesHandler) HandleUnreadCount(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	instance, chat := q.Get("instance"), q.Get("chat_id")
	if instance == "" || chat == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "instance and chat_id are required",
		})
		return
	}

	count, err := h.store.CountUnread(r.Context(), instance, domain.ParseIdentifier(chat), domain.StatusDeliveryAck)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "unread count failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "unread count failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"instance": instance,
		"chat_id":  chat,
		"unread":   count,
	})
}

type markReadRequest struct {
	Instance  string `json:"instance"`
	ChatID    string `json:"chat_id"`
	Timestamp int64  `json:"timestamp"`
}

// HandleMarkRead handles POST /messages/read: everything in the chat up to
// the timestamp that is currently delivered moves to READ.
func (h *MessagesHandler) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[markReadRequest](w, r)
	if !ok {
		return
	}
	if req.Instance == "" || req.ChatID == "" || req.Timestamp <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "instance, chat_id and a positive timestamp are required",
		})
		return
	}

	updated, err := h.store.UpdateStatusForChatUpToTimestamp(r.Context(),
		req.Instance, domain.ParseIdentifier(req.ChatID), req.Timestamp, domain.StatusRead,
		[]domain.MessageStatus{domain.StatusServerAck, domain.StatusDeliveryAck})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "mark read failed",
			"instance", req.Instance, "chat_id", req.ChatID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "mark read failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"updated": updated,
	})
}
