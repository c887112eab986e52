package messages

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"wabridge/internal/domain"
)

// ErrNotFound is returned when no message row matches the key. It is
// deliberately distinct from QueryExecutionError: "no rows" is an answer,
// a failed query is not.
var ErrNotFound = errors.New("message not found")

// Adapter executes structured-field lookups and scoped updates against the
// message store regardless of which relational engine backs it. The dialect
// strategy is fixed at construction; callers never see backend differences.
type Adapter struct {
	db      *sql.DB
	builder queryBuilder
	logger  *slog.Logger
}

// Option configures an Adapter.
type Option func(*Adapter)

func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) { a.logger = logger }
}

// NewAdapter selects the query strategy for dialect once, up front. An
// unsupported dialect is a ConfigurationError and fatal to startup.
func NewAdapter(db *sql.DB, dialect Dialect, opts ...Option) (*Adapter, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle is required")
	}
	builder, err := builderFor(dialect)
	if err != nil {
		return nil, err
	}
	a := &Adapter{db: db, builder: builder, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// FindMessageByKey looks up one persisted message by its nested key.
func (a *Adapter) FindMessageByKey(ctx context.Context, ref domain.MessageRef) (domain.Message, error) {
	query, args := a.builder.findByKey(ref)

	var (
		keyDoc     []byte
		status     string
		messageDoc []byte
		timestamp  int64
	)
	err := a.db.QueryRowContext(ctx, query, args...).Scan(&keyDoc, &status, &messageDoc, &timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Message{}, ErrNotFound
	}
	if err != nil {
		return domain.Message{}, a.fail("find_message_by_key", err)
	}

	msg := domain.Message{
		Ref:    ref,
		Status: domain.MessageStatus(status),
	}
	msg.Ref.Timestamp = timestamp
	if len(messageDoc) > 0 {
		if err := json.Unmarshal(messageDoc, &msg.Payload); err != nil {
			return domain.Message{}, a.fail("find_message_by_key", fmt.Errorf("decode message document: %w", err))
		}
	}
	return msg, nil
}

// UpdateStatusForChatUpToTimestamp moves every inbound message in the chat
// at or before timestamp into newStatus, but only from the allowed prior
// statuses. Returns the number of rows changed so callers can tell "nothing
// qualified" apart from "the query broke".
func (a *Adapter) UpdateStatusForChatUpToTimestamp(ctx context.Context, instance string, chat domain.Identifier, timestamp int64, newStatus domain.MessageStatus, onlyIf []domain.MessageStatus) (int64, error) {
	if len(onlyIf) == 0 {
		return 0, nil
	}
	query, args := a.builder.updateStatus(instance, chat, timestamp, newStatus, onlyIf)

	result, err := a.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, a.fail("update_status_for_chat", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, a.fail("update_status_for_chat", err)
	}
	return count, nil
}

// CountUnread counts inbound messages for the chat still in status.
func (a *Adapter) CountUnread(ctx context.Context, instance string, chat domain.Identifier, status domain.MessageStatus) (int, error) {
	query, args := a.builder.countUnread(instance, chat, status)

	var count int
	if err := a.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, a.fail("count_unread", err)
	}
	return count, nil
}

// fail wraps a backend failure as a typed QueryExecutionError and logs it so
// the failure always leaves a recorded reason, even if a caller mishandles
// the return.
func (a *Adapter) fail(op string, err error) error {
	qerr := domain.NewQueryExecutionError(op, err)
	a.logger.Error("message store query failed", "op", op, "error", err)
	return qerr
}
