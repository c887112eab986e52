package messages

import (
	"fmt"
	"strings"

	"github.com/lib/pq"

	"wabridge/internal/domain"
)

// Dialect names a backend family for the message store.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

// queryBuilder renders the adapter's logical queries into backend-specific
// SQL. A strategy is selected once at construction; per-call dialect checks
// are how silent query failures slip in, so none exist past this point.
//
// The message key is persisted as a nested JSON document inside the row, and
// the two families expose structurally different extraction syntax for it.
// Both strategies must produce behaviorally identical result sets.
type queryBuilder interface {
	// findByKey looks up one message by its nested key document.
	findByKey(ref domain.MessageRef) (string, []any)
	// updateStatus moves every message in a chat at or before a timestamp
	// into newStatus, guarded by the allowed prior statuses.
	updateStatus(instance string, chat domain.Identifier, timestamp int64, newStatus domain.MessageStatus, onlyIf []domain.MessageStatus) (string, []any)
	// countUnread counts messages from the remote side in the given status.
	countUnread(instance string, chat domain.Identifier, status domain.MessageStatus) (string, []any)
}

// builderFor selects a strategy at configuration time. An unsupported
// dialect fails fast: executing a syntactically invalid query against the
// wrong backend is indistinguishable from "no rows" to callers and can
// suppress dispatch entirely.
func builderFor(dialect Dialect) (queryBuilder, error) {
	switch dialect {
	case DialectPostgres:
		return postgresBuilder{}, nil
	case DialectMySQL:
		return mysqlBuilder{}, nil
	default:
		return nil, domain.NewConfigurationError("message store", fmt.Sprintf("unsupported dialect %q", dialect))
	}
}

// postgresBuilder extracts nested key fields with the jsonb ->> operator.
// Booleans inside the key document may be stored natively or string-quoted
// depending on which writer produced the row; casting the extracted text to
// boolean accepts both, so callers never special-case the backend.
type postgresBuilder struct{}

func (postgresBuilder) findByKey(ref domain.MessageRef) (string, []any) {
	query := `
		SELECT key, status, message, message_timestamp
		FROM messages
		WHERE instance = $1
		  AND key->>'id' = $2
		  AND key->>'remoteJid' = $3
		  AND (key->>'fromMe')::boolean = $4
		LIMIT 1`
	return query, []any{ref.InstanceScope, ref.MessageID, ref.ChatID.Value, ref.FromMe}
}

func (postgresBuilder) updateStatus(instance string, chat domain.Identifier, timestamp int64, newStatus domain.MessageStatus, onlyIf []domain.MessageStatus) (string, []any) {
	allowed := make([]string, len(onlyIf))
	for i, status := range onlyIf {
		allowed[i] = string(status)
	}
	query := `
		UPDATE messages
		SET status = $1
		WHERE instance = $2
		  AND key->>'remoteJid' = $3
		  AND message_timestamp <= $4
		  AND (key->>'fromMe')::boolean = false
		  AND status = ANY($5)`
	return query, []any{string(newStatus), instance, chat.Value, timestamp, pq.Array(allowed)}
}

func (postgresBuilder) countUnread(instance string, chat domain.Identifier, status domain.MessageStatus) (string, []any) {
	query := `
		SELECT COUNT(*)
		FROM messages
		WHERE instance = $1
		  AND key->>'remoteJid' = $2
		  AND (key->>'fromMe')::boolean = false
		  AND status = $3`
	return query, []any{instance, chat.Value, string(status)}
}

// mysqlBuilder extracts nested key fields with JSON_EXTRACT. JSON_UNQUOTE
// collapses native booleans and string-quoted booleans to the same text
// before comparison, mirroring the cast on the postgres side.
type mysqlBuilder struct{}

// mysqlBoolPredicate is the normalized predicate for a boolean stored inside
// the key document, whether native or string-quoted.
func mysqlBoolPredicate(path string, want bool) string {
	if want {
		return fmt.Sprintf("JSON_UNQUOTE(JSON_EXTRACT(`key`, '%s')) IN ('true', '1')", path)
	}
	return fmt.Sprintf("JSON_UNQUOTE(JSON_EXTRACT(`key`, '%s')) IN ('false', '0')", path)
}

func (mysqlBuilder) findByKey(ref domain.MessageRef) (string, []any) {
	query := fmt.Sprintf(`
		SELECT `+"`key`"+`, status, message, message_timestamp
		FROM messages
		WHERE instance = ?
		  AND JSON_UNQUOTE(JSON_EXTRACT(`+"`key`"+`, '$.id')) = ?
		  AND JSON_UNQUOTE(JSON_EXTRACT(`+"`key`"+`, '$.remoteJid')) = ?
		  AND %s
		LIMIT 1`, mysqlBoolPredicate("$.fromMe", ref.FromMe))
	return query, []any{ref.InstanceScope, ref.MessageID, ref.ChatID.Value}
}

func (mysqlBuilder) updateStatus(instance string, chat domain.Identifier, timestamp int64, newStatus domain.MessageStatus, onlyIf []domain.MessageStatus) (string, []any) {
	args := []any{string(newStatus), instance, chat.Value, timestamp}
	placeholders := make([]string, 0, len(onlyIf))
	for _, status := range onlyIf {
		args = append(args, string(status))
		placeholders = append(placeholders, "?")
	}
	query := fmt.Sprintf(`
		UPDATE messages
		SET status = ?
		WHERE instance = ?
		  AND JSON_UNQUOTE(JSON_EXTRACT(`+"`key`"+`, '$.remoteJid')) = ?
		  AND message_timestamp <= ?
		  AND %s
		  AND status IN (%s)`, mysqlBoolPredicate("$.fromMe", false), strings.Join(placeholders, ", "))
	return query, args
}

func (mysqlBuilder) countUnread(instance string, chat domain.Identifier, status domain.MessageStatus) (string, []any) {
	query := fmt.Sprintf(`
		SELECT COUNT(*)
		FROM messages
		WHERE instance = ?
		  AND JSON_UNQUOTE(JSON_EXTRACT(`+"`key`"+`, '$.remoteJid')) = ?
		  AND %s
		  AND status = ?`, mysqlBoolPredicate("$.fromMe", false))
	return query, []any{instance, chat.Value, string(status)}
}
