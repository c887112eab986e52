package domain

import "fmt"

// ConfigurationError reports invalid startup configuration: an unsupported
// storage dialect, an unknown or duplicated event kind, a malformed
// subscription document. It is fatal at startup and never silently ignored.
type ConfigurationError struct {
	Subject string
	Detail  string
}

// NewConfigurationError builds a ConfigurationError for the given subject.
func NewConfigurationError(subject, detail string) *ConfigurationError {
	return &ConfigurationError{Subject: subject, Detail: detail}
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error (%s): %s", e.Subject, e.Detail)
}

// QueryExecutionError reports a failed message-store call. It is a typed
// failure so callers can distinguish "the query broke" from "no rows": the
// two must never look the same, because a swallowed query failure suppresses
// downstream dispatch with no recorded reason.
type QueryExecutionError struct {
	Op  string
	Err error
}

// NewQueryExecutionError wraps a backend failure for operation op.
func NewQueryExecutionError(op string, err error) *QueryExecutionError {
	return &QueryExecutionError{Op: op, Err: err}
}

func (e *QueryExecutionError) Error() string {
	return fmt.Sprintf("query %s failed: %v", e.Op, e.Err)
}

func (e *QueryExecutionError) Unwrap() error {
	return e.Err
}
