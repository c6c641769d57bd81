package fenrir

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidStatement is returned for empty or whitespace-only SQL.
	ErrInvalidStatement = errors.New("missing 'sql' field")

	// ErrRejectedStatement is returned when a statement's classification does
	// not match the operation, e.g. an UPDATE sent to Query.
	ErrRejectedStatement = errors.New("statement rejected")

	// ErrStatementTooLong is returned when the SQL exceeds Query.MaxSQLLength.
	ErrStatementTooLong = errors.New("SQL statement too long")
)

// ExecutionError is a failure reported by the database while running a
// statement. Message is the backend's text, unmodified. Hints are guidance
// messages from error_prompts that matched Message.
type ExecutionError struct {
	Message string
	Hints   []string
	Err     error
}

func (e *ExecutionError) Error() string { return e.Message }

func (e *ExecutionError) Unwrap() error { return e.Err }

// ConnectionError means no database connection (or connection slot) could be
// obtained. Nothing was executed.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("database connection unavailable: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a caller mistake that never reached
// the database.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidStatement) ||
		errors.Is(err, ErrRejectedStatement) ||
		errors.Is(err, ErrStatementTooLong)
}

// rejectedError carries the caller-facing reason for a rejection and
// matches ErrRejectedStatement.
type rejectedError string

func (e rejectedError) Error() string { return string(e) }

func (e rejectedError) Is(target error) bool { return target == ErrRejectedStatement }
