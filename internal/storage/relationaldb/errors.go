package relationaldb

import (
	"errors"
	"fmt"
)

var (
	ErrDatabaseClosed    = errors.New("database is closed")
	ErrUnsupportedDriver = errors.New("unsupported database driver")
	ErrMissingPath       = errors.New("database path is required")
	ErrMissingHost       = errors.New("database host is required")
	ErrInvalidPort       = errors.New("database port is invalid")
	ErrMissingDatabase   = errors.New("database name is required")
	ErrMissingUsername   = errors.New("database username is required")
)

// DatabaseError records the operation that failed.
type DatabaseError struct {
	Op      string
	Message string
	Cause   error
}

func (e *DatabaseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *DatabaseError) Unwrap() error { return e.Cause }

func newError(op, message string, cause error) error {
	return &DatabaseError{Op: op, Message: message, Cause: cause}
}
