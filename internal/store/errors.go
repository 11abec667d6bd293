package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested source or report does not exist.
var ErrNotFound = errors.New("not found")

// CorruptionKind names the table a corrupt row was found in.
type CorruptionKind string

const (
	CorruptSource CorruptionKind = "source"
	CorruptReport CorruptionKind = "report"
)

// CorruptionError reports a persisted row that cannot be decoded into a
// valid domain value. Callers delete such rows rather than surface them.
type CorruptionError struct {
	Kind   CorruptionKind
	ID     int64
	Reason string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("corrupt %s %d: %s", e.Kind, e.ID, e.Reason)
}

func corruptSource(id int64, format string, args ...any) *CorruptionError {
	return &CorruptionError{Kind: CorruptSource, ID: id, Reason: fmt.Sprintf(format, args...)}
}

func corruptReport(id int64, format string, args ...any) *CorruptionError {
	return &CorruptionError{Kind: CorruptReport, ID: id, Reason: fmt.Sprintf(format, args...)}
}

// IsCorruptionError returns true if err is or wraps a CorruptionError.
func IsCorruptionError(err error) bool {
	var ce *CorruptionError
	return errors.As(err, &ce)
}

// AsCorruptionError extracts the CorruptionError from err, if any.
func AsCorruptionError(err error) (*CorruptionError, bool) {
	var ce *CorruptionError
	ok := errors.As(err, &ce)
	return ce, ok
}
