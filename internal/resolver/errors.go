package resolver

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrorCode categorizes resolver errors.
type ErrorCode string

const (
	// ErrCodeInvalidSource indicates a registration that cannot be normalized.
	ErrCodeInvalidSource ErrorCode = "INVALID_SOURCE"

	// ErrCodeInvalidTrigger indicates a trigger without origins.
	ErrCodeInvalidTrigger ErrorCode = "INVALID_TRIGGER"

	// ErrCodeNotFound indicates the requested report does not exist.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
)

// Error is returned for caller mistakes. Policy rejections are reported
// through result codes instead.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a resolver not-found error.
func IsNotFound(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Code == ErrCodeNotFound
}

// UUIDGenerator generates random (version 4) external report IDs.
type UUIDGenerator struct{}

// Generate panics only if the system randomness source fails.
func (UUIDGenerator) Generate() string {
	return uuid.Must(uuid.NewRandom()).String()
}
