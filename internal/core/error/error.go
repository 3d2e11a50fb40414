package errx

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	// SystemErrorMessage is a user-facing fallback when internal errors occur.
	SystemErrorMessage = "internal server error"
	// RedisErrorMessage describes Redis related failures.
	RedisErrorMessage = "redis operation failed"
	// RedisNotFoundMessage describes a missing Redis key.
	RedisNotFoundMessage = "redis key not found"
)

// Sentinel errors for the turn pipeline. Callers branch on these with
// errors.Is; the concrete Error wrapper carries status and retryability.
var (
	// ErrRewriteTimeout marks a query rewrite that exceeded its time budget.
	// Non-fatal: the contextualizer falls back to the raw query.
	ErrRewriteTimeout = errors.New("query rewrite timed out")

	// ErrEmbeddingFailure marks an embedding call that failed after its retry.
	// Fatal for the current turn; nothing is committed.
	ErrEmbeddingFailure = errors.New("embedding generation failed")

	// ErrGenerationFailure marks an answer generation call that failed after
	// its retry. Fatal for the current turn and retryable by the caller.
	ErrGenerationFailure = errors.New("answer generation failed")

	// ErrPersistenceFailure marks a failed turn commit. The turn does not
	// count as committed; the caller should retry the whole request.
	ErrPersistenceFailure = errors.New("turn persistence failed")
)

// Error wraps an underlying error with an HTTP status, a safe message and a
// retryability hint for callers.
type Error struct {
	Err       error
	Status    int
	Message   string
	Retryable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a new Error with the provided information.
func New(err error, status int, message string) *Error {
	return &Error{
		Err:     err,
		Status:  status,
		Message: message,
	}
}

// Embedding wraps an embedding provider failure as a fatal turn error.
func Embedding(err error) *Error {
	return &Error{
		Err:     fmt.Errorf("%w: %w", ErrEmbeddingFailure, err),
		Status:  http.StatusBadGateway,
		Message: "embedding provider failed",
	}
}

// Generation wraps a generation provider failure as a fatal, retryable
// turn error.
func Generation(err error) *Error {
	return &Error{
		Err:       fmt.Errorf("%w: %w", ErrGenerationFailure, err),
		Status:    http.StatusBadGateway,
		Message:   "generation provider failed",
		Retryable: true,
	}
}

// Persistence wraps a commit failure. Retryable because commits are
// idempotent by intended turn number.
func Persistence(err error) *Error {
	return &Error{
		Err:       fmt.Errorf("%w: %w", ErrPersistenceFailure, err),
		Status:    http.StatusBadGateway,
		Message:   "turn commit failed",
		Retryable: true,
	}
}

// IsRetryable reports whether err carries a retryable Error in its chain.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// Is reports whether the target matches the underlying error or the Error itself.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// As allows casting to Error or the wrapped error in a chain.
func (e *Error) As(target any) bool {
	if errors.As(e.Err, target) {
		return true
	}
	if t, ok := target.(**Error); ok {
		*t = e
		return true
	}
	return false
}
