package backend

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the row is missing or not yet visible on the read path.
	ErrNotFound = errors.New("not found")
	// ErrTransient marks network and server failures that are safe to retry for reads.
	ErrTransient = errors.New("transient backend error")
	// ErrConflict means a conditional write lost to another client.
	ErrConflict = errors.New("conflict")
	// ErrDuplicateSubmission means an answer for this question was already sent by this user.
	ErrDuplicateSubmission = errors.New("answer already submitted")
	// ErrForbidden means the caller may not perform the request yet (e.g. reveal before answering).
	ErrForbidden = errors.New("forbidden")
)

// Transient wraps err so IsTransient reports true.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// IsTransient reports whether err is worth retrying on an idempotent read.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded)
}
