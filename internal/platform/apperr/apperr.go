// Package apperr defines the logical error kinds shared by the queue and
// billing engines and their mapping onto HTTP responses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds. Engines wrap one of these with context; callers test with errors.Is.
var (
	ErrValidation           = errors.New("validation error")
	ErrNotFound             = errors.New("not found")
	ErrForbidden            = errors.New("forbidden")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrStaleStatus          = errors.New("status has changed since it was read")
	ErrExcessPayment        = errors.New("payment exceeds invoice total")
	ErrDuplicateActiveEntry = errors.New("patient already has an active queue entry at this station today")
	ErrPersistence          = errors.New("persistence error")

	// ErrAuditWrite is only ever logged; it never reaches a caller.
	ErrAuditWrite = errors.New("audit write failed")
)

// Validation returns an ErrValidation carrying a field-level message.
func Validation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound returns an ErrNotFound naming the missing entity.
func NotFound(entity string, id interface{}) error {
	return fmt.Errorf("%w: %s %v", ErrNotFound, entity, id)
}

// Wrap attaches kind to err so both errors.Is(kind) and errors.Is(err) hold.
func Wrap(kind error, err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", kind, msg, err)
}

// Persistence wraps a storage failure. Errors that already carry a logical
// kind pass through unchanged so a NotFound raised inside a transaction is
// not reported as a storage failure.
func Persistence(err error, msg string) error {
	if err == nil {
		return nil
	}
	if Kind(err) != nil {
		return err
	}
	return Wrap(ErrPersistence, err, msg)
}

var kinds = []error{
	ErrValidation, ErrNotFound, ErrForbidden, ErrInvalidTransition, ErrStaleStatus,
	ErrExcessPayment, ErrDuplicateActiveEntry, ErrPersistence,
}

// Kind returns the logical kind of err, or nil for an unclassified error.
func Kind(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// HTTPStatus maps err onto a response status code.
func HTTPStatus(err error) int {
	switch Kind(err) {
	case ErrValidation:
		return http.StatusBadRequest
	case ErrNotFound:
		return http.StatusNotFound
	case ErrForbidden:
		return http.StatusForbidden
	case ErrInvalidTransition, ErrExcessPayment:
		return http.StatusUnprocessableEntity
	case ErrStaleStatus, ErrDuplicateActiveEntry:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the message safe to return to a client. Storage failures
// and unclassified errors are reported generically.
func PublicMessage(err error) string {
	switch Kind(err) {
	case nil, ErrPersistence:
		return "the operation could not be completed; no changes were saved"
	default:
		return err.Error()
	}
}
