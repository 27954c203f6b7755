package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across bloodlink layers. Callers match them with errors.Is.
var (
	// ErrStoreUnavailable reports that a backing store could not be reached or failed mid-operation.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrComposerUnavailable reports that a message composer failed or produced nothing usable.
	ErrComposerUnavailable = errors.New("message composer unavailable")
	// ErrDeliveryFailed reports that a notification sink did not acknowledge a message.
	ErrDeliveryFailed = errors.New("notification delivery failed")
	// ErrNotFound reports a missing record.
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a create against an existing key.
	ErrConflict = errors.New("already exists")
	// ErrInvalidTransition is matched by every InvalidTransitionError.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrInvalidRequest is matched by every InvalidRequestError.
	ErrInvalidRequest = errors.New("invalid request")
)

// InvalidTransitionError is returned when a request status change is not allowed.
type InvalidTransitionError struct {
	RequestID string
	From      RequestStatus
	To        RequestStatus
}

func (e InvalidTransitionError) Error() string {
	if e.To == "" {
		return fmt.Sprintf("request %s: cannot modify request in status %s", e.RequestID, e.From)
	}
	return fmt.Sprintf("request %s: cannot transition from %s to %s", e.RequestID, e.From, e.To)
}

// Is reports whether target is ErrInvalidTransition.
func (e InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// InvalidRequestError is returned when request input fails validation.
type InvalidRequestError struct {
	Field  string
	Reason string
}

func (e InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Reason)
}

// Is reports whether target is ErrInvalidRequest.
func (e InvalidRequestError) Is(target error) bool {
	return target == ErrInvalidRequest
}
