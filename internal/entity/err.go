package entity

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrInvalid   = errors.New("invalid entity")
	ErrConflict  = errors.New("conflict")
	ErrForbidden = errors.New("forbidden")
	ErrInternal  = errors.New("internal error")

	ErrLockBusy                = errors.New("deployment lock busy")
	ErrNoRollbackTarget        = errors.New("no rollback target")
	ErrInvalidImageFormat      = &ValidationError{Field: "image", Reason: "must match name:tag"}
	ErrStepFailed              = errors.New("step failed")
	ErrTimeout                 = errors.New("pipeline timeout")
	ErrCancelled               = errors.New("pipeline cancelled by user")
	ErrHealthCheckExhausted    = errors.New("health check exhausted")
	ErrRemoteConnection        = errors.New("remote connection failed")
	ErrRemoteCommand           = errors.New("remote command failed")
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")
)

// ValidationError rejects malformed input before any side effect happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	if target == ErrInvalid {
		return true
	}
	t, ok := target.(*ValidationError)
	return ok && t.Field == e.Field && t.Reason == e.Reason
}
