package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound: the session or room does not exist at all.
	ErrNotFound = errors.New("not found")
	// ErrGone: the record exists but the session is no longer active.
	ErrGone = errors.New("session inactive")
	// ErrNotFoundActive guards termination idempotency: the target is
	// unknown or already inactive, so nothing transitions.
	ErrNotFoundActive = errors.New("active session not found")
	// ErrCodeExhausted: every room-code draw collided.
	ErrCodeExhausted = errors.New("failed to generate room code")
	// ErrUpstream: the provisioning service is unreachable or erroring.
	ErrUpstream = errors.New("upstream unavailable")
)

// CapacityError is an admission denial. The configured limit rides
// along so callers can surface it verbatim.
type CapacityError struct {
	Limit int
}

func (e CapacityError) Error() string {
	return fmt.Sprintf("max active sessions reached (%d)", e.Limit)
}
