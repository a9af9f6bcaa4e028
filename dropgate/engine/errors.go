package engine

import (
	"errors"
	"fmt"
)

// ErrorCode is the machine-readable condition handed to the presentation
// layer. The engine never decides HTTP statuses.
type ErrorCode string

const (
	CodeDropNotFound   ErrorCode = "drop_not_found"
	CodeClaimNotFound  ErrorCode = "claim_not_found"
	CodeDropInactive   ErrorCode = "drop_inactive"
	CodeDropNotStarted ErrorCode = "drop_not_started"
	CodePhaseEnded     ErrorCode = "phase_ended"
	CodeSoldOut        ErrorCode = "sold_out"
	CodeWindowNotOpen  ErrorCode = "claim_window_not_open"
	CodeWindowClosed   ErrorCode = "claim_window_closed"
	CodeWaitlistLocked ErrorCode = "waitlist_locked"
	CodeNotInWaitlist  ErrorCode = "not_in_waitlist"
	CodeNotEligible    ErrorCode = "not_eligible"
	CodeClaimExpired   ErrorCode = "claim_expired"
	CodeInternal       ErrorCode = "internal"
)

// NotFoundError covers absent drops and claims.
type NotFoundError struct {
	Code   ErrorCode
	Entity string
	ID     any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %v not found", e.Entity, e.ID)
}

// ConflictError covers phase-window violations, inactive drops and sold-out
// stock: conditions where the drop's state, not the caller, blocks the action.
type ConflictError struct {
	Code    ErrorCode
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// ForbiddenError covers per-user eligibility failures. Position and
// AvailableStock carry the diagnostic payload for not-eligible responses.
type ForbiddenError struct {
	Code           ErrorCode
	Message        string
	Position       int
	AvailableStock int
}

func (e *ForbiddenError) Error() string {
	if e.Code == CodeNotEligible {
		return fmt.Sprintf("%s (position %d, available stock %d)", e.Message, e.Position, e.AvailableStock)
	}
	return e.Message
}

// ExpiredError marks a claim past its completion window.
type ExpiredError struct {
	ClaimCode string
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("claim %s has expired", e.ClaimCode)
}

// InternalError wraps storage or transaction failures unrelated to business
// rules, including serialization conflicts that exhausted their retries.
type InternalError struct {
	Operation string
	Err       error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error during %s: %v", e.Operation, e.Err)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

func IsForbidden(err error) bool {
	var f *ForbiddenError
	return errors.As(err, &f)
}

func IsExpired(err error) bool {
	var ex *ExpiredError
	return errors.As(err, &ex)
}

// CodeOf extracts the machine-readable code from any engine error.
func CodeOf(err error) ErrorCode {
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return nf.Code
	}
	var c *ConflictError
	if errors.As(err, &c) {
		return c.Code
	}
	var f *ForbiddenError
	if errors.As(err, &f) {
		return f.Code
	}
	var ex *ExpiredError
	if errors.As(err, &ex) {
		return CodeClaimExpired
	}
	if err != nil {
		return CodeInternal
	}
	return ""
}
