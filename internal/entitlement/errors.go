package entitlement

import "errors"

// State-machine precondition failures. AlreadyApplied is deliberately not an
// error to webhook callers; the processor acknowledges it as success.
var (
	ErrAlreadyPending    = errors.New("entitlement: an elevation request is already pending")
	ErrNotPending        = errors.New("entitlement: request is not pending")
	ErrAlreadyApplied    = errors.New("entitlement: payment already applied")
	ErrOwnershipMismatch = errors.New("entitlement: payment user does not own the advertisement")
	ErrNotFound          = errors.New("entitlement: not found")
	ErrInvalidPurpose    = errors.New("entitlement: invalid settlement purpose")
)
