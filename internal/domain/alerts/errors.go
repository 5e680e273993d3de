package alerts

import "errors"

// Sentinel errors callers branch on. Triage consumers must be able to tell a
// claim lost to another clinician apart from an alert in the wrong state or a
// missing record.
var (
	ErrNotFound          = errors.New("alert not found")
	ErrClaimConflict     = errors.New("alert already claimed by another clinician")
	ErrTerminalState     = errors.New("alert is in a terminal state")
	ErrInvalidTransition = errors.New("invalid lifecycle transition for current alert status")
	ErrValidation        = errors.New("validation failed")
)
