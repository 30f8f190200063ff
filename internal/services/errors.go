package services

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when the addressed record does not exist for the
// requesting user.
var ErrNotFound = errors.New("record not found")

// ValidationError covers missing or malformed input data. Surfaced
// immediately to the caller and never retried automatically.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// GuardReason names a precondition that blocked a dispatch.
type GuardReason string

const (
	// GuardTemplateMissing: no template exists for the role. Accountant
	// dispatch fails closed; a misdirected accountant email is a correctness
	// risk, so no default text is ever substituted.
	GuardTemplateMissing GuardReason = "template_missing"
	// GuardSignedDocumentRequired: the invoice has no attached document. The
	// caller uploads a signed document and retries; this is a user-in-the-loop
	// gate, not a failure.
	GuardSignedDocumentRequired GuardReason = "signed_document_required"
	// GuardReportingAmountRequired: a GBP invoice needs an explicitly
	// confirmed EUR amount before accountant dispatch. Never computed from a
	// rate silently.
	GuardReportingAmountRequired GuardReason = "reporting_amount_required"
	// GuardPrerequisiteNotMet: the configured role-ordering prerequisite does
	// not hold yet.
	GuardPrerequisiteNotMet GuardReason = "prerequisite_not_met"
)

// GuardError is an actionable named outcome: the caller resolves the named
// condition and retries the same request. Guard refusals append no history.
type GuardError struct {
	Reason GuardReason
	Role   string
	// SuggestedAmount carries the provisional FX conversion offered as a UI
	// default for reporting_amount_required. It is never applied silently.
	SuggestedAmount *float64
}

func (e *GuardError) Error() string {
	return fmt.Sprintf("dispatch to %s blocked: %s", e.Role, e.Reason)
}

// IsGuardError reports whether err is a guard refusal.
func IsGuardError(err error) bool {
	var g *GuardError
	return errors.As(err, &g)
}
