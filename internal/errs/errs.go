// Package errs defines the typed error taxonomy shared across the
// analytical loop and its governance envelope: invariant violations that
// hard-fail an operation, typed baseline unavailability, consent gate
// denials, per-point quality rejections, and provider adapter failures.
// Recoverable conditions are modeled as typed values, not bare errors, so
// callers can branch on them without string matching.
package errs

import "fmt"

// InvariantViolation reports that a value failed a hard domain invariant
// (e.g. a HealthDataPoint outside its MetricSpec's valid range). The
// object is never created; the caller receives the offending field and
// reason.
type InvariantViolation struct {
	Field  string
	Reason string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation: field=%s reason=%s", e.Field, e.Reason)
}

// BaselineErrorType enumerates the typed reasons a baseline may be
// unavailable.
type BaselineErrorType string

const (
	BaselineMetricNotFound   BaselineErrorType = "metric_not_found"
	BaselineInsufficientData BaselineErrorType = "insufficient_data"
	BaselineDatabaseError    BaselineErrorType = "database_error"
	BaselineComputationError BaselineErrorType = "computation_error"
	BaselineTableMissing     BaselineErrorType = "table_missing"
)

// BaselineUnavailable is returned by the baseline service whenever a
// (user, metric) baseline cannot be produced. Recoverable indicates
// whether the caller should treat this as retryable/skippable (true) or
// fatal (false, only for BaselineComputationError).
type BaselineUnavailable struct {
	ErrorType   BaselineErrorType
	Recoverable bool
	Detail      string
}

func (e *BaselineUnavailable) Error() string {
	return fmt.Sprintf("baseline unavailable: type=%s recoverable=%v detail=%s", e.ErrorType, e.Recoverable, e.Detail)
}

// NewBaselineUnavailable constructs a BaselineUnavailable with the standard
// recoverability for each error type: every type is recoverable except
// BaselineComputationError, which is fatal.
func NewBaselineUnavailable(t BaselineErrorType, detail string) *BaselineUnavailable {
	return &BaselineUnavailable{
		ErrorType:   t,
		Recoverable: t != BaselineComputationError,
		Detail:      detail,
	}
}

// ConsentReason enumerates the machine-readable reason codes the consent
// gate returns on denial, without revealing the existence of other users'
// data.
type ConsentReason string

const (
	ConsentReasonNone        ConsentReason = "no_consent"
	ConsentReasonRevoked     ConsentReason = "consent_revoked"
	ConsentReasonScopeDenied ConsentReason = "scope_denied"
)

// ConsentGateError is returned whenever an operation that touches user
// data is denied by the consent gate. Scope names the specific denied
// scope when Reason is ConsentReasonScopeDenied.
type ConsentGateError struct {
	Reason ConsentReason
	Scope  string
}

func (e *ConsentGateError) Error() string {
	if e.Scope != "" {
		return fmt.Sprintf("consent gate: reason=%s scope=%s", e.Reason, e.Scope)
	}
	return fmt.Sprintf("consent gate: reason=%s", e.Reason)
}

// Code returns the machine-readable header value expected on
// X-Consent-Error-Reason: "no_consent", "consent_revoked", or
// "scope_<name>_denied".
func (e *ConsentGateError) Code() string {
	if e.Reason == ConsentReasonScopeDenied {
		return fmt.Sprintf("scope_%s_denied", e.Scope)
	}
	return string(e.Reason)
}

// QualityRejection is a per-point ingestion rejection carrying a
// field-level reason; the batch continues processing other points.
type QualityRejection struct {
	MetricKey string
	Field     string
	Reason    string
}

func (e *QualityRejection) Error() string {
	return fmt.Sprintf("quality rejection: metric=%s field=%s reason=%s", e.MetricKey, e.Field, e.Reason)
}

// AdapterError reports a provider sync failure. Provider sync aborts with
// zero partial insertion on this error.
type AdapterError struct {
	Provider string
	Reason   string
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("adapter error: provider=%s reason=%s", e.Provider, e.Reason)
}
