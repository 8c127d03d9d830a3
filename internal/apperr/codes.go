// Package apperr provides the structured error taxonomy shared by the scan
// and registration paths.
package apperr

import "net/http"

// Kind classifies an error by how callers must react to it.
type Kind string

const (
	KindValidation    Kind = "VALIDATION"
	KindAuthorization Kind = "AUTHORIZATION"
	KindConflict      Kind = "CONFLICT"
	KindTransient     Kind = "TRANSIENT"
	KindIntegrity     Kind = "INTEGRITY"
	KindNotFound      Kind = "NOT_FOUND"
	KindInternal      Kind = "INTERNAL"
)

// Code is a machine-readable rejection code surfaced to staff and clients.
type Code string

const (
	CodeUnknown Code = "UNKNOWN"

	// Validation
	CodeInvalidInput  Code = "INVALID_INPUT"
	CodeTokenInvalid  Code = "TOKEN_INVALID"
	CodeTokenExpired  Code = "TOKEN_EXPIRED"
	CodeInvalidTiers  Code = "INVALID_REFUND_TIERS"
	CodeInvalidAmount Code = "INVALID_AMOUNT"

	// Authorization
	CodeNotRegistered       Code = "NOT_REGISTERED"
	CodePaymentPending      Code = "PAYMENT_PENDING"
	CodeNoActiveAssignment  Code = "NO_ACTIVE_ASSIGNMENT"
	CodeParticipantInactive Code = "PARTICIPANT_INACTIVE"
	CodeBadgeRevoked        Code = "BADGE_REVOKED"
	CodeQuotaExceeded       Code = "QUOTA_EXCEEDED"
	CodePaymentInvalid      Code = "PAYMENT_INVALID"

	// Conflict
	CodeEventFull         Code = "EVENT_FULL"
	CodeAlreadyRegistered Code = "ALREADY_REGISTERED"
	CodeAlreadyCancelled  Code = "ALREADY_CANCELLED"
	CodeEventNotOpen      Code = "EVENT_NOT_OPEN"
	CodeInvalidTransition Code = "INVALID_STATUS_TRANSITION"

	// Transient
	CodeLockTimeout Code = "LOCK_TIMEOUT"
	CodeQueueFull   Code = "QUEUE_FULL"
	CodeTimeout     Code = "TIMEOUT"

	// Integrity
	CodeCounterMismatch Code = "COUNTER_MISMATCH"

	// Lookup
	CodeNotFound Code = "NOT_FOUND"
)

// HTTPStatus maps an error kind to the status code used by the HTTP surface.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthorization:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindTransient:
		return http.StatusServiceUnavailable
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
