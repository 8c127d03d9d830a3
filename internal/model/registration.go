package model

import "time"

// RegistrationType records how a registration entered the system.
type RegistrationType string

const (
	RegistrationFree     RegistrationType = "FREE"
	RegistrationPaid     RegistrationType = "PAID"
	RegistrationWaitlist RegistrationType = "WAITLIST"
)

// RegistrationStatus is the registration state machine.
type RegistrationStatus string

const (
	StatusPending    RegistrationStatus = "PENDING"
	StatusConfirmed  RegistrationStatus = "CONFIRMED"
	StatusWaitlisted RegistrationStatus = "WAITLISTED"
	StatusCancelled  RegistrationStatus = "CANCELLED"
)

// PaymentStatus tracks the external payment for paid registrations.
type PaymentStatus string

const (
	PaymentNone      PaymentStatus = "NONE"
	PaymentCreated   PaymentStatus = "CREATED"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
)

// Registration is one participant's claim on an event.
type Registration struct {
	ID            string             `json:"id"`
	ParticipantID string             `json:"participant_id"`
	EventID       string             `json:"event_id"`
	Type          RegistrationType   `json:"type"`
	Status        RegistrationStatus `json:"status"`

	Amount        int64         `json:"amount"`
	Currency      string        `json:"currency,omitempty"`
	OrderRef      string        `json:"order_ref,omitempty"`
	PaymentRef    string        `json:"payment_ref,omitempty"`
	PaymentStatus PaymentStatus `json:"payment_status"`

	RefundAmount    int64  `json:"refund_amount"`
	RefundPercent   int    `json:"refund_percent"`
	RefundReason    string `json:"refund_reason,omitempty"`
	RefundRef       string `json:"refund_ref,omitempty"`
	RefundProcessed bool   `json:"refund_processed"`

	// HoldsSeat is true while the registration occupies a capacity slot.
	HoldsSeat bool `json:"holds_seat"`

	// RegisteredBy is the admin id for bulk admissions, empty for self-service.
	RegisteredBy string     `json:"registered_by,omitempty"`
	RegisteredAt time.Time  `json:"registered_at"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	PaidAt       *time.Time `json:"paid_at,omitempty"`
	PromotedAt   *time.Time `json:"promoted_at,omitempty"`
}

var allowedTransitions = map[RegistrationStatus][]RegistrationStatus{
	StatusPending:    {StatusConfirmed, StatusCancelled},
	StatusWaitlisted: {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusCancelled},
}

// CanTransition reports whether a registration may move from one status to
// another. CANCELLED is terminal.
func CanTransition(from, to RegistrationStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
