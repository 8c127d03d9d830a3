package model

import "time"

// EventType decides whether registration needs a payment.
type EventType string

const (
	EventFree EventType = "FREE"
	EventPaid EventType = "PAID"
)

// EventStatus is the lifecycle state of an event.
type EventStatus string

const (
	EventDraft     EventStatus = "DRAFT"
	EventOpen      EventStatus = "OPEN"
	EventClosed    EventStatus = "CLOSED"
	EventCancelled EventStatus = "CANCELLED"
)

// RefundTier maps a days-before-event threshold to a refund percentage.
type RefundTier struct {
	DaysBefore int `json:"days_before" yaml:"days_before"`
	Percent    int `json:"percent" yaml:"percent"`
}

// Event is a venue event with its capacity counters.
type Event struct {
	ID                   string       `json:"id"`
	Name                 string       `json:"name"`
	Type                 EventType    `json:"type"`
	Status               EventStatus  `json:"status"`
	StartsAt             time.Time    `json:"starts_at"`
	EndsAt               time.Time    `json:"ends_at"`
	RegistrationOpensAt  *time.Time   `json:"registration_opens_at,omitempty"`
	RegistrationClosesAt *time.Time   `json:"registration_closes_at,omitempty"`
	MaxCapacity          *int         `json:"max_capacity,omitempty"` // nil = unlimited
	CurrentCount         int          `json:"current_count"`
	WaitlistEnabled      bool         `json:"waitlist_enabled"`
	Price                int64        `json:"price"` // minor units
	Currency             string       `json:"currency"`
	RefundTiers          []RefundTier `json:"refund_tiers,omitempty"`
	CreatedAt            time.Time    `json:"created_at"`
}

// HasRoomFor reports whether n more confirmed seats fit under the ceiling.
func (e *Event) HasRoomFor(n int) bool {
	if e.MaxCapacity == nil {
		return true
	}
	return e.CurrentCount+n <= *e.MaxCapacity
}

// Remaining returns free seats, or -1 for unlimited events.
func (e *Event) Remaining() int {
	if e.MaxCapacity == nil {
		return -1
	}
	if r := *e.MaxCapacity - e.CurrentCount; r > 0 {
		return r
	}
	return 0
}

// AcceptsRegistrations reports whether the event admits registrations at now.
func (e *Event) AcceptsRegistrations(now time.Time) bool {
	if e.Status != EventOpen {
		return false
	}
	if e.RegistrationOpensAt != nil && now.Before(*e.RegistrationOpensAt) {
		return false
	}
	if e.RegistrationClosesAt != nil && !now.Before(*e.RegistrationClosesAt) {
		return false
	}
	return now.Before(e.StartsAt)
}
