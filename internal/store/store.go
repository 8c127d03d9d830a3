// Package store defines the persistence ports used by the attendance and
// registration components.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/gyaneshwarpardhi/turnstile/internal/model"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists indicates a uniqueness constraint rejected a write.
	ErrAlreadyExists = errors.New("record already exists")
	// ErrCapacityViolation indicates a counter update would leave the event
	// count outside [0, max_capacity].
	ErrCapacityViolation = errors.New("capacity counter out of range")
)

// Reader exposes the queries that need no write lock.
type Reader interface {
	GetParticipant(ctx context.Context, id string) (model.Participant, error)
	GetParticipantByRegistrationNo(ctx context.Context, registrationNo string) (model.Participant, error)
	GetEvent(ctx context.Context, id string) (model.Event, error)
	GetRegistration(ctx context.Context, id string) (model.Registration, error)
	// FindLiveRegistration returns the non-cancelled registration for the pair.
	FindLiveRegistration(ctx context.Context, participantID, eventID string) (model.Registration, error)
	// FindRegistrationByPaymentRef returns the registration, cancelled or
	// not, that a gateway payment was applied to.
	FindRegistrationByPaymentRef(ctx context.Context, paymentRef string) (model.Registration, error)
	// ListActiveAssignments returns active assignments with EventStartsAt set.
	ListActiveAssignments(ctx context.Context, staffID string) ([]model.EventAssignment, error)
	ListScans(ctx context.Context, participantID string, limit int) ([]model.ScanRecord, error)
	Leaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error)
	// BadgeRevoked reports whether a badge is unknown, revoked, or belongs to
	// a participant whose revocation flag is set.
	BadgeRevoked(ctx context.Context, participantID, badgeID string) (bool, error)
}

// Tx is one write transaction. Every read through Tx observes the state
// protected by the transaction's lock.
type Tx interface {
	Reader

	// LockParticipant reads the participant row for update.
	LockParticipant(ctx context.Context, id string) (model.Participant, error)
	UpdatePresence(ctx context.Context, p model.Participant) error
	AppendScan(ctx context.Context, rec model.ScanRecord) error

	// LockEvent reads the event row for the read-decide-write admission cycle.
	LockEvent(ctx context.Context, id string) (model.Event, error)
	// IncrementCount moves current_count by delta, failing with
	// ErrCapacityViolation when the result leaves [0, max_capacity].
	IncrementCount(ctx context.Context, eventID string, delta int) error
	SetCapacity(ctx context.Context, eventID string, maxCapacity *int) error
	SetEventStatus(ctx context.Context, eventID string, status model.EventStatus) error

	CreateRegistration(ctx context.Context, r model.Registration) error
	UpdateRegistration(ctx context.Context, r model.Registration) error
	// ListWaitlist returns WAITLISTED entries oldest first.
	ListWaitlist(ctx context.Context, eventID string, limit int) ([]model.Registration, error)
	CountSeatHolders(ctx context.Context, eventID string) (int, error)
	CountRegisteredBy(ctx context.Context, eventID, adminID string) (int, error)

	CreateParticipant(ctx context.Context, p model.Participant) error
	SetParticipantActive(ctx context.Context, id string, active bool) error
	CreateEvent(ctx context.Context, e model.Event) error

	GetAssignment(ctx context.Context, staffID, eventID string) (model.EventAssignment, error)
	SaveAssignment(ctx context.Context, a model.EventAssignment) error

	RecordBadge(ctx context.Context, participantID, badgeID string, issuedAt time.Time) error
	// RevokeBadges revokes every live badge of the participant and returns
	// how many were revoked.
	RevokeBadges(ctx context.Context, participantID string, at time.Time) (int, error)
}

// Store is the persistence root.
type Store interface {
	Reader
	// WithTx runs fn in one write transaction. fn's error rolls back.
	WithTx(ctx context.Context, fn func(Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}
