// Package assignment decides which event a scanning staff member is working
// and whether a participant may be scanned against it.
package assignment

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/turnstile/internal/apperr"
	"github.com/gyaneshwarpardhi/turnstile/internal/clock"
	"github.com/gyaneshwarpardhi/turnstile/internal/model"
	"github.com/gyaneshwarpardhi/turnstile/internal/store"
)

// Reason explains a Decision.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonNotRegistered      Reason = "NOT_REGISTERED"
	ReasonPaymentPending     Reason = "PAYMENT_PENDING"
	ReasonOpenMode           Reason = "OPEN_MODE"
	ReasonNoActiveAssignment Reason = "NO_ACTIVE_ASSIGNMENT"
)

// Decision is the outcome of Authorize.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

// Err converts a refusal into the matching authorization error.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	switch d.Reason {
	case ReasonPaymentPending:
		return apperr.Authorization(apperr.CodePaymentPending, "payment for event %s is not completed", d.EventID)
	case ReasonNoActiveAssignment:
		return apperr.Authorization(apperr.CodeNoActiveAssignment, "scanner has no active event assignment")
	default:
		return apperr.Authorization(apperr.CodeNotRegistered, "participant is not registered for event %s", d.EventID)
	}
}

// Guard resolves assignments and authorizes participants against them.
type Guard struct {
	store    store.Store
	clock    clock.Clock
	logger   *slog.Logger
	openMode atomic.Bool
}

// New builds a Guard. legacyOpenMode allows scans from staff without an
// active assignment.
func New(st store.Store, clk clock.Clock, legacyOpenMode bool, logger *slog.Logger) *Guard {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	g := &Guard{store: st, clock: clk, logger: logger}
	g.openMode.Store(legacyOpenMode)
	return g
}

// SetLegacyOpenMode toggles open mode at runtime (config reload).
func (g *Guard) SetLegacyOpenMode(enabled bool) { g.openMode.Store(enabled) }

// LegacyOpenMode reports whether open mode is on.
func (g *Guard) LegacyOpenMode() bool { return g.openMode.Load() }

// ResolveActiveAssignment picks the staff member's working event: the
// most recently started one, or the soonest upcoming one when none has
// started yet. Ties go to the newest assignment. Returns nil when the staff
// member has no active assignment.
func (g *Guard) ResolveActiveAssignment(ctx context.Context, staffID string) (*model.EventAssignment, error) {
	staffID = strings.TrimSpace(staffID)
	if staffID == "" {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "staff id is required")
	}
	list, err := g.store.ListActiveAssignments(ctx, staffID)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	now := g.clock.Now()
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		aStarted, bStarted := !a.EventStartsAt.After(now), !b.EventStartsAt.After(now)
		if aStarted != bStarted {
			return aStarted
		}
		if !a.EventStartsAt.Equal(b.EventStartsAt) {
			if aStarted {
				return a.EventStartsAt.After(b.EventStartsAt)
			}
			return a.EventStartsAt.Before(b.EventStartsAt)
		}
		return a.AssignedAt.After(b.AssignedAt)
	})
	chosen := list[0]
	if len(list) > 1 {
		g.logger.Debug("staff holds several active assignments",
			"staff_id", staffID, "count", len(list), "chosen_event_id", chosen.EventID)
	}
	return &chosen, nil
}

// Authorize checks the participant against the assignment's event. A nil
// assignment falls back to open mode when enabled.
func (g *Guard) Authorize(ctx context.Context, a *model.EventAssignment, participantID string) (Decision, error) {
	if a == nil {
		if !g.openMode.Load() {
			return Decision{Reason: ReasonNoActiveAssignment}, nil
		}
		g.logger.Warn("scan allowed in legacy open mode without event scoping", "participant_id", participantID)
		return Decision{Allowed: true, Reason: ReasonOpenMode}, nil
	}

	reg, err := g.store.FindLiveRegistration(ctx, participantID, a.EventID)
	if errors.Is(err, store.ErrNotFound) {
		return Decision{Reason: ReasonNotRegistered, EventID: a.EventID}, nil
	}
	if err != nil {
		return Decision{}, err
	}
	switch reg.Status {
	case model.StatusConfirmed:
	case model.StatusPending:
		return Decision{Reason: ReasonPaymentPending, EventID: a.EventID}, nil
	default:
		return Decision{Reason: ReasonNotRegistered, EventID: a.EventID}, nil
	}

	ev, err := g.store.GetEvent(ctx, a.EventID)
	if err != nil {
		return Decision{}, err
	}
	if ev.Type == model.EventPaid && reg.PaymentStatus != model.PaymentCompleted {
		return Decision{Reason: ReasonPaymentPending, EventID: a.EventID}, nil
	}
	return Decision{Allowed: true, EventID: a.EventID}, nil
}

// Assign activates the (staff, event) assignment. Re-assigning an active
// pair keeps the original timestamp.
func (g *Guard) Assign(ctx context.Context, staffID, eventID string) (model.EventAssignment, error) {
	staffID, eventID = strings.TrimSpace(staffID), strings.TrimSpace(eventID)
	if staffID == "" || eventID == "" {
		return model.EventAssignment{}, apperr.Validation(apperr.CodeInvalidInput, "staff id and event id are required")
	}
	var out model.EventAssignment
	err := g.store.WithTx(ctx, func(tx store.Tx) error {
		ev, err := tx.GetEvent(ctx, eventID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("event %s not found", eventID)
		}
		if err != nil {
			return err
		}
		a, err := tx.GetAssignment(ctx, staffID, eventID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			a = model.EventAssignment{ID: uuid.NewString(), StaffID: staffID, EventID: eventID}
		case err != nil:
			return err
		case a.Active:
			out = a
			return nil
		}
		a.Active = true
		a.AssignedAt = g.clock.Now().UTC()
		a.EventStartsAt = ev.StartsAt
		if err := tx.SaveAssignment(ctx, a); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return model.EventAssignment{}, err
	}
	g.logger.Info("staff assigned to event", "staff_id", staffID, "event_id", eventID)
	return out, nil
}

// Unassign deactivates the pair. Unknown or inactive pairs are a no-op.
func (g *Guard) Unassign(ctx context.Context, staffID, eventID string) error {
	return g.store.WithTx(ctx, func(tx store.Tx) error {
		a, err := tx.GetAssignment(ctx, staffID, eventID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !a.Active {
			return nil
		}
		a.Active = false
		return tx.SaveAssignment(ctx, a)
	})
}
