package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/turnstile/internal/apperr"
	"github.com/gyaneshwarpardhi/turnstile/internal/model"
	"github.com/gyaneshwarpardhi/turnstile/internal/payment"
	"github.com/gyaneshwarpardhi/turnstile/internal/registrar"
	"github.com/gyaneshwarpardhi/turnstile/internal/store"
)

func eventKey(id string) string { return "event:" + strings.TrimSpace(id) }

// Register admits one participant on the event's worker.
func (e *Engine) Register(ctx context.Context, req registrar.Request) (registrar.Admission, error) {
	var out registrar.Admission
	err := e.do(ctx, "register", eventKey(req.EventID), func(ctx context.Context) error {
		var err error
		out, err = e.registrar.Register(ctx, req)
		return err
	})
	return out, err
}

// OpenCheckout opens a pre-registration gateway order. It only reads the
// store and runs off the event worker.
func (e *Engine) OpenCheckout(ctx context.Context, participantID, eventID string) (payment.Order, error) {
	return e.registrar.OpenCheckout(ctx, participantID, eventID)
}

// RegisterBulk runs an administrative import on the event's worker.
func (e *Engine) RegisterBulk(ctx context.Context, req registrar.BulkRequest) (registrar.BulkResult, error) {
	var out registrar.BulkResult
	err := e.do(ctx, "register_bulk", eventKey(req.EventID), func(ctx context.Context) error {
		var err error
		out, err = e.registrar.RegisterBulk(ctx, req)
		return err
	})
	return out, err
}

// Cancel cancels a registration on its event's worker.
func (e *Engine) Cancel(ctx context.Context, req registrar.CancelRequest) (registrar.Cancellation, error) {
	reg, err := e.lookupRegistration(ctx, req.RegistrationID)
	if err != nil {
		return registrar.Cancellation{}, err
	}
	var out registrar.Cancellation
	err = e.do(ctx, "cancel", eventKey(reg.EventID), func(ctx context.Context) error {
		var err error
		out, err = e.registrar.Cancel(ctx, req)
		return err
	})
	return out, err
}

// ConfirmPayment completes a pending payment on the event's worker.
func (e *Engine) ConfirmPayment(ctx context.Context, req registrar.ConfirmRequest) (model.Registration, error) {
	reg, err := e.lookupRegistration(ctx, req.RegistrationID)
	if err != nil {
		return model.Registration{}, err
	}
	var out model.Registration
	err = e.do(ctx, "confirm_payment", eventKey(reg.EventID), func(ctx context.Context) error {
		var err error
		out, err = e.registrar.ConfirmPayment(ctx, req)
		return err
	})
	return out, err
}

// CreatePaymentOrder (re)opens a gateway order for a seat awaiting payment.
func (e *Engine) CreatePaymentOrder(ctx context.Context, registrationID string) (model.Registration, error) {
	reg, err := e.lookupRegistration(ctx, registrationID)
	if err != nil {
		return model.Registration{}, err
	}
	var out model.Registration
	err = e.do(ctx, "create_order", eventKey(reg.EventID), func(ctx context.Context) error {
		var err error
		out, err = e.registrar.CreatePaymentOrder(ctx, registrationID)
		return err
	})
	return out, err
}

// UpdateCapacity changes an event's ceiling and promotes into new seats.
func (e *Engine) UpdateCapacity(ctx context.Context, eventID string, maxCapacity *int) (int, error) {
	var n int
	err := e.do(ctx, "update_capacity", eventKey(eventID), func(ctx context.Context) error {
		var err error
		n, err = e.registrar.UpdateCapacity(ctx, eventID, maxCapacity)
		return err
	})
	return n, err
}

// PromoteWaitlist fills free seats from the waitlist.
func (e *Engine) PromoteWaitlist(ctx context.Context, eventID string) (int, error) {
	var n int
	err := e.do(ctx, "promote", eventKey(eventID), func(ctx context.Context) error {
		var err error
		n, err = e.registrar.PromoteWaitlist(ctx, eventID)
		return err
	})
	return n, err
}

// Reconcile checks the event's counter against its seat holders.
func (e *Engine) Reconcile(ctx context.Context, eventID string) (registrar.Report, error) {
	var rep registrar.Report
	err := e.do(ctx, "reconcile", eventKey(eventID), func(ctx context.Context) error {
		var err error
		rep, err = e.registrar.Reconcile(ctx, eventID)
		return err
	})
	return rep, err
}

// Assign activates a staff assignment.
func (e *Engine) Assign(ctx context.Context, staffID, eventID string) (model.EventAssignment, error) {
	return e.guard.Assign(ctx, staffID, eventID)
}

// Unassign deactivates a staff assignment.
func (e *Engine) Unassign(ctx context.Context, staffID, eventID string) error {
	return e.guard.Unassign(ctx, staffID, eventID)
}

// History returns a participant's scans, newest first.
func (e *Engine) History(ctx context.Context, participantID string, limit int) ([]model.ScanRecord, error) {
	return e.ledger.History(ctx, participantID, limit)
}

// Leaderboard ranks participants by accrued time on site.
func (e *Engine) Leaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error) {
	return e.ledger.Leaderboard(ctx, limit)
}

// CurrentToken mints the participant's rotating token for this window.
func (e *Engine) CurrentToken(ctx context.Context, participantID string) (string, time.Time, error) {
	p, err := e.activeParticipant(ctx, participantID)
	if err != nil {
		return "", time.Time{}, err
	}
	now := e.clock.Now()
	tok, err := e.codec.Generate(p.ID, now)
	if err != nil {
		return "", time.Time{}, err
	}
	return tok, e.codec.ValidUntil(now), nil
}

// IssueBadge signs a new fallback badge and retires the participant's
// earlier ones.
func (e *Engine) IssueBadge(ctx context.Context, participantID string) (string, string, error) {
	p, err := e.activeParticipant(ctx, participantID)
	if err != nil {
		return "", "", err
	}
	tok, badgeID, err := e.badges.Issue(p.ID)
	if err != nil {
		return "", "", err
	}
	err = e.do(ctx, "issue_badge", "participant:"+p.ID, func(ctx context.Context) error {
		return e.store.WithTx(ctx, func(tx store.Tx) error {
			now := e.clock.Now().UTC()
			if _, err := tx.RevokeBadges(ctx, p.ID, now); err != nil {
				return err
			}
			return tx.RecordBadge(ctx, p.ID, badgeID, now)
		})
	})
	if err != nil {
		return "", "", err
	}
	e.logger.Info("badge issued", "participant_id", p.ID, "badge_id", badgeID)
	return tok, badgeID, nil
}

// RevokeBadge revokes every live badge of the participant.
func (e *Engine) RevokeBadge(ctx context.Context, participantID string) (int, error) {
	participantID = strings.TrimSpace(participantID)
	var n int
	err := e.do(ctx, "revoke_badge", "participant:"+participantID, func(ctx context.Context) error {
		return e.store.WithTx(ctx, func(tx store.Tx) error {
			var err error
			n, err = tx.RevokeBadges(ctx, participantID, e.clock.Now().UTC())
			if errors.Is(err, store.ErrNotFound) {
				return apperr.NotFound("participant %s not found", participantID)
			}
			return err
		})
	})
	if err != nil {
		return 0, err
	}
	e.logger.Info("badges revoked", "participant_id", participantID, "count", n)
	return n, nil
}

func (e *Engine) activeParticipant(ctx context.Context, id string) (model.Participant, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return model.Participant{}, apperr.Validation(apperr.CodeInvalidInput, "participant id is required")
	}
	p, err := e.store.GetParticipant(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.Participant{}, apperr.NotFound("participant %s not found", id)
	}
	if err != nil {
		return model.Participant{}, err
	}
	if !p.Active {
		return model.Participant{}, apperr.Authorization(apperr.CodeParticipantInactive, "participant %s is inactive", id)
	}
	return p, nil
}

func (e *Engine) lookupRegistration(ctx context.Context, id string) (model.Registration, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return model.Registration{}, apperr.Validation(apperr.CodeInvalidInput, "registration id is required")
	}
	reg, err := e.store.GetRegistration(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.Registration{}, apperr.NotFound("registration %s not found", id)
	}
	return reg, err
}
