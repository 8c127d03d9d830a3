package registrar

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/gyaneshwarpardhi/turnstile/internal/apperr"
	"github.com/gyaneshwarpardhi/turnstile/internal/clock"
	"github.com/gyaneshwarpardhi/turnstile/internal/metrics"
	"github.com/gyaneshwarpardhi/turnstile/internal/model"
	"github.com/gyaneshwarpardhi/turnstile/internal/store"
)

// maxPromotionBatch bounds one promotion pass on unlimited events.
const maxPromotionBatch = 1000

// Promoter moves waitlisted registrations into freed seats. It always runs
// inside the caller's transaction.
type Promoter struct {
	clock  clock.Clock
	logger *slog.Logger
}

// NewPromoter builds a Promoter.
func NewPromoter(clk clock.Clock, logger *slog.Logger) *Promoter {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Promoter{clock: clk, logger: logger}
}

// Promote confirms up to freed of the earliest WAITLISTED registrations,
// never beyond the event's remaining capacity, and returns how many moved.
// On PAID events promoted entries still owe payment.
func (p *Promoter) Promote(ctx context.Context, tx store.Tx, eventID string, freed int) (int, error) {
	if freed <= 0 {
		return 0, nil
	}
	ev, err := tx.LockEvent(ctx, eventID)
	if err != nil {
		return 0, err
	}
	if !ev.WaitlistEnabled {
		return 0, nil
	}
	room := freed
	if rem := ev.Remaining(); rem >= 0 && rem < room {
		room = rem
	}
	if room <= 0 {
		return 0, nil
	}
	entries, err := tx.ListWaitlist(ctx, eventID, room)
	if err != nil {
		return 0, err
	}

	now := p.clock.Now().UTC()
	promoted := 0
	for _, reg := range entries {
		if !model.CanTransition(reg.Status, model.StatusConfirmed) {
			continue
		}
		reg.Status = model.StatusConfirmed
		reg.HoldsSeat = true
		reg.PromotedAt = &now
		if ev.Type == model.EventPaid {
			reg.Type = model.RegistrationPaid
			reg.Amount = ev.Price
			reg.Currency = ev.Currency
		} else {
			reg.Type = model.RegistrationFree
		}
		if err := tx.IncrementCount(ctx, eventID, 1); err != nil {
			return promoted, err
		}
		if err := tx.UpdateRegistration(ctx, reg); err != nil {
			return promoted, err
		}
		promoted++
		p.logger.Info("waitlist entry promoted",
			"registration_id", reg.ID, "event_id", eventID, "participant_id", reg.ParticipantID)
	}
	metrics.WaitlistPromotions.Add(float64(promoted))
	return promoted, nil
}

// PromoteWaitlist fills whatever capacity is free right now.
func (r *Registrar) PromoteWaitlist(ctx context.Context, eventID string) (int, error) {
	eventID = strings.TrimSpace(eventID)
	var promoted int
	err := r.withRetry(ctx, "promote", func() error {
		return r.store.WithTx(ctx, func(tx store.Tx) error {
			ev, err := lockEvent(ctx, tx, eventID)
			if err != nil {
				return err
			}
			free := ev.Remaining()
			if free < 0 {
				free = maxPromotionBatch
			}
			promoted, err = r.promoter.Promote(ctx, tx, ev.ID, free)
			return err
		})
	})
	return promoted, err
}

// UpdateCapacity changes an event's ceiling (nil for unlimited) and promotes
// into any seats it opens. Shrinking below the confirmed count is refused.
func (r *Registrar) UpdateCapacity(ctx context.Context, eventID string, maxCapacity *int) (int, error) {
	eventID = strings.TrimSpace(eventID)
	if maxCapacity != nil && *maxCapacity < 0 {
		return 0, apperr.Validation(apperr.CodeInvalidInput, "capacity must not be negative")
	}
	var promoted int
	err := r.withRetry(ctx, "update_capacity", func() error {
		return r.store.WithTx(ctx, func(tx store.Tx) error {
			ev, err := lockEvent(ctx, tx, eventID)
			if err != nil {
				return err
			}
			if err := tx.SetCapacity(ctx, ev.ID, maxCapacity); err != nil {
				if errors.Is(err, store.ErrCapacityViolation) {
					return apperr.Validation(apperr.CodeInvalidInput,
						"capacity %d is below the %d seats already taken", *maxCapacity, ev.CurrentCount)
				}
				return err
			}
			ev.MaxCapacity = maxCapacity
			free := ev.Remaining()
			if free < 0 {
				free = maxPromotionBatch
			}
			promoted, err = r.promoter.Promote(ctx, tx, ev.ID, free)
			return err
		})
	})
	if err != nil {
		return 0, err
	}
	r.logger.Info("event capacity updated", "event_id", eventID, "promoted", promoted)
	return promoted, nil
}
