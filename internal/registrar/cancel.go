package registrar

import (
	"context"
	"errors"
	"strings"

	"github.com/gyaneshwarpardhi/turnstile/internal/apperr"
	"github.com/gyaneshwarpardhi/turnstile/internal/metrics"
	"github.com/gyaneshwarpardhi/turnstile/internal/model"
	"github.com/gyaneshwarpardhi/turnstile/internal/refund"
	"github.com/gyaneshwarpardhi/turnstile/internal/store"
)

// CancelRequest cancels one registration. ForceAmount replaces the tier
// computation with an admin-chosen refund.
type CancelRequest struct {
	RegistrationID string
	ForceAmount    *int64
	Reason         string
}

// Cancellation reports what a cancel did.
type Cancellation struct {
	Registration    model.Registration `json:"registration"`
	RefundAmount    int64              `json:"refund_amount"`
	RefundPercent   int                `json:"refund_percent"`
	RefundReason    string             `json:"refund_reason"`
	RefundProcessed bool               `json:"refund_processed"`
	PromotedCount   int                `json:"promoted_waitlist_count"`
}

// Cancel cancels a registration, records its refund, frees its seat and
// promotes from the waitlist in one transaction. The gateway refund runs
// after commit.
func (r *Registrar) Cancel(ctx context.Context, req CancelRequest) (Cancellation, error) {
	req.RegistrationID = strings.TrimSpace(req.RegistrationID)
	if req.RegistrationID == "" {
		return Cancellation{}, apperr.Validation(apperr.CodeInvalidInput, "registration id is required")
	}
	if req.ForceAmount != nil && *req.ForceAmount < 0 {
		return Cancellation{}, apperr.Validation(apperr.CodeInvalidAmount, "forced refund amount must not be negative")
	}

	var out Cancellation
	err := r.withRetry(ctx, "cancel", func() error {
		return r.store.WithTx(ctx, func(tx store.Tx) error {
			reg, err := tx.GetRegistration(ctx, req.RegistrationID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return apperr.NotFound("registration %s not found", req.RegistrationID)
				}
				return err
			}
			if reg.Status == model.StatusCancelled {
				return apperr.ErrAlreadyCancelled
			}
			if !model.CanTransition(reg.Status, model.StatusCancelled) {
				return apperr.New(apperr.KindConflict, apperr.CodeInvalidTransition,
					"registration in status "+string(reg.Status)+" cannot be cancelled")
			}
			ev, err := lockEvent(ctx, tx, reg.EventID)
			if err != nil {
				return err
			}

			now := r.clock.Now().UTC()
			dec, err := r.refundDecision(reg, ev, req.ForceAmount)
			if err != nil {
				return err
			}

			freed := 0
			if reg.HoldsSeat {
				if err := tx.IncrementCount(ctx, ev.ID, -1); err != nil {
					return err
				}
				freed = 1
			}
			reg.Status = model.StatusCancelled
			reg.HoldsSeat = false
			reg.CancelledAt = &now
			reg.RefundAmount = dec.Amount
			reg.RefundPercent = dec.Percent
			reg.RefundReason = dec.Reason
			if err := tx.UpdateRegistration(ctx, reg); err != nil {
				return err
			}

			promoted := 0
			if freed > 0 {
				promoted, err = r.promoter.Promote(ctx, tx, ev.ID, freed)
				if err != nil {
					return err
				}
			}
			out = Cancellation{
				Registration:  reg,
				RefundAmount:  dec.Amount,
				RefundPercent: dec.Percent,
				RefundReason:  dec.Reason,
				PromotedCount: promoted,
			}
			return nil
		})
	})
	if err != nil {
		metrics.Rejections.WithLabelValues("cancel", string(apperr.CodeOf(err))).Inc()
		return Cancellation{}, err
	}
	metrics.RefundsIssued.WithLabelValues(out.RefundReason).Inc()
	r.logger.Info("registration cancelled",
		"registration_id", out.Registration.ID, "event_id", out.Registration.EventID,
		"refund_amount", out.RefundAmount, "refund_reason", out.RefundReason,
		"promoted", out.PromotedCount, "note", req.Reason)

	if out.RefundAmount > 0 {
		reg, err := r.processRefund(ctx, out.Registration)
		if err != nil {
			r.logger.Error("gateway refund failed; registration left with refund_processed=false",
				"registration_id", out.Registration.ID, "amount", out.RefundAmount, "err", err)
		} else {
			out.Registration = reg
			out.RefundProcessed = true
		}
	}
	return out, nil
}

// refundDecision picks the refund for a registration being cancelled.
func (r *Registrar) refundDecision(reg model.Registration, ev model.Event, force *int64) (refund.Decision, error) {
	if reg.PaymentStatus != model.PaymentCompleted || reg.Amount <= 0 {
		return refund.Decision{Reason: refund.ReasonNothingPaid}, nil
	}
	if force != nil {
		return refund.Override(reg.Amount, *force), nil
	}
	pol := r.defaultRefund.Load()
	if len(ev.RefundTiers) > 0 {
		var err error
		pol, err = refund.New(ev.RefundTiers)
		if err != nil {
			return refund.Decision{}, apperr.Wrap(apperr.KindValidation, apperr.CodeInvalidTiers,
				"event "+ev.ID+" has an invalid refund table", err)
		}
	}
	return pol.Compute(reg.Amount, ev.StartsAt, r.clock.Now()), nil
}

// processRefund calls the gateway, then records the refund reference.
func (r *Registrar) processRefund(ctx context.Context, reg model.Registration) (model.Registration, error) {
	refundRef, err := r.payments.Refund(ctx, reg.PaymentRef, reg.RefundAmount)
	if err != nil {
		return model.Registration{}, err
	}
	metrics.RefundAmount.Add(float64(reg.RefundAmount))

	var out model.Registration
	err = r.withRetry(ctx, "record_refund", func() error {
		return r.store.WithTx(ctx, func(tx store.Tx) error {
			cur, err := tx.GetRegistration(ctx, reg.ID)
			if err != nil {
				return err
			}
			cur.RefundRef = refundRef
			cur.RefundProcessed = true
			cur.PaymentStatus = model.PaymentRefunded
			if err := tx.UpdateRegistration(ctx, cur); err != nil {
				return err
			}
			out = cur
			return nil
		})
	})
	if err != nil {
		r.logger.Error("refund issued but not recorded", "registration_id", reg.ID, "refund_ref", refundRef, "err", err)
		return model.Registration{}, err
	}
	return out, nil
}
