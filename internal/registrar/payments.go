package registrar

import (
	"context"
	"errors"
	"strings"

	"github.com/gyaneshwarpardhi/turnstile/internal/apperr"
	"github.com/gyaneshwarpardhi/turnstile/internal/model"
	"github.com/gyaneshwarpardhi/turnstile/internal/store"
)

// ConfirmRequest carries the gateway callback for one registration.
type ConfirmRequest struct {
	RegistrationID string
	PaymentProof
}

func awaitingPayment(reg model.Registration) bool {
	if reg.Type != model.RegistrationPaid || reg.PaymentStatus == model.PaymentCompleted {
		return false
	}
	return reg.Status == model.StatusPending || reg.Status == model.StatusConfirmed
}

// CreatePaymentOrder opens a gateway order for a registration that holds a
// seat but has not paid. Safe to call again; a new order replaces the old.
func (r *Registrar) CreatePaymentOrder(ctx context.Context, registrationID string) (model.Registration, error) {
	reg, err := r.getRegistration(ctx, registrationID)
	if err != nil {
		return model.Registration{}, err
	}
	if !awaitingPayment(reg) {
		return model.Registration{}, apperr.New(apperr.KindConflict, apperr.CodeInvalidTransition,
			"registration "+reg.ID+" is not awaiting payment")
	}

	orderRef, err := r.payments.CreateOrder(ctx, reg.Amount, reg.Currency, map[string]string{
		"registration_id": reg.ID,
		"event_id":        reg.EventID,
		"participant_id":  reg.ParticipantID,
	})
	if err != nil {
		return model.Registration{}, apperr.Wrap(apperr.KindTransient, apperr.CodeTimeout, "payment order creation failed", err)
	}

	var out model.Registration
	err = r.withRetry(ctx, "create_order", func() error {
		return r.store.WithTx(ctx, func(tx store.Tx) error {
			cur, err := tx.GetRegistration(ctx, reg.ID)
			if err != nil {
				return err
			}
			if !awaitingPayment(cur) {
				return apperr.New(apperr.KindConflict, apperr.CodeInvalidTransition,
					"registration "+cur.ID+" changed while the order was created")
			}
			cur.OrderRef = orderRef
			cur.PaymentStatus = model.PaymentCreated
			if err := tx.UpdateRegistration(ctx, cur); err != nil {
				return err
			}
			out = cur
			return nil
		})
	})
	if err != nil {
		return model.Registration{}, err
	}
	r.logger.Info("payment order created", "registration_id", out.ID, "order_ref", orderRef, "amount", out.Amount)
	return out, nil
}

// ConfirmPayment verifies the gateway signature and completes payment.
// PENDING registrations become CONFIRMED. Repeating a confirmation with the
// same payment ref returns the stored registration unchanged.
func (r *Registrar) ConfirmPayment(ctx context.Context, req ConfirmRequest) (model.Registration, error) {
	reg, err := r.getRegistration(ctx, req.RegistrationID)
	if err != nil {
		return model.Registration{}, err
	}
	if reg.PaymentStatus == model.PaymentCompleted {
		if reg.PaymentRef == req.PaymentRef {
			return reg, nil
		}
		return model.Registration{}, apperr.New(apperr.KindConflict, apperr.CodeInvalidTransition,
			"registration "+reg.ID+" is already paid with a different payment")
	}
	if reg.Status == model.StatusCancelled {
		return model.Registration{}, apperr.ErrAlreadyCancelled
	}
	if reg.OrderRef == "" || reg.OrderRef != strings.TrimSpace(req.OrderRef) {
		return model.Registration{}, apperr.Validation(apperr.CodePaymentInvalid, "order %q does not belong to registration %s", req.OrderRef, reg.ID)
	}
	order, err := r.verifyProof(ctx, req.PaymentProof)
	if err != nil {
		return model.Registration{}, err
	}
	if order.Amount != reg.Amount {
		return model.Registration{}, apperr.Authorization(apperr.CodePaymentInvalid, "order %s is for %d, registration %s owes %d",
			order.Ref, order.Amount, reg.ID, reg.Amount)
	}

	var out model.Registration
	err = r.withRetry(ctx, "confirm_payment", func() error {
		return r.store.WithTx(ctx, func(tx store.Tx) error {
			cur, err := tx.GetRegistration(ctx, reg.ID)
			if err != nil {
				return err
			}
			switch {
			case cur.Status == model.StatusCancelled:
				return apperr.ErrAlreadyCancelled
			case cur.PaymentStatus == model.PaymentCompleted:
				out = cur
				return nil
			case !awaitingPayment(cur):
				return apperr.New(apperr.KindConflict, apperr.CodeInvalidTransition,
					"registration "+cur.ID+" in status "+string(cur.Status)+" cannot take a payment")
			}
			now := r.clock.Now().UTC()
			cur.Status = model.StatusConfirmed
			cur.PaymentRef = req.PaymentRef
			cur.PaymentStatus = model.PaymentCompleted
			cur.PaidAt = &now
			if err := tx.UpdateRegistration(ctx, cur); err != nil {
				return err
			}
			out = cur
			return nil
		})
	})
	if err != nil {
		return model.Registration{}, err
	}
	r.logger.Info("payment confirmed", "registration_id", out.ID, "payment_ref", out.PaymentRef)
	return out, nil
}

func (r *Registrar) getRegistration(ctx context.Context, id string) (model.Registration, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return model.Registration{}, apperr.Validation(apperr.CodeInvalidInput, "registration id is required")
	}
	reg, err := r.store.GetRegistration(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.Registration{}, apperr.NotFound("registration %s not found", id)
	}
	return reg, err
}
