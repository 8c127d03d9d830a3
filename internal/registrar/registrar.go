// Package registrar admits participants into capacity-limited events.
//
// Every admission decision reads the event counter and writes the
// registration inside one store write transaction, so two concurrent
// requests can never both take the last seat. Payment gateway calls happen
// strictly before or after that transaction.
package registrar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/turnstile/internal/apperr"
	"github.com/gyaneshwarpardhi/turnstile/internal/clock"
	"github.com/gyaneshwarpardhi/turnstile/internal/metrics"
	"github.com/gyaneshwarpardhi/turnstile/internal/model"
	"github.com/gyaneshwarpardhi/turnstile/internal/payment"
	"github.com/gyaneshwarpardhi/turnstile/internal/policy"
	"github.com/gyaneshwarpardhi/turnstile/internal/refund"
	"github.com/gyaneshwarpardhi/turnstile/internal/store"
)

const (
	DefaultMaxRetries   = 3
	DefaultRetryBackoff = 50 * time.Millisecond
)

// Config tunes retries and defaults.
type Config struct {
	MaxRetries   int
	RetryBackoff time.Duration
	// DefaultRefundTiers applies to events without their own tier table.
	DefaultRefundTiers []model.RefundTier
}

// PaymentProof is what the client reports after checkout.
type PaymentProof struct {
	OrderRef   string `json:"order_ref"`
	PaymentRef string `json:"payment_ref"`
	Signature  string `json:"signature"`
}

// Request asks for one seat.
type Request struct {
	ParticipantID string
	EventID       string
	PaymentProof  *PaymentProof
}

// Admission is the outcome of a successful Register.
type Admission struct {
	Registration model.Registration
	// OrderRef is set for PENDING registrations once the gateway order exists.
	OrderRef string
}

// Registrar is the CapacityRegistrar.
type Registrar struct {
	store    store.Store
	payments payment.Client
	clock    clock.Clock
	logger   *slog.Logger
	promoter *Promoter

	maxRetries int
	backoff    time.Duration

	predicate     atomic.Pointer[predicateBox]
	defaultRefund atomic.Pointer[refund.Policy]
}

type predicateBox struct{ p policy.Predicate }

// New builds a Registrar.
func New(st store.Store, payments payment.Client, clk clock.Clock, cfg Config, logger *slog.Logger) (*Registrar, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if payments == nil {
		return nil, fmt.Errorf("payment client is required")
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries must not be negative")
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	pol, err := refund.New(cfg.DefaultRefundTiers)
	if err != nil {
		return nil, err
	}
	r := &Registrar{
		store:      st,
		payments:   payments,
		clock:      clk,
		logger:     logger,
		promoter:   NewPromoter(clk, logger),
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.RetryBackoff,
	}
	r.predicate.Store(&predicateBox{p: policy.AllowAll{}})
	r.defaultRefund.Store(pol)
	return r, nil
}

// SetPredicate replaces the bulk admission predicate (config reload).
func (r *Registrar) SetPredicate(p policy.Predicate) {
	if p == nil {
		p = policy.AllowAll{}
	}
	r.predicate.Store(&predicateBox{p: p})
}

// SetDefaultRefundPolicy replaces the fallback refund table (config reload).
func (r *Registrar) SetDefaultRefundPolicy(p *refund.Policy) {
	if p == nil {
		p = refund.Default()
	}
	r.defaultRefund.Store(p)
}

// Register admits, waitlists or rejects one participant.
func (r *Registrar) Register(ctx context.Context, req Request) (Admission, error) {
	req.ParticipantID = strings.TrimSpace(req.ParticipantID)
	req.EventID = strings.TrimSpace(req.EventID)
	if req.ParticipantID == "" || req.EventID == "" {
		return Admission{}, apperr.Validation(apperr.CodeInvalidInput, "participant id and event id are required")
	}
	var order payment.Order
	if req.PaymentProof != nil {
		o, err := r.verifyProof(ctx, *req.PaymentProof)
		if err != nil {
			return Admission{}, err
		}
		order = o
	}

	var adm Admission
	err := r.withRetry(ctx, "register", func() error {
		return r.store.WithTx(ctx, func(tx store.Tx) error {
			ev, err := lockOpenEvent(ctx, tx, req.EventID, r.clock.Now())
			if err != nil {
				return err
			}
			if err := checkParticipant(ctx, tx, req.ParticipantID); err != nil {
				return err
			}
			if _, err := tx.FindLiveRegistration(ctx, req.ParticipantID, ev.ID); err == nil {
				return apperr.ErrAlreadyRegistered
			} else if !errors.Is(err, store.ErrNotFound) {
				return err
			}
			if req.PaymentProof != nil {
				if err := checkProofFits(ctx, tx, *req.PaymentProof, order, req.ParticipantID, ev); err != nil {
					return err
				}
			}

			now := r.clock.Now().UTC()
			reg := model.Registration{
				ID:            uuid.NewString(),
				ParticipantID: req.ParticipantID,
				EventID:       ev.ID,
				Currency:      ev.Currency,
				PaymentStatus: model.PaymentNone,
				RegisteredAt:  now,
			}
			switch {
			case ev.HasRoomFor(1):
				admitSeat(&reg, ev, req.PaymentProof, now)
				if err := tx.IncrementCount(ctx, ev.ID, 1); err != nil {
					return seatError(err)
				}
			case req.PaymentProof != nil:
				// A captured payment is never parked on the waitlist.
				return apperr.WithMetadata(apperr.KindConflict, apperr.CodeEventFull,
					"event is at capacity; payment was not applied",
					map[string]string{"event_id": ev.ID, "payment_ref": req.PaymentProof.PaymentRef})
			case ev.WaitlistEnabled:
				reg.Type = model.RegistrationWaitlist
				reg.Status = model.StatusWaitlisted
			default:
				return apperr.ErrEventFull
			}
			if err := tx.CreateRegistration(ctx, reg); err != nil {
				if errors.Is(err, store.ErrAlreadyExists) {
					return apperr.ErrAlreadyRegistered
				}
				return err
			}
			adm = Admission{Registration: reg}
			return nil
		})
	})
	if err != nil {
		metrics.Rejections.WithLabelValues("register", string(apperr.CodeOf(err))).Inc()
		return Admission{}, err
	}
	metrics.Registrations.WithLabelValues(string(adm.Registration.Status)).Inc()
	r.logger.Info("registration admitted",
		"registration_id", adm.Registration.ID, "event_id", req.EventID,
		"participant_id", req.ParticipantID, "status", adm.Registration.Status)

	if adm.Registration.Status == model.StatusPending {
		reg, err := r.CreatePaymentOrder(ctx, adm.Registration.ID)
		if err != nil {
			// The seat stays held; the client can request the order again.
			r.logger.Warn("payment order creation failed", "registration_id", adm.Registration.ID, "err", err)
		} else {
			adm.Registration = reg
			adm.OrderRef = reg.OrderRef
		}
	}
	return adm, nil
}

// admitSeat fills in a seat-holding registration.
func admitSeat(reg *model.Registration, ev model.Event, proof *PaymentProof, now time.Time) {
	reg.HoldsSeat = true
	if ev.Type != model.EventPaid {
		reg.Type = model.RegistrationFree
		reg.Status = model.StatusConfirmed
		return
	}
	reg.Type = model.RegistrationPaid
	reg.Amount = ev.Price
	if proof == nil {
		reg.Status = model.StatusPending
		return
	}
	reg.Status = model.StatusConfirmed
	reg.OrderRef = proof.OrderRef
	reg.PaymentRef = proof.PaymentRef
	reg.PaymentStatus = model.PaymentCompleted
	reg.PaidAt = &now
}

func lockOpenEvent(ctx context.Context, tx store.Tx, eventID string, now time.Time) (model.Event, error) {
	ev, err := lockEvent(ctx, tx, eventID)
	if err != nil {
		return model.Event{}, err
	}
	if !ev.AcceptsRegistrations(now) {
		return model.Event{}, apperr.New(apperr.KindConflict, apperr.CodeEventNotOpen,
			fmt.Sprintf("event %s is not accepting registrations (status %s)", ev.ID, ev.Status))
	}
	return ev, nil
}

func lockEvent(ctx context.Context, tx store.Tx, eventID string) (model.Event, error) {
	ev, err := tx.LockEvent(ctx, eventID)
	if errors.Is(err, store.ErrNotFound) {
		return model.Event{}, apperr.NotFound("event %s not found", eventID)
	}
	return ev, err
}

func checkParticipant(ctx context.Context, rd store.Reader, participantID string) error {
	p, err := rd.GetParticipant(ctx, participantID)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound("participant %s not found", participantID)
	}
	if err != nil {
		return err
	}
	if !p.Active {
		return apperr.Authorization(apperr.CodeParticipantInactive, "participant %s is inactive", participantID)
	}
	return nil
}

// seatError maps a refused counter move. Under the write lock it means the
// counter and the read disagree, which only a concurrent writer outside the
// lock could cause.
func seatError(err error) error {
	if errors.Is(err, store.ErrCapacityViolation) {
		return apperr.Wrap(apperr.KindConflict, apperr.CodeEventFull, "event is at capacity", err)
	}
	return err
}

// verifyProof checks the gateway signature and returns the order the
// payment was captured against.
func (r *Registrar) verifyProof(ctx context.Context, proof PaymentProof) (payment.Order, error) {
	if proof.OrderRef == "" || proof.PaymentRef == "" || proof.Signature == "" {
		return payment.Order{}, apperr.Validation(apperr.CodeInvalidInput, "payment proof needs order_ref, payment_ref and signature")
	}
	ok, err := r.payments.VerifyPayment(ctx, proof.OrderRef, proof.PaymentRef, proof.Signature)
	if err != nil {
		return payment.Order{}, apperr.Wrap(apperr.KindTransient, apperr.CodeTimeout, "payment verification unavailable", err)
	}
	if !ok {
		return payment.Order{}, apperr.Authorization(apperr.CodePaymentInvalid, "payment signature does not verify")
	}
	order, err := r.payments.LookupOrder(ctx, proof.OrderRef)
	if errors.Is(err, payment.ErrUnknownOrder) {
		return payment.Order{}, apperr.Authorization(apperr.CodePaymentInvalid, "order %s is unknown to the gateway", proof.OrderRef)
	}
	if err != nil {
		return payment.Order{}, apperr.Wrap(apperr.KindTransient, apperr.CodeTimeout, "payment order lookup unavailable", err)
	}
	return order, nil
}

// checkProofFits binds a verified payment to one participant, one paid event
// and its price, and refuses a payment already applied to any registration.
func checkProofFits(ctx context.Context, tx store.Tx, proof PaymentProof, order payment.Order, participantID string, ev model.Event) error {
	if ev.Type != model.EventPaid {
		return apperr.Validation(apperr.CodeInvalidInput, "event %s is free and takes no payment", ev.ID)
	}
	if order.Metadata["participant_id"] != participantID || order.Metadata["event_id"] != ev.ID {
		return apperr.Authorization(apperr.CodePaymentInvalid, "order %s was not opened for participant %s on event %s",
			order.Ref, participantID, ev.ID)
	}
	if order.Amount != ev.Price || !strings.EqualFold(order.Currency, ev.Currency) {
		return apperr.Authorization(apperr.CodePaymentInvalid, "order %s is for %d %s, event %s costs %d %s",
			order.Ref, order.Amount, order.Currency, ev.ID, ev.Price, ev.Currency)
	}
	used, err := tx.FindRegistrationByPaymentRef(ctx, proof.PaymentRef)
	if err == nil {
		return apperr.WithMetadata(apperr.KindConflict, apperr.CodePaymentInvalid,
			"payment was already applied to another registration",
			map[string]string{"payment_ref": proof.PaymentRef, "registration_id": used.ID})
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return nil
}

// OpenCheckout opens a gateway order for a participant who wants to pay
// before registering. The resulting proof is accepted by Register only for
// the same participant, event and price.
func (r *Registrar) OpenCheckout(ctx context.Context, participantID, eventID string) (payment.Order, error) {
	participantID = strings.TrimSpace(participantID)
	eventID = strings.TrimSpace(eventID)
	if participantID == "" || eventID == "" {
		return payment.Order{}, apperr.Validation(apperr.CodeInvalidInput, "participant id and event id are required")
	}
	ev, err := r.store.GetEvent(ctx, eventID)
	if errors.Is(err, store.ErrNotFound) {
		return payment.Order{}, apperr.NotFound("event %s not found", eventID)
	}
	if err != nil {
		return payment.Order{}, err
	}
	if ev.Type != model.EventPaid {
		return payment.Order{}, apperr.Validation(apperr.CodeInvalidInput, "event %s is free and takes no payment", ev.ID)
	}
	if !ev.AcceptsRegistrations(r.clock.Now()) {
		return payment.Order{}, apperr.New(apperr.KindConflict, apperr.CodeEventNotOpen,
			fmt.Sprintf("event %s is not accepting registrations (status %s)", ev.ID, ev.Status))
	}
	if err := checkParticipant(ctx, r.store, participantID); err != nil {
		return payment.Order{}, err
	}

	ref, err := r.payments.CreateOrder(ctx, ev.Price, ev.Currency, map[string]string{
		"event_id":       ev.ID,
		"participant_id": participantID,
	})
	if err != nil {
		return payment.Order{}, apperr.Wrap(apperr.KindTransient, apperr.CodeTimeout, "payment order creation failed", err)
	}
	r.logger.Info("checkout opened", "order_ref", ref, "event_id", ev.ID, "participant_id", participantID, "amount", ev.Price)
	return payment.Order{Ref: ref, Amount: ev.Price, Currency: ev.Currency}, nil
}

// withRetry reruns fn while it fails with a transient error.
func (r *Registrar) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if !apperr.IsTransient(err) || attempt >= r.maxRetries {
			return err
		}
		metrics.LockRetries.WithLabelValues(op).Inc()
		r.logger.Warn("transient store error; retrying", "op", op, "attempt", attempt+1, "err", err)
		select {
		case <-ctx.Done():
			return apperr.Wrap(apperr.KindTransient, apperr.CodeTimeout, op+" abandoned while retrying", ctx.Err())
		case <-time.After(r.backoff * time.Duration(attempt+1)):
		}
	}
}
