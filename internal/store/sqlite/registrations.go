package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gyaneshwarpardhi/turnstile/internal/model"
	"github.com/gyaneshwarpardhi/turnstile/internal/store"
)

const registrationColumns = `id, participant_id, event_id, type, status, amount, currency, order_ref, payment_ref,
	payment_status, refund_amount, refund_percent, refund_reason, refund_ref, refund_processed, holds_seat,
	registered_by, registered_at, cancelled_at, paid_at, promoted_at`

func scanRegistration(row rowScanner) (model.Registration, error) {
	var (
		r            model.Registration
		typ          string
		status       string
		payStatus    string
		processed    int
		holdsSeat    int
		registeredAt int64
		cancelledAt  sql.NullInt64
		paidAt       sql.NullInt64
		promotedAt   sql.NullInt64
	)
	if err := row.Scan(&r.ID, &r.ParticipantID, &r.EventID, &typ, &status, &r.Amount, &r.Currency,
		&r.OrderRef, &r.PaymentRef, &payStatus, &r.RefundAmount, &r.RefundPercent, &r.RefundReason,
		&r.RefundRef, &processed, &holdsSeat, &r.RegisteredBy, &registeredAt, &cancelledAt, &paidAt,
		&promotedAt); err != nil {
		return model.Registration{}, err
	}
	r.Type = model.RegistrationType(typ)
	r.Status = model.RegistrationStatus(status)
	r.PaymentStatus = model.PaymentStatus(payStatus)
	r.RefundProcessed = processed != 0
	r.HoldsSeat = holdsSeat != 0
	r.RegisteredAt = fromMillis(registeredAt)
	r.CancelledAt = fromNullMillis(cancelledAt)
	r.PaidAt = fromNullMillis(paidAt)
	r.PromotedAt = fromNullMillis(promotedAt)
	return r, nil
}

func (q queries) listRegistrations(ctx context.Context, query string, args ...any) ([]model.Registration, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query registrations: %w", err)
	}
	defer rows.Close()

	var out []model.Registration
	for rows.Next() {
		r, err := scanRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRegistration returns one registration by id.
func (q queries) GetRegistration(ctx context.Context, id string) (model.Registration, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+registrationColumns+` FROM registrations WHERE id = ?`, id)
	r, err := scanRegistration(row)
	if err != nil {
		return model.Registration{}, notFound(err)
	}
	return r, nil
}

// FindLiveRegistration returns the non-cancelled registration for the pair.
func (q queries) FindLiveRegistration(ctx context.Context, participantID, eventID string) (model.Registration, error) {
	row := q.q.QueryRowContext(ctx, `
		SELECT `+registrationColumns+`
		FROM registrations
		WHERE participant_id = ? AND event_id = ? AND status <> 'CANCELLED'`,
		participantID, eventID,
	)
	r, err := scanRegistration(row)
	if err != nil {
		return model.Registration{}, notFound(err)
	}
	return r, nil
}

// FindRegistrationByPaymentRef returns the registration holding paymentRef.
func (q queries) FindRegistrationByPaymentRef(ctx context.Context, paymentRef string) (model.Registration, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+registrationColumns+` FROM registrations WHERE payment_ref = ?`, paymentRef)
	r, err := scanRegistration(row)
	if err != nil {
		return model.Registration{}, notFound(err)
	}
	return r, nil
}

// CreateRegistration inserts a registration. A second live registration for
// the same participant and event, or a reused gateway payment ref, fails
// with ErrAlreadyExists.
func (t *tx) CreateRegistration(ctx context.Context, r model.Registration) error {
	if r.RegisteredAt.IsZero() {
		r.RegisteredAt = time.Now()
	}
	if r.PaymentStatus == "" {
		r.PaymentStatus = model.PaymentNone
	}
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO registrations (`+registrationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ParticipantID, r.EventID, string(r.Type), string(r.Status), r.Amount, r.Currency,
		r.OrderRef, r.PaymentRef, string(r.PaymentStatus), r.RefundAmount, r.RefundPercent, r.RefundReason,
		r.RefundRef, boolInt(r.RefundProcessed), boolInt(r.HoldsSeat), r.RegisteredBy, toMillis(r.RegisteredAt),
		nullMillis(r.CancelledAt), nullMillis(r.PaidAt), nullMillis(r.PromotedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrAlreadyExists
		}
		return fmt.Errorf("create registration: %w", err)
	}
	return nil
}

// UpdateRegistration rewrites the mutable fields of a registration.
func (t *tx) UpdateRegistration(ctx context.Context, r model.Registration) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE registrations SET
			type = ?, status = ?, amount = ?, currency = ?, order_ref = ?, payment_ref = ?,
			payment_status = ?, refund_amount = ?, refund_percent = ?, refund_reason = ?, refund_ref = ?,
			refund_processed = ?, holds_seat = ?, cancelled_at = ?, paid_at = ?, promoted_at = ?
		WHERE id = ?`,
		string(r.Type), string(r.Status), r.Amount, r.Currency, r.OrderRef, r.PaymentRef,
		string(r.PaymentStatus), r.RefundAmount, r.RefundPercent, r.RefundReason, r.RefundRef,
		boolInt(r.RefundProcessed), boolInt(r.HoldsSeat), nullMillis(r.CancelledAt), nullMillis(r.PaidAt),
		nullMillis(r.PromotedAt), r.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrAlreadyExists
		}
		return fmt.Errorf("update registration: %w", err)
	}
	return expectOne(res)
}

// ListWaitlist returns WAITLISTED entries in arrival order.
func (t *tx) ListWaitlist(ctx context.Context, eventID string, limit int) ([]model.Registration, error) {
	if limit <= 0 {
		return nil, nil
	}
	return t.listRegistrations(ctx, `
		SELECT `+registrationColumns+`
		FROM registrations
		WHERE event_id = ? AND status = 'WAITLISTED'
		ORDER BY registered_at ASC, rowid ASC
		LIMIT ?`, eventID, limit)
}

// CountSeatHolders counts registrations that occupy a slot.
func (t *tx) CountSeatHolders(ctx context.Context, eventID string) (int, error) {
	var n int
	err := t.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM registrations
		WHERE event_id = ? AND holds_seat = 1 AND status <> 'CANCELLED'`, eventID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count seat holders: %w", err)
	}
	return n, nil
}

// CountRegisteredBy counts live registrations an admin created for an event.
func (t *tx) CountRegisteredBy(ctx context.Context, eventID, adminID string) (int, error) {
	var n int
	err := t.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM registrations
		WHERE event_id = ? AND registered_by = ? AND status <> 'CANCELLED'`, eventID, adminID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count admin registrations: %w", err)
	}
	return n, nil
}
