package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/turnstile/internal/model"
	"github.com/gyaneshwarpardhi/turnstile/internal/store"
)

const eventColumns = `id, name, type, status, starts_at, ends_at, registration_opens_at, registration_closes_at,
	max_capacity, current_count, waitlist_enabled, price, currency, refund_tiers, created_at`

func scanEvent(row rowScanner) (model.Event, error) {
	var (
		e         model.Event
		typ       string
		status    string
		startsAt  int64
		endsAt    int64
		opensAt   sql.NullInt64
		closesAt  sql.NullInt64
		maxCap    sql.NullInt64
		waitlist  int
		tiersJSON string
		createdAt int64
	)
	if err := row.Scan(&e.ID, &e.Name, &typ, &status, &startsAt, &endsAt, &opensAt, &closesAt,
		&maxCap, &e.CurrentCount, &waitlist, &e.Price, &e.Currency, &tiersJSON, &createdAt); err != nil {
		return model.Event{}, err
	}
	e.Type = model.EventType(typ)
	e.Status = model.EventStatus(status)
	e.StartsAt = fromMillis(startsAt)
	e.EndsAt = fromMillis(endsAt)
	e.RegistrationOpensAt = fromNullMillis(opensAt)
	e.RegistrationClosesAt = fromNullMillis(closesAt)
	if maxCap.Valid {
		n := int(maxCap.Int64)
		e.MaxCapacity = &n
	}
	e.WaitlistEnabled = waitlist != 0
	if tiersJSON != "" && tiersJSON != "[]" {
		if err := json.Unmarshal([]byte(tiersJSON), &e.RefundTiers); err != nil {
			return model.Event{}, fmt.Errorf("decode refund tiers for event %s: %w", e.ID, err)
		}
	}
	e.CreatedAt = fromMillis(createdAt)
	return e, nil
}

func nullCapacity(maxCapacity *int) sql.NullInt64 {
	if maxCapacity == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*maxCapacity), Valid: true}
}

// GetEvent returns one event by id.
func (q queries) GetEvent(ctx context.Context, id string) (model.Event, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	e, err := scanEvent(row)
	if err != nil {
		return model.Event{}, notFound(err)
	}
	return e, nil
}

// LockEvent reads the event inside the write transaction.
func (t *tx) LockEvent(ctx context.Context, id string) (model.Event, error) {
	return t.GetEvent(ctx, id)
}

// IncrementCount moves the counter by delta inside [0, max_capacity].
func (t *tx) IncrementCount(ctx context.Context, eventID string, delta int) error {
	if delta == 0 {
		return nil
	}
	res, err := t.q.ExecContext(ctx, `
		UPDATE events
		SET current_count = current_count + ?1
		WHERE id = ?2
		  AND current_count + ?1 >= 0
		  AND (max_capacity IS NULL OR current_count + ?1 <= max_capacity)`,
		delta, eventID,
	)
	if err != nil {
		if isCheckViolation(err) {
			return store.ErrCapacityViolation
		}
		return fmt.Errorf("increment count: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		if _, err := t.GetEvent(ctx, eventID); err != nil {
			return err
		}
		return store.ErrCapacityViolation
	}
	return nil
}

// SetCapacity changes the ceiling; nil means unlimited. Lowering it below
// the current count fails with ErrCapacityViolation.
func (t *tx) SetCapacity(ctx context.Context, eventID string, maxCapacity *int) error {
	res, err := t.q.ExecContext(ctx, `UPDATE events SET max_capacity = ? WHERE id = ?`, nullCapacity(maxCapacity), eventID)
	if err != nil {
		if isCheckViolation(err) {
			return store.ErrCapacityViolation
		}
		return fmt.Errorf("set capacity: %w", err)
	}
	return expectOne(res)
}

// SetEventStatus moves an event through its lifecycle.
func (t *tx) SetEventStatus(ctx context.Context, eventID string, status model.EventStatus) error {
	res, err := t.q.ExecContext(ctx, `UPDATE events SET status = ? WHERE id = ?`, string(status), eventID)
	if err != nil {
		return fmt.Errorf("set event status: %w", err)
	}
	return expectOne(res)
}

// CreateEvent inserts an event.
func (t *tx) CreateEvent(ctx context.Context, e model.Event) error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("event id is required")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	tiers := "[]"
	if len(e.RefundTiers) > 0 {
		b, err := json.Marshal(e.RefundTiers)
		if err != nil {
			return fmt.Errorf("encode refund tiers: %w", err)
		}
		tiers = string(b)
	}
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Name, string(e.Type), string(e.Status), toMillis(e.StartsAt), toMillis(e.EndsAt),
		nullMillis(e.RegistrationOpensAt), nullMillis(e.RegistrationClosesAt), nullCapacity(e.MaxCapacity),
		e.CurrentCount, boolInt(e.WaitlistEnabled), e.Price, e.Currency, tiers, toMillis(e.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrAlreadyExists
		}
		return fmt.Errorf("create event: %w", err)
	}
	return nil
}
