package sqlite

import (
	"context"
	"fmt"

	"github.com/gyaneshwarpardhi/turnstile/internal/model"
)

// ListActiveAssignments returns the staff member's active assignments joined
// with their event start times, most recently started first.
func (q queries) ListActiveAssignments(ctx context.Context, staffID string) ([]model.EventAssignment, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT a.id, a.staff_id, a.event_id, a.active, a.assigned_at, e.starts_at
		FROM event_assignments a
		JOIN events e ON e.id = a.event_id
		WHERE a.staff_id = ? AND a.active = 1
		ORDER BY e.starts_at DESC, a.assigned_at DESC`, staffID)
	if err != nil {
		return nil, fmt.Errorf("query assignments: %w", err)
	}
	defer rows.Close()

	var out []model.EventAssignment
	for rows.Next() {
		var (
			a          model.EventAssignment
			active     int
			assignedAt int64
			startsAt   int64
		)
		if err := rows.Scan(&a.ID, &a.StaffID, &a.EventID, &active, &assignedAt, &startsAt); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		a.Active = active != 0
		a.AssignedAt = fromMillis(assignedAt)
		a.EventStartsAt = fromMillis(startsAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetAssignment returns the assignment row for the pair, active or not.
func (t *tx) GetAssignment(ctx context.Context, staffID, eventID string) (model.EventAssignment, error) {
	var (
		a          model.EventAssignment
		active     int
		assignedAt int64
		startsAt   int64
	)
	err := t.q.QueryRowContext(ctx, `
		SELECT a.id, a.staff_id, a.event_id, a.active, a.assigned_at, e.starts_at
		FROM event_assignments a
		JOIN events e ON e.id = a.event_id
		WHERE a.staff_id = ? AND a.event_id = ?`, staffID, eventID,
	).Scan(&a.ID, &a.StaffID, &a.EventID, &active, &assignedAt, &startsAt)
	if err != nil {
		return model.EventAssignment{}, notFound(err)
	}
	a.Active = active != 0
	a.AssignedAt = fromMillis(assignedAt)
	a.EventStartsAt = fromMillis(startsAt)
	return a, nil
}

// SaveAssignment inserts or updates the single row per (staff, event).
func (t *tx) SaveAssignment(ctx context.Context, a model.EventAssignment) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO event_assignments (id, staff_id, event_id, active, assigned_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (staff_id, event_id) DO UPDATE SET
			active = excluded.active,
			assigned_at = excluded.assigned_at`,
		a.ID, a.StaffID, a.EventID, boolInt(a.Active), toMillis(a.AssignedAt),
	)
	if err != nil {
		return fmt.Errorf("save assignment: %w", err)
	}
	return nil
}
