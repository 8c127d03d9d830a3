package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/turnstile/internal/model"
	"github.com/gyaneshwarpardhi/turnstile/internal/store"
)

const participantColumns = `id, registration_no, name, presence, scan_count, last_entry_at, last_exit_at,
	total_duration_ms, active, badge_revoked, created_at`

func scanParticipant(row rowScanner) (model.Participant, error) {
	var (
		p          model.Participant
		presence   string
		lastEntry  sql.NullInt64
		lastExit   sql.NullInt64
		durationMs int64
		active     int
		revoked    int
		createdAt  int64
	)
	if err := row.Scan(&p.ID, &p.RegistrationNo, &p.Name, &presence, &p.ScanCount, &lastEntry, &lastExit,
		&durationMs, &active, &revoked, &createdAt); err != nil {
		return model.Participant{}, err
	}
	p.Presence = model.Presence(presence)
	p.LastEntryAt = fromNullMillis(lastEntry)
	p.LastExitAt = fromNullMillis(lastExit)
	p.TotalDuration = time.Duration(durationMs) * time.Millisecond
	p.Active = active != 0
	p.BadgeRevoked = revoked != 0
	p.CreatedAt = fromMillis(createdAt)
	return p, nil
}

// GetParticipant returns one participant by id.
func (q queries) GetParticipant(ctx context.Context, id string) (model.Participant, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+participantColumns+` FROM participants WHERE id = ?`, id)
	p, err := scanParticipant(row)
	if err != nil {
		return model.Participant{}, notFound(err)
	}
	return p, nil
}

// GetParticipantByRegistrationNo looks a participant up by the number
// printed on their card.
func (q queries) GetParticipantByRegistrationNo(ctx context.Context, registrationNo string) (model.Participant, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+participantColumns+` FROM participants WHERE registration_no = ?`,
		strings.TrimSpace(registrationNo))
	p, err := scanParticipant(row)
	if err != nil {
		return model.Participant{}, notFound(err)
	}
	return p, nil
}

// Leaderboard ranks participants by accrued presence.
func (q queries) Leaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, registration_no, name, total_duration_ms
		FROM participants
		WHERE total_duration_ms > 0
		ORDER BY total_duration_ms DESC, registration_no ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}
	defer rows.Close()

	var out []model.LeaderboardEntry
	for rows.Next() {
		var (
			e  model.LeaderboardEntry
			ms int64
		)
		if err := rows.Scan(&e.ParticipantID, &e.RegistrationNo, &e.Name, &ms); err != nil {
			return nil, fmt.Errorf("scan leaderboard row: %w", err)
		}
		e.TotalDuration = time.Duration(ms) * time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}

// LockParticipant reads the participant inside the write transaction.
func (t *tx) LockParticipant(ctx context.Context, id string) (model.Participant, error) {
	return t.GetParticipant(ctx, id)
}

// UpdatePresence persists the presence fields owned by the ledger.
func (t *tx) UpdatePresence(ctx context.Context, p model.Participant) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE participants
		SET presence = ?, scan_count = ?, last_entry_at = ?, last_exit_at = ?, total_duration_ms = ?
		WHERE id = ?`,
		string(p.Presence), p.ScanCount, nullMillis(p.LastEntryAt), nullMillis(p.LastExitAt),
		p.TotalDuration.Milliseconds(), p.ID,
	)
	if err != nil {
		return fmt.Errorf("update presence: %w", err)
	}
	return expectOne(res)
}

// CreateParticipant inserts a participant.
func (t *tx) CreateParticipant(ctx context.Context, p model.Participant) error {
	if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.RegistrationNo) == "" {
		return fmt.Errorf("participant id and registration number are required")
	}
	if p.Presence == "" {
		p.Presence = model.Outside
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO participants (`+participantColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, strings.TrimSpace(p.RegistrationNo), p.Name, string(p.Presence), p.ScanCount,
		nullMillis(p.LastEntryAt), nullMillis(p.LastExitAt), p.TotalDuration.Milliseconds(),
		boolInt(p.Active), boolInt(p.BadgeRevoked), toMillis(p.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrAlreadyExists
		}
		return fmt.Errorf("create participant: %w", err)
	}
	return nil
}

// SetParticipantActive activates or deactivates a participant.
func (t *tx) SetParticipantActive(ctx context.Context, id string, active bool) error {
	res, err := t.q.ExecContext(ctx, `UPDATE participants SET active = ? WHERE id = ?`, boolInt(active), id)
	if err != nil {
		return fmt.Errorf("set participant active: %w", err)
	}
	return expectOne(res)
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
