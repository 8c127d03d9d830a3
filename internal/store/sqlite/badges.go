package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// BadgeRevoked reports true when the badge was never issued to the
// participant, has been revoked, or the participant's revocation flag is set.
func (q queries) BadgeRevoked(ctx context.Context, participantID, badgeID string) (bool, error) {
	var (
		revokedAt sql.NullInt64
		flagged   int
	)
	err := q.q.QueryRowContext(ctx, `
		SELECT b.revoked_at, p.badge_revoked
		FROM badges b
		JOIN participants p ON p.id = b.participant_id
		WHERE b.id = ? AND b.participant_id = ?`, badgeID, participantID,
	).Scan(&revokedAt, &flagged)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup badge: %w", err)
	}
	return revokedAt.Valid || flagged != 0, nil
}

// RecordBadge stores a freshly issued badge and clears the participant's
// revoked flag.
func (t *tx) RecordBadge(ctx context.Context, participantID, badgeID string, issuedAt time.Time) error {
	if _, err := t.q.ExecContext(ctx,
		`INSERT INTO badges (id, participant_id, issued_at) VALUES (?, ?, ?)`,
		badgeID, participantID, toMillis(issuedAt),
	); err != nil {
		return fmt.Errorf("record badge: %w", err)
	}
	res, err := t.q.ExecContext(ctx, `UPDATE participants SET badge_revoked = 0 WHERE id = ?`, participantID)
	if err != nil {
		return fmt.Errorf("clear badge revocation: %w", err)
	}
	return expectOne(res)
}

// RevokeBadges revokes every live badge of the participant.
func (t *tx) RevokeBadges(ctx context.Context, participantID string, at time.Time) (int, error) {
	res, err := t.q.ExecContext(ctx,
		`UPDATE badges SET revoked_at = ? WHERE participant_id = ? AND revoked_at IS NULL`,
		toMillis(at), participantID,
	)
	if err != nil {
		return 0, fmt.Errorf("revoke badges: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	upd, err := t.q.ExecContext(ctx, `UPDATE participants SET badge_revoked = 1 WHERE id = ?`, participantID)
	if err != nil {
		return 0, fmt.Errorf("flag badge revocation: %w", err)
	}
	if err := expectOne(upd); err != nil {
		return 0, err
	}
	return int(n), nil
}
