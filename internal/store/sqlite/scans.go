package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gyaneshwarpardhi/turnstile/internal/model"
	"github.com/gyaneshwarpardhi/turnstile/internal/store"
)

// AppendScan appends one attendance record. Sequence numbers are unique per
// participant.
func (t *tx) AppendScan(ctx context.Context, rec model.ScanRecord) error {
	var duration sql.NullInt64
	if rec.Duration != nil {
		duration = sql.NullInt64{Int64: rec.Duration.Milliseconds(), Valid: true}
	}
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO scan_records (id, participant_id, staff_id, event_id, direction, sequence, duration_ms, anomalous, scanned_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ParticipantID, rec.StaffID, rec.EventID, string(rec.Direction), rec.Sequence,
		duration, boolInt(rec.Anomalous), toMillis(rec.ScannedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrAlreadyExists
		}
		return fmt.Errorf("append scan: %w", err)
	}
	return nil
}

// ListScans returns a participant's scans newest first.
func (q queries) ListScans(ctx context.Context, participantID string, limit int) ([]model.ScanRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, participant_id, staff_id, event_id, direction, sequence, duration_ms, anomalous, scanned_at
		FROM scan_records
		WHERE participant_id = ?
		ORDER BY sequence DESC
		LIMIT ?`, participantID, limit)
	if err != nil {
		return nil, fmt.Errorf("query scans: %w", err)
	}
	defer rows.Close()

	var out []model.ScanRecord
	for rows.Next() {
		var (
			rec       model.ScanRecord
			direction string
			duration  sql.NullInt64
			anomalous int
			scannedAt int64
		)
		if err := rows.Scan(&rec.ID, &rec.ParticipantID, &rec.StaffID, &rec.EventID, &direction,
			&rec.Sequence, &duration, &anomalous, &scannedAt); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.Direction = model.Direction(direction)
		if duration.Valid {
			d := time.Duration(duration.Int64) * time.Millisecond
			rec.Duration = &d
		}
		rec.Anomalous = anomalous != 0
		rec.ScannedAt = fromMillis(scannedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}
