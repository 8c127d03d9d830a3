// Package attendance records entry/exit scans and accrues time on site.
package attendance

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/turnstile/internal/apperr"
	"github.com/gyaneshwarpardhi/turnstile/internal/clock"
	"github.com/gyaneshwarpardhi/turnstile/internal/model"
	"github.com/gyaneshwarpardhi/turnstile/internal/store"
)

// DefaultMaxSession caps the credit a single entry/exit pair can earn.
const DefaultMaxSession = 600 * time.Minute

// ScanInput identifies who was scanned, by whom, and for which event.
type ScanInput struct {
	ParticipantID string
	StaffID       string
	EventID       string // empty in open mode
}

// Outcome is the result of one toggle.
type Outcome struct {
	Direction   model.Direction
	Participant model.Participant
	Duration    *time.Duration // set on EXIT
	Anomalous   bool
	Record      model.ScanRecord
}

// Ledger flips participant presence and appends scan records.
type Ledger struct {
	store      store.Store
	clock      clock.Clock
	maxSession time.Duration
	logger     *slog.Logger
}

// New builds a Ledger. maxSession <= 0 selects DefaultMaxSession.
func New(st store.Store, clk clock.Clock, maxSession time.Duration, logger *slog.Logger) *Ledger {
	if clk == nil {
		clk = clock.Real()
	}
	if maxSession <= 0 {
		maxSession = DefaultMaxSession
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: st, clock: clk, maxSession: maxSession, logger: logger}
}

// MaxSession returns the configured per-session cap.
func (l *Ledger) MaxSession() time.Duration { return l.maxSession }

// Toggle applies the next presence transition for the participant in one
// write transaction.
func (l *Ledger) Toggle(ctx context.Context, in ScanInput) (Outcome, error) {
	in.ParticipantID = strings.TrimSpace(in.ParticipantID)
	in.StaffID = strings.TrimSpace(in.StaffID)
	if in.ParticipantID == "" || in.StaffID == "" {
		return Outcome{}, apperr.Validation(apperr.CodeInvalidInput, "participant id and staff id are required")
	}

	var out Outcome
	err := l.store.WithTx(ctx, func(tx store.Tx) error {
		p, err := tx.LockParticipant(ctx, in.ParticipantID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("participant %s not found", in.ParticipantID)
		}
		if err != nil {
			return err
		}
		if !p.Active {
			return apperr.Authorization(apperr.CodeParticipantInactive, "participant %s is inactive", p.ID)
		}
		tr, err := p.Presence.Next()
		if err != nil {
			return apperr.Wrap(apperr.KindIntegrity, apperr.CodeUnknown, "participant "+p.ID+" has corrupt presence", err)
		}

		now := l.clock.Now().UTC()
		p.Presence = tr.To
		p.ScanCount++
		rec := model.ScanRecord{
			ID:            uuid.NewString(),
			ParticipantID: p.ID,
			StaffID:       in.StaffID,
			EventID:       in.EventID,
			Direction:     tr.Direction,
			Sequence:      p.ScanCount,
			ScannedAt:     now,
		}

		switch tr.Direction {
		case model.DirectionEntry:
			p.LastEntryAt = &now
		case model.DirectionExit:
			d, anomalous := l.sessionDuration(p.LastEntryAt, now)
			p.LastExitAt = &now
			p.TotalDuration += d
			rec.Duration = &d
			rec.Anomalous = anomalous
			if anomalous {
				l.logger.Warn("exit without usable entry; crediting zero duration",
					"participant_id", p.ID, "staff_id", in.StaffID, "sequence", p.ScanCount)
			}
		}

		if err := tx.UpdatePresence(ctx, p); err != nil {
			return err
		}
		if err := tx.AppendScan(ctx, rec); err != nil {
			return err
		}
		out = Outcome{
			Direction:   tr.Direction,
			Participant: p,
			Duration:    rec.Duration,
			Anomalous:   rec.Anomalous,
			Record:      rec,
		}
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	if out.Duration != nil && *out.Duration == l.maxSession {
		l.logger.Info("session credit capped", "participant_id", out.Participant.ID, "cap", l.maxSession)
	}
	return out, nil
}

// sessionDuration returns min(exit - entry, maxSession). A missing or
// future entry credits zero and marks the exit anomalous.
func (l *Ledger) sessionDuration(entry *time.Time, exit time.Time) (time.Duration, bool) {
	if entry == nil {
		return 0, true
	}
	d := exit.Sub(*entry)
	if d < 0 {
		return 0, true
	}
	if d > l.maxSession {
		d = l.maxSession
	}
	return d, false
}

// History returns the participant's scans, newest first.
func (l *Ledger) History(ctx context.Context, participantID string, limit int) ([]model.ScanRecord, error) {
	if _, err := l.store.GetParticipant(ctx, participantID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("participant %s not found", participantID)
		}
		return nil, err
	}
	return l.store.ListScans(ctx, participantID, limit)
}

// Leaderboard ranks participants by accrued presence.
func (l *Ledger) Leaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	return l.store.Leaderboard(ctx, limit)
}
