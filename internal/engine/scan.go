package engine

import (
	"context"
	"strings"

	"github.com/gyaneshwarpardhi/turnstile/internal/apperr"
	"github.com/gyaneshwarpardhi/turnstile/internal/assignment"
	"github.com/gyaneshwarpardhi/turnstile/internal/attendance"
	"github.com/gyaneshwarpardhi/turnstile/internal/metrics"
	"github.com/gyaneshwarpardhi/turnstile/internal/model"
	"github.com/gyaneshwarpardhi/turnstile/internal/token"
)

// ScanRequest is one presented token.
type ScanRequest struct {
	Token   string `json:"token"`
	StaffID string `json:"staff_id"`
}

// ScanResponse is an accepted scan.
type ScanResponse struct {
	Direction       model.Direction `json:"direction"`
	Participant     model.Summary   `json:"participant"`
	DurationMinutes *int64          `json:"duration_minutes,omitempty"`
	Anomalous       bool            `json:"anomalous"`
	EventID         string          `json:"event_id,omitempty"`
	OpenMode        bool            `json:"open_mode,omitempty"`
	TokenForm       token.Form      `json:"token_form"`
}

// Scan resolves the staff member's event, verifies the token, authorizes the
// participant and toggles presence. The toggle runs on the participant's
// worker.
func (e *Engine) Scan(ctx context.Context, req ScanRequest) (ScanResponse, error) {
	resp, err := e.scan(ctx, req)
	if err != nil {
		metrics.Rejections.WithLabelValues("scan", string(apperr.CodeOf(err))).Inc()
		return ScanResponse{}, err
	}
	metrics.Scans.WithLabelValues(string(resp.Direction)).Inc()
	if resp.Anomalous {
		metrics.AnomalousExits.Inc()
	}
	return resp, nil
}

func (e *Engine) scan(ctx context.Context, req ScanRequest) (ScanResponse, error) {
	req.Token = strings.TrimSpace(req.Token)
	req.StaffID = strings.TrimSpace(req.StaffID)
	if req.Token == "" || req.StaffID == "" {
		return ScanResponse{}, apperr.Validation(apperr.CodeInvalidInput, "token and staff_id are required")
	}

	asg, err := e.guard.ResolveActiveAssignment(ctx, req.StaffID)
	if err != nil {
		return ScanResponse{}, err
	}
	form := token.Classify(req.Token)
	participantID, err := e.verifyToken(ctx, form, req.Token)
	if err != nil {
		return ScanResponse{}, err
	}

	var resp ScanResponse
	err = e.do(ctx, "scan", "participant:"+participantID, func(ctx context.Context) error {
		dec, err := e.guard.Authorize(ctx, asg, participantID)
		if err != nil {
			return err
		}
		if err := dec.Err(); err != nil {
			return err
		}
		out, err := e.ledger.Toggle(ctx, attendance.ScanInput{
			ParticipantID: participantID,
			StaffID:       req.StaffID,
			EventID:       dec.EventID,
		})
		if err != nil {
			return err
		}
		resp = ScanResponse{
			Direction:   out.Direction,
			Participant: out.Participant.Summarize(),
			Anomalous:   out.Anomalous,
			EventID:     dec.EventID,
			OpenMode:    dec.Reason == assignment.ReasonOpenMode,
			TokenForm:   form,
		}
		if out.Duration != nil {
			mins := int64(out.Duration.Minutes())
			resp.DurationMinutes = &mins
		}
		return nil
	})
	return resp, err
}

// verifyToken returns the participant a token names, or a structured
// rejection.
func (e *Engine) verifyToken(ctx context.Context, form token.Form, raw string) (string, error) {
	var (
		pid    string
		reason token.Reason
	)
	switch form {
	case token.FormBadge:
		res := e.badges.Verify(ctx, raw)
		if res.Valid {
			return res.ParticipantID, nil
		}
		pid, reason = res.ParticipantID, res.Reason
	default:
		res := e.codec.Verify(raw, e.clock.Now())
		if res.Valid {
			return res.ParticipantID, nil
		}
		pid, reason = res.ParticipantID, res.Reason
	}
	metrics.TokenRejections.WithLabelValues(string(form), string(reason)).Inc()
	e.logger.Info("token rejected", "form", form, "reason", reason, "participant_id", pid)

	switch reason {
	case token.ReasonExpired:
		return "", apperr.Validation(apperr.CodeTokenExpired, "token has expired")
	case token.ReasonRevoked:
		return "", apperr.Authorization(apperr.CodeBadgeRevoked, "badge has been revoked")
	case token.ReasonLookupFailed:
		return "", apperr.New(apperr.KindTransient, apperr.CodeTimeout, "badge revocation lookup failed")
	default:
		return "", apperr.Validation(apperr.CodeTokenInvalid, "token rejected: %s", reason)
	}
}
