package registrar

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/turnstile/internal/apperr"
	"github.com/gyaneshwarpardhi/turnstile/internal/metrics"
	"github.com/gyaneshwarpardhi/turnstile/internal/model"
	"github.com/gyaneshwarpardhi/turnstile/internal/policy"
	"github.com/gyaneshwarpardhi/turnstile/internal/store"
)

// Per-participant outcomes reported by RegisterBulk.
const (
	BulkDuplicateInBatch   = "DUPLICATE_IN_BATCH"
	BulkAlreadyRegistered  = "ALREADY_REGISTERED"
	BulkUnknownParticipant = "PARTICIPANT_NOT_FOUND"
	BulkInactive           = "PARTICIPANT_INACTIVE"
)

// BulkRequest is an administrative import into one event.
type BulkRequest struct {
	EventID           string   `json:"event_id"`
	AdminID           string   `json:"admin_id"`
	ParticipantIDs    []string `json:"participant_ids"`
	SkipCapacityCheck bool     `json:"skip_capacity_check"`
}

// BulkItem names one participant and why it was not admitted.
type BulkItem struct {
	ParticipantID string `json:"participant_id"`
	Reason        string `json:"reason"`
}

// BulkResult separates admitted, skipped duplicates and true failures.
type BulkResult struct {
	EventID  string     `json:"event_id"`
	Admitted []string   `json:"admitted"`
	Skipped  []BulkItem `json:"skipped"`
	Failed   []BulkItem `json:"failed"`
}

// RegisterBulk admits a batch under one event lock. The admissible
// participants go in together or not at all unless SkipCapacityCheck is set,
// in which case the ceiling is raised to fit the batch.
//
// On PAID events bulk admissions are complimentary: confirmed, nothing owed.
func (r *Registrar) RegisterBulk(ctx context.Context, req BulkRequest) (BulkResult, error) {
	req.EventID = strings.TrimSpace(req.EventID)
	req.AdminID = strings.TrimSpace(req.AdminID)
	if req.EventID == "" || req.AdminID == "" {
		return BulkResult{}, apperr.Validation(apperr.CodeInvalidInput, "event id and admin id are required")
	}
	if len(req.ParticipantIDs) == 0 {
		return BulkResult{}, apperr.Validation(apperr.CodeInvalidInput, "participant_ids must not be empty")
	}

	var res BulkResult
	err := r.withRetry(ctx, "register_bulk", func() error {
		res = BulkResult{EventID: req.EventID, Admitted: []string{}, Skipped: []BulkItem{}, Failed: []BulkItem{}}
		return r.store.WithTx(ctx, func(tx store.Tx) error {
			ev, err := lockEvent(ctx, tx, req.EventID)
			if err != nil {
				return err
			}
			if ev.Status != model.EventOpen && ev.Status != model.EventDraft {
				return apperr.New(apperr.KindConflict, apperr.CodeEventNotOpen,
					fmt.Sprintf("event %s does not accept imports (status %s)", ev.ID, ev.Status))
			}

			admit, err := r.sortBatch(ctx, tx, ev.ID, req.ParticipantIDs, &res)
			if err != nil {
				return err
			}
			if err := r.checkQuota(ctx, tx, ev, req, len(admit)); err != nil {
				return err
			}
			if len(admit) == 0 {
				return nil
			}

			if !ev.HasRoomFor(len(admit)) {
				if !req.SkipCapacityCheck {
					return apperr.WithMetadata(apperr.KindConflict, apperr.CodeEventFull,
						fmt.Sprintf("batch of %d does not fit: %d of %d seats taken", len(admit), ev.CurrentCount, *ev.MaxCapacity),
						map[string]string{
							"event_id":  ev.ID,
							"requested": strconv.Itoa(len(admit)),
							"remaining": strconv.Itoa(ev.Remaining()),
						})
				}
				raised := ev.CurrentCount + len(admit)
				if err := tx.SetCapacity(ctx, ev.ID, &raised); err != nil {
					return err
				}
				r.logger.Warn("capacity raised by bulk override",
					"event_id", ev.ID, "admin_id", req.AdminID, "from", *ev.MaxCapacity, "to", raised)
			}

			now := r.clock.Now().UTC()
			for _, pid := range admit {
				reg := model.Registration{
					ID:            uuid.NewString(),
					ParticipantID: pid,
					EventID:       ev.ID,
					Type:          model.RegistrationFree,
					Status:        model.StatusConfirmed,
					Currency:      ev.Currency,
					PaymentStatus: model.PaymentNone,
					HoldsSeat:     true,
					RegisteredBy:  req.AdminID,
					RegisteredAt:  now,
				}
				if ev.Type == model.EventPaid {
					reg.Type = model.RegistrationPaid
					reg.PaymentStatus = model.PaymentCompleted
					reg.PaymentRef = "ADMIN:" + req.AdminID
					reg.PaidAt = &now
				}
				if err := tx.CreateRegistration(ctx, reg); err != nil {
					return fmt.Errorf("create registration for %s: %w", pid, err)
				}
			}
			if err := tx.IncrementCount(ctx, ev.ID, len(admit)); err != nil {
				return seatError(err)
			}
			res.Admitted = admit
			return nil
		})
	})
	if err != nil {
		metrics.Rejections.WithLabelValues("register_bulk", string(apperr.CodeOf(err))).Inc()
		return BulkResult{}, err
	}
	metrics.Registrations.WithLabelValues(string(model.StatusConfirmed)).Add(float64(len(res.Admitted)))
	r.logger.Info("bulk registration applied",
		"event_id", req.EventID, "admin_id", req.AdminID,
		"admitted", len(res.Admitted), "skipped", len(res.Skipped), "failed", len(res.Failed))
	return res, nil
}

// sortBatch splits the requested ids into admissible, skipped and failed.
func (r *Registrar) sortBatch(ctx context.Context, tx store.Tx, eventID string, ids []string, res *BulkResult) ([]string, error) {
	seen := make(map[string]bool, len(ids))
	admit := make([]string, 0, len(ids))
	for _, raw := range ids {
		pid := strings.TrimSpace(raw)
		if pid == "" {
			res.Failed = append(res.Failed, BulkItem{ParticipantID: raw, Reason: string(apperr.CodeInvalidInput)})
			continue
		}
		if seen[pid] {
			res.Skipped = append(res.Skipped, BulkItem{ParticipantID: pid, Reason: BulkDuplicateInBatch})
			continue
		}
		seen[pid] = true

		p, err := tx.GetParticipant(ctx, pid)
		switch {
		case errors.Is(err, store.ErrNotFound):
			res.Failed = append(res.Failed, BulkItem{ParticipantID: pid, Reason: BulkUnknownParticipant})
			continue
		case err != nil:
			return nil, err
		case !p.Active:
			res.Failed = append(res.Failed, BulkItem{ParticipantID: pid, Reason: BulkInactive})
			continue
		}

		if _, err := tx.FindLiveRegistration(ctx, pid, eventID); err == nil {
			res.Skipped = append(res.Skipped, BulkItem{ParticipantID: pid, Reason: BulkAlreadyRegistered})
			continue
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		admit = append(admit, pid)
	}
	return admit, nil
}

func (r *Registrar) checkQuota(ctx context.Context, tx store.Tx, ev model.Event, req BulkRequest, n int) error {
	submitted, err := tx.CountRegisteredBy(ctx, ev.ID, req.AdminID)
	if err != nil {
		return err
	}
	capacity := -1
	if ev.MaxCapacity != nil {
		capacity = *ev.MaxCapacity
	}
	ac := policy.AdmissionContext{
		EventID:           ev.ID,
		EventType:         string(ev.Type),
		Capacity:          capacity,
		Count:             ev.CurrentCount,
		AdminID:           req.AdminID,
		AdminSubmitted:    submitted,
		BulkSize:          n,
		SkipCapacityCheck: req.SkipCapacityCheck,
	}
	ok, reason, err := r.predicate.Load().p.Allow(ctx, ac)
	if err != nil {
		return fmt.Errorf("admission predicate: %w", err)
	}
	if !ok {
		r.logger.Warn("bulk admission refused by predicate", "event_id", ev.ID, "admin_id", req.AdminID, "reason", reason)
		return apperr.Authorization(apperr.CodeQuotaExceeded, "%s", reason)
	}
	return nil
}
