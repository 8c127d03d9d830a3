package registrar

import (
	"context"
	"strconv"

	"github.com/gyaneshwarpardhi/turnstile/internal/apperr"
	"github.com/gyaneshwarpardhi/turnstile/internal/metrics"
	"github.com/gyaneshwarpardhi/turnstile/internal/store"
)

// Report is a consistent counter check.
type Report struct {
	EventID     string `json:"event_id"`
	Counter     int    `json:"counter"`
	SeatHolders int    `json:"seat_holders"`
}

// Reconcile compares the event counter with the seat-holding registrations.
// A mismatch is an IntegrityError carrying both numbers; it is never
// corrected automatically.
func (r *Registrar) Reconcile(ctx context.Context, eventID string) (Report, error) {
	var rep Report
	err := r.withRetry(ctx, "reconcile", func() error {
		return r.store.WithTx(ctx, func(tx store.Tx) error {
			ev, err := lockEvent(ctx, tx, eventID)
			if err != nil {
				return err
			}
			n, err := tx.CountSeatHolders(ctx, ev.ID)
			if err != nil {
				return err
			}
			rep = Report{EventID: ev.ID, Counter: ev.CurrentCount, SeatHolders: n}
			return nil
		})
	})
	if err != nil {
		return Report{}, err
	}
	if rep.Counter != rep.SeatHolders {
		metrics.CounterMismatches.Inc()
		r.logger.Error("capacity counter mismatch",
			"event_id", rep.EventID, "expected", rep.SeatHolders, "observed", rep.Counter)
		return rep, apperr.WithMetadata(apperr.KindIntegrity, apperr.CodeCounterMismatch,
			"event counter disagrees with seat-holding registrations", map[string]string{
				"event_id": rep.EventID,
				"expected": strconv.Itoa(rep.SeatHolders),
				"observed": strconv.Itoa(rep.Counter),
			})
	}
	return rep, nil
}
