package assignment

import (
	"context"
	"testing"
	"time"

	"github.com/gyaneshwarpardhi/turnstile/internal/apperr"
	"github.com/gyaneshwarpardhi/turnstile/internal/clock"
	"github.com/gyaneshwarpardhi/turnstile/internal/model"
	"github.com/gyaneshwarpardhi/turnstile/internal/store"
	"github.com/gyaneshwarpardhi/turnstile/internal/store/sqlite/sqlitetest"
)

var now = time.Date(2026, 7, 10, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T, openMode bool) (*Guard, *clock.FakeClock, store.Store) {
	t.Helper()
	st := sqlitetest.Open(t)
	sqlitetest.Participants(t, st, 4)
	sqlitetest.Event(t, st, model.Event{ID: "morning", Name: "Morning", StartsAt: now.Add(-3 * time.Hour)})
	sqlitetest.Event(t, st, model.Event{ID: "noon", Name: "Noon", StartsAt: now.Add(-30 * time.Minute)})
	sqlitetest.Event(t, st, model.Event{ID: "evening", Name: "Evening", StartsAt: now.Add(5 * time.Hour)})
	sqlitetest.Event(t, st, model.Event{ID: "gala", Name: "Gala", Type: model.EventPaid, Price: 50000, Currency: "INR", StartsAt: now.Add(-time.Hour)})
	clk := clock.Fake(now)
	return New(st, clk, openMode, nil), clk, st
}

func register(t *testing.T, st store.Store, id, participantID, eventID string, status model.RegistrationStatus, pay model.PaymentStatus) {
	t.Helper()
	err := st.WithTx(context.Background(), func(tx store.Tx) error {
		return tx.CreateRegistration(context.Background(), model.Registration{
			ID: id, ParticipantID: participantID, EventID: eventID,
			Type: model.RegistrationFree, Status: status, PaymentStatus: pay, RegisteredAt: now,
		})
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
}

func TestResolvePicksMostRecentlyStarted(t *testing.T) {
	g, clk, _ := setup(t, true)
	ctx := context.Background()

	for _, ev := range []string{"morning", "evening", "noon"} {
		if _, err := g.Assign(ctx, "staff-1", ev); err != nil {
			t.Fatalf("Assign %s: %v", ev, err)
		}
		clk.Advance(time.Second)
	}
	a, err := g.ResolveActiveAssignment(ctx, "staff-1")
	if err != nil {
		t.Fatal(err)
	}
	if a == nil || a.EventID != "noon" {
		t.Fatalf("resolved = %+v, want noon", a)
	}

	if err := g.Unassign(ctx, "staff-1", "noon"); err != nil {
		t.Fatal(err)
	}
	if a, _ := g.ResolveActiveAssignment(ctx, "staff-1"); a == nil || a.EventID != "morning" {
		t.Fatalf("after unassign = %+v, want morning", a)
	}
}

func TestResolveUpcomingOnly(t *testing.T) {
	g, _, _ := setup(t, true)
	ctx := context.Background()
	if _, err := g.Assign(ctx, "staff-2", "evening"); err != nil {
		t.Fatal(err)
	}
	a, err := g.ResolveActiveAssignment(ctx, "staff-2")
	if err != nil || a == nil || a.EventID != "evening" {
		t.Fatalf("resolved = %+v, %v", a, err)
	}
	if a, err := g.ResolveActiveAssignment(ctx, "nobody"); a != nil || err != nil {
		t.Fatalf("unassigned staff resolved = %+v, %v", a, err)
	}
}

func TestAssignIsIdempotent(t *testing.T) {
	g, clk, _ := setup(t, true)
	ctx := context.Background()
	first, err := g.Assign(ctx, "staff-1", "noon")
	if err != nil {
		t.Fatal(err)
	}
	clk.Advance(time.Hour)
	second, err := g.Assign(ctx, "staff-1", "noon")
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID || !first.AssignedAt.Equal(second.AssignedAt) {
		t.Fatalf("re-assign changed row: %+v vs %+v", first, second)
	}
	if _, err := g.Assign(ctx, "staff-1", "missing"); apperr.CodeOf(err) != apperr.CodeNotFound {
		t.Fatalf("unknown event err = %v", err)
	}
	if err := g.Unassign(ctx, "staff-1", "missing"); err != nil {
		t.Fatalf("unassign unknown pair: %v", err)
	}
}

func TestAuthorize(t *testing.T) {
	g, _, st := setup(t, true)
	ctx := context.Background()
	register(t, st, "r1", "p1", "noon", model.StatusConfirmed, model.PaymentNone)
	register(t, st, "r2", "p2", "noon", model.StatusWaitlisted, model.PaymentNone)
	register(t, st, "r3", "p3", "gala", model.StatusConfirmed, model.PaymentNone)
	register(t, st, "r4", "p4", "gala", model.StatusConfirmed, model.PaymentCompleted)
	register(t, st, "r5", "p1", "gala", model.StatusPending, model.PaymentCreated)

	noon := &model.EventAssignment{EventID: "noon"}
	gala := &model.EventAssignment{EventID: "gala"}
	tests := []struct {
		name        string
		assignment  *model.EventAssignment
		participant string
		allowed     bool
		reason      Reason
	}{
		{"confirmed free", noon, "p1", true, ReasonNone},
		{"waitlisted", noon, "p2", false, ReasonNotRegistered},
		{"not registered", noon, "p3", false, ReasonNotRegistered},
		{"paid unpaid", gala, "p3", false, ReasonPaymentPending},
		{"paid completed", gala, "p4", true, ReasonNone},
		{"pending seat", gala, "p1", false, ReasonPaymentPending},
		{"open mode", nil, "p3", true, ReasonOpenMode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := g.Authorize(ctx, tt.assignment, tt.participant)
			if err != nil {
				t.Fatal(err)
			}
			if d.Allowed != tt.allowed || d.Reason != tt.reason {
				t.Fatalf("decision = %+v, want allowed=%v reason=%q", d, tt.allowed, tt.reason)
			}
			if (d.Err() == nil) != tt.allowed {
				t.Fatalf("Err() = %v", d.Err())
			}
		})
	}
}

func TestOpenModeDisabled(t *testing.T) {
	g, _, _ := setup(t, false)
	d, err := g.Authorize(context.Background(), nil, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed || apperr.CodeOf(d.Err()) != apperr.CodeNoActiveAssignment {
		t.Fatalf("decision = %+v", d)
	}
	g.SetLegacyOpenMode(true)
	if !g.LegacyOpenMode() {
		t.Fatal("open mode not toggled")
	}
	if d, _ := g.Authorize(context.Background(), nil, "p1"); !d.Allowed {
		t.Fatal("open mode re-enable not honoured")
	}
}
