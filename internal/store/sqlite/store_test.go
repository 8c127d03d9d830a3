package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/gyaneshwarpardhi/turnstile/internal/apperr"
	"github.com/gyaneshwarpardhi/turnstile/internal/model"
	"github.com/gyaneshwarpardhi/turnstile/internal/store"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "turnstile.db"), opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustTx(t *testing.T, s *Store, fn func(store.Tx) error) {
	t.Helper()
	if err := s.WithTx(context.Background(), fn); err != nil {
		t.Fatalf("WithTx: %v", err)
	}
}

func intPtr(n int) *int { return &n }

func seed(t *testing.T, s *Store, maxCap *int) {
	t.Helper()
	ctx := context.Background()
	mustTx(t, s, func(tx store.Tx) error {
		for _, p := range []model.Participant{
			{ID: "p1", RegistrationNo: "R-001", Name: "Asha", Active: true, CreatedAt: t0},
			{ID: "p2", RegistrationNo: "R-002", Name: "Bilal", Active: true, CreatedAt: t0},
			{ID: "p3", RegistrationNo: "R-003", Name: "Chen", Active: true, CreatedAt: t0},
		} {
			if err := tx.CreateParticipant(ctx, p); err != nil {
				return err
			}
		}
		return tx.CreateEvent(ctx, model.Event{
			ID: "e1", Name: "Keynote", Type: model.EventFree, Status: model.EventOpen,
			StartsAt: t0.Add(48 * time.Hour), EndsAt: t0.Add(50 * time.Hour),
			MaxCapacity: maxCap, WaitlistEnabled: true,
			RefundTiers: []model.RefundTier{{DaysBefore: 5, Percent: 80}},
			CreatedAt:   t0,
		})
	})
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "turnstile.db")
	for i := 0; i < 2; i++ {
		s, err := Open(context.Background(), path, Options{})
		if err != nil {
			t.Fatalf("Open #%d: %v", i, err)
		}
		if err := s.Ping(context.Background()); err != nil {
			t.Fatalf("Ping: %v", err)
		}
		_ = s.Close()
	}
	if _, err := Open(context.Background(), "  ", Options{}); err == nil {
		t.Fatal("blank path accepted")
	}
}

func TestParticipantRoundTrip(t *testing.T) {
	s := openTestStore(t, Options{})
	seed(t, s, nil)
	ctx := context.Background()

	p, err := s.GetParticipant(ctx, "p1")
	if err != nil {
		t.Fatalf("GetParticipant: %v", err)
	}
	if p.Presence != model.Outside || !p.Active || p.RegistrationNo != "R-001" {
		t.Fatalf("participant = %+v", p)
	}
	if byNo, err := s.GetParticipantByRegistrationNo(ctx, " R-002 "); err != nil || byNo.ID != "p2" {
		t.Fatalf("by registration no = %+v, %v", byNo, err)
	}
	if _, err := s.GetParticipant(ctx, "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("missing participant err = %v", err)
	}

	err = s.WithTx(ctx, func(tx store.Tx) error {
		return tx.CreateParticipant(ctx, model.Participant{ID: "p9", RegistrationNo: "R-001", Active: true})
	})
	if !errors.Is(err, store.ErrAlreadyExists) {
		t.Fatalf("duplicate registration no err = %v", err)
	}

	entry := t0.Add(time.Hour)
	mustTx(t, s, func(tx store.Tx) error {
		p, err := tx.LockParticipant(ctx, "p1")
		if err != nil {
			return err
		}
		p.Presence = model.Inside
		p.ScanCount = 1
		p.LastEntryAt = &entry
		p.TotalDuration = 90 * time.Minute
		return tx.UpdatePresence(ctx, p)
	})
	got, _ := s.GetParticipant(ctx, "p1")
	if got.Presence != model.Inside || got.ScanCount != 1 || !got.LastEntryAt.Equal(entry) || got.TotalDuration != 90*time.Minute {
		t.Fatalf("after update = %+v", got)
	}

	board, err := s.Leaderboard(ctx, 5)
	if err != nil || len(board) != 1 || board[0].ParticipantID != "p1" {
		t.Fatalf("leaderboard = %+v, %v", board, err)
	}
}

func TestEventCounterBounds(t *testing.T) {
	s := openTestStore(t, Options{})
	seed(t, s, intPtr(2))
	ctx := context.Background()

	e, err := s.GetEvent(ctx, "e1")
	if err != nil {
		t.Fatal(err)
	}
	if len(e.RefundTiers) != 1 || e.RefundTiers[0].Percent != 80 || *e.MaxCapacity != 2 {
		t.Fatalf("event = %+v", e)
	}

	mustTx(t, s, func(tx store.Tx) error { return tx.IncrementCount(ctx, "e1", 2) })
	err = s.WithTx(ctx, func(tx store.Tx) error { return tx.IncrementCount(ctx, "e1", 1) })
	if !errors.Is(err, store.ErrCapacityViolation) {
		t.Fatalf("overflow err = %v", err)
	}
	err = s.WithTx(ctx, func(tx store.Tx) error { return tx.IncrementCount(ctx, "e1", -3) })
	if !errors.Is(err, store.ErrCapacityViolation) {
		t.Fatalf("underflow err = %v", err)
	}
	err = s.WithTx(ctx, func(tx store.Tx) error { return tx.SetCapacity(ctx, "e1", intPtr(1)) })
	if !errors.Is(err, store.ErrCapacityViolation) {
		t.Fatalf("shrink below count err = %v", err)
	}
	err = s.WithTx(ctx, func(tx store.Tx) error { return tx.IncrementCount(ctx, "missing", 1) })
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("missing event err = %v", err)
	}
	mustTx(t, s, func(tx store.Tx) error { return tx.SetCapacity(ctx, "e1", nil) })
	mustTx(t, s, func(tx store.Tx) error { return tx.IncrementCount(ctx, "e1", 10) })

	e, _ = s.GetEvent(ctx, "e1")
	if e.MaxCapacity != nil || e.CurrentCount != 12 {
		t.Fatalf("event after unlimited = %+v", e)
	}
}

func TestWithTxRollsBack(t *testing.T) {
	s := openTestStore(t, Options{})
	seed(t, s, intPtr(5))
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.IncrementCount(ctx, "e1", 3); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	e, _ := s.GetEvent(ctx, "e1")
	if e.CurrentCount != 0 {
		t.Fatalf("count = %d after rollback", e.CurrentCount)
	}
}

func TestLiveRegistrationUniqueness(t *testing.T) {
	s := openTestStore(t, Options{})
	seed(t, s, nil)
	ctx := context.Background()
	reg := model.Registration{
		ID: "r1", ParticipantID: "p1", EventID: "e1", Type: model.RegistrationFree,
		Status: model.StatusConfirmed, HoldsSeat: true, RegisteredAt: t0,
	}
	mustTx(t, s, func(tx store.Tx) error { return tx.CreateRegistration(ctx, reg) })

	dup := reg
	dup.ID = "r2"
	err := s.WithTx(ctx, func(tx store.Tx) error { return tx.CreateRegistration(ctx, dup) })
	if !errors.Is(err, store.ErrAlreadyExists) {
		t.Fatalf("second live registration err = %v", err)
	}

	cancelled := t0.Add(time.Hour)
	reg.Status = model.StatusCancelled
	reg.HoldsSeat = false
	reg.CancelledAt = &cancelled
	reg.RefundReason = "NOTHING_PAID"
	mustTx(t, s, func(tx store.Tx) error { return tx.UpdateRegistration(ctx, reg) })
	mustTx(t, s, func(tx store.Tx) error { return tx.CreateRegistration(ctx, dup) })

	live, err := s.FindLiveRegistration(ctx, "p1", "e1")
	if err != nil || live.ID != "r2" {
		t.Fatalf("live = %+v, %v", live, err)
	}
	old, _ := s.GetRegistration(ctx, "r1")
	if old.Status != model.StatusCancelled || old.CancelledAt == nil || old.PaymentStatus != model.PaymentNone {
		t.Fatalf("cancelled = %+v", old)
	}
}

func TestWaitlistOrderAndCounts(t *testing.T) {
	s := openTestStore(t, Options{})
	seed(t, s, nil)
	ctx := context.Background()
	mustTx(t, s, func(tx store.Tx) error {
		regs := []model.Registration{
			{ID: "r1", ParticipantID: "p1", EventID: "e1", Type: model.RegistrationFree, Status: model.StatusConfirmed, HoldsSeat: true, RegisteredBy: "admin-1", RegisteredAt: t0},
			{ID: "r3", ParticipantID: "p3", EventID: "e1", Type: model.RegistrationWaitlist, Status: model.StatusWaitlisted, RegisteredAt: t0.Add(time.Minute)},
			{ID: "r2", ParticipantID: "p2", EventID: "e1", Type: model.RegistrationWaitlist, Status: model.StatusWaitlisted, RegisteredAt: t0.Add(time.Minute)},
		}
		for _, r := range regs {
			if err := tx.CreateRegistration(ctx, r); err != nil {
				return err
			}
		}
		wl, err := tx.ListWaitlist(ctx, "e1", 10)
		if err != nil {
			return err
		}
		if len(wl) != 2 || wl[0].ID != "r3" || wl[1].ID != "r2" {
			t.Errorf("waitlist order = %+v", wl)
		}
		if n, _ := tx.CountSeatHolders(ctx, "e1"); n != 1 {
			t.Errorf("seat holders = %d", n)
		}
		if n, _ := tx.CountRegisteredBy(ctx, "e1", "admin-1"); n != 1 {
			t.Errorf("admin registrations = %d", n)
		}
		return nil
	})
}

func TestScansNewestFirst(t *testing.T) {
	s := openTestStore(t, Options{})
	seed(t, s, nil)
	ctx := context.Background()
	d := 30 * time.Minute
	mustTx(t, s, func(tx store.Tx) error {
		if err := tx.AppendScan(ctx, model.ScanRecord{ID: "s1", ParticipantID: "p1", StaffID: "st", Direction: model.DirectionEntry, Sequence: 1, ScannedAt: t0}); err != nil {
			return err
		}
		return tx.AppendScan(ctx, model.ScanRecord{ID: "s2", ParticipantID: "p1", StaffID: "st", Direction: model.DirectionExit, Sequence: 2, Duration: &d, ScannedAt: t0.Add(d)})
	})
	err := s.WithTx(ctx, func(tx store.Tx) error {
		return tx.AppendScan(ctx, model.ScanRecord{ID: "s3", ParticipantID: "p1", StaffID: "st", Direction: model.DirectionEntry, Sequence: 2, ScannedAt: t0})
	})
	if !errors.Is(err, store.ErrAlreadyExists) {
		t.Fatalf("duplicate sequence err = %v", err)
	}

	scans, err := s.ListScans(ctx, "p1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(scans) != 2 || scans[0].Sequence != 2 || scans[0].Duration == nil || *scans[0].Duration != d || scans[1].Duration != nil {
		t.Fatalf("scans = %+v", scans)
	}
}

func TestAssignmentsUpsert(t *testing.T) {
	s := openTestStore(t, Options{})
	seed(t, s, nil)
	ctx := context.Background()
	mustTx(t, s, func(tx store.Tx) error {
		return tx.CreateEvent(ctx, model.Event{ID: "e2", Name: "Later", Type: model.EventFree, Status: model.EventOpen,
			StartsAt: t0.Add(72 * time.Hour), EndsAt: t0.Add(73 * time.Hour), CreatedAt: t0})
	})
	mustTx(t, s, func(tx store.Tx) error {
		if err := tx.SaveAssignment(ctx, model.EventAssignment{ID: "a1", StaffID: "st", EventID: "e1", Active: true, AssignedAt: t0}); err != nil {
			return err
		}
		return tx.SaveAssignment(ctx, model.EventAssignment{ID: "a2", StaffID: "st", EventID: "e2", Active: true, AssignedAt: t0})
	})
	list, err := s.ListActiveAssignments(ctx, "st")
	if err != nil || len(list) != 2 || list[0].EventID != "e2" {
		t.Fatalf("assignments = %+v, %v", list, err)
	}

	mustTx(t, s, func(tx store.Tx) error {
		a, err := tx.GetAssignment(ctx, "st", "e2")
		if err != nil {
			return err
		}
		a.Active = false
		return tx.SaveAssignment(ctx, a)
	})
	list, _ = s.ListActiveAssignments(ctx, "st")
	if len(list) != 1 || list[0].EventID != "e1" {
		t.Fatalf("after deactivate = %+v", list)
	}
}

func TestBadgeRevocation(t *testing.T) {
	s := openTestStore(t, Options{})
	seed(t, s, nil)
	ctx := context.Background()

	if revoked, _ := s.BadgeRevoked(ctx, "p1", "b1"); !revoked {
		t.Fatal("unknown badge reported live")
	}
	mustTx(t, s, func(tx store.Tx) error { return tx.RecordBadge(ctx, "p1", "b1", t0) })
	if revoked, err := s.BadgeRevoked(ctx, "p1", "b1"); err != nil || revoked {
		t.Fatalf("issued badge revoked=%v err=%v", revoked, err)
	}
	if revoked, _ := s.BadgeRevoked(ctx, "p2", "b1"); !revoked {
		t.Fatal("badge honoured for another participant")
	}

	var n int
	mustTx(t, s, func(tx store.Tx) error {
		var err error
		n, err = tx.RevokeBadges(ctx, "p1", t0.Add(time.Hour))
		return err
	})
	if n != 1 {
		t.Fatalf("revoked %d badges", n)
	}
	if revoked, _ := s.BadgeRevoked(ctx, "p1", "b1"); !revoked {
		t.Fatal("revoked badge still live")
	}
	if p, _ := s.GetParticipant(ctx, "p1"); !p.BadgeRevoked {
		t.Fatal("participant flag not set")
	}
}

func TestParticipantFlagRevokesBadge(t *testing.T) {
	s := openTestStore(t, Options{})
	seed(t, s, nil)
	ctx := context.Background()

	mustTx(t, s, func(tx store.Tx) error { return tx.RecordBadge(ctx, "p1", "b1", t0) })
	if _, err := s.db.ExecContext(ctx, `UPDATE participants SET badge_revoked = 1 WHERE id = 'p1'`); err != nil {
		t.Fatal(err)
	}
	if revoked, err := s.BadgeRevoked(ctx, "p1", "b1"); err != nil || !revoked {
		t.Fatalf("flagged participant badge revoked=%v err=%v", revoked, err)
	}

	mustTx(t, s, func(tx store.Tx) error { return tx.RecordBadge(ctx, "p1", "b2", t0.Add(time.Hour)) })
	if revoked, err := s.BadgeRevoked(ctx, "p1", "b2"); err != nil || revoked {
		t.Fatalf("reissued badge revoked=%v err=%v", revoked, err)
	}
}

func TestPaymentRefUniqueness(t *testing.T) {
	s := openTestStore(t, Options{})
	seed(t, s, nil)
	ctx := context.Background()
	paid := model.Registration{
		ID: "r1", ParticipantID: "p1", EventID: "e1", Type: model.RegistrationPaid,
		Status: model.StatusConfirmed, HoldsSeat: true, RegisteredAt: t0,
		PaymentRef: "pay_1", PaymentStatus: model.PaymentCompleted,
	}
	mustTx(t, s, func(tx store.Tx) error { return tx.CreateRegistration(ctx, paid) })

	found, err := s.FindRegistrationByPaymentRef(ctx, "pay_1")
	if err != nil || found.ID != "r1" {
		t.Fatalf("by payment ref = %+v, %v", found, err)
	}
	if _, err := s.FindRegistrationByPaymentRef(ctx, "pay_2"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unknown payment ref err = %v", err)
	}

	reused := paid
	reused.ID = "r2"
	reused.ParticipantID = "p2"
	err = s.WithTx(ctx, func(tx store.Tx) error { return tx.CreateRegistration(ctx, reused) })
	if !errors.Is(err, store.ErrAlreadyExists) {
		t.Fatalf("reused payment ref err = %v", err)
	}

	mustTx(t, s, func(tx store.Tx) error {
		for i, pid := range []string{"p2", "p3"} {
			comp := model.Registration{
				ID: fmt.Sprintf("c%d", i), ParticipantID: pid, EventID: "e1", Type: model.RegistrationPaid,
				Status: model.StatusConfirmed, HoldsSeat: true, RegisteredAt: t0,
				PaymentRef: "ADMIN:a1", PaymentStatus: model.PaymentCompleted,
			}
			if err := tx.CreateRegistration(ctx, comp); err != nil {
				return err
			}
		}
		return nil
	})
}

func TestBusyLockSurfacesAsTransient(t *testing.T) {
	s := openTestStore(t, Options{BusyTimeout: 50 * time.Millisecond})
	seed(t, s, nil)
	ctx := context.Background()

	holding := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.WithTx(ctx, func(tx store.Tx) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	err := s.WithTx(ctx, func(tx store.Tx) error { return nil })
	close(release)
	if err == nil {
		t.Fatal("second writer acquired the lock")
	}
	if !apperr.IsTransient(err) || apperr.CodeOf(err) != apperr.CodeLockTimeout {
		t.Fatalf("err = %v, want transient LOCK_TIMEOUT", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("holder: %v", err)
	}
}
