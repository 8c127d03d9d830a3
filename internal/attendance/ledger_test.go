package attendance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gyaneshwarpardhi/turnstile/internal/apperr"
	"github.com/gyaneshwarpardhi/turnstile/internal/clock"
	"github.com/gyaneshwarpardhi/turnstile/internal/model"
	"github.com/gyaneshwarpardhi/turnstile/internal/store"
	"github.com/gyaneshwarpardhi/turnstile/internal/store/sqlite/sqlitetest"
)

var start = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

func newLedger(t *testing.T) (*Ledger, *clock.FakeClock, store.Store) {
	t.Helper()
	st := sqlitetest.Open(t)
	sqlitetest.Participants(t, st, 3)
	clk := clock.Fake(start)
	return New(st, clk, 0, nil), clk, st
}

func TestToggleAlternates(t *testing.T) {
	l, clk, st := newLedger(t)
	ctx := context.Background()

	want := []model.Direction{model.DirectionEntry, model.DirectionExit, model.DirectionEntry, model.DirectionExit}
	for i, dir := range want {
		out, err := l.Toggle(ctx, ScanInput{ParticipantID: "p1", StaffID: "staff-1"})
		if err != nil {
			t.Fatalf("scan %d: %v", i, err)
		}
		if out.Direction != dir {
			t.Fatalf("scan %d direction = %s, want %s", i, out.Direction, dir)
		}
		if out.Record.Sequence != int64(i+1) {
			t.Fatalf("scan %d sequence = %d", i, out.Record.Sequence)
		}
		clk.Advance(45 * time.Minute)
	}

	p, _ := st.GetParticipant(ctx, "p1")
	if p.Presence != model.Outside || p.ScanCount != 4 || p.TotalDuration != 90*time.Minute {
		t.Fatalf("participant = %+v", p)
	}
	history, err := l.History(ctx, "p1", 10)
	if err != nil || len(history) != 4 || history[0].Sequence != 4 {
		t.Fatalf("history = %+v, %v", history, err)
	}
}

func TestExitDurationCapped(t *testing.T) {
	l, clk, _ := newLedger(t)
	ctx := context.Background()

	if _, err := l.Toggle(ctx, ScanInput{ParticipantID: "p1", StaffID: "s"}); err != nil {
		t.Fatal(err)
	}
	clk.Advance(700 * time.Minute)
	out, err := l.Toggle(ctx, ScanInput{ParticipantID: "p1", StaffID: "s"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Direction != model.DirectionExit || out.Duration == nil || *out.Duration != 600*time.Minute {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Participant.TotalDuration != 600*time.Minute {
		t.Fatalf("total = %v", out.Participant.TotalDuration)
	}
}

func TestExitWithoutEntryIsAnomalous(t *testing.T) {
	l, _, st := newLedger(t)
	ctx := context.Background()

	// Inside with no recorded entry, e.g. imported state.
	err := st.WithTx(ctx, func(tx store.Tx) error {
		p, err := tx.LockParticipant(ctx, "p2")
		if err != nil {
			return err
		}
		p.Presence = model.Inside
		return tx.UpdatePresence(ctx, p)
	})
	if err != nil {
		t.Fatal(err)
	}

	out, err := l.Toggle(ctx, ScanInput{ParticipantID: "p2", StaffID: "s"})
	if err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if out.Direction != model.DirectionExit || !out.Anomalous || *out.Duration != 0 {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestToggleRejections(t *testing.T) {
	l, _, st := newLedger(t)
	ctx := context.Background()
	if err := st.WithTx(ctx, func(tx store.Tx) error { return tx.SetParticipantActive(ctx, "p3", false) }); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		in   ScanInput
		code apperr.Code
	}{
		{"inactive", ScanInput{ParticipantID: "p3", StaffID: "s"}, apperr.CodeParticipantInactive},
		{"unknown", ScanInput{ParticipantID: "ghost", StaffID: "s"}, apperr.CodeNotFound},
		{"missing staff", ScanInput{ParticipantID: "p1"}, apperr.CodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Toggle(ctx, tt.in)
			if apperr.CodeOf(err) != tt.code {
				t.Fatalf("err = %v, want %s", err, tt.code)
			}
		})
	}
	p, _ := st.GetParticipant(ctx, "p3")
	if p.ScanCount != 0 {
		t.Fatal("rejected scan mutated participant")
	}
}

func TestConcurrentTogglesStayAlternating(t *testing.T) {
	l, _, st := newLedger(t)
	ctx := context.Background()

	const scans = 12
	var wg sync.WaitGroup
	errs := make(chan error, scans)
	for i := 0; i < scans; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Toggle(ctx, ScanInput{ParticipantID: "p1", StaffID: "s"}); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent toggle: %v", err)
	}

	history, err := st.ListScans(ctx, "p1", scans)
	if err != nil || len(history) != scans {
		t.Fatalf("history = %d records, %v", len(history), err)
	}
	// Newest first: sequence scans..1, EXIT on even sequence numbers.
	for i, rec := range history {
		seq := int64(scans - i)
		if rec.Sequence != seq {
			t.Fatalf("record %d sequence = %d, want %d", i, rec.Sequence, seq)
		}
		want := model.DirectionEntry
		if seq%2 == 0 {
			want = model.DirectionExit
		}
		if rec.Direction != want {
			t.Fatalf("sequence %d direction = %s, want %s", seq, rec.Direction, want)
		}
	}
}

func TestLeaderboardAndHistoryLookups(t *testing.T) {
	l, clk, _ := newLedger(t)
	ctx := context.Background()
	for _, step := range []struct {
		id  string
		dur time.Duration
	}{{"p1", 30 * time.Minute}, {"p2", 90 * time.Minute}} {
		if _, err := l.Toggle(ctx, ScanInput{ParticipantID: step.id, StaffID: "s"}); err != nil {
			t.Fatal(err)
		}
		clk.Advance(step.dur)
		if _, err := l.Toggle(ctx, ScanInput{ParticipantID: step.id, StaffID: "s"}); err != nil {
			t.Fatal(err)
		}
	}
	board, err := l.Leaderboard(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(board) != 2 || board[0].ParticipantID != "p2" || board[0].TotalDuration != 90*time.Minute {
		t.Fatalf("board = %+v", board)
	}
	if _, err := l.History(ctx, "ghost", 5); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("history of unknown participant err = %v", err)
	}
}
