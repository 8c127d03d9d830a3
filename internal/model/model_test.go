package model

import (
	"testing"
	"time"
)

func TestPresenceAlternates(t *testing.T) {
	p := Outside
	want := []Direction{DirectionEntry, DirectionExit, DirectionEntry, DirectionExit, DirectionEntry}
	for i, dir := range want {
		tr, err := p.Next()
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if tr.Direction != dir {
			t.Fatalf("step %d: direction = %s, want %s", i, tr.Direction, dir)
		}
		if tr.From != p {
			t.Fatalf("step %d: from = %s, want %s", i, tr.From, p)
		}
		p = tr.To
	}
}

func TestPresenceZeroValueIsOutside(t *testing.T) {
	var p Presence
	tr, err := p.Next()
	if err != nil {
		t.Fatal(err)
	}
	if tr.Direction != DirectionEntry || tr.To != Inside {
		t.Fatalf("zero presence should enter, got %+v", tr)
	}
	if _, err := Presence("SIDEWAYS").Next(); err == nil {
		t.Fatal("expected error for unknown presence")
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to RegistrationStatus
		want     bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusWaitlisted, StatusConfirmed, true},
		{StatusConfirmed, StatusCancelled, true},
		{StatusConfirmed, StatusPending, false},
		{StatusCancelled, StatusConfirmed, false},
		{StatusCancelled, StatusCancelled, false},
		{StatusConfirmed, StatusWaitlisted, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestEventCapacityHelpers(t *testing.T) {
	two := 2
	e := &Event{MaxCapacity: &two, CurrentCount: 1}
	if !e.HasRoomFor(1) || e.HasRoomFor(2) {
		t.Fatalf("HasRoomFor wrong for count=1 max=2")
	}
	if e.Remaining() != 1 {
		t.Fatalf("Remaining = %d, want 1", e.Remaining())
	}
	e.MaxCapacity = nil
	if !e.HasRoomFor(1000) || e.Remaining() != -1 {
		t.Fatalf("unlimited event should always have room")
	}
}

func TestAcceptsRegistrations(t *testing.T) {
	now := time.Date(2026, time.May, 1, 12, 0, 0, 0, time.UTC)
	closes := now.Add(time.Hour)
	e := &Event{Status: EventOpen, StartsAt: now.Add(48 * time.Hour), RegistrationClosesAt: &closes}

	if !e.AcceptsRegistrations(now) {
		t.Fatal("open event inside window should accept")
	}
	if e.AcceptsRegistrations(closes) {
		t.Fatal("registration window is closed at its close instant")
	}
	e.Status = EventDraft
	if e.AcceptsRegistrations(now) {
		t.Fatal("draft event must not accept")
	}
	e.Status = EventOpen
	e.RegistrationClosesAt = nil
	if e.AcceptsRegistrations(e.StartsAt) {
		t.Fatal("event that already started must not accept")
	}
}
