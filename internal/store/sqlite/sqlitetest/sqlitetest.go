// Package sqlitetest opens throwaway SQLite stores and seeds fixtures for
// package tests.
package sqlitetest

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/gyaneshwarpardhi/turnstile/internal/model"
	"github.com/gyaneshwarpardhi/turnstile/internal/store"
	"github.com/gyaneshwarpardhi/turnstile/internal/store/sqlite"
)

// Open returns a migrated store in a temp dir, closed at test cleanup.
func Open(tb testing.TB) *sqlite.Store {
	tb.Helper()
	s, err := sqlite.Open(context.Background(), filepath.Join(tb.TempDir(), "turnstile.db"), sqlite.Options{
		BusyTimeout: 10 * time.Second,
	})
	if err != nil {
		tb.Fatalf("open sqlite store: %v", err)
	}
	tb.Cleanup(func() { _ = s.Close() })
	return s
}

// Participants creates active participants with ids p1..pn and
// registration numbers R-0001..
func Participants(tb testing.TB, s store.Store, n int) []string {
	tb.Helper()
	ids := make([]string, 0, n)
	err := s.WithTx(context.Background(), func(tx store.Tx) error {
		for i := 1; i <= n; i++ {
			id := fmt.Sprintf("p%d", i)
			if err := tx.CreateParticipant(context.Background(), model.Participant{
				ID:             id,
				RegistrationNo: fmt.Sprintf("R-%04d", i),
				Name:           "Participant " + id,
				Active:         true,
			}); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		tb.Fatalf("seed participants: %v", err)
	}
	return ids
}

// Event inserts e.
func Event(tb testing.TB, s store.Store, e model.Event) {
	tb.Helper()
	if e.Status == "" {
		e.Status = model.EventOpen
	}
	if e.Type == "" {
		e.Type = model.EventFree
	}
	if e.EndsAt.IsZero() {
		e.EndsAt = e.StartsAt.Add(2 * time.Hour)
	}
	err := s.WithTx(context.Background(), func(tx store.Tx) error {
		return tx.CreateEvent(context.Background(), e)
	})
	if err != nil {
		tb.Fatalf("seed event %s: %v", e.ID, err)
	}
}

// Capacity returns a pointer to n.
func Capacity(n int) *int { return &n }
