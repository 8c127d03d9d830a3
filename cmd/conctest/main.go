// Command conctest races many registrations against one small event and
// checks that the confirmed seat count never exceeds capacity.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/pflag"

	"github.com/gyaneshwarpardhi/turnstile/internal/apperr"
	"github.com/gyaneshwarpardhi/turnstile/internal/clock"
	"github.com/gyaneshwarpardhi/turnstile/internal/model"
	"github.com/gyaneshwarpardhi/turnstile/internal/payment"
	"github.com/gyaneshwarpardhi/turnstile/internal/registrar"
	"github.com/gyaneshwarpardhi/turnstile/internal/store"
	"github.com/gyaneshwarpardhi/turnstile/internal/store/sqlite"
)

func main() {
	users := pflag.Int("users", 50, "Concurrent registration attempts")
	capacity := pflag.Int("capacity", 5, "Event capacity")
	waitlist := pflag.Bool("waitlist", false, "Enable the waitlist")
	pflag.Parse()

	dir, err := os.MkdirTemp("", "turnstile-conctest")
	if err != nil {
		log.Fatalf("temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	ctx := context.Background()
	st, err := sqlite.Open(ctx, filepath.Join(dir, "conctest.db"), sqlite.Options{BusyTimeout: 10 * time.Second})
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close()

	ids, err := seed(ctx, st, *users, *capacity, *waitlist)
	if err != nil {
		log.Fatalf("seed: %v", err)
	}

	gw, err := payment.NewSandbox([]byte("conctest"))
	if err != nil {
		log.Fatalf("payment: %v", err)
	}
	reg, err := registrar.New(st, gw, clock.Real(), registrar.Config{RetryBackoff: 10 * time.Millisecond}, nil)
	if err != nil {
		log.Fatalf("registrar: %v", err)
	}

	fmt.Println("═══════════════════════════════════════════")
	fmt.Println("  turnstile — Concurrency Stress Test")
	fmt.Println("═══════════════════════════════════════════")
	fmt.Printf("Capacity : %d\n", *capacity)
	fmt.Printf("Attempts : %d\n\n", *users)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = map[string]int{}
	)
	start := time.Now()
	for _, id := range ids {
		wg.Add(1)
		go func(pid string) {
			defer wg.Done()
			adm, err := reg.Register(ctx, registrar.Request{ParticipantID: pid, EventID: "conctest"})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				outcomes[string(apperr.CodeOf(err))]++
				return
			}
			outcomes[string(adm.Registration.Status)]++
		}(id)
	}
	wg.Wait()

	for k, n := range outcomes {
		fmt.Printf("  %-20s %d\n", k, n)
	}
	fmt.Println("Time Taken:", time.Since(start))

	rep, err := reg.Reconcile(ctx, "conctest")
	fmt.Printf("\nstore state  →  counter=%d  seat_holders=%d\n", rep.Counter, rep.SeatHolders)
	if err != nil {
		fmt.Printf("\n❌  FAIL — %v\n", err)
		os.Exit(1)
	}
	if confirmed := outcomes[string(model.StatusConfirmed)]; confirmed != *capacity && confirmed != *users {
		fmt.Printf("\n❌  FAIL — expected %d confirmed seats, got %d\n", min(*capacity, *users), confirmed)
		os.Exit(1)
	}
	fmt.Println("\n✅  PASS — no overbooking")
}

func seed(ctx context.Context, st store.Store, users, capacity int, waitlist bool) ([]string, error) {
	ids := make([]string, 0, users)
	err := st.WithTx(ctx, func(tx store.Tx) error {
		for i := 1; i <= users; i++ {
			id := fmt.Sprintf("u%03d", i)
			if err := tx.CreateParticipant(ctx, model.Participant{
				ID:             id,
				RegistrationNo: fmt.Sprintf("C-%04d", i),
				Name:           "Load " + id,
				Active:         true,
			}); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		startsAt := time.Now().Add(time.Hour)
		return tx.CreateEvent(ctx, model.Event{
			ID:              "conctest",
			Name:            "Capacity Stress Test",
			Type:            model.EventFree,
			Status:          model.EventOpen,
			StartsAt:        startsAt,
			EndsAt:          startsAt.Add(2 * time.Hour),
			MaxCapacity:     &capacity,
			WaitlistEnabled: waitlist,
		})
	})
	return ids, err
}
