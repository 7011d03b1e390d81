package timer_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/robertarktes/movie-ticket-booking/internal/adapters/memory"
	"github.com/robertarktes/movie-ticket-booking/internal/clock"
	"github.com/robertarktes/movie-ticket-booking/internal/domain"
	"github.com/robertarktes/movie-ticket-booking/internal/hold"
	"github.com/robertarktes/movie-ticket-booking/internal/observability"
	"github.com/robertarktes/movie-ticket-booking/internal/timer"
)

var t0 = time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

type harness struct {
	clock   *clock.FakeClock
	store   *memory.Store
	timers  *memory.TimerStore
	manager *hold.Manager
	sched   *timer.Scheduler
	worker  *timer.Worker
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	h := &harness{
		clock:  clock.Fake(t0),
		store:  memory.NewStore(),
		timers: memory.NewTimerStore(),
	}
	logger := observability.NewDiscardLogger()
	h.manager = hold.NewManager(h.store, h.store, logger)
	h.sched = timer.NewScheduler(h.timers, h.clock, domain.HoldDuration, logger)
	h.worker = timer.NewWorker(h.timers, h.manager.Release, h.clock, timer.WorkerConfig{
		PollInterval: time.Second,
		LeaseTTL:     30 * time.Second,
		BaseBackoff:  time.Second,
		MaxBackoff:   8 * time.Second,
	}, logger)

	if err := h.store.CreateShow(ctx, domain.Show{
		ID:            "S1",
		OccupiedSeats: map[string]string{"A1": "B1", "A2": "B1"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := h.store.InsertBooking(ctx, domain.Booking{
		ID:          "B1",
		UserID:      "U1",
		ShowID:      "S1",
		BookedSeats: []string{"A1", "A2"},
		CreatedAt:   t0,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := h.sched.Schedule(ctx, "B1", "S1", t0); err != nil {
		t.Fatal(err)
	}
	return h
}

func (h *harness) tick(t *testing.T) int {
	t.Helper()
	n, err := h.worker.Tick(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func TestScenario_UnpaidBookingReleasedAfterTenMinutes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.clock.Advance(9*time.Minute + 59*time.Second)
	if n := h.tick(t); n != 0 {
		t.Fatalf("expected nothing due before the deadline, claimed %d", n)
	}

	h.clock.Advance(time.Second)
	if n := h.tick(t); n != 1 {
		t.Fatalf("expected the hold timer to fire, claimed %d", n)
	}

	show, _ := h.store.GetShow(ctx, "S1")
	if len(show.OccupiedSeats) != 0 {
		t.Errorf("expected all seats released, got %v", show.OccupiedSeats)
	}
	if _, err := h.store.GetBooking(ctx, "B1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected booking to be gone, got %v", err)
	}

	tm, _ := h.timers.Get("B1")
	if tm.Status != timer.StatusDone || tm.Outcome != string(domain.HoldReleased) {
		t.Errorf("unexpected timer %+v", tm)
	}

	events := h.timers.Events()
	if len(events) != 1 || events[0].Type != domain.EventBookingReleased {
		t.Fatalf("expected one booking.released event, got %+v", events)
	}
	var ev domain.BookingReleased
	if err := json.Unmarshal(events[0].Payload, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.BookingID != "B1" || ev.ShowID != "S1" {
		t.Errorf("unexpected payload %+v", ev)
	}
}

func TestScenario_PaymentAtMinuteFiveWins(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.clock.Advance(5 * time.Minute)
	if err := h.manager.ConfirmPayment(ctx, "B1"); err != nil {
		t.Fatal(err)
	}

	h.clock.Advance(5 * time.Minute)
	if n := h.tick(t); n != 1 {
		t.Fatalf("expected the hold timer to fire, claimed %d", n)
	}

	show, _ := h.store.GetShow(ctx, "S1")
	if show.OccupiedSeats["A1"] != "B1" || show.OccupiedSeats["A2"] != "B1" {
		t.Errorf("expected seats unchanged, got %v", show.OccupiedSeats)
	}
	booking, err := h.store.GetBooking(ctx, "B1")
	if err != nil {
		t.Fatalf("expected booking to remain, got %v", err)
	}
	if !booking.IsPaid {
		t.Error("expected booking to stay paid")
	}

	tm, _ := h.timers.Get("B1")
	if tm.Outcome != string(domain.HoldConfirmed) {
		t.Errorf("expected CONFIRMED outcome, got %q", tm.Outcome)
	}
	if len(h.timers.Events()) != 0 {
		t.Error("a confirmed hold must not emit a release event")
	}
}

func TestScheduler_DuplicateScheduleKeepsDueTime(t *testing.T) {
	h := newHarness(t)

	if _, err := h.sched.Schedule(context.Background(), "B1", "S1", t0.Add(3*time.Minute)); err != nil {
		t.Fatal(err)
	}
	tm, _ := h.timers.Get("B1")
	if !tm.DueAt.Equal(t0.Add(10 * time.Minute)) {
		t.Errorf("expected original due time, got %v", tm.DueAt)
	}
}

func TestScheduler_ZeroCreatedAtUsesClock(t *testing.T) {
	h := newHarness(t)
	h.clock.Advance(time.Minute)

	got, err := h.sched.Schedule(context.Background(), "B2", "S1", time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if !got.DueAt.Equal(t0.Add(11 * time.Minute)) {
		t.Errorf("expected due at %v, got %v", t0.Add(11*time.Minute), got.DueAt)
	}

	if _, err := h.sched.Schedule(context.Background(), "", "S1", time.Time{}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected invalid input, got %v", err)
	}
}

func TestWorker_TransientFailureBacksOff(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.FailNext("GetShow", domain.Transient(errors.New("mongo unavailable")))

	h.clock.Advance(10 * time.Minute)
	h.tick(t)

	tm, _ := h.timers.Get("B1")
	if tm.Status != timer.StatusPending || tm.LastError == "" {
		t.Fatalf("expected timer to stay pending with an error, got %+v", tm)
	}
	if _, err := h.store.GetBooking(ctx, "B1"); err != nil {
		t.Fatalf("booking must survive the failed attempt, got %v", err)
	}

	if n := h.tick(t); n != 0 {
		t.Fatalf("expected backoff to hold the timer, claimed %d", n)
	}

	h.clock.Advance(time.Second)
	if n := h.tick(t); n != 1 {
		t.Fatalf("expected retry after backoff, claimed %d", n)
	}
	tm, _ = h.timers.Get("B1")
	if tm.Outcome != string(domain.HoldReleased) || tm.Attempts != 2 {
		t.Errorf("expected release on second attempt, got %+v", tm)
	}
}

func TestWorker_LapsedLeaseIsReclaimed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.clock.Advance(10 * time.Minute)

	// A worker that claims the timer and then dies.
	claimed, err := h.timers.ClaimDue(ctx, "crashed-worker", h.clock.Now(), 30*time.Second, 10)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("expected crashed worker to claim the timer, got %v %v", claimed, err)
	}

	if n := h.tick(t); n != 0 {
		t.Fatalf("live lease must not be stolen, claimed %d", n)
	}

	h.clock.Advance(31 * time.Second)
	if n := h.tick(t); n != 1 {
		t.Fatalf("expected lapsed lease to be reclaimed, claimed %d", n)
	}
	if err := h.timers.Complete(ctx, "B1", "crashed-worker", timer.Completion{Outcome: domain.HoldReleased}); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("stale owner must not complete, got %v", err)
	}

	show, _ := h.store.GetShow(ctx, "S1")
	if len(show.OccupiedSeats) != 0 {
		t.Errorf("expected seats released, got %v", show.OccupiedSeats)
	}
}

func TestWorker_Run(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.worker.Run(ctx) }()

	h.clock.WaitForTimers(1)
	h.clock.Advance(10 * time.Minute)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if tm, _ := h.timers.Get("B1"); tm.Status == timer.StatusDone {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the worker to resolve the hold")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("expected clean shutdown, got %v", err)
	}
}

func TestWorker_ListPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.sched.Schedule(ctx, "B0", "S1", t0.Add(-time.Minute)); err != nil {
		t.Fatal(err)
	}

	pending, err := h.timers.ListPending(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 || pending[0].BookingID != "B0" {
		t.Errorf("expected timers ordered by due time, got %+v", pending)
	}
}
