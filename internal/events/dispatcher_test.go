package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/movie-ticket-booking/internal/adapters/memory"
	"github.com/robertarktes/movie-ticket-booking/internal/clock"
	"github.com/robertarktes/movie-ticket-booking/internal/domain"
	"github.com/robertarktes/movie-ticket-booking/internal/events"
	"github.com/robertarktes/movie-ticket-booking/internal/identitysync"
	"github.com/robertarktes/movie-ticket-booking/internal/observability"
	"github.com/robertarktes/movie-ticket-booking/internal/timer"
)

type seenSet struct {
	mu    sync.Mutex
	marks map[string]string
	err   error
}

func newSeenSet() *seenSet { return &seenSet{marks: map[string]string{}} }

func (s *seenSet) Begin(ctx context.Context, id string, lease time.Duration) (bool, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, false, s.err
	}
	if mark, ok := s.marks[id]; ok {
		return false, mark == "done", nil
	}
	s.marks[id] = "processing"
	return true, false, nil
}

func (s *seenSet) Done(ctx context.Context, id string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marks[id] = "done"
	return nil
}

func (s *seenSet) Forget(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.marks, id)
	return nil
}

func (s *seenSet) mark(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.marks[id]
}

type notifier struct {
	calls []string
	err   error
}

func (n *notifier) SendBookingConfirmation(ctx context.Context, bookingID string) error {
	n.calls = append(n.calls, bookingID)
	return n.err
}

var t0 = time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

type fixture struct {
	dispatcher *events.Dispatcher
	dedupe     *seenSet
	timers     *memory.TimerStore
	store      *memory.Store
	notifier   *notifier
}

func newFixture() *fixture {
	logger := observability.NewDiscardLogger()
	f := &fixture{
		dedupe:   newSeenSet(),
		timers:   memory.NewTimerStore(),
		store:    memory.NewStore(),
		notifier: &notifier{},
	}
	f.dispatcher = events.NewDispatcher(f.dedupe, time.Minute, time.Hour, logger)
	sched := timer.NewScheduler(f.timers, clock.Fake(t0), domain.HoldDuration, logger)
	events.Register(f.dispatcher, sched, f.notifier, identitysync.NewSyncer(f.store, logger))
	return f
}

func body(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestDispatch_BookingCreatedArmsTimer(t *testing.T) {
	f := newFixture()
	msg := events.Message{
		RoutingKey: domain.EventBookingCreated,
		MessageID:  "m1",
		Body:       body(t, domain.BookingCreated{BookingID: "B1", ShowID: "S1", CreatedAt: t0}),
	}

	if got := f.dispatcher.Dispatch(context.Background(), msg); got != events.Ack {
		t.Fatalf("expected ack, got %s", got)
	}
	tm, ok := f.timers.Get("B1")
	if !ok || !tm.DueAt.Equal(t0.Add(10*time.Minute)) {
		t.Errorf("expected timer due at %v, got %+v", t0.Add(10*time.Minute), tm)
	}
}

func TestDispatch_DuplicateMessageSkipped(t *testing.T) {
	f := newFixture()
	msg := events.Message{
		RoutingKey: domain.EventPaymentConfirmed,
		MessageID:  "m1",
		Body:       body(t, domain.PaymentConfirmed{BookingID: "B1"}),
	}

	f.dispatcher.Dispatch(context.Background(), msg)
	if got := f.dispatcher.Dispatch(context.Background(), msg); got != events.Ack {
		t.Fatalf("expected duplicate to be acked, got %s", got)
	}
	if len(f.notifier.calls) != 1 {
		t.Errorf("expected one notification, got %v", f.notifier.calls)
	}
}

func TestDispatch_Outcomes(t *testing.T) {
	tests := []struct {
		name        string
		key         string
		body        []byte
		notifyErr   error
		dedupeErr   error
		want        events.Outcome
		wantForgets bool
	}{
		{name: "unrouted", key: "seat.sold", body: []byte(`{}`), want: events.Reject},
		{name: "undecodable", key: domain.EventBookingCreated, body: []byte(`{`), want: events.Reject},
		{name: "missing booking id", key: domain.EventBookingCreated, body: []byte(`{}`), want: events.Reject},
		{name: "user without email", key: domain.EventIdentityUserCreated, body: []byte(`{"id":"u1"}`), want: events.Reject},
		{name: "delete missing user", key: domain.EventIdentityUserDeleted, body: []byte(`{"id":"u1"}`), want: events.Ack},
		{
			name:      "notification failure is not retried",
			key:       domain.EventPaymentConfirmed,
			body:      []byte(`{"bookingId":"B1"}`),
			notifyErr: domain.Transient(errors.New("smtp down")),
			want:      events.Ack,
		},
		{
			name:      "dedupe outage still handles",
			key:       domain.EventPaymentConfirmed,
			body:      []byte(`{"bookingId":"B1"}`),
			dedupeErr: errors.New("redis down"),
			want:      events.Ack,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.notifier.err = tt.notifyErr
			f.dedupe.err = tt.dedupeErr

			got := f.dispatcher.Dispatch(context.Background(), events.Message{RoutingKey: tt.key, MessageID: "m1", Body: tt.body})
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestDispatch_TransientFailureRequeuesAndForgets(t *testing.T) {
	f := newFixture()
	f.store.FailNext("UpsertUser", domain.Transient(errors.New("mongo unavailable")))
	msg := events.Message{
		RoutingKey: domain.EventIdentityUserCreated,
		MessageID:  "m1",
		Body:       []byte(`{"id":"u1","first_name":"Ada","email_addresses":[{"email_address":"ada@example.com"}]}`),
	}

	if got := f.dispatcher.Dispatch(context.Background(), msg); got != events.Requeue {
		t.Fatalf("expected requeue, got %s", got)
	}
	if got := f.dispatcher.Dispatch(context.Background(), msg); got != events.Ack {
		t.Fatalf("expected redelivery to be handled, got %s", got)
	}
	if _, err := f.store.GetUser(context.Background(), "u1"); err != nil {
		t.Errorf("expected user to be synced on redelivery, got %v", err)
	}
}

func TestDispatch_PanickingHandlerIsRedelivered(t *testing.T) {
	dedupe := newSeenSet()
	d := events.NewDispatcher(dedupe, time.Minute, time.Hour, observability.NewDiscardLogger())
	calls := 0
	d.Handle(domain.EventIdentityUserUpdated, func(ctx context.Context, body []byte) error {
		calls++
		if calls == 1 {
			panic("worker crashed mid-handler")
		}
		return nil
	})
	msg := events.Message{RoutingKey: domain.EventIdentityUserUpdated, MessageID: "m1", Body: []byte(`{}`)}

	if got := d.Dispatch(context.Background(), msg); got != events.Requeue {
		t.Fatalf("expected a panicking handler to requeue, got %s", got)
	}
	if got := d.Dispatch(context.Background(), msg); got != events.Ack {
		t.Fatalf("expected redelivery to be handled, got %s", got)
	}
	if calls != 2 {
		t.Errorf("expected the handler to run again on redelivery, ran %d times", calls)
	}
	if dedupe.mark("m1") != "done" {
		t.Errorf("expected message recorded as handled, got %q", dedupe.mark("m1"))
	}
}

func TestDispatch_MessageOfDeadWorkerIsNotDropped(t *testing.T) {
	f := newFixture()
	msg := events.Message{
		RoutingKey: domain.EventBookingCreated,
		MessageID:  "m1",
		Body:       body(t, domain.BookingCreated{BookingID: "B1", ShowID: "S1", CreatedAt: t0}),
	}
	// A worker took the message and died before its handler returned.
	if started, _, _ := f.dedupe.Begin(context.Background(), "m1", time.Minute); !started {
		t.Fatal("expected the first worker to start")
	}

	if got := f.dispatcher.Dispatch(context.Background(), msg); got != events.Requeue {
		t.Fatalf("expected an in-progress message to be requeued, got %s", got)
	}
	if _, ok := f.timers.Get("B1"); ok {
		t.Fatal("handler must not run while another worker holds the message")
	}

	// The dead worker's lease lapses.
	f.dedupe.Forget(context.Background(), "m1")
	if got := f.dispatcher.Dispatch(context.Background(), msg); got != events.Ack {
		t.Fatalf("expected redelivery to be handled, got %s", got)
	}
	if _, ok := f.timers.Get("B1"); !ok {
		t.Error("expected the hold timer to be armed on redelivery")
	}
}

type acker struct {
	mu      sync.Mutex
	settled map[uint64]string
}

func (a *acker) record(tag uint64, how string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settled[tag] = how
	return nil
}

func (a *acker) Ack(tag uint64, multiple bool) error { return a.record(tag, "ack") }

func (a *acker) Nack(tag uint64, multiple, requeue bool) error {
	if requeue {
		return a.record(tag, "requeue")
	}
	return a.record(tag, "reject")
}

func (a *acker) Reject(tag uint64, requeue bool) error { return a.Nack(tag, false, requeue) }

func TestRun_SettlesDeliveries(t *testing.T) {
	d := events.NewDispatcher(nil, time.Minute, time.Hour, observability.NewDiscardLogger())
	d.Handle("test.ok", func(ctx context.Context, body []byte) error { return nil })
	d.Handle("test.bad", func(ctx context.Context, body []byte) error { return domain.ErrInvalidInput })
	d.Handle("test.busy", func(ctx context.Context, body []byte) error {
		return domain.Transient(errors.New("store busy"))
	})

	ack := &acker{settled: map[uint64]string{}}
	deliveries := make(chan amqp.Delivery)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	start := time.Now()
	go func() { done <- d.Run(ctx, deliveries, 1) }()

	for tag, key := range []string{"test.ok", "test.bad", "test.busy"} {
		deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: uint64(tag + 1), RoutingKey: key, Body: []byte(`{}`)}
	}
	// The requeue waits out its delay unless shutdown cuts it short.
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	if elapsed := time.Since(start); elapsed >= 900*time.Millisecond {
		t.Errorf("requeue delay was not cut short by shutdown, took %s", elapsed)
	}

	ack.mu.Lock()
	defer ack.mu.Unlock()
	want := map[uint64]string{1: "ack", 2: "reject", 3: "requeue"}
	for tag, how := range want {
		if ack.settled[tag] != how {
			t.Errorf("delivery %d: expected %s, got %q", tag, how, ack.settled[tag])
		}
	}
}
