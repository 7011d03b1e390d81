package crdb_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/movie-ticket-booking/internal/adapters/crdb"
	"github.com/robertarktes/movie-ticket-booking/internal/domain"
	"github.com/robertarktes/movie-ticket-booking/internal/timer"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startCRDB(t *testing.T) *crdb.Repository {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "cockroachdb/cockroach:v24.1.1",
			Cmd:          []string{"start-single-node", "--insecure"},
			ExposedPorts: []string{"26257/tcp", "8080/tcp"},
			WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	port, err := container.MappedPort(ctx, "26257")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, "postgresql://root@"+host+":"+port.Port()+"/defaultdb?sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)

	repo := crdb.NewRepository(pool)
	if err := repo.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	return repo
}

func TestTimerStore_Lifecycle(t *testing.T) {
	repo := startCRDB(t)
	store := crdb.NewTimerStore(repo)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	created, err := store.Schedule(ctx, timer.Timer{BookingID: "B1", ShowID: "S1", DueAt: now.Add(-time.Second)})
	if err != nil || !created {
		t.Fatalf("expected timer to be created, got %v %v", created, err)
	}
	created, err = store.Schedule(ctx, timer.Timer{BookingID: "B1", ShowID: "S1", DueAt: now.Add(time.Hour)})
	if err != nil || created {
		t.Fatalf("expected duplicate schedule to be ignored, got %v %v", created, err)
	}
	if _, err := store.Schedule(ctx, timer.Timer{BookingID: "B2", ShowID: "S1", DueAt: now.Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}

	claimed, err := store.ClaimDue(ctx, "w1", now, time.Minute, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 1 || claimed[0].BookingID != "B1" || claimed[0].Attempts != 1 {
		t.Fatalf("expected only B1 to be claimed, got %+v", claimed)
	}

	again, err := store.ClaimDue(ctx, "w2", now, time.Minute, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Fatalf("leased timer must not be claimed twice, got %+v", again)
	}

	if err := store.Complete(ctx, "B1", "w2", timer.Completion{Outcome: domain.HoldReleased, CompletedAt: now}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict for foreign owner, got %v", err)
	}

	payload, _ := json.Marshal(domain.BookingReleased{BookingID: "B1", ShowID: "S1", Released: now})
	err = store.Complete(ctx, "B1", "w1", timer.Completion{
		Outcome:     domain.HoldReleased,
		CompletedAt: now,
		Event:       &timer.Event{AggregateID: "B1", Type: domain.EventBookingReleased, Payload: payload},
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(ctx, "B1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != timer.StatusDone || got.Outcome != string(domain.HoldReleased) {
		t.Errorf("unexpected timer %+v", got)
	}

	var types []string
	n, err := repo.PublishPending(ctx, 10, func(rec crdb.OutboxRecord) error {
		types = append(types, rec.EventType)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || len(types) != 1 || types[0] != domain.EventBookingReleased {
		t.Errorf("expected one booking.released outbox row, got %d %v", n, types)
	}

	pending, err := store.ListPending(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].BookingID != "B2" {
		t.Errorf("expected only B2 pending, got %+v", pending)
	}
}

func TestTimerStore_RetryDelaysClaim(t *testing.T) {
	repo := startCRDB(t)
	store := crdb.NewTimerStore(repo)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := store.Schedule(ctx, timer.Timer{BookingID: "B3", ShowID: "S1", DueAt: now.Add(-time.Minute)}); err != nil {
		t.Fatal(err)
	}
	if claimed, err := store.ClaimDue(ctx, "w1", now, time.Minute, 10); err != nil || len(claimed) != 1 {
		t.Fatalf("expected claim, got %v %v", claimed, err)
	}
	if err := store.Retry(ctx, "B3", "w1", now.Add(30*time.Second), "mongo unavailable"); err != nil {
		t.Fatal(err)
	}

	if claimed, _ := store.ClaimDue(ctx, "w2", now.Add(10*time.Second), time.Minute, 10); len(claimed) != 0 {
		t.Fatalf("expected backoff to delay the claim, got %+v", claimed)
	}
	claimed, err := store.ClaimDue(ctx, "w2", now.Add(30*time.Second), time.Minute, 10)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("expected claim after backoff, got %v %v", claimed, err)
	}
	if claimed[0].Attempts != 2 || claimed[0].LastError != "mongo unavailable" {
		t.Errorf("unexpected timer %+v", claimed[0])
	}
}
