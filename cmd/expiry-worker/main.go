// Command expiry-worker fires due hold timers and releases the seats of
// bookings that were not paid in time.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/movie-ticket-booking/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/movie-ticket-booking/internal/adapters/mongo"
	"github.com/robertarktes/movie-ticket-booking/internal/clock"
	"github.com/robertarktes/movie-ticket-booking/internal/config"
	"github.com/robertarktes/movie-ticket-booking/internal/hold"
	"github.com/robertarktes/movie-ticket-booking/internal/observability"
	"github.com/robertarktes/movie-ticket-booking/internal/timer"
	"github.com/spf13/pflag"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	fs := pflag.NewFlagSet("expiry-worker", pflag.ExitOnError)
	cfg.AddFlags(fs)
	fs.Parse(os.Args[1:])

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg, "mtb-expiry-worker")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger("mtb-expiry-worker", cfg.LogLevel)

	pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	mongoDB := mongoClient.Database(cfg.MongoDB)
	store := mongoadapter.NewStore(mongoDB, logger)

	manager := hold.NewManager(store, store, logger, hold.WithAuditor(mongoadapter.NewAuditLogger(mongoDB, logger)))
	worker := timer.NewWorker(crdb.NewTimerStore(repo), manager.Release, clock.Real(), timer.WorkerConfig{
		PollInterval: cfg.TimerPoll,
		LeaseTTL:     cfg.TimerLease,
		BatchSize:    cfg.TimerBatch,
		Concurrency:  cfg.TimerConcurrency,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()
	logger.WithField("owner", worker.Owner()).Info("expiry worker started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case err := <-done:
		if err != nil {
			logger.WithError(err).Error("expiry worker stopped")
		}
	}
	cancel()
	logger.Info("Shutdown expiry worker")
}
