package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/movie-ticket-booking/internal/adapters/crdb"
	"github.com/robertarktes/movie-ticket-booking/internal/adapters/rabbit"
	"github.com/robertarktes/movie-ticket-booking/internal/clock"
	"github.com/robertarktes/movie-ticket-booking/internal/config"
	"github.com/robertarktes/movie-ticket-booking/internal/observability"
	"github.com/robertarktes/movie-ticket-booking/internal/outbox"
	"github.com/spf13/pflag"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	fs := pflag.NewFlagSet("outbox-publisher", pflag.ExitOnError)
	cfg.AddFlags(fs)
	once := fs.Bool("once", false, "publish pending outbox rows once and exit")
	fs.Parse(os.Args[1:])

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg, "mtb-outbox-publisher")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger("mtb-outbox-publisher", cfg.LogLevel)

	pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	rabbitPub, err := rabbit.NewPublisher(conn)
	if err != nil {
		log.Fatalf("failed to create publisher: %v", err)
	}

	publisher := outbox.NewPublisher(repo, rabbitPub, clock.Real(), cfg.OutboxPoll, logger)
	if *once {
		n, err := publisher.Flush(context.Background())
		if err != nil {
			log.Fatalf("failed to flush outbox: %v", err)
		}
		logger.WithField("published", n).Info("outbox flushed")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go publisher.Run(ctx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown outbox publisher")
}
