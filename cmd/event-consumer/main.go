// Command event-consumer arms hold timers, sends booking confirmations and
// mirrors identity-provider users from the events exchange.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/movie-ticket-booking/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/movie-ticket-booking/internal/adapters/mongo"
	"github.com/robertarktes/movie-ticket-booking/internal/adapters/rabbit"
	redisadapter "github.com/robertarktes/movie-ticket-booking/internal/adapters/redis"
	"github.com/robertarktes/movie-ticket-booking/internal/clock"
	"github.com/robertarktes/movie-ticket-booking/internal/config"
	"github.com/robertarktes/movie-ticket-booking/internal/events"
	"github.com/robertarktes/movie-ticket-booking/internal/identitysync"
	"github.com/robertarktes/movie-ticket-booking/internal/notify"
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
	fs := pflag.NewFlagSet("event-consumer", pflag.ExitOnError)
	cfg.AddFlags(fs)
	queue := fs.String("queue", "mtb.hold-service", "queue to consume from")
	workers := fs.Int("workers", 4, "deliveries handled in parallel")
	fs.Parse(os.Args[1:])

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg, "mtb-event-consumer")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger("mtb-event-consumer", cfg.LogLevel)

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
	store := mongoadapter.NewStore(mongoClient.Database(cfg.MongoDB), logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()

	mailer, err := notify.NewSMTPMailer(cfg.SMTPAddr, cfg.SMTPUser, cfg.SMTPPassword, cfg.MailFrom, logger)
	if err != nil {
		log.Fatalf("failed to configure smtp: %v", err)
	}
	if mailer.Mock() {
		logger.Warn("SMTP_ADDR not set, emails are logged instead of sent")
	}

	dispatcher := events.NewDispatcher(redisadapter.NewIdempotency(redisClient), cfg.DedupeLease, cfg.DedupeTTL, logger)
	events.Register(dispatcher,
		timer.NewScheduler(crdb.NewTimerStore(repo), clock.Real(), cfg.HoldTTL, logger),
		notify.NewSender(store, mailer, nil, logger),
		identitysync.NewSyncer(store, logger),
	)

	consumer, err := rabbit.NewConsumer(conn, *queue, dispatcher.Keys(), *workers*2)
	if err != nil {
		log.Fatalf("failed to create consumer: %v", err)
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deliveries, err := consumer.Consume(ctx)
	if err != nil {
		log.Fatalf("failed to consume: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- dispatcher.Run(ctx, deliveries, *workers) }()
	logger.WithField("queue", *queue).Info("event consumer started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case err := <-done:
		if err != nil {
			logger.WithError(err).Error("event consumer stopped")
		}
	}
	cancel()
	logger.Info("Shutdown event consumer")
}
