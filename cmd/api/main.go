package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/movie-ticket-booking/internal/adapters/crdb"
	"github.com/robertarktes/movie-ticket-booking/internal/adapters/identity"
	mongoadapter "github.com/robertarktes/movie-ticket-booking/internal/adapters/mongo"
	"github.com/robertarktes/movie-ticket-booking/internal/adapters/rabbit"
	redisadapter "github.com/robertarktes/movie-ticket-booking/internal/adapters/redis"
	"github.com/robertarktes/movie-ticket-booking/internal/booking"
	"github.com/robertarktes/movie-ticket-booking/internal/clock"
	"github.com/robertarktes/movie-ticket-booking/internal/config"
	"github.com/robertarktes/movie-ticket-booking/internal/hold"
	httphandler "github.com/robertarktes/movie-ticket-booking/internal/http"
	"github.com/robertarktes/movie-ticket-booking/internal/idempotency"
	"github.com/robertarktes/movie-ticket-booking/internal/observability"
	"github.com/robertarktes/movie-ticket-booking/internal/rateLimit"
	"github.com/robertarktes/movie-ticket-booking/internal/timer"
	"github.com/spf13/pflag"
	svix "github.com/svix/svix-webhooks/go"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	fs := pflag.NewFlagSet("api", pflag.ExitOnError)
	cfg.AddFlags(fs)
	migrate := fs.Bool("migrate", false, "apply the CockroachDB schema and mongo indexes before serving")
	fs.Parse(os.Args[1:])

	shutdown, err := observability.SetupOTel(context.Background(), cfg, "mtb-api")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLogger("mtb-api", cfg.LogLevel)

	pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	crdbRepo := crdb.NewRepository(pool)

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	mongoDB := mongoClient.Database(cfg.MongoDB)
	store := mongoadapter.NewStore(mongoDB, logger)

	if *migrate {
		if err := crdbRepo.Migrate(context.Background()); err != nil {
			log.Fatalf("failed to migrate crdb: %v", err)
		}
		if err := mongoadapter.EnsureIndexes(context.Background(), mongoDB); err != nil {
			log.Fatalf("failed to create mongo indexes: %v", err)
		}
	}

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	redisCache := redisadapter.NewCache(redisClient)
	idemp := idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), cfg.IdempotencyTTL, logger)
	rl := rateLimit.NewRateLimiter(redisCache)

	rabbitConn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer rabbitConn.Close()
	rabbitPub, err := rabbit.NewPublisher(rabbitConn)
	if err != nil {
		log.Fatalf("failed to create publisher: %v", err)
	}

	var verifier *httphandler.Verifier
	if cfg.JWTPublicKey != "" {
		verifier, err = httphandler.NewVerifier(cfg.JWTPublicKey)
		if err != nil {
			log.Fatalf("failed to load jwt key: %v", err)
		}
	} else {
		logger.Warn("JWT_PUBLIC_KEY not set, every request is anonymous")
	}
	authz := identity.NewCachedAuthorizer(
		identity.NewClient(cfg.IdentityAPIURL, cfg.IdentityAPIToken),
		redisCache,
		cfg.RoleCacheTTL,
		logger,
	)

	timers := crdb.NewTimerStore(crdbRepo)
	audit := mongoadapter.NewAuditLogger(mongoDB, logger)
	manager := hold.NewManager(store, store, logger, hold.WithAuditor(audit))
	svc := booking.NewService(booking.Deps{
		Bookings:  store,
		Catalog:   store,
		Holds:     manager,
		Scheduler: timer.NewScheduler(timers, clock.Real(), cfg.HoldTTL, logger),
		Publisher: rabbitPub,
		Auditor:   audit,
	}, logger)

	var webhook httphandler.WebhookVerifier
	if cfg.IdentityWebhookSecret != "" {
		wh, err := svix.NewWebhook(cfg.IdentityWebhookSecret)
		if err != nil {
			log.Fatalf("invalid IDENTITY_WEBHOOK_SECRET: %v", err)
		}
		webhook = wh
	} else {
		logger.Warn("IDENTITY_WEBHOOK_SECRET not set, identity webhooks will be rejected")
	}

	handlers := httphandler.NewHandlers(httphandler.Deps{
		Bookings:  svc,
		Holds:     manager,
		Timers:    timers,
		Publisher: rabbitPub,
		Webhook:   webhook,
		HoldTTL:   cfg.HoldTTL,
		Checks: map[string]httphandler.Check{
			"crdb":  crdbRepo.Ping,
			"mongo": store.Ping,
			"redis": func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		},
	}, logger)

	r := httphandler.SetupRouter(handlers, httphandler.RouterConfig{
		Verifier:       verifier,
		Authorizer:     authz,
		RateLimiter:    rl,
		RateLimit:      cfg.RateLimit,
		RateLimitEvery: cfg.RateLimitEvery,
		Idempotency:    idemp,
	}, logger)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()
	logger.WithField("addr", cfg.HTTPAddr).Info("api listening")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown Server ...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}
	logger.Info("Server exiting")
}
