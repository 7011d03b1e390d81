package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

// DefaultHoldTTL is how long an unpaid booking keeps its seats.
const DefaultHoldTTL = 10 * time.Minute

type Config struct {
	HTTPAddr     string
	CRDBDSN      string
	MongoURI     string
	MongoDB      string
	RedisAddr    string
	RabbitURL    string
	OTLPEndpoint string
	LogLevel     string

	TraceSampleRatio float64

	JWTPublicKey     string
	IdentityAPIURL   string
	IdentityAPIToken string
	RoleCacheTTL     time.Duration
	// IdentityWebhookSecret is the svix signing secret (whsec_...) of the
	// identity provider's webhook endpoint.
	IdentityWebhookSecret string

	HoldTTL          time.Duration
	TimerPoll        time.Duration
	TimerLease       time.Duration
	TimerBatch       int
	TimerConcurrency int
	DedupeTTL        time.Duration
	DedupeLease      time.Duration
	OutboxPoll       time.Duration

	RateLimit      int
	RateLimitEvery time.Duration
	IdempotencyTTL time.Duration

	SMTPAddr     string
	SMTPUser     string
	SMTPPassword string
	MailFrom     string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	return &Config{
		HTTPAddr:     envOr("HTTP_ADDR", ":8080"),
		CRDBDSN:      os.Getenv("CRDB_DSN"),
		MongoURI:     os.Getenv("MONGO_URI"),
		MongoDB:      envOr("MONGO_DB", "mtb"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		RabbitURL:    os.Getenv("RABBIT_URL"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		LogLevel:     envOr("LOG_LEVEL", "info"),

		TraceSampleRatio: floatOr("OTEL_TRACES_SAMPLER_ARG", 1),

		JWTPublicKey:     os.Getenv("JWT_PUBLIC_KEY"),
		IdentityAPIURL:   envOr("IDENTITY_API_URL", "https://api.clerk.com"),
		IdentityAPIToken: os.Getenv("IDENTITY_API_TOKEN"),
		RoleCacheTTL:     durationOr("ROLE_CACHE_TTL", time.Minute),

		IdentityWebhookSecret: os.Getenv("IDENTITY_WEBHOOK_SECRET"),

		HoldTTL:          durationOr("HOLD_TTL", DefaultHoldTTL),
		TimerPoll:        durationOr("TIMER_POLL_INTERVAL", 5*time.Second),
		TimerLease:       durationOr("TIMER_LEASE_TTL", time.Minute),
		TimerBatch:       intOr("TIMER_BATCH_SIZE", 32),
		TimerConcurrency: intOr("TIMER_CONCURRENCY", 4),
		DedupeTTL:        durationOr("DEDUPE_TTL", 24*time.Hour),
		DedupeLease:      durationOr("DEDUPE_LEASE", 2*time.Minute),
		OutboxPoll:       durationOr("OUTBOX_POLL_INTERVAL", 5*time.Second),

		RateLimit:      intOr("RATE_LIMIT", 100),
		RateLimitEvery: durationOr("RATE_LIMIT_PERIOD", time.Minute),
		IdempotencyTTL: durationOr("IDEMPOTENCY_TTL", 24*time.Hour),

		SMTPAddr:     os.Getenv("SMTP_ADDR"),
		SMTPUser:     os.Getenv("SMTP_USER"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),
		MailFrom:     envOr("MAIL_FROM", "no-reply@movie-ticket-booking.local"),
	}, nil
}

// AddFlags binds command-line overrides to c. Values already loaded from the
// environment become the flag defaults.
func (c *Config) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.HTTPAddr, "http-addr", c.HTTPAddr, "HTTP listen address")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "logrus level")
	fs.StringVar(&c.MongoDB, "mongo-db", c.MongoDB, "mongo database name")
	fs.DurationVar(&c.HoldTTL, "hold-ttl", c.HoldTTL, "how long an unpaid booking holds its seats")
	fs.DurationVar(&c.TimerPoll, "timer-poll", c.TimerPoll, "hold timer poll interval")
	fs.DurationVar(&c.TimerLease, "timer-lease", c.TimerLease, "lease on a claimed hold timer")
	fs.IntVar(&c.TimerBatch, "timer-batch", c.TimerBatch, "hold timers claimed per poll")
	fs.IntVar(&c.TimerConcurrency, "timer-concurrency", c.TimerConcurrency, "hold checks run in parallel")
	fs.DurationVar(&c.OutboxPoll, "outbox-poll", c.OutboxPoll, "outbox poll interval")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationOr(key string, def time.Duration) time.Duration {
	d, _ := time.ParseDuration(os.Getenv(key))
	if d <= 0 {
		return def
	}
	return d
}

func intOr(key string, def int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func floatOr(key string, def float64) float64 {
	f, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil || f < 0 || f > 1 {
		return def
	}
	return f
}
