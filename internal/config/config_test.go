package config_test

import (
	"testing"
	"time"

	"github.com/robertarktes/movie-ticket-booking/internal/config"
	"github.com/spf13/pflag"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HOLD_TTL", "")
	t.Setenv("TIMER_BATCH_SIZE", "")
	t.Setenv("MONGO_DB", "")

	cfg, err := config.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HoldTTL != 10*time.Minute {
		t.Errorf("expected 10m hold ttl, got %v", cfg.HoldTTL)
	}
	if cfg.TimerBatch != 32 {
		t.Errorf("expected batch 32, got %d", cfg.TimerBatch)
	}
	if cfg.MongoDB != "mtb" {
		t.Errorf("expected mongo db mtb, got %s", cfg.MongoDB)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("HOLD_TTL", "90s")
	t.Setenv("TIMER_CONCURRENCY", "9")
	t.Setenv("TIMER_LEASE_TTL", "not-a-duration")

	cfg, err := config.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HoldTTL != 90*time.Second {
		t.Errorf("expected 90s, got %v", cfg.HoldTTL)
	}
	if cfg.TimerConcurrency != 9 {
		t.Errorf("expected 9, got %d", cfg.TimerConcurrency)
	}
	if cfg.TimerLease != time.Minute {
		t.Errorf("expected fallback lease of 1m, got %v", cfg.TimerLease)
	}
}

func TestAddFlags(t *testing.T) {
	t.Setenv("HOLD_TTL", "5m")
	t.Setenv("TIMER_BATCH_SIZE", "")

	cfg, err := config.Load()
	if err != nil {
		t.Fatal(err)
	}
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg.AddFlags(fs)
	if err := fs.Parse([]string{"--timer-batch=8", "--http-addr=:9090"}); err != nil {
		t.Fatal(err)
	}

	if cfg.HoldTTL != 5*time.Minute {
		t.Errorf("expected environment value to survive, got %v", cfg.HoldTTL)
	}
	if cfg.TimerBatch != 8 || cfg.HTTPAddr != ":9090" {
		t.Errorf("expected flag overrides, got %d %s", cfg.TimerBatch, cfg.HTTPAddr)
	}
}

func TestLoad_SampleRatio(t *testing.T) {
	tests := []struct {
		value string
		want  float64
	}{
		{value: "", want: 1},
		{value: "0.25", want: 0.25},
		{value: "0", want: 0},
		{value: "1.5", want: 1},
		{value: "half", want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("OTEL_TRACES_SAMPLER_ARG", tt.value)
			cfg, err := config.Load()
			if err != nil {
				t.Fatal(err)
			}
			if cfg.TraceSampleRatio != tt.want {
				t.Errorf("expected %v, got %v", tt.want, cfg.TraceSampleRatio)
			}
		})
	}
}
