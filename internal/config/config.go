// Package config loads the session gateway's settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// GatewayConfig captures all tunable parameters for the session gateway
// process. Values come from environment variables with defaults that let the
// binary run locally against a dev backend without excessive setup.
type GatewayConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	BackendBaseURL string
	BackendTimeout time.Duration

	// polling cadence
	PollBase     time.Duration
	PollFloor    time.Duration
	PollMax      time.Duration
	PollCooldown time.Duration

	FailureThreshold int
	RankCriterion    string

	// driver directory: "memory", "redis" or "postgres"
	DirectoryBackend string
	RedisAddr        string
	RedisPassword    string
	PGDSN            string

	KafkaBrokers []string
	KafkaTopic   string

	PaymentsEnabled bool
	Currency        string

	LogLevel string
}

func defaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		HTTPAddr:         ":8080",
		ReadTimeout:      5 * time.Second,
		WriteTimeout:     10 * time.Second,
		IdleTimeout:      120 * time.Second,
		ShutdownTimeout:  15 * time.Second,
		BackendTimeout:   10 * time.Second,
		PollBase:         30 * time.Second,
		PollFloor:        10 * time.Second,
		PollMax:          2 * time.Minute,
		PollCooldown:     5 * time.Minute,
		FailureThreshold: 3,
		RankCriterion:    "price",
		DirectoryBackend: "memory",
		KafkaTopic:       "booking-events",
		Currency:         "usd",
		LogLevel:         "info",
	}
}

func LoadGatewayConfig() (GatewayConfig, error) {
	cfg := defaultGatewayConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.BackendBaseURL = strings.TrimSpace(os.Getenv("BACKEND_BASE_URL"))
	setDurationFromEnv(&cfg.BackendTimeout, "BACKEND_TIMEOUT", &errs)

	setDurationFromEnv(&cfg.PollBase, "POLL_BASE_INTERVAL", &errs)
	setDurationFromEnv(&cfg.PollFloor, "POLL_FLOOR_INTERVAL", &errs)
	setDurationFromEnv(&cfg.PollMax, "POLL_MAX_INTERVAL", &errs)
	setDurationFromEnv(&cfg.PollCooldown, "POLL_RATE_LIMIT_COOLDOWN", &errs)

	setIntFromEnv(&cfg.FailureThreshold, "SYNC_FAILURE_THRESHOLD", &errs)
	setStringFromEnv(&cfg.RankCriterion, "RANK_CRITERION")

	setStringFromEnv(&cfg.DirectoryBackend, "DIRECTORY_BACKEND")
	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.PGDSN = os.Getenv("PG_DSN")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PaymentsEnabled = strings.EqualFold(os.Getenv("PAYMENTS_ENABLED"), "true")
	setStringFromEnv(&cfg.Currency, "PAYMENT_CURRENCY")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.BackendBaseURL == "" {
		errs = append(errs, fmt.Errorf("BACKEND_BASE_URL is required"))
	}
	if cfg.PollFloor > cfg.PollBase {
		errs = append(errs, fmt.Errorf("POLL_FLOOR_INTERVAL must not exceed POLL_BASE_INTERVAL"))
	}
	if cfg.PollMax < cfg.PollBase {
		errs = append(errs, fmt.Errorf("POLL_MAX_INTERVAL must be at least POLL_BASE_INTERVAL"))
	}
	if cfg.PollCooldown <= cfg.PollMax {
		errs = append(errs, fmt.Errorf("POLL_RATE_LIMIT_COOLDOWN must exceed POLL_MAX_INTERVAL"))
	}
	if cfg.FailureThreshold <= 0 {
		errs = append(errs, fmt.Errorf("SYNC_FAILURE_THRESHOLD must be > 0"))
	}
	switch cfg.DirectoryBackend {
	case "memory", "redis", "postgres":
	default:
		errs = append(errs, fmt.Errorf("DIRECTORY_BACKEND must be memory, redis or postgres"))
	}
	if cfg.DirectoryBackend == "redis" && cfg.RedisAddr == "" {
		errs = append(errs, fmt.Errorf("REDIS_ADDR is required when DIRECTORY_BACKEND=redis"))
	}
	if cfg.DirectoryBackend == "postgres" && cfg.PGDSN == "" {
		errs = append(errs, fmt.Errorf("PG_DSN is required when DIRECTORY_BACKEND=postgres"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
