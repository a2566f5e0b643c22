package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "missioncontrol.yaml"

// LoadFrom builds a Config from defaults, then the YAML file at yamlPath
// when it exists, then MC_* environment variables. Unknown YAML keys and
// malformed environment values are errors.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}
	if err := loadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config env: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}
	return &cfg, nil
}

func loadYAML(cfg *Config, path string) error {
	f, err := os.Open(path) //nolint:gosec // G304: path comes from the operator
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// loadEnv overlays the environment onto cfg. Unset and empty variables
// leave the current value alone.
func loadEnv(cfg *Config) error {
	var e envOverlay
	e.str(&cfg.Server.Port, "MC_PORT")
	e.str(&cfg.Server.CORSOrigin, "MC_CORS_ORIGIN")
	e.str(&cfg.Postgres.DSN, "DATABASE_URL")
	e.i32(&cfg.Postgres.MaxConns, "MC_PG_MAX_CONNS")
	e.i32(&cfg.Postgres.MinConns, "MC_PG_MIN_CONNS")
	e.duration(&cfg.Postgres.MaxConnLifetime, "MC_PG_MAX_CONN_LIFETIME")
	e.duration(&cfg.Postgres.MaxConnIdleTime, "MC_PG_MAX_CONN_IDLE_TIME")
	e.duration(&cfg.Postgres.HealthCheck, "MC_PG_HEALTH_CHECK")
	e.str(&cfg.NATS.URL, "NATS_URL")
	e.str(&cfg.LiteLLM.URL, "LITELLM_URL")
	e.str(&cfg.LiteLLM.MasterKey, "LITELLM_MASTER_KEY")
	e.str(&cfg.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	e.str(&cfg.Logging.Level, "MC_LOG_LEVEL")
	e.str(&cfg.Logging.Format, "MC_LOG_FORMAT")
	e.str(&cfg.Logging.Service, "MC_LOG_SERVICE")
	e.boolean(&cfg.Logging.Async, "MC_LOG_ASYNC")
	e.integer(&cfg.Breaker.MaxFailures, "MC_BREAKER_MAX_FAILURES")
	e.duration(&cfg.Breaker.Timeout, "MC_BREAKER_TIMEOUT")
	e.float(&cfg.Rate.RequestsPerSecond, "MC_RATE_RPS")
	e.integer(&cfg.Rate.Burst, "MC_RATE_BURST")
	e.duration(&cfg.Rate.CleanupInterval, "MC_RATE_CLEANUP_INTERVAL")
	e.duration(&cfg.Rate.MaxIdleTime, "MC_RATE_MAX_IDLE_TIME")

	// Cache
	e.i64(&cfg.Cache.L1MaxSizeMB, "MC_CACHE_L1_SIZE_MB")
	e.str(&cfg.Cache.L2Bucket, "MC_CACHE_L2_BUCKET")
	e.duration(&cfg.Cache.L2TTL, "MC_CACHE_L2_TTL")
	e.duration(&cfg.Cache.ZoneTTL, "MC_CACHE_ZONE_TTL")

	// Telemetry
	e.boolean(&cfg.OTEL.Enabled, "MC_OTEL_ENABLED")
	e.str(&cfg.OTEL.Endpoint, "MC_OTEL_ENDPOINT")
	e.boolean(&cfg.OTEL.Insecure, "MC_OTEL_INSECURE")
	e.str(&cfg.OTEL.ServiceName, "MC_OTEL_SERVICE_NAME")

	// Queue
	e.str(&cfg.Queue.Name, "MC_QUEUE_NAME")
	e.str(&cfg.Queue.Backend, "MC_QUEUE_BACKEND")
	e.integer(&cfg.Queue.MaxRetries, "MC_QUEUE_MAX_RETRIES")
	e.duration(&cfg.Queue.RetryBase, "MC_QUEUE_RETRY_BASE")
	e.duration(&cfg.Queue.RetryMax, "MC_QUEUE_RETRY_MAX")
	e.duration(&cfg.Queue.Throttle, "MC_QUEUE_THROTTLE")
	e.duration(&cfg.Queue.PollInterval, "MC_QUEUE_POLL_INTERVAL")
	e.integer(&cfg.Queue.Workers, "MC_QUEUE_WORKERS")

	// Lifecycle
	e.duration(&cfg.Lifecycle.CheckinDeadline, "MC_LIFECYCLE_CHECKIN_DEADLINE")
	e.integer(&cfg.Lifecycle.MaxWakeAttempts, "MC_LIFECYCLE_MAX_WAKE_ATTEMPTS")
	e.duration(&cfg.Lifecycle.ReconcileTimeout, "MC_LIFECYCLE_RECONCILE_TIMEOUT")
	e.duration(&cfg.Lifecycle.DeferDelay, "MC_LIFECYCLE_DEFER_DELAY")
	e.duration(&cfg.Lifecycle.WakeTimeout, "MC_LIFECYCLE_WAKE_TIMEOUT")
	e.integer(&cfg.Lifecycle.MaxConcurrentWakes, "MC_LIFECYCLE_MAX_CONCURRENT_WAKES")

	// Gardener
	e.str(&cfg.Gardener.Provider, "MC_GARDENER_PROVIDER")
	e.str(&cfg.Gardener.Model, "MC_GARDENER_MODEL")
	e.duration(&cfg.Gardener.Timeout, "MC_GARDENER_TIMEOUT")
	e.integer(&cfg.Gardener.MaxReviewers, "MC_GARDENER_MAX_REVIEWERS")
	e.integer(&cfg.Gardener.MaxTokens, "MC_GARDENER_MAX_TOKENS")

	// Escalation
	e.integer(&cfg.Escalation.DefaultCosignerThreshold, "MC_ESCALATION_COSIGNER_THRESHOLD")
	e.str(&cfg.Escalation.SweepSchedule, "MC_ESCALATION_SWEEP_SCHEDULE")

	// Idempotency
	e.str(&cfg.Idempotency.Bucket, "MC_IDEMPOTENCY_BUCKET")
	e.duration(&cfg.Idempotency.TTL, "MC_IDEMPOTENCY_TTL")
	return errors.Join(e.errs...)
}

// validate reports every invalid setting at once.
func validate(cfg *Config) error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(cfg.Server.Port != "", "server.port is required")
	check(cfg.Postgres.DSN != "", "postgres.dsn is required")
	check(cfg.NATS.URL != "", "nats.url is required")
	check(cfg.Postgres.MaxConns >= 1, "postgres.max_conns must be >= 1")
	check(cfg.Breaker.MaxFailures >= 1, "breaker.max_failures must be >= 1")
	check(cfg.Rate.Burst >= 1, "rate.burst must be >= 1")
	check(cfg.Logging.Format == "json" || cfg.Logging.Format == "text",
		"logging.format must be json or text, got %q", cfg.Logging.Format)

	check(cfg.Queue.Name != "", "queue.name is required")
	check(cfg.Queue.Backend == "postgres" || cfg.Queue.Backend == "nats",
		"queue.backend must be postgres or nats, got %q", cfg.Queue.Backend)
	check(cfg.Queue.MaxRetries >= 1, "queue.max_retries must be >= 1")
	check(cfg.Queue.Workers >= 1, "queue.workers must be >= 1")

	check(cfg.Lifecycle.CheckinDeadline > 0, "lifecycle.checkin_deadline must be > 0")
	check(cfg.Lifecycle.MaxWakeAttempts >= 1, "lifecycle.max_wake_attempts must be >= 1")

	switch cfg.Gardener.Provider {
	case "litellm", "anthropic", "none":
	default:
		check(false, "gardener.provider must be litellm, anthropic or none, got %q", cfg.Gardener.Provider)
	}
	check(cfg.Gardener.Timeout > 0, "gardener.timeout must be > 0")

	check(cfg.Escalation.DefaultCosignerThreshold >= 1, "escalation.default_cosigner_threshold must be >= 1")
	if _, err := cron.ParseStandard(cfg.Escalation.SweepSchedule); err != nil {
		check(false, "escalation.sweep_schedule: %v", err)
	}
	return errors.Join(errs...)
}

// envOverlay applies environment variables and collects parse failures.
type envOverlay struct {
	errs []error
}

func envSet[T any](e *envOverlay, dst *T, key string, parse func(string) (T, error)) {
	raw := os.Getenv(key)
	if raw == "" {
		return
	}
	v, err := parse(raw)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s=%q: %w", key, raw, err))
		return
	}
	*dst = v
}

func (e *envOverlay) str(dst *string, key string) {
	envSet(e, dst, key, func(s string) (string, error) { return s, nil })
}

func (e *envOverlay) integer(dst *int, key string) { envSet(e, dst, key, strconv.Atoi) }

func (e *envOverlay) i32(dst *int32, key string) {
	envSet(e, dst, key, func(s string) (int32, error) {
		n, err := strconv.ParseInt(s, 10, 32)
		return int32(n), err
	})
}

func (e *envOverlay) i64(dst *int64, key string) {
	envSet(e, dst, key, func(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) })
}

func (e *envOverlay) float(dst *float64, key string) {
	envSet(e, dst, key, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

func (e *envOverlay) boolean(dst *bool, key string) { envSet(e, dst, key, strconv.ParseBool) }

func (e *envOverlay) duration(dst *time.Duration, key string) {
	envSet(e, dst, key, time.ParseDuration)
}
