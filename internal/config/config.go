// Copyright 2025 James Ross
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Redis struct {
	Addr               string        `mapstructure:"addr"`
	Username           string        `mapstructure:"username"`
	Password           string        `mapstructure:"password"`
	DB                 int           `mapstructure:"db"`
	PoolSizeMultiplier int           `mapstructure:"pool_size_multiplier"`
	MinIdleConns       int           `mapstructure:"min_idle_conns"`
	DialTimeout        time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	MaxRetries         int           `mapstructure:"max_retries"`
}

type CircuitBreaker struct {
	FailureThreshold float64       `mapstructure:"failure_threshold"`
	Window           time.Duration `mapstructure:"window"`
	CooldownPeriod   time.Duration `mapstructure:"cooldown_period"`
	MinSamples       int           `mapstructure:"min_samples"`
}

type TracingConfig struct {
	Enabled               bool              `mapstructure:"enabled"`
	Endpoint              string            `mapstructure:"endpoint"`
	Environment           string            `mapstructure:"environment"`
	SamplingStrategy      string            `mapstructure:"sampling_strategy"`
	SamplingRate          float64           `mapstructure:"sampling_rate"`
	BatchTimeout          time.Duration     `mapstructure:"batch_timeout"`
	MaxExportBatchSize    int               `mapstructure:"max_export_batch_size"`
	Headers               map[string]string `mapstructure:"headers"`
	Insecure              bool              `mapstructure:"insecure"`
	PropagationFormat     string            `mapstructure:"propagation_format"`
	AttributeAllowlist    []string          `mapstructure:"attribute_allowlist"`
	RedactSensitive       bool              `mapstructure:"redact_sensitive"`
	EnableMetricExemplars bool              `mapstructure:"enable_metric_exemplars"`
}

// Tracing is a backwards-compatible alias
type Tracing = TracingConfig

type ObservabilityConfig struct {
	MetricsPort         int           `mapstructure:"metrics_port"`
	LogLevel            string        `mapstructure:"log_level"`
	Tracing             TracingConfig `mapstructure:"tracing"`
	QueueSampleInterval time.Duration `mapstructure:"queue_sample_interval"`
}

// Observability is a backwards-compatible alias
type Observability = ObservabilityConfig

// Application holds the control-plane auth configuration (spec §6 env vars
// MASTER_API_KEY / ENABLE_API_KEY_AUTH).
type Application struct {
	MasterAPIKey      string `mapstructure:"master_api_key"`
	EnableAPIKeyAuth  bool   `mapstructure:"enable_api_key_auth"`
	DefaultApplication string `mapstructure:"default_application"`
}

// Retention holds the job purge windows (spec §3 Job retention invariant).
type Retention struct {
	CompletedJobRetention time.Duration `mapstructure:"completed_job_retention"`
	FailedJobRetention    time.Duration `mapstructure:"failed_job_retention"`
	PurgeInterval         time.Duration `mapstructure:"purge_interval"`
	PurgeBatchLimit       int64         `mapstructure:"purge_batch_limit"`
}

// MetadataStore selects the backend for the Application/Webhook/Subscription/
// Schedule document store (spec §1 MetadataStore external collaborator).
type MetadataStore struct {
	Backend string `mapstructure:"backend"` // "redis" or "memory"
}

// Scheduler holds the scheduler worker's polling cadence.
type Scheduler struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	DueBatchSize int64         `mapstructure:"due_batch_size"`
}

// Reaper holds the stale-active-job reconciliation loop's cadence and
// staleness threshold (spec §4.3 supplemented reconciliation behavior).
type Reaper struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	StaleAfter   time.Duration `mapstructure:"stale_after"`
}

// HTTP holds the control-plane HTTP server's listen address and limits
// (spec §6 PORT / RATE_LIMIT_* env vars).
type HTTP struct {
	Addr                string        `mapstructure:"addr"`
	ReadTimeout         time.Duration `mapstructure:"read_timeout"`
	WriteTimeout        time.Duration `mapstructure:"write_timeout"`
	RateLimitWindow     time.Duration `mapstructure:"rate_limit_window"`
	RateLimitMaxRequests int          `mapstructure:"rate_limit_max_requests"`
}

// Audit holds the master-scoped destructive-operation audit log's
// location and rotation policy (spec §5 supplement).
type Audit struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int64  `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

type Config struct {
	Redis          Redis          `mapstructure:"redis"`
	Application    Application    `mapstructure:"application"`
	Retention      Retention      `mapstructure:"retention"`
	MetadataStore  MetadataStore  `mapstructure:"metadata_store"`
	Scheduler      Scheduler      `mapstructure:"scheduler"`
	Reaper         Reaper         `mapstructure:"reaper"`
	HTTP           HTTP           `mapstructure:"http"`
	CircuitBreaker CircuitBreaker `mapstructure:"circuit_breaker"`
	Observability  Observability  `mapstructure:"observability"`
	Audit          Audit          `mapstructure:"audit"`
}

func defaultConfig() *Config {
	return &Config{
		Redis: Redis{
			Addr:               "localhost:6379",
			PoolSizeMultiplier: 10,
			MinIdleConns:       5,
			DialTimeout:        5 * time.Second,
			ReadTimeout:        3 * time.Second,
			WriteTimeout:       3 * time.Second,
			MaxRetries:         3,
		},
		Application: Application{
			EnableAPIKeyAuth:   true,
			DefaultApplication: "default",
		},
		Retention: Retention{
			CompletedJobRetention: 1 * time.Hour,
			FailedJobRetention:    24 * time.Hour,
			PurgeInterval:         1 * time.Minute,
			PurgeBatchLimit:       1000,
		},
		MetadataStore: MetadataStore{
			Backend: "redis",
		},
		Scheduler: Scheduler{
			PollInterval: 1 * time.Second,
			DueBatchSize: 100,
		},
		Reaper: Reaper{
			PollInterval: 5 * time.Second,
			StaleAfter:   2 * time.Minute,
		},
		HTTP: HTTP{
			Addr:                 ":8080",
			ReadTimeout:          10 * time.Second,
			WriteTimeout:         30 * time.Second,
			RateLimitWindow:      time.Minute,
			RateLimitMaxRequests: 600,
		},
		CircuitBreaker: CircuitBreaker{
			FailureThreshold: 0.5,
			Window:           1 * time.Minute,
			CooldownPeriod:   30 * time.Second,
			MinSamples:       20,
		},
		Observability: Observability{
			MetricsPort:         9090,
			LogLevel:            "info",
			Tracing:             Tracing{Enabled: false},
			QueueSampleInterval: 2 * time.Second,
		},
		Audit: Audit{
			Enabled:    false,
			Path:       "logs/audit.log",
			MaxSizeMB:  10,
			MaxBackups: 5,
		},
	}
}

// Load reads configuration from YAML file and env overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := defaultConfig()
	v.SetDefault("redis.addr", def.Redis.Addr)
	v.SetDefault("redis.pool_size_multiplier", def.Redis.PoolSizeMultiplier)
	v.SetDefault("redis.min_idle_conns", def.Redis.MinIdleConns)
	v.SetDefault("redis.dial_timeout", def.Redis.DialTimeout)
	v.SetDefault("redis.read_timeout", def.Redis.ReadTimeout)
	v.SetDefault("redis.write_timeout", def.Redis.WriteTimeout)
	v.SetDefault("redis.max_retries", def.Redis.MaxRetries)

	v.SetDefault("application.enable_api_key_auth", def.Application.EnableAPIKeyAuth)
	v.SetDefault("application.default_application", def.Application.DefaultApplication)

	v.SetDefault("retention.completed_job_retention", def.Retention.CompletedJobRetention)
	v.SetDefault("retention.failed_job_retention", def.Retention.FailedJobRetention)
	v.SetDefault("retention.purge_interval", def.Retention.PurgeInterval)
	v.SetDefault("retention.purge_batch_limit", def.Retention.PurgeBatchLimit)

	v.SetDefault("metadata_store.backend", def.MetadataStore.Backend)

	v.SetDefault("scheduler.poll_interval", def.Scheduler.PollInterval)
	v.SetDefault("scheduler.due_batch_size", def.Scheduler.DueBatchSize)

	v.SetDefault("reaper.poll_interval", def.Reaper.PollInterval)
	v.SetDefault("reaper.stale_after", def.Reaper.StaleAfter)

	v.SetDefault("http.addr", def.HTTP.Addr)
	v.SetDefault("http.read_timeout", def.HTTP.ReadTimeout)
	v.SetDefault("http.write_timeout", def.HTTP.WriteTimeout)
	v.SetDefault("http.rate_limit_window", def.HTTP.RateLimitWindow)
	v.SetDefault("http.rate_limit_max_requests", def.HTTP.RateLimitMaxRequests)

	v.SetDefault("circuit_breaker.failure_threshold", def.CircuitBreaker.FailureThreshold)
	v.SetDefault("circuit_breaker.window", def.CircuitBreaker.Window)
	v.SetDefault("circuit_breaker.cooldown_period", def.CircuitBreaker.CooldownPeriod)
	v.SetDefault("circuit_breaker.min_samples", def.CircuitBreaker.MinSamples)

	v.SetDefault("observability.metrics_port", def.Observability.MetricsPort)
	v.SetDefault("observability.log_level", def.Observability.LogLevel)
	v.SetDefault("observability.tracing.enabled", def.Observability.Tracing.Enabled)
	v.SetDefault("observability.tracing.endpoint", def.Observability.Tracing.Endpoint)
	v.SetDefault("observability.queue_sample_interval", def.Observability.QueueSampleInterval)

	v.SetDefault("audit.enabled", def.Audit.Enabled)
	v.SetDefault("audit.path", def.Audit.Path)
	v.SetDefault("audit.max_size_mb", def.Audit.MaxSizeMB)
	v.SetDefault("audit.max_backups", def.Audit.MaxBackups)

	// Optional file read
	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	// Environment variable names used verbatim by the spec (§6) that don't
	// follow the dotted mapstructure convention.
	bindLegacyEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func bindLegacyEnv(v *viper.Viper) {
	pairs := map[string]string{
		"redis.addr":                        "REDIS_HOST",
		"redis.db":                          "REDIS_DB",
		"redis.password":                    "REDIS_PASSWORD",
		"application.master_api_key":        "MASTER_API_KEY",
		"application.enable_api_key_auth":   "ENABLE_API_KEY_AUTH",
		"http.addr":                         "PORT",
		"observability.metrics_port":        "METRICS_PORT",
		"http.rate_limit_window":            "RATE_LIMIT_WINDOW_MS",
		"http.rate_limit_max_requests":      "RATE_LIMIT_MAX_REQUESTS",
		"retention.completed_job_retention": "COMPLETED_JOB_RETENTION_SECONDS",
		"retention.failed_job_retention":    "FAILED_JOB_RETENTION_SECONDS",
	}
	for key, env := range pairs {
		_ = v.BindEnv(key, env)
	}
}

// Validate checks config constraints and returns an error on invalid settings.
func Validate(cfg *Config) error {
	if cfg.Redis.Addr == "" {
		return fmt.Errorf("redis.addr must be set")
	}
	if cfg.Retention.CompletedJobRetention <= 0 {
		return fmt.Errorf("retention.completed_job_retention must be > 0")
	}
	if cfg.Retention.FailedJobRetention <= 0 {
		return fmt.Errorf("retention.failed_job_retention must be > 0")
	}
	if cfg.MetadataStore.Backend != "redis" && cfg.MetadataStore.Backend != "memory" {
		return fmt.Errorf("metadata_store.backend must be %q or %q", "redis", "memory")
	}
	if cfg.Scheduler.PollInterval <= 0 {
		return fmt.Errorf("scheduler.poll_interval must be > 0")
	}
	if cfg.HTTP.Addr == "" {
		return fmt.Errorf("http.addr must be set")
	}
	if cfg.Observability.MetricsPort <= 0 || cfg.Observability.MetricsPort > 65535 {
		return fmt.Errorf("observability.metrics_port must be 1..65535")
	}
	return nil
}
