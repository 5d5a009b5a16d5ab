package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Queue      QueueConfig      `yaml:"queue" mapstructure:"queue"`
	BrightData BrightDataConfig `yaml:"brightdata" mapstructure:"brightdata"`
	Delivery   DeliveryConfig   `yaml:"delivery" mapstructure:"delivery"`
	Poller     PollerConfig     `yaml:"poller" mapstructure:"poller"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Worker     WorkerConfig     `yaml:"worker" mapstructure:"worker"`
	Sweep      SweepConfig      `yaml:"sweep" mapstructure:"sweep"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend. For sqlite, DatabaseURL is a
// file path.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// RedisConfig locates the queue broker.
type RedisConfig struct {
	URL string `yaml:"url" mapstructure:"url"`
}

// QueueConfig tunes the job queue.
type QueueConfig struct {
	Name string `yaml:"name" mapstructure:"name"`
	// VisibilityTimeoutSecs must exceed pipeline.job_timeout_secs.
	VisibilityTimeoutSecs int `yaml:"visibility_timeout_secs" mapstructure:"visibility_timeout_secs"`
	BlockTimeoutSecs      int `yaml:"block_timeout_secs" mapstructure:"block_timeout_secs"`
	MaxAttempts           int `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// BrightDataConfig holds the scraping vendor credentials.
type BrightDataConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	DatasetID   string `yaml:"dataset_id" mapstructure:"dataset_id"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// DeliveryConfig describes the bucket the vendor writes snapshots into.
// Type "local" reads a directory instead, for development.
type DeliveryConfig struct {
	Type        string `yaml:"type" mapstructure:"type"`
	Bucket      string `yaml:"bucket" mapstructure:"bucket"`
	Directory   string `yaml:"directory" mapstructure:"directory"`
	Credentials string `yaml:"credentials" mapstructure:"credentials"`
	Endpoint    string `yaml:"endpoint" mapstructure:"endpoint"`
	LocalDir    string `yaml:"local_dir" mapstructure:"local_dir"`
}

// PollerConfig sets the delivery polling backoff.
type PollerConfig struct {
	InitialDelaySecs float64 `yaml:"initial_delay_secs" mapstructure:"initial_delay_secs"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	MaxDelaySecs     float64 `yaml:"max_delay_secs" mapstructure:"max_delay_secs"`
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// AnthropicConfig holds the qualification judge settings.
type AnthropicConfig struct {
	Key           string  `yaml:"key" mapstructure:"key"`
	Model         string  `yaml:"model" mapstructure:"model"`
	MaxTokens     int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature   float64 `yaml:"temperature" mapstructure:"temperature"`
	RatePerSecond float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	Burst         int     `yaml:"burst" mapstructure:"burst"`
}

// PipelineConfig tunes one job run.
type PipelineConfig struct {
	Concurrency        int `yaml:"concurrency" mapstructure:"concurrency"`
	QualifyConcurrency int `yaml:"qualify_concurrency" mapstructure:"qualify_concurrency"`
	// JobTimeoutSecs of 0 derives the timeout from the poll budget.
	JobTimeoutSecs int `yaml:"job_timeout_secs" mapstructure:"job_timeout_secs"`
}

// WorkerConfig sizes the queue consumer.
type WorkerConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// SweepConfig schedules the periodic maintenance jobs. Schedules use
// robfig/cron syntax, including "@every".
type SweepConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	Schedule        string `yaml:"schedule" mapstructure:"schedule"`
	RecoverSchedule string `yaml:"recover_schedule" mapstructure:"recover_schedule"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	InternalSecret string   `yaml:"internal_secret" mapstructure:"internal_secret"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// ResilienceConfig configures retries and circuit breakers for outbound
// calls.
type ResilienceConfig struct {
	MaxRetries            int     `yaml:"max_retries" mapstructure:"max_retries"`
	InitialBackoffMs      int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs          int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	BackoffMultiplier     float64 `yaml:"backoff_multiplier" mapstructure:"backoff_multiplier"`
	JitterFraction        float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
	CircuitThreshold      int     `yaml:"circuit_threshold" mapstructure:"circuit_threshold"`
	CircuitResetTimeoutMs int     `yaml:"circuit_reset_timeout_ms" mapstructure:"circuit_reset_timeout_ms"`
}

// MonitoringConfig configures the background alert checker.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	TimeoutRateThreshold float64 `yaml:"timeout_rate_threshold" mapstructure:"timeout_rate_threshold"`
	DLQDepthThreshold    int     `yaml:"dlq_depth_threshold" mapstructure:"dlq_depth_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// JobTimeout returns the configured attempt timeout, or 0 for the default.
func (c PipelineConfig) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutSecs) * time.Second
}

// Visibility returns the queue lease length.
func (c QueueConfig) Visibility() time.Duration {
	return time.Duration(c.VisibilityTimeoutSecs) * time.Second
}

// BlockTimeout returns the blocking receive wait.
func (c QueueConfig) BlockTimeout() time.Duration {
	return time.Duration(c.BlockTimeoutSecs) * time.Second
}

// InitialDelay returns the first poll wait.
func (c PollerConfig) InitialDelay() time.Duration {
	return time.Duration(c.InitialDelaySecs * float64(time.Second))
}

// MaxDelay returns the poll wait cap.
func (c PollerConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelaySecs * float64(time.Second))
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEADS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("queue.name", "leads:jobs")
	v.SetDefault("queue.visibility_timeout_secs", 2100)
	v.SetDefault("queue.block_timeout_secs", 5)
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("brightdata.base_url", "https://api.brightdata.com")
	v.SetDefault("brightdata.timeout_secs", 60)
	v.SetDefault("delivery.type", "gcs")
	v.SetDefault("delivery.directory", "brightdata")
	v.SetDefault("poller.initial_delay_secs", 5)
	v.SetDefault("poller.multiplier", 1.5)
	v.SetDefault("poller.max_delay_secs", 30)
	v.SetDefault("poller.max_attempts", 60)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("anthropic.temperature", 0)
	v.SetDefault("anthropic.rate_per_second", 5)
	v.SetDefault("anthropic.burst", 5)
	v.SetDefault("pipeline.concurrency", 4)
	v.SetDefault("pipeline.qualify_concurrency", 4)
	v.SetDefault("pipeline.job_timeout_secs", 0)
	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("sweep.enabled", true)
	v.SetDefault("sweep.schedule", "@every 1m")
	v.SetDefault("sweep.recover_schedule", "@every 30s")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("resilience.max_retries", 3)
	v.SetDefault("resilience.initial_backoff_ms", 500)
	v.SetDefault("resilience.max_backoff_ms", 30000)
	v.SetDefault("resilience.backoff_multiplier", 2.0)
	v.SetDefault("resilience.jitter_fraction", 0.25)
	v.SetDefault("resilience.circuit_threshold", 5)
	v.SetDefault("resilience.circuit_reset_timeout_ms", 30000)
	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.timeout_rate_threshold", 0.10)
	v.SetDefault("monitoring.dlq_depth_threshold", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Keys with no default are invisible to Unmarshal unless bound.
	for _, key := range []string{
		"store.database_url",
		"brightdata.key",
		"brightdata.dataset_id",
		"delivery.bucket",
		"delivery.credentials",
		"delivery.endpoint",
		"delivery.local_dir",
		"anthropic.key",
		"server.internal_secret",
		"monitoring.webhook_url",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", key)
		}
	}

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. mode is one of "serve",
// "worker", "sweep", "enqueue" or "store".
func (c *Config) Validate(mode string) error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	switch c.Store.Driver {
	case "postgres", "sqlite":
		if c.Store.DatabaseURL == "" {
			add("store.database_url is required")
		}
	default:
		add("store.driver must be postgres or sqlite, got %q", c.Store.Driver)
	}

	needRedis := false
	needDelivery := false
	switch mode {
	case "store":
	case "enqueue":
		needRedis = true
	case "serve":
		needRedis = true
		if c.Server.Port <= 0 {
			add("server.port must be > 0")
		}
		if len(c.Server.InternalSecret) > 0 && len(c.Server.InternalSecret) < 16 {
			add("server.internal_secret must be at least 16 characters")
		}
	case "worker":
		needRedis = true
		needDelivery = true
		if c.BrightData.Key == "" {
			add("brightdata.key is required")
		}
		if c.BrightData.DatasetID == "" {
			add("brightdata.dataset_id is required")
		}
		if c.Worker.Concurrency < 1 || c.Worker.Concurrency > 32 {
			add("worker.concurrency must be between 1 and 32")
		}
		if c.Pipeline.Concurrency < 1 || c.Pipeline.Concurrency > 50 {
			add("pipeline.concurrency must be between 1 and 50")
		}
		if c.Queue.MaxAttempts < 1 {
			add("queue.max_attempts must be >= 1")
		}
		if t := c.Pipeline.JobTimeout(); t > 0 && c.Queue.Visibility() <= t {
			add("queue.visibility_timeout_secs must exceed pipeline.job_timeout_secs")
		}
	case "sweep":
		needDelivery = true
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if needRedis && c.Redis.URL == "" {
		add("redis.url is required")
	}
	if needDelivery {
		switch c.Delivery.Type {
		case "gcs":
			if c.Delivery.Bucket == "" {
				add("delivery.bucket is required")
			}
		case "local":
			if c.Delivery.LocalDir == "" {
				add("delivery.local_dir is required")
			}
		default:
			add("delivery.type must be gcs or local, got %q", c.Delivery.Type)
		}
		if c.Poller.Multiplier < 1 {
			add("poller.multiplier must be >= 1")
		}
		if c.Poller.MaxAttempts < 1 {
			add("poller.max_attempts must be >= 1")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
