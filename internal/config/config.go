package config

import (
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
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Gemini     GeminiConfig     `yaml:"gemini" mapstructure:"gemini"`
	Apify      ApifyConfig      `yaml:"apify" mapstructure:"apify"`
	Curation   CurationConfig   `yaml:"curation" mapstructure:"curation"`
	Scheduler  SchedulerConfig  `yaml:"scheduler" mapstructure:"scheduler"`
	Temporal   TemporalConfig   `yaml:"temporal" mapstructure:"temporal"`
	Lock       LockConfig       `yaml:"lock" mapstructure:"lock"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Circuit    CircuitConfig    `yaml:"circuit" mapstructure:"circuit"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds settings for relevance scoring.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// GeminiConfig holds settings for video analysis.
type GeminiConfig struct {
	APIKey            string `yaml:"api_key" mapstructure:"api_key"`
	Model             string `yaml:"model" mapstructure:"model"`
	RequestsPerMinute int    `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// ApifyConfig holds settings for the short-form video scraper actor.
type ApifyConfig struct {
	Token             string  `yaml:"token" mapstructure:"token"`
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url"`
	Actor             string  `yaml:"actor" mapstructure:"actor"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// CurationConfig tunes the curation run. Zero values fall back to the
// defaults registered in Load.
type CurationConfig struct {
	MinCredits           int64 `yaml:"min_credits" mapstructure:"min_credits"`
	ScrapeRounds         int   `yaml:"scrape_rounds" mapstructure:"scrape_rounds"`
	PerRoundLimit        int   `yaml:"per_round_limit" mapstructure:"per_round_limit"`
	QuotaMultiplier      int   `yaml:"quota_multiplier" mapstructure:"quota_multiplier"`
	RelevanceBatchSize   int   `yaml:"relevance_batch_size" mapstructure:"relevance_batch_size"`
	CacheTTLHours        int   `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
	BaseCost             int64 `yaml:"base_cost" mapstructure:"base_cost"`
	BatchCost            int64 `yaml:"batch_cost" mapstructure:"batch_cost"`
	VisionCost           int64 `yaml:"vision_cost" mapstructure:"vision_cost"`
	MaxConsecutiveErrors int   `yaml:"max_consecutive_errors" mapstructure:"max_consecutive_errors"`
	RunTimeoutMins       int   `yaml:"run_timeout_mins" mapstructure:"run_timeout_mins"`
	CallTimeoutSecs      int   `yaml:"call_timeout_secs" mapstructure:"call_timeout_secs"`
	FirstRunDelaySecs    int   `yaml:"first_run_delay_secs" mapstructure:"first_run_delay_secs"`
	RestoreDelaySecs     int   `yaml:"restore_delay_secs" mapstructure:"restore_delay_secs"`
	ErrorMessageCap      int   `yaml:"error_message_cap" mapstructure:"error_message_cap"`
	MaxConcurrentRuns    int64 `yaml:"max_concurrent_runs" mapstructure:"max_concurrent_runs"`
}

// RunTimeout returns the whole-run deadline.
func (c CurationConfig) RunTimeout() time.Duration {
	return time.Duration(c.RunTimeoutMins) * time.Minute
}

// CallTimeout returns the per external call deadline.
func (c CurationConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSecs) * time.Second
}

// CacheTTL returns how long a relevance verdict stays valid.
func (c CurationConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLHours) * time.Hour
}

// SchedulerConfig selects the trigger backend.
type SchedulerConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
}

// TemporalConfig configures the Temporal scheduler backend.
type TemporalConfig struct {
	HostPort  string `yaml:"host_port" mapstructure:"host_port"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue string `yaml:"task_queue" mapstructure:"task_queue"`
}

// LockConfig selects the per-config run lock backend.
type LockConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
}

// RedisConfig configures the distributed run lock.
type RedisConfig struct {
	Addr        string `yaml:"addr" mapstructure:"addr"`
	Password    string `yaml:"password" mapstructure:"password"`
	DB          int    `yaml:"db" mapstructure:"db"`
	LockTTLSecs int    `yaml:"lock_ttl_secs" mapstructure:"lock_ttl_secs"`
}

// RetryConfig tunes retry of transient provider errors.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitConfig tunes per-provider circuit breakers.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// PricingConfig holds operator-side USD pricing.
type PricingConfig struct {
	Anthropic map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
	Gemini    map[string]ModelPricing `yaml:"gemini" mapstructure:"gemini"`
	Apify     ApifyPricing            `yaml:"apify" mapstructure:"apify"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	BatchDiscount float64 `yaml:"batch_discount" mapstructure:"batch_discount"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// ApifyPricing holds scraper pricing.
type ApifyPricing struct {
	PerThousandResults float64 `yaml:"per_thousand_results" mapstructure:"per_thousand_results"`
}

// ServerConfig configures the control API daemon.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	LockFile    string   `yaml:"lock_file" mapstructure:"lock_file"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// MonitoringConfig configures alerting.
type MonitoringConfig struct {
	WebhookURL        string `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs int    `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	OverdueGraceMins  int    `yaml:"overdue_grace_mins" mapstructure:"overdue_grace_mins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CURATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Secrets get empty defaults so env overrides unmarshal.
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("gemini.api_key", "")
	v.SetDefault("apify.token", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.lock_file", "/tmp/trend-curator.lock")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("gemini.requests_per_minute", 30)
	v.SetDefault("apify.base_url", "https://api.apify.com/v2")
	v.SetDefault("apify.actor", "clockworks~tiktok-scraper")
	v.SetDefault("apify.requests_per_second", 1.0)
	v.SetDefault("curation.min_credits", 20)
	v.SetDefault("curation.scrape_rounds", 5)
	v.SetDefault("curation.per_round_limit", 50)
	v.SetDefault("curation.quota_multiplier", 3)
	v.SetDefault("curation.relevance_batch_size", 8)
	v.SetDefault("curation.cache_ttl_hours", 24)
	v.SetDefault("curation.base_cost", 2)
	v.SetDefault("curation.batch_cost", 2)
	v.SetDefault("curation.vision_cost", 5)
	v.SetDefault("curation.max_consecutive_errors", 3)
	v.SetDefault("curation.run_timeout_mins", 30)
	v.SetDefault("curation.call_timeout_secs", 120)
	v.SetDefault("curation.first_run_delay_secs", 60)
	v.SetDefault("curation.restore_delay_secs", 300)
	v.SetDefault("curation.error_message_cap", 500)
	v.SetDefault("curation.max_concurrent_runs", 4)
	v.SetDefault("scheduler.driver", "cron")
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "trend-curator")
	v.SetDefault("lock.driver", "local")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.lock_ttl_secs", 2100)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)
	v.SetDefault("pricing.apify.per_thousand_results", 0.30)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.overdue_grace_mins", 30)

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
