package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full engine configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Policy     PolicyConfig     `yaml:"policy" mapstructure:"policy"`
	Discovery  DiscoveryConfig  `yaml:"discovery" mapstructure:"discovery"`
	CDR        CDRConfig        `yaml:"cdr" mapstructure:"cdr"`
	Agents     AgentsConfig     `yaml:"agents" mapstructure:"agents"`
	Leaks      LeaksConfig      `yaml:"leaks" mapstructure:"leaks"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Notion     NotionConfig     `yaml:"notion" mapstructure:"notion"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the Postgres backend.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// PolicyConfig points at the queue policy file (leases, retries, aging,
// score bands, outcome adjustments).
type PolicyConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// DiscoveryConfig configures the discovery and aging job.
type DiscoveryConfig struct {
	Source      string `yaml:"source" mapstructure:"source"` // "salesforce" or "seed"
	SeedPath    string `yaml:"seed_path" mapstructure:"seed_path"`
	BatchSize   int    `yaml:"batch_size" mapstructure:"batch_size"`
	BudgetSecs  int    `yaml:"budget_secs" mapstructure:"budget_secs"`
	Concurrency int    `yaml:"concurrency" mapstructure:"concurrency"`
}

// CDRConfig configures the contact-history importer.
type CDRConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"` // ftp://host/path prefix
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Encoding    string `yaml:"encoding" mapstructure:"encoding"`
}

// AgentsConfig configures agent presence tracking.
type AgentsConfig struct {
	HeartbeatTTLSecs int `yaml:"heartbeat_ttl_secs" mapstructure:"heartbeat_ttl_secs"`
}

// LeaksConfig configures the leak detector and its background monitor.
type LeaksConfig struct {
	ScanWindowHours  int `yaml:"scan_window_hours" mapstructure:"scan_window_hours"`
	ScanIntervalSecs int `yaml:"scan_interval_secs" mapstructure:"scan_interval_secs"`
}

// SalesforceConfig holds Salesforce JWT auth settings for the eligibility source.
type SalesforceConfig struct {
	ClientID        string  `yaml:"client_id" mapstructure:"client_id"`
	Username        string  `yaml:"username" mapstructure:"username"`
	KeyPath         string  `yaml:"key_path" mapstructure:"key_path"`
	LoginURL        string  `yaml:"login_url" mapstructure:"login_url"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec" mapstructure:"rate_limit_per_sec"`
}

// NotionConfig holds the review-board integration settings.
type NotionConfig struct {
	Token    string `yaml:"token" mapstructure:"token"`
	ReviewDB string `yaml:"review_db" mapstructure:"review_db"`
}

// RetryConfig tunes retry and circuit-breaker behavior for calls that
// leave the process (Salesforce, the PBX FTP share, webhooks).
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	BreakerFailures  int `yaml:"breaker_failures" mapstructure:"breaker_failures"`
	BreakerResetSecs int `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// ServerConfig configures the HTTP API and the serve loops.
type ServerConfig struct {
	Port                 int `yaml:"port" mapstructure:"port"`
	SweepIntervalSecs    int `yaml:"sweep_interval_secs" mapstructure:"sweep_interval_secs"`
	DispatchIntervalSecs int `yaml:"dispatch_interval_secs" mapstructure:"dispatch_interval_secs"`
	BackfillIntervalSecs int `yaml:"backfill_interval_secs" mapstructure:"backfill_interval_secs"`
	ShutdownGraceSecs    int `yaml:"shutdown_grace_secs" mapstructure:"shutdown_grace_secs"`
}

// MonitoringConfig configures health checks and alerting.
type MonitoringConfig struct {
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	RunFailureThreshold  float64 `yaml:"run_failure_threshold" mapstructure:"run_failure_threshold"`
	UnrecoveredLeakLimit int     `yaml:"unrecovered_leak_limit" mapstructure:"unrecovered_leak_limit"`
	StaleLeaseLimit      int     `yaml:"stale_lease_limit" mapstructure:"stale_lease_limit"`
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
	v.SetEnvPrefix("DIALER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("policy.path", "policy.yaml")
	v.SetDefault("discovery.source", "salesforce")
	v.SetDefault("discovery.batch_size", 200)
	v.SetDefault("discovery.budget_secs", 540)
	v.SetDefault("discovery.concurrency", 2)
	v.SetDefault("cdr.timeout_secs", 30)
	v.SetDefault("cdr.encoding", "windows-1252")
	v.SetDefault("agents.heartbeat_ttl_secs", 90)
	v.SetDefault("leaks.scan_window_hours", 24)
	v.SetDefault("leaks.scan_interval_secs", 900)
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("salesforce.rate_limit_per_sec", 5)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 15000)
	v.SetDefault("retry.breaker_failures", 5)
	v.SetDefault("retry.breaker_reset_secs", 30)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.sweep_interval_secs", 30)
	v.SetDefault("server.dispatch_interval_secs", 5)
	v.SetDefault("server.backfill_interval_secs", 3600)
	v.SetDefault("server.shutdown_grace_secs", 10)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.run_failure_threshold", 0.3)
	v.SetDefault("monitoring.unrecovered_leak_limit", 1)
	v.SetDefault("monitoring.stale_lease_limit", 25)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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
