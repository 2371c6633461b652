package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"invite-sentinel/internal/storage"
)

// MemoryDatabase selects the in-process repository instead of Postgres.
const MemoryDatabase = "memory"

type Config struct {
	DiscordToken string            `yaml:"discord_token"`
	DatabaseURL  string            `yaml:"database_url"`
	LogLevel     string            `yaml:"log_level"`
	RulePreset   string            `yaml:"rule_preset"`
	Redis        RedisConfig       `yaml:"redis"`
	Health       HealthConfig      `yaml:"health"`
	Defaults     GuildDefaults     `yaml:"defaults"`
	Security     SecurityConfig    `yaml:"security"`
	Attribution  AttributionConfig `yaml:"attribution"`
	Fraud        FraudConfig       `yaml:"fraud"`
	Retry        RetryConfig       `yaml:"retry"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// GuildDefaults seeds the settings row of every guild seen for the first time.
type GuildDefaults struct {
	JoinBurstCount          int    `yaml:"join_burst_count"`
	JoinBurstWindowSeconds  int    `yaml:"join_burst_window_seconds"`
	MinAccountAgeHours      int    `yaml:"min_account_age_hours"`
	AutoKickYoungAccounts   bool   `yaml:"auto_kick_young_accounts"`
	LinkSpamThreshold       int    `yaml:"link_spam_threshold"`
	LinkSpamWindowSeconds   int    `yaml:"link_spam_window_seconds"`
	LockdownSlowmodeSeconds int    `yaml:"lockdown_slowmode_seconds"`
	QuarantineRoleName      string `yaml:"quarantine_role_name"`
}

type SecurityConfig struct {
	TimeoutMinutes         int     `yaml:"timeout_minutes"`
	RecentIncidents        int     `yaml:"recent_incidents"`
	FanoutPerSecond        float64 `yaml:"fanout_per_second"`
	FanoutWorkers          int     `yaml:"fanout_workers"`
	JanitorIntervalSeconds int     `yaml:"janitor_interval_seconds"`
}

type AttributionConfig struct {
	UnknownConfidence float64 `yaml:"unknown_confidence"`
}

type FraudConfig struct {
	ReportFloor float64 `yaml:"report_floor"`
}

type RetryConfig struct {
	Attempts  int `yaml:"attempts"`
	BackoffMS int `yaml:"backoff_ms"`
}

func DefaultConfig() Config {
	return Config{
		DatabaseURL: MemoryDatabase,
		LogLevel:    "info",
		RulePreset:  "medium",
		Health:      HealthConfig{Enabled: false, Addr: ":8080"},
		Defaults: GuildDefaults{
			JoinBurstCount:          7,
			JoinBurstWindowSeconds:  10,
			MinAccountAgeHours:      72,
			AutoKickYoungAccounts:   false,
			LinkSpamThreshold:       3,
			LinkSpamWindowSeconds:   30,
			LockdownSlowmodeSeconds: 15,
			QuarantineRoleName:      "Quarantine",
		},
		Security: SecurityConfig{
			TimeoutMinutes:         30,
			RecentIncidents:        20,
			FanoutPerSecond:        5,
			FanoutWorkers:          4,
			JanitorIntervalSeconds: 60,
		},
		Attribution: AttributionConfig{UnknownConfidence: 0.2},
		Fraud:       FraudConfig{ReportFloor: 0.5},
		Retry:       RetryConfig{Attempts: 3, BackoffMS: 250},
	}
}

// Settings converts the defaults into a settings row for guildID.
func (d GuildDefaults) Settings(guildID string) storage.GuildSettings {
	return storage.GuildSettings{
		GuildID:                 guildID,
		JoinBurstCount:          d.JoinBurstCount,
		JoinBurstWindowSeconds:  d.JoinBurstWindowSeconds,
		MinAccountAgeHours:      d.MinAccountAgeHours,
		AutoKickYoungAccounts:   d.AutoKickYoungAccounts,
		LinkSpamThreshold:       d.LinkSpamThreshold,
		LinkSpamWindowSeconds:   d.LinkSpamWindowSeconds,
		LockdownSlowmodeSeconds: d.LockdownSlowmodeSeconds,
		QuarantineRoleName:      d.QuarantineRoleName,
	}
}

func Load() (Config, error) {
	cfg := DefaultConfig()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	if cfg.DiscordToken == "" {
		return Config{}, errors.New("DISCORD_TOKEN is required")
	}

	cfg.RulePreset = normalizePreset(cfg.RulePreset)
	applyPreset(&cfg)

	if err := cfg.Defaults.Settings("").Validate(); err != nil {
		return Config{}, fmt.Errorf("defaults: %w", err)
	}
	if cfg.Attribution.UnknownConfidence < 0 || cfg.Attribution.UnknownConfidence > 1 {
		return Config{}, errors.New("attribution.unknown_confidence must be within 0..1")
	}
	if cfg.Retry.Attempts < 1 {
		cfg.Retry.Attempts = 1
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.DatabaseURL = envString("DATABASE_URL", cfg.DatabaseURL)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.RulePreset = envString("RULE_PRESET", cfg.RulePreset)
	cfg.Redis.Addr = envString("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = envString("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = envInt("REDIS_DB", cfg.Redis.DB)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.Defaults.JoinBurstCount = envInt("JOIN_BURST_COUNT", cfg.Defaults.JoinBurstCount)
	cfg.Defaults.JoinBurstWindowSeconds = envInt("JOIN_BURST_WINDOW_SECONDS", cfg.Defaults.JoinBurstWindowSeconds)
	cfg.Defaults.MinAccountAgeHours = envInt("MIN_ACCOUNT_AGE_HOURS", cfg.Defaults.MinAccountAgeHours)
	cfg.Defaults.AutoKickYoungAccounts = envBool("AUTO_KICK_YOUNG_ACCOUNTS", cfg.Defaults.AutoKickYoungAccounts)
	cfg.Defaults.LinkSpamThreshold = envInt("LINK_SPAM_THRESHOLD", cfg.Defaults.LinkSpamThreshold)
	cfg.Defaults.LinkSpamWindowSeconds = envInt("LINK_SPAM_WINDOW_SECONDS", cfg.Defaults.LinkSpamWindowSeconds)
	cfg.Defaults.LockdownSlowmodeSeconds = envInt("LOCKDOWN_SLOWMODE_SECONDS", cfg.Defaults.LockdownSlowmodeSeconds)
	cfg.Defaults.QuarantineRoleName = envString("QUARANTINE_ROLE_NAME", cfg.Defaults.QuarantineRoleName)
	cfg.Security.TimeoutMinutes = envInt("SECURITY_TIMEOUT_MINUTES", cfg.Security.TimeoutMinutes)
	cfg.Security.RecentIncidents = envInt("SECURITY_RECENT_INCIDENTS", cfg.Security.RecentIncidents)
	cfg.Security.FanoutPerSecond = envFloat("SECURITY_FANOUT_PER_SECOND", cfg.Security.FanoutPerSecond)
	cfg.Attribution.UnknownConfidence = envFloat("ATTRIBUTION_UNKNOWN_CONFIDENCE", cfg.Attribution.UnknownConfidence)
	cfg.Fraud.ReportFloor = envFloat("FRAUD_REPORT_FLOOR", cfg.Fraud.ReportFloor)
	cfg.Retry.Attempts = envInt("RETRY_ATTEMPTS", cfg.Retry.Attempts)
	cfg.Retry.BackoffMS = envInt("RETRY_BACKOFF_MS", cfg.Retry.BackoffMS)
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(strings.ToLower(level)))
	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}

func normalizePreset(value string) string {
	switch strings.ToLower(value) {
	case "low", "medium", "high":
		return strings.ToLower(value)
	default:
		return "medium"
	}
}

// applyPreset tightens or loosens the detection thresholds. The medium
// preset keeps whatever the file and environment set.
func applyPreset(cfg *Config) {
	switch cfg.RulePreset {
	case "low":
		cfg.Defaults.JoinBurstCount = 10
		cfg.Defaults.LinkSpamThreshold = 5
	case "high":
		cfg.Defaults.JoinBurstCount = 5
		cfg.Defaults.LinkSpamThreshold = 2
		cfg.Defaults.MinAccountAgeHours = max(cfg.Defaults.MinAccountAgeHours, 168)
	}
}
