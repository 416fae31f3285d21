package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the root configuration for the trading platform.
type Config struct {
	ServerConfig    ServerConfig    `json:"server"`
	DatabaseConfig  DatabaseConfig  `json:"database"`
	RedisConfig     RedisConfig     `json:"redis"`
	AuthConfig      AuthConfig      `json:"auth"`
	SecurityConfig  SecurityConfig  `json:"security"`
	VaultConfig     VaultConfig     `json:"vault"`
	ChartConfig     ChartConfig     `json:"chart"`
	SchedulerConfig SchedulerConfig `json:"scheduler"`
	MonitorConfig   MonitorConfig   `json:"monitor"`
	RiskConfig      RiskConfig      `json:"risk"`
	RateConfig      RateConfig      `json:"rate"`
	LoggingConfig   LoggingConfig   `json:"logging"`
	NotificationConfig NotificationConfig `json:"notification"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	ProductionMode bool   `json:"production_mode"`
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	URL string `json:"url"` // DATABASE_URL, required
}

// RedisConfig holds Redis cache settings
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// AuthConfig holds JWT authentication settings
type AuthConfig struct {
	JWTSecret            string        `json:"jwt_secret"`
	AccessTokenDuration  time.Duration `json:"access_token_duration"`
	RefreshTokenDuration time.Duration `json:"refresh_token_duration"`
	MinPasswordLength    int           `json:"min_password_length"`
}

// SecurityConfig holds credential encryption settings.
// CREDENTIALS_ENCRYPTION_KEY is required in production; when absent the
// credential store degrades to plaintext JSON with a startup warning.
type SecurityConfig struct {
	CredentialsEncryptionKey string `json:"credentials_encryption_key"`
	Production               bool   `json:"production"`
}

// VaultConfig holds optional HashiCorp Vault settings for credential storage
type VaultConfig struct {
	Enabled   bool   `json:"enabled"`
	Address   string `json:"address"`
	Token     string `json:"token"`
	MountPath string `json:"mount_path"`
}

// ChartConfig holds chart renderer settings
type ChartConfig struct {
	EngineURL      string        `json:"engine_url"`       // CHART_ENGINE_URL override
	OutputDir      string        `json:"output_dir"`       // CHART_OUTPUT_DIR local fallback
	ObjectStoreURL string        `json:"object_store_url"` // object store upload endpoint
	Timeout        time.Duration `json:"timeout"`          // whole-pipeline budget
}

// SchedulerConfig holds bot scheduler settings
type SchedulerConfig struct {
	Tick     time.Duration `json:"tick"`
	QueueCap int           `json:"queue_cap"`
}

// MonitorConfig holds position monitor settings
type MonitorConfig struct {
	Interval          time.Duration `json:"interval"`
	MaxTimeInPosition time.Duration `json:"max_time_in_position"`
	EmergencyStopPct  float64       `json:"emergency_stop_pct"`
}

// RiskConfig holds portfolio-level risk limits
type RiskConfig struct {
	MaxRiskPerTrade      float64 `json:"max_risk_per_trade"`     // % of balance
	MaxTotalExposure     float64 `json:"max_total_exposure"`     // % of balance
	MaxDrawdown          float64 `json:"max_drawdown"`           // %
	MaxOpenPositions     int     `json:"max_open_positions"`
	MaxDailyLoss         float64 `json:"max_daily_loss"`         // %
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"`
}

// RateConfig holds broker admission control settings
type RateConfig struct {
	MaxConcurrent int           `json:"max_concurrent"` // per shared credential
	MinGap        time.Duration `json:"min_gap"`
	BotGap        time.Duration `json:"bot_gap"`  // min gap between different bots on one credential
	MaxPerCred    int           `json:"max_per_cred"` // concurrently scheduled bots per credential
}

// LoggingConfig mirrors the logging package configuration
type LoggingConfig struct {
	Level       string `json:"level"`
	Output      string `json:"output"`
	JSONFormat  bool   `json:"json_format"`
	IncludeFile bool   `json:"include_file"`
}

// NotificationConfig holds alert webhook settings
type NotificationConfig struct {
	Enabled            bool   `json:"enabled"`
	TelegramBotToken   string `json:"telegram_bot_token"`
	TelegramChatID     string `json:"telegram_chat_id"`
	DiscordWebhookURL  string `json:"discord_webhook_url"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", "0.0.0.0")
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", 8088)
	cfg.ServerConfig.ProductionMode = getEnvOrDefault("PRODUCTION", "false") == "true"

	cfg.DatabaseConfig.URL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseConfig.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", "true") == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDR", "localhost:6379")
	cfg.RedisConfig.Password = os.Getenv("REDIS_PASSWORD")
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", 0)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", 10)

	cfg.AuthConfig.JWTSecret = getEnvOrDefault("JWT_SECRET", "")
	cfg.AuthConfig.AccessTokenDuration = getEnvDurationOrDefault("ACCESS_TOKEN_DURATION", 15*time.Minute)
	cfg.AuthConfig.RefreshTokenDuration = getEnvDurationOrDefault("REFRESH_TOKEN_DURATION", 7*24*time.Hour)
	cfg.AuthConfig.MinPasswordLength = getEnvIntOrDefault("MIN_PASSWORD_LENGTH", 8)

	cfg.SecurityConfig.CredentialsEncryptionKey = os.Getenv("CREDENTIALS_ENCRYPTION_KEY")
	cfg.SecurityConfig.Production = cfg.ServerConfig.ProductionMode
	if cfg.SecurityConfig.Production && cfg.SecurityConfig.CredentialsEncryptionKey == "" {
		return nil, fmt.Errorf("CREDENTIALS_ENCRYPTION_KEY is required in production")
	}

	cfg.VaultConfig.Enabled = getEnvOrDefault("VAULT_ENABLED", "false") == "true"
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", "http://localhost:8200")
	cfg.VaultConfig.Token = os.Getenv("VAULT_TOKEN")
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", "secret")

	cfg.ChartConfig.EngineURL = os.Getenv("CHART_ENGINE_URL")
	cfg.ChartConfig.OutputDir = getEnvOrDefault("CHART_OUTPUT_DIR", "./charts")
	cfg.ChartConfig.ObjectStoreURL = os.Getenv("OBJECT_STORE_URL")
	cfg.ChartConfig.Timeout = getEnvDurationOrDefault("CHART_TIMEOUT", 45*time.Second)

	cfg.SchedulerConfig.Tick = getEnvDurationOrDefault("SCHEDULER_TICK_INTERVAL", 10*time.Second)
	cfg.SchedulerConfig.QueueCap = getEnvIntOrDefault("SCHEDULER_QUEUE_CAP", 16)

	cfg.MonitorConfig.Interval = getEnvDurationOrDefault("MONITOR_INTERVAL", 30*time.Second)
	cfg.MonitorConfig.MaxTimeInPosition = getEnvDurationOrDefault("MAX_TIME_IN_POSITION", 24*time.Hour)
	cfg.MonitorConfig.EmergencyStopPct = getEnvFloatOrDefault("EMERGENCY_STOP_PCT", -10.0)

	cfg.RiskConfig.MaxRiskPerTrade = getEnvFloatOrDefault("MAX_RISK_PER_TRADE", 2.0)
	cfg.RiskConfig.MaxTotalExposure = getEnvFloatOrDefault("MAX_TOTAL_EXPOSURE", 20.0)
	cfg.RiskConfig.MaxDrawdown = getEnvFloatOrDefault("MAX_DRAWDOWN", 15.0)
	cfg.RiskConfig.MaxOpenPositions = getEnvIntOrDefault("MAX_OPEN_POSITIONS", 5)
	cfg.RiskConfig.MaxDailyLoss = getEnvFloatOrDefault("MAX_DAILY_LOSS", 5.0)
	cfg.RiskConfig.MaxConsecutiveLosses = getEnvIntOrDefault("MAX_CONSECUTIVE_LOSSES", 3)

	cfg.RateConfig.MaxConcurrent = getEnvIntOrDefault("BROKER_MAX_CONCURRENT", 1)
	cfg.RateConfig.MinGap = getEnvDurationOrDefault("BROKER_MIN_GAP", 500*time.Millisecond)
	cfg.RateConfig.BotGap = getEnvDurationOrDefault("BOT_MIN_GAP", 30*time.Second)
	cfg.RateConfig.MaxPerCred = getEnvIntOrDefault("MAX_BOTS_PER_CREDENTIAL", 8)

	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", "INFO")
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", "stdout")
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"
	cfg.LoggingConfig.IncludeFile = getEnvOrDefault("LOG_INCLUDE_FILE", "false") == "true"

	cfg.NotificationConfig.Enabled = getEnvOrDefault("NOTIFICATIONS_ENABLED", "false") == "true"
	cfg.NotificationConfig.TelegramBotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.NotificationConfig.TelegramChatID = os.Getenv("TELEGRAM_CHAT_ID")
	cfg.NotificationConfig.DiscordWebhookURL = os.Getenv("DISCORD_WEBHOOK_URL")

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
