// Package config provides configuration management for the marketplace backend.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Toncenter   ToncenterConfig
	Tonapi      TonapiConfig
	Telegram    TelegramConfig
	Disburser   DisburserConfig
	Reconcile   ReconcileConfig
	Settlement  SettlementConfig
	Marketplace MarketplaceConfig
	Cache       CacheConfig
	RateLimit   RateLimitConfig
	Logging     LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
	Enabled  bool
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// ToncenterConfig holds chain gateway configuration
type ToncenterConfig struct {
	// Endpoints are tried in order; a rate-limited endpoint is skipped until it cools down
	Endpoints         []string
	APIKey            string
	RequestsPerSecond int
	Timeout           time.Duration
	TransactionLimit  int
}

// TonapiConfig holds the address and metadata gateway configuration
type TonapiConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// TelegramConfig holds channel notifier configuration
type TelegramConfig struct {
	Enabled   bool
	BotToken  string
	ChannelID string
	BaseURL   string
	Timeout   time.Duration
}

// DisburserConfig holds payout service configuration
type DisburserConfig struct {
	BaseURL  string
	SendMode int
	Memo     string
	Timeout  time.Duration
}

// ReconcileConfig holds buy confirmation polling configuration
type ReconcileConfig struct {
	PollInterval  time.Duration
	AttemptBudget int
}

// SettlementConfig holds referral settlement worker configuration
type SettlementConfig struct {
	Interval     time.Duration
	ReferralRate decimal.Decimal
	JournalTTL   time.Duration
}

// MarketplaceConfig holds marketplace identity
type MarketplaceConfig struct {
	Address string
	SiteURL string
}

// CacheConfig holds cache configuration
type CacheConfig struct {
	AddressTTL time.Duration
}

// RateLimitConfig holds API rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env is optional; variables may be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "tonft"),
				User:           getEnv("POSTGRES_USER", "tonft"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "tonft"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
				Enabled:  getEnvAsBool("CLICKHOUSE_ENABLED", true),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
		},
		Toncenter: ToncenterConfig{
			Endpoints:         getEnvAsList("TONCENTER_ENDPOINTS", []string{"https://toncenter.com/api/v2"}),
			APIKey:            getEnv("TONCENTER_API_KEY", ""),
			RequestsPerSecond: getEnvAsInt("TONCENTER_RPS", 1),
			Timeout:           getEnvAsDuration("TONCENTER_TIMEOUT", 10*time.Second),
			TransactionLimit:  getEnvAsInt("TONCENTER_TX_LIMIT", 100),
		},
		Tonapi: TonapiConfig{
			BaseURL: getEnv("TONAPI_BASE_URL", "https://tonapi.io"),
			Token:   getEnv("TONAPI_TOKEN", ""),
			Timeout: getEnvAsDuration("TONAPI_TIMEOUT", 10*time.Second),
		},
		Telegram: TelegramConfig{
			Enabled:   getEnvAsBool("TELEGRAM_ENABLED", false),
			BotToken:  getEnv("TELEGRAM_BOT_TOKEN", ""),
			ChannelID: getEnv("TELEGRAM_CHANNEL_ID", ""),
			BaseURL:   getEnv("TELEGRAM_BASE_URL", "https://api.telegram.org"),
			Timeout:   getEnvAsDuration("TELEGRAM_TIMEOUT", 10*time.Second),
		},
		Disburser: DisburserConfig{
			BaseURL:  getEnv("DISBURSER_BASE_URL", "http://localhost:8888"),
			SendMode: getEnvAsInt("DISBURSER_SEND_MODE", 1),
			Memo:     getEnv("DISBURSER_MEMO", "Referral bonus from TONFT.app Bazaar"),
			Timeout:  getEnvAsDuration("DISBURSER_TIMEOUT", 30*time.Second),
		},
		Reconcile: ReconcileConfig{
			PollInterval:  getEnvAsDuration("RECONCILE_POLL_INTERVAL", 5*time.Second),
			AttemptBudget: getEnvAsInt("RECONCILE_ATTEMPT_BUDGET", 6),
		},
		Settlement: SettlementConfig{
			Interval:     getEnvAsDuration("SETTLEMENT_INTERVAL", 60*time.Second),
			ReferralRate: getEnvAsDecimal("SETTLEMENT_REFERRAL_RATE", decimal.RequireFromString("0.025")),
			JournalTTL:   getEnvAsDuration("SETTLEMENT_JOURNAL_TTL", 7*24*time.Hour),
		},
		Marketplace: MarketplaceConfig{
			Address: getEnv("MARKETPLACE_ADDRESS", ""),
			SiteURL: getEnv("MARKETPLACE_SITE_URL", "https://tonft.app"),
		},
		Cache: CacheConfig{
			AddressTTL: getEnvAsDuration("CACHE_ADDRESS_TTL", 24*time.Hour),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsInt("RATE_LIMIT_RPS", 20),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 40),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate rejects inconsistent configuration
func (c *Config) Validate() error {
	if c.Reconcile.AttemptBudget <= 0 {
		return fmt.Errorf("RECONCILE_ATTEMPT_BUDGET must be positive, got %d", c.Reconcile.AttemptBudget)
	}
	if c.Reconcile.PollInterval < 0 {
		return fmt.Errorf("RECONCILE_POLL_INTERVAL must not be negative, got %s", c.Reconcile.PollInterval)
	}
	if c.Settlement.Interval <= 0 {
		return fmt.Errorf("SETTLEMENT_INTERVAL must be positive, got %s", c.Settlement.Interval)
	}
	if !c.Settlement.ReferralRate.IsPositive() || c.Settlement.ReferralRate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("SETTLEMENT_REFERRAL_RATE must be in (0, 1], got %s", c.Settlement.ReferralRate)
	}
	if len(c.Toncenter.Endpoints) == 0 {
		return fmt.Errorf("TONCENTER_ENDPOINTS must list at least one endpoint")
	}
	if c.Toncenter.RequestsPerSecond <= 0 {
		return fmt.Errorf("TONCENTER_RPS must be positive, got %d", c.Toncenter.RequestsPerSecond)
	}
	if c.Telegram.Enabled && (c.Telegram.BotToken == "" || c.Telegram.ChannelID == "") {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN and TELEGRAM_CHANNEL_ID are required when TELEGRAM_ENABLED is set")
	}
	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a boolean with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDecimal gets an environment variable as a decimal with a default value
func getEnvAsDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma separated environment variable
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
