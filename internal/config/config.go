package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the typed view of the service settings.
type Config struct {
	Port     string
	LogLevel string

	Storage   StorageConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Gateway   GatewayConfig
	Tokenizer TokenizerConfig
	Fund      FundConfig
	Reconcile ReconcileConfig
}

type StorageConfig struct {
	Driver     string // postgres | sqlite
	SQLitePath string
}

type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DSN renders the lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int
	LockTTL  time.Duration
}

func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

type JWTConfig struct {
	SecretKey string
}

type GatewayConfig struct {
	Mode    string // sandbox | http
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type TokenizerConfig struct {
	Mode    string // sandbox | http
	BaseURL string
	APIKey  string
	Timeout time.Duration

	// Sandbox vault key material
	VaultSecret string
	VaultSalt   string
}

type FundConfig struct {
	OnboardingFee int64 // minor units
	Currency      string
}

type ReconcileConfig struct {
	Interval       time.Duration
	StaleAfter     time.Duration
	MaxCommitTries int
	BatchSize      int
	// AbandonAfter closes attempts that never got past awaiting_payment.
	AbandonAfter time.Duration
}

var envBindings = map[string]string{
	"port":      "PORT",
	"log.level": "LOG_LEVEL",

	"storage.driver":      "STORAGE_DRIVER",
	"storage.sqlite_path": "SQLITE_PATH",

	"database.host":              "DATABASE_HOST",
	"database.port":              "DATABASE_PORT",
	"database.user":              "DATABASE_USER",
	"database.password":          "DATABASE_PASSWORD",
	"database.name":              "DATABASE_NAME",
	"database.ssl_mode":          "DATABASE_SSL_MODE",
	"database.max_open_conns":    "DATABASE_MAX_OPEN_CONNS",
	"database.max_idle_conns":    "DATABASE_MAX_IDLE_CONNS",
	"database.conn_max_lifetime": "DATABASE_CONN_MAX_LIFETIME",

	"redis.enabled":  "REDIS_ENABLED",
	"redis.host":     "REDIS_HOST",
	"redis.port":     "REDIS_PORT",
	"redis.password": "REDIS_PASSWORD",
	"redis.db":       "REDIS_DB",
	"redis.lock_ttl": "REDIS_LOCK_TTL",

	"jwt.secret_key": "JWT_SECRET_KEY",

	"gateway.mode":     "GATEWAY_MODE",
	"gateway.base_url": "GATEWAY_BASE_URL",
	"gateway.api_key":  "GATEWAY_API_KEY",
	"gateway.timeout":  "GATEWAY_TIMEOUT",

	"tokenizer.mode":         "TOKENIZER_MODE",
	"tokenizer.base_url":     "TOKENIZER_BASE_URL",
	"tokenizer.api_key":      "TOKENIZER_API_KEY",
	"tokenizer.timeout":      "TOKENIZER_TIMEOUT",
	"tokenizer.vault_secret": "TOKENIZER_VAULT_SECRET",
	"tokenizer.vault_salt":   "TOKENIZER_VAULT_SALT",

	"fund.onboarding_fee": "ONBOARDING_FEE",
	"fund.currency":       "FUND_CURRENCY",

	"reconcile.interval":         "RECONCILE_INTERVAL",
	"reconcile.stale_after":      "RECONCILE_STALE_AFTER",
	"reconcile.max_commit_tries": "RECONCILE_MAX_COMMIT_TRIES",
	"reconcile.batch_size":       "RECONCILE_BATCH_SIZE",
	"reconcile.abandon_after":    "RECONCILE_ABANDON_AFTER",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("log.level", "info")

	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("storage.sqlite_path", "./data/familyfund.db")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.name", "family_fund")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_ttl", 2*time.Minute)

	v.SetDefault("gateway.mode", "sandbox")
	v.SetDefault("gateway.timeout", 30*time.Second)

	v.SetDefault("tokenizer.mode", "sandbox")
	v.SetDefault("tokenizer.timeout", 10*time.Second)
	v.SetDefault("tokenizer.vault_secret", "sandbox-vault-secret")
	v.SetDefault("tokenizer.vault_salt", "family-fund-vault")

	v.SetDefault("fund.onboarding_fee", 7000)
	v.SetDefault("fund.currency", "ILS")

	v.SetDefault("reconcile.interval", time.Minute)
	v.SetDefault("reconcile.stale_after", 2*time.Minute)
	v.SetDefault("reconcile.max_commit_tries", 5)
	v.SetDefault("reconcile.batch_size", 50)
	v.SetDefault("reconcile.abandon_after", 24*time.Hour)
}

// Load reads envFile (if present) into the process environment and builds a
// Config from environment variables over defaults.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	cfg := &Config{
		Port:     v.GetString("port"),
		LogLevel: v.GetString("log.level"),
		Storage: StorageConfig{
			Driver:     strings.ToLower(v.GetString("storage.driver")),
			SQLitePath: v.GetString("storage.sqlite_path"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetString("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			Name:            v.GetString("database.name"),
			SSLMode:         v.GetString("database.ssl_mode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetString("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			LockTTL:  v.GetDuration("redis.lock_ttl"),
		},
		JWT: JWTConfig{
			SecretKey: v.GetString("jwt.secret_key"),
		},
		Gateway: GatewayConfig{
			Mode:    strings.ToLower(v.GetString("gateway.mode")),
			BaseURL: v.GetString("gateway.base_url"),
			APIKey:  v.GetString("gateway.api_key"),
			Timeout: v.GetDuration("gateway.timeout"),
		},
		Tokenizer: TokenizerConfig{
			Mode:        strings.ToLower(v.GetString("tokenizer.mode")),
			BaseURL:     v.GetString("tokenizer.base_url"),
			APIKey:      v.GetString("tokenizer.api_key"),
			Timeout:     v.GetDuration("tokenizer.timeout"),
			VaultSecret: v.GetString("tokenizer.vault_secret"),
			VaultSalt:   v.GetString("tokenizer.vault_salt"),
		},
		Fund: FundConfig{
			OnboardingFee: v.GetInt64("fund.onboarding_fee"),
			Currency:      strings.ToUpper(v.GetString("fund.currency")),
		},
		Reconcile: ReconcileConfig{
			Interval:       v.GetDuration("reconcile.interval"),
			StaleAfter:     v.GetDuration("reconcile.stale_after"),
			MaxCommitTries: v.GetInt("reconcile.max_commit_tries"),
			BatchSize:      v.GetInt("reconcile.batch_size"),
			AbandonAfter:   v.GetDuration("reconcile.abandon_after"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported STORAGE_DRIVER %q", c.Storage.Driver)
	}
	if c.Fund.OnboardingFee <= 0 {
		return errors.New("ONBOARDING_FEE must be positive")
	}
	if len(c.Fund.Currency) != 3 {
		return fmt.Errorf("FUND_CURRENCY %q is not an ISO 4217 code", c.Fund.Currency)
	}
	if c.Gateway.Mode == "http" && c.Gateway.BaseURL == "" {
		return errors.New("GATEWAY_BASE_URL is required when GATEWAY_MODE=http")
	}
	if c.Tokenizer.Mode == "http" && c.Tokenizer.BaseURL == "" {
		return errors.New("TOKENIZER_BASE_URL is required when TOKENIZER_MODE=http")
	}
	if c.Reconcile.StaleAfter <= c.Gateway.Timeout {
		return errors.New("RECONCILE_STALE_AFTER must exceed GATEWAY_TIMEOUT")
	}
	if c.Reconcile.MaxCommitTries < 1 {
		return errors.New("RECONCILE_MAX_COMMIT_TRIES must be at least 1")
	}
	return nil
}
