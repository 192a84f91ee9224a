package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/ini.v1"
)

// Config holds all configuration
type Config struct {
	MySQL        MySQLConfig
	Redis        RedisConfig
	JWT          JWTConfig
	HTTPAddr     string
	PlatformApex string // the platform's own apex domain; customers may not register it
	Migrate      bool
	VerifyWorker VerifyWorkerConfig
	CertWorker   CertWorkerConfig
	RenewScanner RenewScannerConfig
}

// MySQLConfig holds MySQL configuration
type MySQLConfig struct {
	DSN string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret        string
	ExpireMinutes int
	Issuer        string
}

// VerifyWorkerConfig holds verification poller configuration
type VerifyWorkerConfig struct {
	Enabled            bool
	IntervalSec        int
	BatchSize          int
	BackoffBaseSec     int
	BackoffCapSec      int
	VerifyTimeoutHours int
}

// CertWorkerConfig holds certificate manager configuration
type CertWorkerConfig struct {
	Enabled        bool
	IntervalSec    int
	BatchSize      int
	MaxAttempts    int
	RetryBaseSec   int
	BackoffBaseSec int
	BackoffCapSec  int
}

// RenewScannerConfig holds certificate renewal scanner configuration
type RenewScannerConfig struct {
	Enabled         bool
	IntervalSec     int
	BatchSize       int
	RenewBeforeDays int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		MySQL: MySQLConfig{
			DSN: getEnv("MYSQL_DSN", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASS", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:        os.Getenv("JWT_SECRET"),
			ExpireMinutes: getEnvInt("JWT_EXPIRE_MINUTES", 1440),
			Issuer:        getEnv("JWT_ISSUER", "domainpilot"),
		},
		HTTPAddr:     getEnv("HTTP_ADDR", ":8080"),
		PlatformApex: getEnv("PLATFORM_APEX", ""),
		Migrate:      getEnv("MIGRATE", "0") == "1",
		VerifyWorker: VerifyWorkerConfig{
			Enabled:            getEnv("VERIFY_WORKER_ENABLED", "1") == "1",
			IntervalSec:        getEnvInt("VERIFY_WORKER_INTERVAL_SEC", 15),
			BatchSize:          getEnvInt("VERIFY_WORKER_BATCH_SIZE", 20),
			BackoffBaseSec:     getEnvInt("VERIFY_BACKOFF_BASE_SEC", 30),
			BackoffCapSec:      getEnvInt("VERIFY_BACKOFF_CAP_SEC", 1800),
			VerifyTimeoutHours: getEnvInt("VERIFY_TIMEOUT_HOURS", 48),
		},
		CertWorker: CertWorkerConfig{
			Enabled:        getEnv("CERT_WORKER_ENABLED", "1") == "1",
			IntervalSec:    getEnvInt("CERT_WORKER_INTERVAL_SEC", 15),
			BatchSize:      getEnvInt("CERT_WORKER_BATCH_SIZE", 20),
			MaxAttempts:    getEnvInt("CERT_MAX_ATTEMPTS", 3),
			RetryBaseSec:   getEnvInt("CERT_RETRY_BASE_SEC", 60),
			BackoffBaseSec: getEnvInt("CERT_BACKOFF_BASE_SEC", 30),
			BackoffCapSec:  getEnvInt("CERT_BACKOFF_CAP_SEC", 1800),
		},
		RenewScanner: RenewScannerConfig{
			Enabled:         getEnv("RENEW_SCANNER_ENABLED", "1") == "1",
			IntervalSec:     getEnvInt("RENEW_SCANNER_INTERVAL_SEC", 3600),
			BatchSize:       getEnvInt("RENEW_SCANNER_BATCH_SIZE", 50),
			RenewBeforeDays: getEnvInt("RENEW_BEFORE_DAYS", 15),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromINI loads configuration from an INI file with environment variable override
func LoadFromINI(iniPath string) (*Config, error) {
	cfgFile, err := ini.Load(iniPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load INI file: %w", err)
	}

	// Value resolution priority: ENV > INI > default
	getValue := func(envKey, iniSection, iniKey, defaultValue string) string {
		if value := os.Getenv(envKey); value != "" {
			return value
		}
		if value := cfgFile.Section(iniSection).Key(iniKey).String(); value != "" {
			return value
		}
		return defaultValue
	}

	getValueInt := func(envKey, iniSection, iniKey string, defaultValue int) int {
		if value := os.Getenv(envKey); value != "" {
			if intValue, err := strconv.Atoi(value); err == nil {
				return intValue
			}
		}
		if cfgFile.Section(iniSection).HasKey(iniKey) {
			if value, err := cfgFile.Section(iniSection).Key(iniKey).Int(); err == nil {
				return value
			}
		}
		return defaultValue
	}

	getValueBool := func(envKey, iniSection, iniKey string, defaultValue bool) bool {
		if value := os.Getenv(envKey); value != "" {
			return value == "1" || value == "true"
		}
		if value, err := cfgFile.Section(iniSection).Key(iniKey).Bool(); err == nil {
			return value
		}
		return defaultValue
	}

	cfg := &Config{
		MySQL: MySQLConfig{
			DSN: getValue("MYSQL_DSN", "mysql", "dsn", ""),
		},
		Redis: RedisConfig{
			Addr:     getValue("REDIS_ADDR", "redis", "addr", ""),
			Password: getValue("REDIS_PASS", "redis", "pass", ""),
			DB:       getValueInt("REDIS_DB", "redis", "db", 0),
		},
		JWT: JWTConfig{
			Secret:        getValue("JWT_SECRET", "jwt", "secret", ""),
			ExpireMinutes: getValueInt("JWT_EXPIRE_MINUTES", "jwt", "expire_minutes", 1440),
			Issuer:        getValue("JWT_ISSUER", "jwt", "issuer", "domainpilot"),
		},
		HTTPAddr:     getValue("HTTP_ADDR", "http", "addr", ":8080"),
		PlatformApex: getValue("PLATFORM_APEX", "app", "platform_apex", ""),
		Migrate:      getValueBool("MIGRATE", "app", "migrate", false),
		VerifyWorker: VerifyWorkerConfig{
			Enabled:            getValueBool("VERIFY_WORKER_ENABLED", "verify", "enabled", true),
			IntervalSec:        getValueInt("VERIFY_WORKER_INTERVAL_SEC", "verify", "interval_sec", 15),
			BatchSize:          getValueInt("VERIFY_WORKER_BATCH_SIZE", "verify", "batch_size", 20),
			BackoffBaseSec:     getValueInt("VERIFY_BACKOFF_BASE_SEC", "verify", "backoff_base_sec", 30),
			BackoffCapSec:      getValueInt("VERIFY_BACKOFF_CAP_SEC", "verify", "backoff_cap_sec", 1800),
			VerifyTimeoutHours: getValueInt("VERIFY_TIMEOUT_HOURS", "verify", "timeout_hours", 48),
		},
		CertWorker: CertWorkerConfig{
			Enabled:        getValueBool("CERT_WORKER_ENABLED", "cert", "enabled", true),
			IntervalSec:    getValueInt("CERT_WORKER_INTERVAL_SEC", "cert", "interval_sec", 15),
			BatchSize:      getValueInt("CERT_WORKER_BATCH_SIZE", "cert", "batch_size", 20),
			MaxAttempts:    getValueInt("CERT_MAX_ATTEMPTS", "cert", "max_attempts", 3),
			RetryBaseSec:   getValueInt("CERT_RETRY_BASE_SEC", "cert", "retry_base_sec", 60),
			BackoffBaseSec: getValueInt("CERT_BACKOFF_BASE_SEC", "cert", "backoff_base_sec", 30),
			BackoffCapSec:  getValueInt("CERT_BACKOFF_CAP_SEC", "cert", "backoff_cap_sec", 1800),
		},
		RenewScanner: RenewScannerConfig{
			Enabled:         getValueBool("RENEW_SCANNER_ENABLED", "renew", "enabled", true),
			IntervalSec:     getValueInt("RENEW_SCANNER_INTERVAL_SEC", "renew", "interval_sec", 3600),
			BatchSize:       getValueInt("RENEW_SCANNER_BATCH_SIZE", "renew", "batch_size", 50),
			RenewBeforeDays: getValueInt("RENEW_BEFORE_DAYS", "renew", "before_days", 15),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.MySQL.DSN == "" {
		return fmt.Errorf("MYSQL_DSN is required")
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
