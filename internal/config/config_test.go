package config

import (
	"os"
	"testing"
)

func TestLoad(t *testing.T) {
	os.Setenv("MYSQL_DSN", "user:pass@tcp(localhost:3306)/test")
	os.Setenv("JWT_SECRET", "test-secret")
	defer func() {
		os.Unsetenv("MYSQL_DSN")
		os.Unsetenv("JWT_SECRET")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.MySQL.DSN == "" {
		t.Error("MySQL DSN should not be empty")
	}

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("Expected HTTPAddr :8080, got %s", cfg.HTTPAddr)
	}

	if cfg.VerifyWorker.BackoffBaseSec != 30 {
		t.Errorf("Expected verify backoff base 30, got %d", cfg.VerifyWorker.BackoffBaseSec)
	}

	if cfg.VerifyWorker.BackoffCapSec != 1800 {
		t.Errorf("Expected verify backoff cap 1800, got %d", cfg.VerifyWorker.BackoffCapSec)
	}

	if cfg.CertWorker.MaxAttempts != 3 {
		t.Errorf("Expected cert max attempts 3, got %d", cfg.CertWorker.MaxAttempts)
	}

	if cfg.RenewScanner.RenewBeforeDays != 15 {
		t.Errorf("Expected renew before days 15, got %d", cfg.RenewScanner.RenewBeforeDays)
	}
}

func TestLoad_MissingMySQLDSN(t *testing.T) {
	os.Unsetenv("MYSQL_DSN")
	os.Setenv("JWT_SECRET", "test-secret")
	defer os.Unsetenv("JWT_SECRET")

	_, err := Load()
	if err == nil {
		t.Error("Expected error when MYSQL_DSN is missing")
	}
}

func TestLoad_MissingJWTSecret(t *testing.T) {
	os.Setenv("MYSQL_DSN", "user:pass@tcp(localhost:3306)/test")
	os.Unsetenv("JWT_SECRET")
	defer os.Unsetenv("MYSQL_DSN")

	_, err := Load()
	if err == nil {
		t.Error("Expected error when JWT_SECRET is missing")
	}
}

func TestLoad_CustomValues(t *testing.T) {
	os.Setenv("MYSQL_DSN", "custom:dsn@tcp(localhost:3306)/custom")
	os.Setenv("JWT_SECRET", "test-secret")
	os.Setenv("REDIS_ADDR", "redis.example.com:6379")
	os.Setenv("PLATFORM_APEX", "checkout.example")
	os.Setenv("VERIFY_TIMEOUT_HOURS", "24")
	os.Setenv("CERT_MAX_ATTEMPTS", "5")

	defer func() {
		os.Unsetenv("MYSQL_DSN")
		os.Unsetenv("JWT_SECRET")
		os.Unsetenv("REDIS_ADDR")
		os.Unsetenv("PLATFORM_APEX")
		os.Unsetenv("VERIFY_TIMEOUT_HOURS")
		os.Unsetenv("CERT_MAX_ATTEMPTS")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Redis.Addr != "redis.example.com:6379" {
		t.Errorf("Expected custom Redis addr, got %s", cfg.Redis.Addr)
	}

	if cfg.PlatformApex != "checkout.example" {
		t.Errorf("Expected platform apex checkout.example, got %s", cfg.PlatformApex)
	}

	if cfg.VerifyWorker.VerifyTimeoutHours != 24 {
		t.Errorf("Expected verify timeout 24h, got %d", cfg.VerifyWorker.VerifyTimeoutHours)
	}

	if cfg.CertWorker.MaxAttempts != 5 {
		t.Errorf("Expected cert max attempts 5, got %d", cfg.CertWorker.MaxAttempts)
	}
}

func TestLoadFromINI(t *testing.T) {
	iniContent := `
[mysql]
dsn = ini:dsn@tcp(localhost:3306)/ini

[jwt]
secret = ini-secret

[verify]
backoff_base_sec = 10
timeout_hours = 12

[cert]
max_attempts = 2
`
	tmpFile, err := os.CreateTemp("", "domainpilot-*.ini")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.WriteString(iniContent); err != nil {
		t.Fatalf("Failed to write temp file: %v", err)
	}
	tmpFile.Close()

	// Environment must not shadow the INI values
	os.Unsetenv("MYSQL_DSN")
	os.Unsetenv("JWT_SECRET")
	os.Unsetenv("VERIFY_BACKOFF_BASE_SEC")
	os.Unsetenv("VERIFY_TIMEOUT_HOURS")
	os.Unsetenv("CERT_MAX_ATTEMPTS")

	cfg, err := LoadFromINI(tmpFile.Name())
	if err != nil {
		t.Fatalf("LoadFromINI() failed: %v", err)
	}

	if cfg.MySQL.DSN != "ini:dsn@tcp(localhost:3306)/ini" {
		t.Errorf("Expected INI MySQL DSN, got %s", cfg.MySQL.DSN)
	}

	if cfg.VerifyWorker.BackoffBaseSec != 10 {
		t.Errorf("Expected backoff base 10 from INI, got %d", cfg.VerifyWorker.BackoffBaseSec)
	}

	if cfg.VerifyWorker.VerifyTimeoutHours != 12 {
		t.Errorf("Expected timeout 12h from INI, got %d", cfg.VerifyWorker.VerifyTimeoutHours)
	}

	if cfg.CertWorker.MaxAttempts != 2 {
		t.Errorf("Expected max attempts 2 from INI, got %d", cfg.CertWorker.MaxAttempts)
	}
}

func TestLoadFromINI_EnvOverride(t *testing.T) {
	iniContent := `
[mysql]
dsn = ini:dsn@tcp(localhost:3306)/ini

[jwt]
secret = ini-secret

[http]
addr = :7070
`
	tmpFile, err := os.CreateTemp("", "domainpilot-*.ini")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.WriteString(iniContent); err != nil {
		t.Fatalf("Failed to write temp file: %v", err)
	}
	tmpFile.Close()

	os.Setenv("HTTP_ADDR", ":9999")
	defer os.Unsetenv("HTTP_ADDR")

	cfg, err := LoadFromINI(tmpFile.Name())
	if err != nil {
		t.Fatalf("LoadFromINI() failed: %v", err)
	}

	if cfg.HTTPAddr != ":9999" {
		t.Errorf("Environment should override INI, got %s", cfg.HTTPAddr)
	}
}
