package config

import (
	"net/url"
	"os"
	"testing"
	"time"
)

func TestNewConfig(t *testing.T) {
	originalEnv := os.Getenv("STILLONTIME_ENV")
	defer func(key, value string) {
		_ = os.Setenv(key, value)
	}("STILLONTIME_ENV", originalEnv)

	_ = os.Setenv("STILLONTIME_ENV", "production")
	_ = os.Setenv("STILLONTIME_ENCRYPTION_KEY_BASE64", "dGVzdC1rZXktMTIzNDU2Nzg5MDEyMzQ1Njc4OTAxMjM=")
	_ = os.Setenv("STILLONTIME_DB_PASSWORD", "test-password")
	_ = os.Setenv("STILLONTIME_DB_HOST", "localhost")
	_ = os.Setenv("STILLONTIME_DB_PORT", "5432")
	_ = os.Setenv("STILLONTIME_DB_USER", "test-user")
	_ = os.Setenv("STILLONTIME_DB_NAME", "testdb")
	_ = os.Setenv("STILLONTIME_PROCESSING_CONCURRENCY", "8")
	_ = os.Setenv("STILLONTIME_JOB_TIMEOUT", "90s")
	_ = os.Setenv("PORT", "3000")

	defer func() {
		_ = os.Unsetenv("STILLONTIME_ENV")
		_ = os.Unsetenv("STILLONTIME_ENCRYPTION_KEY_BASE64")
		_ = os.Unsetenv("STILLONTIME_DB_PASSWORD")
		_ = os.Unsetenv("STILLONTIME_DB_HOST")
		_ = os.Unsetenv("STILLONTIME_DB_PORT")
		_ = os.Unsetenv("STILLONTIME_DB_USER")
		_ = os.Unsetenv("STILLONTIME_DB_NAME")
		_ = os.Unsetenv("STILLONTIME_PROCESSING_CONCURRENCY")
		_ = os.Unsetenv("STILLONTIME_JOB_TIMEOUT")
		_ = os.Unsetenv("PORT")
	}()

	config, err := NewConfig()
	if err != nil {
		t.Fatalf("NewConfig() returned error: %v", err)
	}

	if config.Environment != "production" {
		t.Errorf("expected Environment 'production', got '%s'", config.Environment)
	}

	if config.DBUsername != "test-user" {
		t.Errorf("expected DBUsername 'test-user', got '%s'", config.DBUsername)
	}

	if config.DBPassword != "test-password" {
		t.Errorf("expected DBPassword 'test-password', got '%s'", config.DBPassword)
	}

	if config.Port != "3000" {
		t.Errorf("expected Port '3000', got '%s'", config.Port)
	}

	if config.ProcessingConcurrency != 8 {
		t.Errorf("expected ProcessingConcurrency 8, got %d", config.ProcessingConcurrency)
	}

	if config.JobTimeout != 90*time.Second {
		t.Errorf("expected JobTimeout 90s, got %s", config.JobTimeout)
	}
}

func TestNewConfigWithDefaults(t *testing.T) {
	_ = os.Setenv("STILLONTIME_ENV", "production")
	_ = os.Setenv("STILLONTIME_ENCRYPTION_KEY_BASE64", "dGVzdC1rZXktMTIzNDU2Nzg5MDEyMzQ1Njc4OTAxMjM=")
	_ = os.Setenv("STILLONTIME_DB_PASSWORD", "password")

	defer func() {
		_ = os.Unsetenv("STILLONTIME_ENV")
		_ = os.Unsetenv("STILLONTIME_ENCRYPTION_KEY_BASE64")
		_ = os.Unsetenv("STILLONTIME_DB_PASSWORD")
	}()

	config, err := NewConfig()
	if err != nil {
		t.Fatalf("NewConfig() returned error: %v", err)
	}

	if config.DBHost != "localhost" {
		t.Errorf("expected default DBHost 'localhost', got '%s'", config.DBHost)
	}

	if config.ProcessingConcurrency != 4 {
		t.Errorf("expected default ProcessingConcurrency 4, got %d", config.ProcessingConcurrency)
	}

	if config.DiscoveryConcurrency != 1 {
		t.Errorf("expected default DiscoveryConcurrency 1, got %d", config.DiscoveryConcurrency)
	}

	if config.PendingBatchSize != 25 {
		t.Errorf("expected default PendingBatchSize 25, got %d", config.PendingBatchSize)
	}

	if config.MinDiscoveryInterval != 5*time.Minute {
		t.Errorf("expected default MinDiscoveryInterval 5m, got %s", config.MinDiscoveryInterval)
	}
}

func TestParseTokenPairs(t *testing.T) {
	tokens := parseTokenPairs("abc=user-1, def=user-2,broken,=nobody,empty=")

	if len(tokens) != 2 {
		t.Fatalf("expected 2 tokens, got %d: %v", len(tokens), tokens)
	}

	if tokens["abc"] != "user-1" {
		t.Errorf("expected token 'abc' to map to 'user-1', got '%s'", tokens["abc"])
	}

	if tokens["def"] != "user-2" {
		t.Errorf("expected token 'def' to map to 'user-2', got '%s'", tokens["def"])
	}
}

func TestValidateMissingKey(t *testing.T) {
	config := &Config{
		DBPassword:            "password",
		ProcessingConcurrency: 4,
		JobMaxAttempts:        3,
	}

	if err := config.Validate(); err == nil {
		t.Error("expected error for missing encryption key, got nil")
	}
}

func TestGetDatabaseURL(t *testing.T) {
	config := &Config{
		DBUsername: "user",
		DBPassword: "p@ss word",
		DBHost:     "dbhost",
		DBPort:     "5433",
		DBName:     "stillontime",
		DBSSLMode:  "disable",
	}

	dbURL := config.GetDatabaseURL()
	parsed, err := url.Parse(dbURL)
	if err != nil {
		t.Fatalf("GetDatabaseURL() returned unparseable URL: %v", err)
	}

	if parsed.Scheme != "postgres" {
		t.Errorf("expected scheme 'postgres', got '%s'", parsed.Scheme)
	}

	if parsed.Hostname() != "dbhost" {
		t.Errorf("expected host 'dbhost', got '%s'", parsed.Hostname())
	}
}
