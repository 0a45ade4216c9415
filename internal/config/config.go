package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment           string
	EncryptionKeyBase64   string
	DBHost                string
	DBPort                string
	DBUsername            string
	DBPassword            string
	DBName                string
	DBSSLMode             string
	Port                  string
	ProcessingConcurrency int
	DiscoveryConcurrency  int
	JobTimeout            time.Duration
	JobMaxAttempts        int
	PendingBatchSize      int
	MinDiscoveryInterval  time.Duration
	IMAPUseTLS            bool
	WSMaxPerUser          int
	// APITokens maps opaque bearer tokens to user ids. Token issuance
	// happens outside this service.
	APITokens map[string]string
	Timezone  string
}

func NewConfig() (*Config, error) {
	env := os.Getenv("STILLONTIME_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Warning: .env file not found, using environment variables")
		}
	}

	config := &Config{
		Environment:           env,
		EncryptionKeyBase64:   os.Getenv("STILLONTIME_ENCRYPTION_KEY_BASE64"),
		DBHost:                getEnvOrDefault("STILLONTIME_DB_HOST", "localhost"),
		DBPort:                getEnvOrDefault("STILLONTIME_DB_PORT", "5432"),
		DBUsername:            getEnvOrDefault("STILLONTIME_DB_USER", "stillontime"),
		DBPassword:            os.Getenv("STILLONTIME_DB_PASSWORD"),
		DBName:                getEnvOrDefault("STILLONTIME_DB_NAME", "stillontime"),
		DBSSLMode:             getEnvOrDefault("STILLONTIME_DB_SSLMODE", "disable"),
		Port:                  getEnvOrDefault("PORT", "8080"),
		ProcessingConcurrency: getIntOrDefault("STILLONTIME_PROCESSING_CONCURRENCY", 4),
		DiscoveryConcurrency:  getIntOrDefault("STILLONTIME_DISCOVERY_CONCURRENCY", 1),
		JobTimeout:            getDurationOrDefault("STILLONTIME_JOB_TIMEOUT", 2*time.Minute),
		JobMaxAttempts:        getIntOrDefault("STILLONTIME_JOB_MAX_ATTEMPTS", 3),
		PendingBatchSize:      getIntOrDefault("STILLONTIME_PENDING_BATCH_SIZE", 25),
		MinDiscoveryInterval:  getDurationOrDefault("STILLONTIME_MIN_DISCOVERY_INTERVAL", 5*time.Minute),
		IMAPUseTLS:            getBoolOrDefault("STILLONTIME_IMAP_TLS", true),
		WSMaxPerUser:          getIntOrDefault("STILLONTIME_WS_MAX_PER_USER", 10),
		APITokens:             parseTokenPairs(os.Getenv("STILLONTIME_API_TOKENS")),
		Timezone:              getEnvOrDefault("TZ", "UTC"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.EncryptionKeyBase64 == "" {
		return fmt.Errorf("STILLONTIME_ENCRYPTION_KEY_BASE64 is required")
	}

	if c.DBPassword == "" {
		return fmt.Errorf("STILLONTIME_DB_PASSWORD is required")
	}

	if c.ProcessingConcurrency < 1 {
		return fmt.Errorf("STILLONTIME_PROCESSING_CONCURRENCY must be at least 1")
	}

	if c.JobMaxAttempts < 1 {
		return fmt.Errorf("STILLONTIME_JOB_MAX_ATTEMPTS must be at least 1")
	}

	return nil
}

func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUsername,
		c.DBPassword,
		c.DBHost,
		c.DBPort,
		c.DBName,
		c.DBSSLMode,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseTokenPairs parses "token=userID,token2=userID2". Malformed entries
// are skipped.
func parseTokenPairs(raw string) map[string]string {
	tokens := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, userID, ok := strings.Cut(pair, "=")
		if !ok || token == "" || userID == "" {
			continue
		}
		tokens[token] = userID
	}
	return tokens
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
