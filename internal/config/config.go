package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis config, optional
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	AWSRegion string

	// SQS sweep trigger queue, optional
	SQSRegion        string
	SQSSweepQueueURL string
	SQSEndpoint      string

	// SNS lifecycle event topic, optional
	SNSRegion         string
	SNSEventsTopicARN string
	SNSEndpoint       string

	// Reminders
	SweepInterval    time.Duration
	SweepEnabled     bool
	ReminderCooldown time.Duration
	Location         *time.Location

	// Auth
	AuthMode      string
	AuthJWTSecret string
	AdminAPIKey   string

	CORSAllowedOrigins []string
	RateLimitPerMinute int
}

// RedisEnabled reports whether a Redis host was configured.
func (c *Config) RedisEnabled() bool {
	return c.RedisHost != ""
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is applied first when present; real
// environment variables win over it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		// Local postgres defaults
		DBHost:    "localhost",
		DBPort:    5432,
		DBUser:    "postgres",
		DBName:    "beacon",
		DBSSLMode: "disable",

		RedisPort: 6379,

		AWSRegion: "us-east-1",

		SweepInterval:    15 * time.Minute,
		SweepEnabled:     true,
		ReminderCooldown: 2 * time.Hour,
		Location:         time.UTC,

		AuthMode: "username",

		CORSAllowedOrigins: []string{"http://localhost:3000"},
		RateLimitPerMinute: 100,
	}

	var err error

	if cfg.Port, err = intEnv("PORT", cfg.Port); err != nil {
		return nil, err
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if cfg.DBPort, err = intEnv("DB_PORT", cfg.DBPort); err != nil {
		return nil, err
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	// Redis config
	cfg.RedisHost = os.Getenv("REDIS_HOST")

	if cfg.RedisPort, err = intEnv("REDIS_PORT", cfg.RedisPort); err != nil {
		return nil, err
	}

	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	if cfg.RedisDB, err = intEnv("REDIS_DB", cfg.RedisDB); err != nil {
		return nil, err
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	// SQS config
	if region := os.Getenv("SQS_REGION"); region != "" {
		cfg.SQSRegion = region
	} else {
		cfg.SQSRegion = cfg.AWSRegion
	}
	cfg.SQSSweepQueueURL = os.Getenv("SQS_SWEEP_QUEUE_URL")
	cfg.SQSEndpoint = os.Getenv("SQS_ENDPOINT")

	// SNS config
	if region := os.Getenv("SNS_REGION"); region != "" {
		cfg.SNSRegion = region
	} else {
		cfg.SNSRegion = cfg.AWSRegion
	}
	cfg.SNSEventsTopicARN = os.Getenv("SNS_EVENTS_TOPIC_ARN")
	cfg.SNSEndpoint = os.Getenv("SNS_ENDPOINT")

	// Reminder config
	if cfg.SweepInterval, err = durationEnv("SWEEP_INTERVAL", cfg.SweepInterval); err != nil {
		return nil, err
	}

	if v := os.Getenv("SWEEP_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SWEEP_ENABLED: %w", err)
		}
		cfg.SweepEnabled = b
	}

	if cfg.ReminderCooldown, err = durationEnv("REMINDER_COOLDOWN", cfg.ReminderCooldown); err != nil {
		return nil, err
	}

	if tz := os.Getenv("CLOCK_TIMEZONE"); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("invalid CLOCK_TIMEZONE: %w", err)
		}
		cfg.Location = loc
	}

	// Auth config
	if mode := os.Getenv("AUTH_MODE"); mode != "" {
		cfg.AuthMode = mode
	}
	cfg.AuthJWTSecret = os.Getenv("AUTH_JWT_SECRET")
	cfg.AdminAPIKey = os.Getenv("ADMIN_API_KEY")

	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		cfg.CORSAllowedOrigins = splitList(origins)
	}

	if cfg.RateLimitPerMinute, err = intEnv("RATE_LIMIT_PER_MINUTE", cfg.RateLimitPerMinute); err != nil {
		return nil, err
	}

	return cfg, nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
