package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	DatabaseURL       string
	TemporalAddress   string
	HTTPListenAddr    string
	MetricsListenAddr string
	LogLevel          string
	ServiceName       string

	// Notification channels. A channel is enabled when its setting is non-empty.
	SlackToken    string
	SlackChannel  string
	WebhookURL    string
	EmailFromAddr string

	// PolicySeedPath points at a YAML file of escalation policies loaded at
	// worker startup. Empty disables seeding.
	PolicySeedPath string

	// SweepCron is the schedule for the periodic escalation sweep.
	SweepCron string

	// PolicyCacheTTLSeconds bounds how stale the active-policy cache may be.
	PolicyCacheTTLSeconds int
}

func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		TemporalAddress:   getEnv("TEMPORAL_ADDRESS", "localhost:7233"),
		HTTPListenAddr:    getEnv("HTTP_LISTEN_ADDR", ":8080"),
		MetricsListenAddr: getEnv("METRICS_LISTEN_ADDR", ""),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		ServiceName:       getEnv("SERVICE_NAME", "oncall"),
		SlackToken:        getEnv("SLACK_TOKEN", ""),
		SlackChannel:      getEnv("SLACK_CHANNEL", ""),
		WebhookURL:        getEnv("NOTIFY_WEBHOOK_URL", ""),
		EmailFromAddr:     getEnv("EMAIL_FROM_ADDR", "oncall@localhost"),
		PolicySeedPath:    getEnv("POLICY_SEED_PATH", ""),
		SweepCron:         getEnv("ESCALATION_SWEEP_CRON", "* * * * *"),
	}

	ttl, err := strconv.Atoi(getEnv("POLICY_CACHE_TTL_SECONDS", "30"))
	if err != nil {
		return nil, fmt.Errorf("parse POLICY_CACHE_TTL_SECONDS: %w", err)
	}
	cfg.PolicyCacheTTLSeconds = ttl

	return cfg, nil
}

// Validate checks that the settings required by the given component are present.
func (c *Config) Validate(component string) error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%s: DATABASE_URL is required", component)
	}
	if component == "worker" && c.TemporalAddress == "" {
		return fmt.Errorf("%s: TEMPORAL_ADDRESS is required", component)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
