package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

// Config holds everything the service reads at startup. Values come from an
// optional YAML file, then environment variables override field by field.
type Config struct {
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"database_url"`

	SessionTTL time.Duration `yaml:"session_ttl"`
	TokenTTL   time.Duration `yaml:"token_ttl"`

	TokenSecret   string `yaml:"token_secret"`
	WebhookSecret string `yaml:"webhook_secret"`

	// WebhookTolerance bounds how stale a signed webhook timestamp may be.
	WebhookTolerance time.Duration `yaml:"webhook_tolerance"`

	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`

	AllowedOrigins []string `yaml:"allowed_origins"`

	LogLevel string `yaml:"log_level"`
}

func defaults() Config {
	return Config{
		Port:             "5050",
		SessionTTL:       6 * time.Hour,
		TokenTTL:         30 * 24 * time.Hour,
		WebhookTolerance: 5 * time.Minute,
		KafkaTopic:       "entitlement.events",
		LogLevel:         "info",
	}
}

// Load reads the YAML file at path (skipped if path is empty or the file does
// not exist) and applies environment overrides on top.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if cfg.TokenSecret == "" {
		return Config{}, fmt.Errorf("config: TOKEN_SECRET is empty")
	}
	if cfg.WebhookSecret == "" {
		return Config{}, fmt.Errorf("config: PAYMENT_WEBHOOK_SECRET is empty")
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Port, "PORT")
	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.TokenSecret, "TOKEN_SECRET")
	setString(&c.WebhookSecret, "PAYMENT_WEBHOOK_SECRET")
	setString(&c.KafkaTopic, "KAFKA_TOPIC")
	setString(&c.LogLevel, "LOG_LEVEL")
	setDuration(&c.SessionTTL, "SESSION_TTL")
	setDuration(&c.TokenTTL, "TOKEN_TTL")
	setDuration(&c.WebhookTolerance, "WEBHOOK_TOLERANCE")
	setCSV(&c.KafkaBrokers, "KAFKA_BROKERS")
	setCSV(&c.AllowedOrigins, "ALLOWED_ORIGINS")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return
	}
	// Plain integers are treated as seconds.
	if n, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(n) * time.Second
	}
}

func setCSV(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	*dst = out
}
