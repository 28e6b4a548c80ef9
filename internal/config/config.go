package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config contains all runtime settings for the chat/translation service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AuthSecret string

	DatabaseURL string

	ProviderURL       string
	ProviderStreamURL string
	ProviderToken     string
	ProviderModel     string
	ProviderTimeout   time.Duration
	// "envelope" wraps the request as {"input": ...} (RunPod runsync style),
	// "plain" posts the chat body directly (OpenAI style).
	ProviderBodyShape string

	SearchURL     string
	SearchTimeout time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:          envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:  envOrDefault("APP_METRICS_NAMESPACE", "lingo"),
		AuthSecret:        envTrimmed("AUTH_SECRET"),
		DatabaseURL:       envTrimmed("DATABASE_URL"),
		ProviderURL:       envTrimmed("PROVIDER_URL"),
		ProviderStreamURL: envTrimmed("PROVIDER_STREAM_URL"),
		ProviderToken:     envTrimmed("PROVIDER_TOKEN"),
		ProviderModel:     envOrDefault("PROVIDER_DEFAULT_MODEL", "openrouter/auto"),
		ProviderBodyShape: strings.ToLower(envOrDefault("PROVIDER_BODY_SHAPE", "envelope")),
		SearchURL:         envTrimmed("SEARCH_URL"),
		ShutdownTimeout:   15 * time.Second,
		ProviderTimeout:   60 * time.Second,
		SearchTimeout:     8 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ProviderTimeout, err = durationFromEnv("PROVIDER_TIMEOUT", cfg.ProviderTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SearchTimeout, err = durationFromEnv("SEARCH_TIMEOUT", cfg.SearchTimeout)
	if err != nil {
		return Config{}, err
	}

	if cfg.AuthSecret == "" {
		return Config{}, fmt.Errorf("AUTH_SECRET is required")
	}
	switch cfg.ProviderBodyShape {
	case "envelope", "plain":
	default:
		return Config{}, fmt.Errorf("PROVIDER_BODY_SHAPE must be envelope or plain, got %q", cfg.ProviderBodyShape)
	}
	if cfg.ProviderTimeout < time.Second {
		return Config{}, fmt.Errorf("PROVIDER_TIMEOUT must be at least 1s")
	}
	if cfg.ProviderStreamURL == "" {
		cfg.ProviderStreamURL = cfg.ProviderURL
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}
