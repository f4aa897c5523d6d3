package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultNATSURL       = "nats://localhost:4222"
	defaultRedisURL      = "redis://localhost:6379"
	defaultBlobPath      = "data/blobs"
	defaultRelayAddr     = ":8970"
	defaultMetricsAddr   = ":9100"
	defaultPromptTimeout = 2 * time.Minute
	// The call timeout bounds a whole bridge/relay round trip, which may
	// contain an interactive prompt; it must outlast the prompt timeout.
	defaultCallTimeout = defaultPromptTimeout + 30*time.Second
	defaultHandleTTL   = 2 * time.Minute

	envNATSURL       = "NATS_URL"
	envRedisURL      = "REDIS_URL"
	envBlobPath      = "COS_BLOB_PATH"
	envRelayAddr     = "COS_RELAY_ADDR"
	envMetricsAddr   = "COS_METRICS_ADDR"
	envPromptTimeout = "COS_PROMPT_TIMEOUT"
	envCallTimeout   = "COS_CALL_TIMEOUT"
	envHandleTTL     = "COS_HANDLE_TTL"
	envConfigPath    = "COS_CONFIG_PATH"
)

// Config holds runtime configuration for the broker and relay daemons.
type Config struct {
	NatsURL       string
	RedisURL      string
	BlobPath      string
	RelayAddr     string
	MetricsAddr   string
	PromptTimeout time.Duration
	CallTimeout   time.Duration
	HandleTTL     time.Duration
}

// fileConfig is the optional YAML overlay; any field left empty falls back
// to the environment or the default.
type fileConfig struct {
	NatsURL       string `yaml:"nats_url"`
	RedisURL      string `yaml:"redis_url"`
	BlobPath      string `yaml:"blob_path"`
	RelayAddr     string `yaml:"relay_addr"`
	MetricsAddr   string `yaml:"metrics_addr"`
	PromptTimeout string `yaml:"prompt_timeout"`
	CallTimeout   string `yaml:"call_timeout"`
	HandleTTL     string `yaml:"handle_ttl"`
}

// Load returns configuration from environment variables with sane
// defaults, overlaid by the YAML file at COS_CONFIG_PATH when present.
func Load() *Config {
	cfg := &Config{
		NatsURL:       envOr(envNATSURL, defaultNATSURL),
		RedisURL:      envOr(envRedisURL, defaultRedisURL),
		BlobPath:      envOr(envBlobPath, defaultBlobPath),
		RelayAddr:     envOr(envRelayAddr, defaultRelayAddr),
		MetricsAddr:   envOr(envMetricsAddr, defaultMetricsAddr),
		PromptTimeout: durationOr(envPromptTimeout, defaultPromptTimeout),
		CallTimeout:   durationOr(envCallTimeout, defaultCallTimeout),
		HandleTTL:     durationOr(envHandleTTL, defaultHandleTTL),
	}
	if path := strings.TrimSpace(os.Getenv(envConfigPath)); path != "" {
		if err := cfg.applyFile(path); err != nil {
			// Overlay problems must not take the daemon down; defaults win.
			fmt.Fprintf(os.Stderr, "config: overlay %s ignored: %v\n", path, err)
		}
	}
	return cfg
}

func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read overlay: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse overlay: %w", err)
	}
	apply := func(dst *string, val string) {
		if v := strings.TrimSpace(val); v != "" {
			*dst = v
		}
	}
	apply(&c.NatsURL, fc.NatsURL)
	apply(&c.RedisURL, fc.RedisURL)
	apply(&c.BlobPath, fc.BlobPath)
	apply(&c.RelayAddr, fc.RelayAddr)
	apply(&c.MetricsAddr, fc.MetricsAddr)
	applyDuration(&c.PromptTimeout, fc.PromptTimeout)
	applyDuration(&c.CallTimeout, fc.CallTimeout)
	applyDuration(&c.HandleTTL, fc.HandleTTL)
	return nil
}

func applyDuration(dst *time.Duration, val string) {
	if v := strings.TrimSpace(val); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			*dst = d
		}
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
