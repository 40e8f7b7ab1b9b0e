// Package config provides environment-driven configuration loading for ACN
// services, generalizing the teacher's pkg/config loader to a plain
// (non-TEE) deployment: no component here runs inside a Marble enclave, so
// the secret-store fallback layer is dropped and only the YAML-file-plus-
// environment tiers remain, exactly as pkg/config.Load layers them.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Best effort: a missing .env is normal in production, not an error.
	_ = godotenv.Load()
}

// Config is the full set of boot-time settings for cmd/acnd, loaded from an
// optional YAML file and the environment per spec §6 "Configuration". Field
// tags mirror the teacher's pkg/config struct-tag convention: `yaml` for the
// file tier, `env` for the override tier that envdecode applies on top.
type Config struct {
	// Persistence.
	DatabaseURL string `yaml:"database_url" env:"ACN_DATABASE_URL"` // optional: relational backend selector (spec §4.1)
	RedisURL    string `yaml:"redis_url" env:"ACN_REDIS_URL"`       // required: ephemeral backend, also KV-only durable fallback

	// Gateway.
	GatewayPublicURL string `yaml:"gateway_public_url" env:"ACN_GATEWAY_PUBLIC_URL"`

	// Identity.
	IdentityProviderDomain   string        `yaml:"idp_domain" env:"ACN_IDP_DOMAIN"`
	IdentityProviderAudience string        `yaml:"idp_audience" env:"ACN_IDP_AUDIENCE"`
	JWKSCacheTTL             time.Duration `yaml:"jwks_cache_ttl" env:"ACN_JWKS_CACHE_TTL"`

	OperatorToken string `yaml:"-" env:"ACN_OPERATOR_TOKEN"` // secret: environment only, never read from file

	// Collaborators.
	WalletBaseURL  string `yaml:"wallet_base_url" env:"ACN_WALLET_BASE_URL"`
	EscrowBaseURL  string `yaml:"escrow_base_url" env:"ACN_ESCROW_BASE_URL"`
	PaymentBaseURL string `yaml:"payment_base_url" env:"ACN_PAYMENT_BASE_URL"`
	WebhookURL     string `yaml:"webhook_url" env:"ACN_WEBHOOK_URL"`
	WebhookSecret  string `yaml:"-" env:"ACN_WEBHOOK_SECRET"`

	WebhookMaxRetries  int           `yaml:"webhook_max_retries" env:"ACN_WEBHOOK_MAX_RETRIES"`
	WebhookBackoffBase time.Duration `yaml:"webhook_backoff_base" env:"ACN_WEBHOOK_BACKOFF_BASE"`

	// Liveness / watchdogs.
	LivenessGraceTTL  time.Duration `yaml:"liveness_grace_ttl" env:"ACN_LIVENESS_GRACE_TTL"`
	LivenessActiveTTL time.Duration `yaml:"liveness_active_ttl" env:"ACN_LIVENESS_ACTIVE_TTL"`
	WatchdogInterval  time.Duration `yaml:"watchdog_interval" env:"ACN_WATCHDOG_INTERVAL"`

	// Feature flags.
	ExperimentalEndpoints bool `yaml:"experimental_endpoints" env:"ACN_EXPERIMENTAL_ENDPOINTS"`

	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"ACN_CORS_ALLOWED_ORIGINS"`

	HTTPAddr   string `yaml:"http_addr" env:"ACN_HTTP_ADDR"`
	HealthAddr string `yaml:"health_addr" env:"ACN_HEALTH_ADDR"`
	LogLevel   string `yaml:"log_level" env:"ACN_LOG_LEVEL"`
	LogFormat  string `yaml:"log_format" env:"ACN_LOG_FORMAT"`
}

// defaults returns a Config seeded with the same fallbacks the individual
// Env* helpers used to apply inline, so envdecode only needs to overlay
// what the environment actually sets.
func defaults() Config {
	return Config{
		RedisURL:         "redis://localhost:6379/0",
		GatewayPublicURL: "http://localhost:8080",
		JWKSCacheTTL:     10 * time.Minute,

		WebhookMaxRetries:  3,
		WebhookBackoffBase: 200 * time.Millisecond,

		LivenessGraceTTL:  30 * time.Minute,
		LivenessActiveTTL: 60 * time.Minute,
		WatchdogInterval:  30 * time.Minute,

		HTTPAddr:   ":8080",
		HealthAddr: ":8081",
		LogLevel:   "info",
		LogFormat:  "text",
	}
}

// Load builds a Config from an optional YAML file (ACN_CONFIG_FILE, default
// "configs/config.yaml") followed by environment variable overrides,
// mirroring pkg/config.Load's file-then-env layering.
func Load() (Config, error) {
	cfg := defaults()

	path := strings.TrimSpace(os.Getenv("ACN_CONFIG_FILE"))
	if path == "" {
		path = "configs/config.yaml"
	}
	if err := loadFromFile(path, &cfg); err != nil {
		return Config{}, err
	}

	if err := envdecode.Decode(&cfg); err != nil && !strings.Contains(err.Error(), "no target field") {
		return Config{}, fmt.Errorf("config: decode env: %w", err)
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}
