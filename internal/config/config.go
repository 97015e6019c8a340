package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MaxTokenTTL is the hard ceiling on access token lifetime.
	MaxTokenTTL = 15 * time.Minute

	envPrefix = "SKYLINK_"
)

// Config holds the full gateway configuration, loaded from a YAML file
// with SKYLINK_* environment variable overrides on top.
type Config struct {
	ListenAddr  string `yaml:"listen_addr"`
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`

	JWT struct {
		// PrivateKey and PublicKey accept either a literal PEM block or a
		// path to a file containing one; the key store detects which.
		PrivateKey string        `yaml:"private_key"`
		PublicKey  string        `yaml:"public_key"`
		Audience   string        `yaml:"audience"`
		TTL        time.Duration `yaml:"ttl"`
	} `yaml:"jwt"`

	MTLS struct {
		Enabled  bool   `yaml:"enabled"`
		CertFile string `yaml:"cert_file"`
		KeyFile  string `yaml:"key_file"`
		CAFile   string `yaml:"ca_file"`
	} `yaml:"mtls"`

	RateLimit struct {
		PerIdentityPerMinute int `yaml:"per_identity_per_minute"`
		GlobalPerSecond      int `yaml:"global_per_second"`
		GlobalBurst          int `yaml:"global_burst"`
	} `yaml:"rate_limit"`

	Upstreams struct {
		Weather   string `yaml:"weather"`
		Contacts  string `yaml:"contacts"`
		Telemetry string `yaml:"telemetry"`
	} `yaml:"upstreams"`

	Audit struct {
		// PostgresDSN enables the append-only database sink when set.
		PostgresDSN string `yaml:"postgres_dsn"`
	} `yaml:"audit"`
}

// Default returns the configuration used when no file and no overrides are present.
func Default() Config {
	var cfg Config
	cfg.ListenAddr = ":8080"
	cfg.Environment = "development"
	cfg.LogLevel = "info"
	cfg.JWT.Audience = "skylink"
	cfg.JWT.TTL = MaxTokenTTL
	cfg.MTLS.CertFile = "certs/server/server.crt"
	cfg.MTLS.KeyFile = "certs/server/server.key"
	cfg.MTLS.CAFile = "certs/ca/ca.crt"
	cfg.RateLimit.PerIdentityPerMinute = 60
	cfg.RateLimit.GlobalPerSecond = 10
	cfg.RateLimit.GlobalBurst = 10
	cfg.Upstreams.Weather = "http://weather:8002"
	cfg.Upstreams.Contacts = "http://contacts:8003"
	cfg.Upstreams.Telemetry = "http://telemetry:8004"
	return cfg
}

// Load reads the YAML file at path (optional), applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces the invariants the pipeline depends on.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return errors.New("config: listen_addr is required")
	}
	if strings.TrimSpace(c.JWT.Audience) == "" {
		return errors.New("config: jwt.audience is required")
	}
	if c.JWT.TTL <= 0 {
		return errors.New("config: jwt.ttl must be positive")
	}
	if c.JWT.TTL > MaxTokenTTL {
		return fmt.Errorf("config: jwt.ttl %s exceeds maximum %s", c.JWT.TTL, MaxTokenTTL)
	}
	if c.RateLimit.PerIdentityPerMinute <= 0 {
		return errors.New("config: rate_limit.per_identity_per_minute must be positive")
	}
	if c.MTLS.Enabled {
		for _, f := range []struct{ name, path string }{
			{"mtls.cert_file", c.MTLS.CertFile},
			{"mtls.key_file", c.MTLS.KeyFile},
			{"mtls.ca_file", c.MTLS.CAFile},
		} {
			if strings.TrimSpace(f.path) == "" {
				return fmt.Errorf("config: %s is required when mtls is enabled", f.name)
			}
		}
	}
	return nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.ListenAddr, "LISTEN_ADDR")
	setString(&cfg.Environment, "ENVIRONMENT")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.JWT.PrivateKey, "PRIVATE_KEY_PEM")
	setString(&cfg.JWT.PublicKey, "PUBLIC_KEY_PEM")
	setString(&cfg.JWT.Audience, "JWT_AUDIENCE")
	setDuration(&cfg.JWT.TTL, "JWT_TTL")
	setBool(&cfg.MTLS.Enabled, "MTLS_ENABLED")
	setString(&cfg.MTLS.CertFile, "MTLS_CERT_FILE")
	setString(&cfg.MTLS.KeyFile, "MTLS_KEY_FILE")
	setString(&cfg.MTLS.CAFile, "MTLS_CA_FILE")
	setInt(&cfg.RateLimit.PerIdentityPerMinute, "RATE_LIMIT_PER_MINUTE")
	setInt(&cfg.RateLimit.GlobalPerSecond, "RATE_LIMIT_GLOBAL_PER_SECOND")
	setInt(&cfg.RateLimit.GlobalBurst, "RATE_LIMIT_GLOBAL_BURST")
	setString(&cfg.Upstreams.Weather, "UPSTREAM_WEATHER")
	setString(&cfg.Upstreams.Contacts, "UPSTREAM_CONTACTS")
	setString(&cfg.Upstreams.Telemetry, "UPSTREAM_TELEMETRY")
	setString(&cfg.Audit.PostgresDSN, "AUDIT_PG_DSN")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(envPrefix + key); ok && strings.TrimSpace(v) != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			*dst = parsed
		}
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = parsed
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		if parsed, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			*dst = parsed
		}
	}
}
