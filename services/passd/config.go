package passd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"wazoopass/observability/logging"
	"wazoopass/passes/compose"
	"wazoopass/passes/roles"
	"wazoopass/passes/store"
)

// Duration wraps time.Duration so configs can use "10s" style strings in both
// YAML and TOML.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

// UnmarshalText implements encoding.TextUnmarshaler for the TOML decoder.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for passd.
type Config struct {
	ListenAddress string              `yaml:"listen" toml:"listen"`
	Environment   string              `yaml:"env" toml:"env"`
	PublicBaseURL string              `yaml:"public_base_url" toml:"public_base_url"`
	OutputDir     string              `yaml:"output_dir" toml:"output_dir"`
	InviteURL     string              `yaml:"invite_url" toml:"invite_url"`
	Store         store.Config        `yaml:"store" toml:"store"`
	Compositor    compose.Config      `yaml:"compositor" toml:"compositor"`
	Roles         []roles.Rule        `yaml:"roles" toml:"roles"`
	Avatar        AvatarConfig        `yaml:"avatar" toml:"avatar"`
	RateLimit     RateLimit           `yaml:"rate_limit" toml:"rate_limit"`
	Auth          AuthConfig          `yaml:"auth" toml:"auth"`
	Log           logging.FileOptions `yaml:"log" toml:"log"`
	Telemetry     TelemetryConfig     `yaml:"telemetry" toml:"telemetry"`
}

// AvatarConfig tunes avatar downloads.
type AvatarConfig struct {
	Timeout           Duration `yaml:"timeout" toml:"timeout"`
	MaxBytes          int64    `yaml:"max_bytes" toml:"max_bytes"`
	FallbackSize      int      `yaml:"fallback_size" toml:"fallback_size"`
	RequestsPerSecond float64  `yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int      `yaml:"burst" toml:"burst"`
}

// AuthConfig controls bearer token verification. Tokens are HS256 JWTs.
type AuthConfig struct {
	Enabled        bool     `yaml:"enabled" toml:"enabled"`
	HMACSecret     string   `yaml:"hmac_secret" toml:"hmac_secret"`
	HMACSecretFile string   `yaml:"hmac_secret_file" toml:"hmac_secret_file"`
	HMACSecretEnv  string   `yaml:"hmac_secret_env" toml:"hmac_secret_env"`
	Issuer         string   `yaml:"issuer" toml:"issuer"`
	Audience       string   `yaml:"audience" toml:"audience"`
	ClockSkew      Duration `yaml:"clock_skew" toml:"clock_skew"`
}

// TelemetryConfig configures OTLP export.
type TelemetryConfig struct {
	Endpoint    string            `yaml:"endpoint" toml:"endpoint"`
	Insecure    bool              `yaml:"insecure" toml:"insecure"`
	Headers     map[string]string `yaml:"headers" toml:"headers"`
	Traces      bool              `yaml:"traces" toml:"traces"`
	Metrics     bool              `yaml:"metrics" toml:"metrics"`
	SampleRatio float64           `yaml:"sample_ratio" toml:"sample_ratio"`
}

// LoadConfig reads configuration from path. Files ending in .toml are decoded
// as TOML, everything else as YAML.
func LoadConfig(path string) (Config, error) {
	// Decoders only overwrite keys that are present, so a partial layout
	// block keeps the calibrated positions.
	cfg := Config{Compositor: compose.Config{Layout: compose.DefaultLayout()}}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	} else {
		file, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		if err := yaml.NewDecoder(file).Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	}
	applyDefaults(&cfg)
	if err := cfg.Auth.normalise(); err != nil {
		return cfg, fmt.Errorf("auth: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8097"
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "generated"
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = store.DriverBolt
	}
	if cfg.Store.Path == "" {
		switch cfg.Store.Driver {
		case store.DriverJSON:
			cfg.Store.Path = "data.json"
		case store.DriverSQLite:
			cfg.Store.Path = "passes.sqlite"
		default:
			cfg.Store.Path = "passes.db"
		}
	}
	if cfg.Compositor.TemplatePath == "" {
		cfg.Compositor.TemplatePath = "base.jpg"
	}
	cfg.Compositor.Layout = cfg.Compositor.Layout.WithDefaults()
	if len(cfg.Roles) == 0 {
		cfg.Roles = roles.DefaultPriority()
	}
	if cfg.Avatar.Timeout.Duration <= 0 {
		cfg.Avatar.Timeout.Duration = 10 * time.Second
	}
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		cfg.RateLimit.RequestsPerMinute = 30
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 5
	}
	if cfg.Auth.ClockSkew.Duration <= 0 {
		cfg.Auth.ClockSkew.Duration = 2 * time.Minute
	}
}

func validateConfig(cfg Config) error {
	if cfg.Store.Driver == store.DriverPostgres && strings.TrimSpace(cfg.Store.DSN) == "" {
		return fmt.Errorf("store dsn must be configured for postgres")
	}
	if cfg.Auth.Enabled && cfg.Auth.HMACSecret == "" {
		return fmt.Errorf("auth enabled but no hmac secret configured")
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry sample_ratio must be within [0,1]")
	}
	if base := strings.TrimSpace(cfg.PublicBaseURL); base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		return fmt.Errorf("public_base_url must be an http(s) URL")
	}
	return nil
}

func (a *AuthConfig) normalise() error {
	a.HMACSecret = strings.TrimSpace(a.HMACSecret)
	if a.HMACSecret != "" {
		return nil
	}
	switch {
	case strings.TrimSpace(a.HMACSecretEnv) != "":
		a.HMACSecret = strings.TrimSpace(os.Getenv(strings.TrimSpace(a.HMACSecretEnv)))
		if a.HMACSecret == "" {
			return fmt.Errorf("hmac_secret_env %s is empty", a.HMACSecretEnv)
		}
	case strings.TrimSpace(a.HMACSecretFile) != "":
		contents, err := os.ReadFile(strings.TrimSpace(a.HMACSecretFile))
		if err != nil {
			return fmt.Errorf("read hmac_secret_file: %w", err)
		}
		a.HMACSecret = strings.TrimSpace(string(contents))
	}
	return nil
}
