// Package config handles loading and validating cardforge configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/howard-nolan/cardforge/internal/provider"
)

// envPrefix marks environment variables that override file values.
const envPrefix = "CARDFORGE_"

// Config is the top-level configuration for the cardforge server.
type Config struct {
	Server    ServerConfig              `koanf:"server"`
	Log       LogConfig                 `koanf:"log"`
	Gateway   GatewayConfig             `koanf:"gateway"`
	Providers map[string]ProviderConfig `koanf:"providers"`
	Designer  DesignerConfig            `koanf:"designer"`
	Redis     RedisConfig               `koanf:"redis"`
	Storage   StorageConfig             `koanf:"storage"`
}

// ServerConfig holds HTTP server settings. WriteTimeout does not apply to
// streamed chat completions.
type ServerConfig struct {
	Port         int           `koanf:"port"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// LogConfig selects the minimum log level: debug, info, warn or error.
type LogConfig struct {
	Level string `koanf:"level"`
}

// GatewayConfig configures the /v1 gateway routes.
type GatewayConfig struct {
	// DefaultProvider serves the routes that don't name a provider.
	DefaultProvider string `koanf:"default_provider"`
}

// ProviderConfig holds the settings for a single AI vendor. Only vendors
// listed here get a client.
type ProviderConfig struct {
	APIKey       string        `koanf:"api_key"`
	BaseURL      string        `koanf:"base_url"`
	DefaultModel string        `koanf:"default_model"`
	Timeout      time.Duration `koanf:"timeout"`
}

// DesignerConfig picks the vendors the card designer uses.
type DesignerConfig struct {
	ChatProvider  string `koanf:"chat_provider"`
	ImageProvider string `koanf:"image_provider"`
	ImageSize     string `koanf:"image_size"`
}

// RedisConfig locates the profile and card store.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// StorageConfig locates the object store for generated images.
type StorageConfig struct {
	Dir           string `koanf:"dir"`
	PublicBaseURL string `koanf:"public_base_url"`
}

// Load reads configuration from a YAML file, layers environment variable
// overrides on top, fills in defaults and validates the result.
func Load(path string) (*Config, error) {
	// Load .env into the process environment (ignored if not present).
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}

	// CARDFORGE_SERVER_PORT -> server.port
	// CARDFORGE_SERVER_READ_TIMEOUT -> server.read_timeout
	// CARDFORGE_PROVIDERS_OPENAI_API_KEY -> providers.openai.api_key
	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR_NAME} placeholders in secrets.
	for name, p := range cfg.Providers {
		p.APIKey = expandEnv(p.APIKey)
		cfg.Providers[name] = p
	}
	cfg.Redis.Password = expandEnv(cfg.Redis.Password)

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps an environment variable name to a koanf key path. The first
// underscore separates the section; under providers the second one
// separates the vendor name. The rest is the field name as written in YAML.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	section, rest, ok := strings.Cut(s, "_")
	if !ok {
		return section
	}
	if section == "providers" {
		if name, field, ok := strings.Cut(rest, "_"); ok {
			return section + "." + name + "." + field
		}
	}
	return section + "." + rest
}

// expandEnv resolves a value of the exact form ${VAR}; anything else is
// returned unchanged.
func expandEnv(v string) string {
	if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
		return os.Getenv(v[2 : len(v)-1])
	}
	return v
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 120 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Gateway.DefaultProvider == "" {
		c.Gateway.DefaultProvider = string(provider.OpenAI)
	}
	if c.Designer.ChatProvider == "" {
		c.Designer.ChatProvider = c.Gateway.DefaultProvider
	}
	if c.Designer.ImageProvider == "" {
		c.Designer.ImageProvider = string(provider.OpenAI)
	}
	if c.Designer.ImageSize == "" {
		c.Designer.ImageSize = string(provider.Size1792x1024)
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = "data/objects"
	}
	if c.Storage.PublicBaseURL == "" {
		c.Storage.PublicBaseURL = fmt.Sprintf("http://localhost:%d/objects", c.Server.Port)
	}
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	for name, p := range c.Providers {
		if _, err := provider.Parse(name); err != nil {
			errs = append(errs, fmt.Errorf("providers.%s: %w", name, err))
		}
		if p.Timeout < 0 {
			errs = append(errs, fmt.Errorf("providers.%s.timeout must not be negative", name))
		}
	}
	for _, ref := range []struct {
		key, name string
		needs     provider.Operation // zero when any provider will do
	}{
		{"gateway.default_provider", c.Gateway.DefaultProvider, ""},
		{"designer.chat_provider", c.Designer.ChatProvider, provider.OpChat},
		{"designer.image_provider", c.Designer.ImageProvider, provider.OpImage},
	} {
		if _, ok := c.Providers[ref.name]; !ok {
			errs = append(errs, fmt.Errorf("%s %q is not configured under providers", ref.key, ref.name))
			continue
		}
		if ref.needs == "" {
			continue
		}
		id, err := provider.Parse(ref.name)
		if err != nil {
			continue // reported with the providers block
		}
		if info, err := provider.Describe(id); err == nil && !slices.Contains(info.Operations, ref.needs) {
			errs = append(errs, fmt.Errorf("%s %q does not support %s", ref.key, ref.name, ref.needs))
		}
	}
	if size := provider.ImageSize(c.Designer.ImageSize); !size.Valid() {
		errs = append(errs, fmt.Errorf("designer.image_size %q is not a supported size", size))
	}
	return errors.Join(errs...)
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	level, _ := parseLevel(c.Log.Level)
	return level
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
