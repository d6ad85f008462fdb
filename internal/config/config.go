package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the server configuration.
const (
	DefaultHTTPPort   = 8080
	DefaultEnv        = "dev"
	DefaultVisibility = 30 * time.Second
)

// Config holds the server-side configuration parsed from the `server:`
// section of config.yaml.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// HTTPPort is the port the registration API and agent gateway listen on.
	HTTPPort int `yaml:"http_port"`

	// Env is the deployment environment name ("dev", "staging", "prod").
	// It qualifies credential session names on the audit trail.
	Env string `yaml:"env"`

	// Auth configures how the server authenticates API and gateway clients.
	Auth AuthConfig `yaml:"auth"`

	// Bus tunes work-queue delivery behavior.
	Bus BusConfig `yaml:"bus"`

	// Handlers declares the notification handler targets checks may reference.
	Handlers []HandlerConfig `yaml:"handlers"`

	// Roles declares the credential roles executors and handlers assume.
	Roles []RoleConfig `yaml:"roles"`
}

// AuthConfig controls client authentication.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected
	// API key. Used when Mode == "apikey".
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header name to read the key from.
	// Defaults to "x-api-key" if empty.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// BusConfig tunes work-queue delivery.
type BusConfig struct {
	// Visibility is how long a received message stays invisible before an
	// unacknowledged delivery returns to its queue. Default: 30s.
	Visibility time.Duration `yaml:"visibility"`

	// RedeliveryMin and RedeliveryMax bound the backoff delay applied to
	// rejected messages before redelivery.
	RedeliveryMin time.Duration `yaml:"redelivery_min"`
	RedeliveryMax time.Duration `yaml:"redelivery_max"`
}

// HandlerConfig defines one notification handler target.
type HandlerConfig struct {
	// Name is the handler key referenced from check definitions.
	Name string `yaml:"name"`

	// Type is one of: slack | teams | webhook | log.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the target
	// URL. Unused for type "log".
	URLEnv string `yaml:"url_env"`

	// Role is the credential role the handler assumes. Optional.
	Role string `yaml:"role"`
}

// URL returns the handler target URL resolved from the environment.
func (h HandlerConfig) URL() string {
	if h.URLEnv == "" {
		return ""
	}
	return os.Getenv(h.URLEnv)
}

// RoleConfig defines one credential role the static provider can vend.
type RoleConfig struct {
	// Role is the role key executors and handlers request by.
	Role string `yaml:"role"`

	// TokenEnv is the name of the environment variable holding the token.
	TokenEnv string `yaml:"token_env"`
}

// Token returns the role token resolved from the environment.
func (r RoleConfig) Token() string {
	if r.TokenEnv == "" {
		return ""
	}
	return os.Getenv(r.TokenEnv)
}

// Load reads and parses the config file at path, returning the server
// configuration. Missing fields are filled with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort: DefaultHTTPPort,
			Env:      DefaultEnv,
			Bus: BusConfig{
				Visibility: DefaultVisibility,
			},
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	if cfg.Server.Env == "" {
		return fmt.Errorf("server.env must not be empty")
	}
	switch cfg.Server.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", cfg.Server.Auth.Mode)
	}
	if cfg.Server.Bus.Visibility < 0 || cfg.Server.Bus.RedeliveryMin < 0 || cfg.Server.Bus.RedeliveryMax < 0 {
		return fmt.Errorf("server.bus durations must not be negative")
	}
	seen := make(map[string]bool, len(cfg.Server.Handlers))
	for _, h := range cfg.Server.Handlers {
		if h.Name == "" {
			return fmt.Errorf("server.handlers: handler with empty name")
		}
		if seen[h.Name] {
			return fmt.Errorf("server.handlers: duplicate handler %q", h.Name)
		}
		seen[h.Name] = true
		switch h.Type {
		case "slack", "teams", "webhook", "log":
		default:
			return fmt.Errorf("server.handlers: handler %q type %q unknown: want slack|teams|webhook|log", h.Name, h.Type)
		}
	}
	for _, r := range cfg.Server.Roles {
		if r.Role == "" {
			return fmt.Errorf("server.roles: role with empty key")
		}
	}
	return nil
}
