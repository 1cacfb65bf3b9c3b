package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment variable the client reads.
const EnvPrefix = "FILEPROXY_CLIENT_"

// Encryption modes.
const (
	ModeAuto     = "auto"
	ModeDirect   = "direct"
	ModeEnvelope = "envelope"
)

// Config holds runtime settings for the client.
type Config struct {
	ServerURL string        `env:"SERVER_URL"`
	Mode      string        `env:"MODE"`
	Timeout   time.Duration `env:"TIMEOUT"`
	Padding   string        `env:"PADDING"`
	// Name overrides the filename sent with an upload.
	Name     string `env:"NAME"`
	LogLevel string `env:"LOG_LEVEL"`
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "http://127.0.0.1:8080"
	c.Mode = ModeAuto
	c.Timeout = 5 * time.Minute
	c.Padding = "oaep"
	c.LogLevel = "warn"
}

// Load applies defaults, JSON, environment and flags, in that order, and
// returns the remaining positional arguments.
func Load(args, environ []string) (*Config, []string, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	path, err := configPath(args)
	if err != nil {
		return nil, nil, err
	}
	if err := parseJSON(cfg, path); err != nil {
		return nil, nil, err
	}
	if err := parseEnv(cfg, environ); err != nil {
		return nil, nil, err
	}
	rest, err := parseFlags(cfg, args)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, rest, nil
}

// LoadConfig is Load over the process arguments and environment.
func LoadConfig() (*Config, []string, error) {
	return Load(os.Args[1:], os.Environ())
}

// Validate checks the server URL and mode.
func (c *Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid server url %q", c.ServerURL)
	}
	switch c.Mode {
	case ModeAuto, ModeDirect, ModeEnvelope:
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %s", c.Timeout)
	}
	return nil
}

// Endpoint joins a path onto the server URL.
func (c *Config) Endpoint(p string) string {
	return strings.TrimRight(c.ServerURL, "/") + "/" + strings.TrimLeft(p, "/")
}
