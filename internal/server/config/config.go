// Package config handles configuration for the proxy server: defaults,
// an optional JSON file, FILEPROXY_* environment variables and
// command-line flags, applied in that order.
//
// Direct payloads default to RSA-OAEP. Set --padding pkcs1v15 (or
// FILEPROXY_PADDING=pkcs1v15) for senders that encrypt with PKCS#1 v1.5.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/dmitrijs2005/fileproxy/internal/common"
	"github.com/dmitrijs2005/fileproxy/internal/cryptox"
	"github.com/dmitrijs2005/fileproxy/internal/logging"
)

// EnvPrefix prefixes every environment variable the server reads.
const EnvPrefix = "FILEPROXY_"

// Config holds runtime settings for the proxy server.
type Config struct {
	// HTTPAddr serves /proxy/publicKey and /proxy/upload.
	HTTPAddr string `env:"HTTP_ADDR"`
	// GRPCAddr serves the gRPC health service. Empty disables it.
	GRPCAddr string `env:"GRPC_ADDR"`

	// BackendRoot is the storage root URI: hdfs://host:port, s3://bucket,
	// file:///dir, or a bare local directory.
	BackendRoot string `env:"BACKEND_ROOT"`
	// BackendUser is the HDFS service principal.
	BackendUser string `env:"BACKEND_USER"`
	// NamenodeAddrs overrides the namenodes taken from BackendRoot.
	NamenodeAddrs []string      `env:"NAMENODE_ADDRS" envSeparator:","`
	DialTimeout   time.Duration `env:"DIAL_TIMEOUT"`
	ChunkSize     int           `env:"CHUNK_SIZE"`

	BasePath      string `env:"BASE_PATH"`
	Namespace     string `env:"NAMESPACE"`
	Timezone      string `env:"TIMEZONE"`
	AtomicPublish bool   `env:"ATOMIC_PUBLISH"`

	KeyBits int `env:"KEY_BITS"`
	// Padding is the direct-mode RSA scheme: "oaep" (default) or
	// "pkcs1v15". Clients using a plain "RSA" cipher send PKCS#1 v1.5.
	Padding string `env:"PADDING"`

	MaxUploadSize int64         `env:"MAX_UPLOAD_SIZE"`
	ProbeInterval time.Duration `env:"PROBE_INTERVAL"`

	// JournalDSN is a PostgreSQL DSN. Empty disables the upload journal.
	JournalDSN string `env:"JOURNAL_DSN"`

	S3Region       string `env:"S3_REGION"`
	S3AccessKey    string `env:"S3_ACCESS_KEY"`
	S3SecretKey    string `env:"S3_SECRET_KEY"`
	S3Endpoint     string `env:"S3_ENDPOINT"`
	S3UsePathStyle bool   `env:"S3_USE_PATH_STYLE"`

	LogLevel string `env:"LOG_LEVEL"`
}

// LoadDefaults populates Config with development defaults.
func (c *Config) LoadDefaults() {
	c.HTTPAddr = ":8080"
	c.GRPCAddr = ":50051"
	c.BackendRoot = "hdfs://localhost:9000"
	c.BackendUser = "hdfs"
	c.DialTimeout = 10 * time.Second
	c.ChunkSize = common.ChunkSize
	c.BasePath = "/data"
	c.Namespace = common.DefaultNamespace
	c.Timezone = "UTC"
	c.AtomicPublish = true
	c.KeyBits = 2048
	c.Padding = cryptox.OAEP.String()
	c.MaxUploadSize = 1 << 30
	c.ProbeInterval = 15 * time.Second
	c.S3Region = "us-east-1"
	c.LogLevel = "info"
}

// Load builds a Config from args (without the program name) and environ
// (KEY=value pairs as returned by os.Environ).
func Load(args, environ []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	path, err := configPath(args)
	if err != nil {
		return nil, err
	}
	if err := parseJSON(cfg, path); err != nil {
		return nil, err
	}
	if err := parseEnv(cfg, environ); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig is Load over the process arguments and environment.
func LoadConfig() (*Config, error) {
	return Load(os.Args[1:], os.Environ())
}

// Validate reports every setting the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.BackendRoot) == "" {
		errs = append(errs, errors.New("backend root is required"))
	}
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http address is required"))
	}
	if c.KeyBits < cryptox.MinKeyBits {
		errs = append(errs, fmt.Errorf("key bits %d is below %d", c.KeyBits, cryptox.MinKeyBits))
	}
	if _, err := cryptox.ParsePadding(c.Padding); err != nil {
		errs = append(errs, err)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone: %w", err))
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize))
	}
	if c.MaxUploadSize < 0 {
		errs = append(errs, fmt.Errorf("max upload size must not be negative, got %d", c.MaxUploadSize))
	}
	if c.ProbeInterval <= 0 {
		errs = append(errs, fmt.Errorf("probe interval must be positive, got %s", c.ProbeInterval))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Location returns the time zone partitions are computed in.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// PaddingMode returns the parsed padding, OAEP when unknown.
func (c *Config) PaddingMode() cryptox.Padding {
	p, _ := cryptox.ParsePadding(c.Padding)
	return p
}
