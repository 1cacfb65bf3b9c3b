package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/fileproxy/internal/timex"
)

// JsonConfig is the on-disk form of Config. Durations use timex.Duration so
// they can be written as "15s" or as integer nanoseconds.
type JsonConfig struct {
	HTTPAddr       string         `json:"http_addr"`
	GRPCAddr       string         `json:"grpc_addr"`
	BackendRoot    string         `json:"backend_root"`
	BackendUser    string         `json:"backend_user"`
	NamenodeAddrs  []string       `json:"namenode_addrs"`
	DialTimeout    timex.Duration `json:"dial_timeout"`
	ChunkSize      int            `json:"chunk_size"`
	BasePath       string         `json:"base_path"`
	Namespace      string         `json:"namespace"`
	Timezone       string         `json:"timezone"`
	AtomicPublish  bool           `json:"atomic_publish"`
	KeyBits        int            `json:"key_bits"`
	Padding        string         `json:"padding"`
	MaxUploadSize  int64          `json:"max_upload_size"`
	ProbeInterval  timex.Duration `json:"probe_interval"`
	JournalDSN     string         `json:"journal_dsn"`
	S3Region       string         `json:"s3_region"`
	S3AccessKey    string         `json:"s3_access_key"`
	S3SecretKey    string         `json:"s3_secret_key"`
	S3Endpoint     string         `json:"s3_endpoint"`
	S3UsePathStyle bool           `json:"s3_use_path_style"`
	LogLevel       string         `json:"log_level"`
}

// parseJSON overlays the file at path onto config. Keys missing from the
// file keep their current values. An empty path loads nothing.
func parseJSON(config *Config, path string) error {
	if path == "" {
		return nil
	}

	file, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	c := toJSON(config)
	if err := json.Unmarshal(file, &c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	c.apply(config)
	return nil
}

func toJSON(config *Config) JsonConfig {
	return JsonConfig{
		HTTPAddr:       config.HTTPAddr,
		GRPCAddr:       config.GRPCAddr,
		BackendRoot:    config.BackendRoot,
		BackendUser:    config.BackendUser,
		NamenodeAddrs:  config.NamenodeAddrs,
		DialTimeout:    timex.Duration{Duration: config.DialTimeout},
		ChunkSize:      config.ChunkSize,
		BasePath:       config.BasePath,
		Namespace:      config.Namespace,
		Timezone:       config.Timezone,
		AtomicPublish:  config.AtomicPublish,
		KeyBits:        config.KeyBits,
		Padding:        config.Padding,
		MaxUploadSize:  config.MaxUploadSize,
		ProbeInterval:  timex.Duration{Duration: config.ProbeInterval},
		JournalDSN:     config.JournalDSN,
		S3Region:       config.S3Region,
		S3AccessKey:    config.S3AccessKey,
		S3SecretKey:    config.S3SecretKey,
		S3Endpoint:     config.S3Endpoint,
		S3UsePathStyle: config.S3UsePathStyle,
		LogLevel:       config.LogLevel,
	}
}

func (c JsonConfig) apply(config *Config) {
	config.HTTPAddr = c.HTTPAddr
	config.GRPCAddr = c.GRPCAddr
	config.BackendRoot = c.BackendRoot
	config.BackendUser = c.BackendUser
	config.NamenodeAddrs = c.NamenodeAddrs
	config.DialTimeout = c.DialTimeout.Duration
	config.ChunkSize = c.ChunkSize
	config.BasePath = c.BasePath
	config.Namespace = c.Namespace
	config.Timezone = c.Timezone
	config.AtomicPublish = c.AtomicPublish
	config.KeyBits = c.KeyBits
	config.Padding = c.Padding
	config.MaxUploadSize = c.MaxUploadSize
	config.ProbeInterval = c.ProbeInterval.Duration
	config.JournalDSN = c.JournalDSN
	config.S3Region = c.S3Region
	config.S3AccessKey = c.S3AccessKey
	config.S3SecretKey = c.S3SecretKey
	config.S3Endpoint = c.S3Endpoint
	config.S3UsePathStyle = c.S3UsePathStyle
	config.LogLevel = c.LogLevel
}
