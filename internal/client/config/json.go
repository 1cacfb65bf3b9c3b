package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/fileproxy/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling.
type JsonConfig struct {
	ServerURL string         `json:"server_url"`
	Mode      string         `json:"mode"`
	Timeout   timex.Duration `json:"timeout"`
	Padding   string         `json:"padding"`
	LogLevel  string         `json:"log_level"`
}

// parseJSON overlays the file at path onto cfg; keys absent from the file
// keep their values.
func parseJSON(cfg *Config, path string) error {
	if path == "" {
		return nil
	}

	file, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	c := JsonConfig{
		ServerURL: cfg.ServerURL,
		Mode:      cfg.Mode,
		Timeout:   timex.Duration{Duration: cfg.Timeout},
		Padding:   cfg.Padding,
		LogLevel:  cfg.LogLevel,
	}
	if err := json.Unmarshal(file, &c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	cfg.ServerURL = c.ServerURL
	cfg.Mode = c.Mode
	cfg.Timeout = c.Timeout.Duration
	cfg.Padding = c.Padding
	cfg.LogLevel = c.LogLevel
	return nil
}
