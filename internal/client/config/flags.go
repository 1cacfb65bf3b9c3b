package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/pflag"
)

func configPath(args []string) (string, error) {
	fs := pflag.NewFlagSet("config", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.Usage = func() {}

	var path string
	fs.StringVarP(&path, "config", "c", "", "path to a JSON config file")
	if err := fs.Parse(args); err != nil && err != pflag.ErrHelp {
		return "", fmt.Errorf("parse flags: %w", err)
	}
	return path, nil
}

func parseEnv(cfg *Config, environ []string) error {
	opts := env.Options{Prefix: EnvPrefix, Environment: env.ToMap(environ)}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// FlagSet binds the client settings to flags.
func FlagSet(cfg *Config) *pflag.FlagSet {
	fs := pflag.NewFlagSet("fileproxy-client", pflag.ContinueOnError)
	fs.SortFlags = false

	fs.StringP("config", "c", "", "path to a JSON config file")
	fs.StringVarP(&cfg.ServerURL, "server", "s", cfg.ServerURL, "base URL of the proxy")
	fs.StringVarP(&cfg.Mode, "mode", "m", cfg.Mode, "encryption mode: auto, direct or envelope")
	fs.DurationVarP(&cfg.Timeout, "timeout", "t", cfg.Timeout, "request timeout (0 disables)")
	fs.StringVarP(&cfg.Padding, "padding", "p", cfg.Padding, "RSA padding the server expects (oaep, pkcs1v15)")
	fs.StringVarP(&cfg.Name, "name", "n", cfg.Name, "filename sent to the proxy")
	fs.StringVarP(&cfg.LogLevel, "log-level", "l", cfg.LogLevel, "debug, info, warn or error")
	return fs
}

func parseFlags(cfg *Config, args []string) ([]string, error) {
	fs := FlagSet(cfg)
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}
	return fs.Args(), nil
}
