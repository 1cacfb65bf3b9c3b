package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/pflag"
)

// configPath finds -c/--config in args. Every other flag is ignored here.
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

// parseEnv overlays FILEPROXY_* variables from environ onto config. Unset
// variables leave fields untouched.
func parseEnv(config *Config, environ []string) error {
	opts := env.Options{
		Prefix:      EnvPrefix,
		Environment: env.ToMap(environ),
	}
	if err := env.ParseWithOptions(config, opts); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// FlagSet binds every setting to a flag whose default is the current value.
func FlagSet(config *Config) *pflag.FlagSet {
	fs := pflag.NewFlagSet("fileproxy", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.SortFlags = false

	fs.StringP("config", "c", "", "path to a JSON config file")

	fs.StringVarP(&config.HTTPAddr, "http-addr", "a", config.HTTPAddr, "HTTP listen address")
	fs.StringVarP(&config.GRPCAddr, "grpc-addr", "g", config.GRPCAddr, "gRPC health listen address (empty disables)")

	fs.StringVarP(&config.BackendRoot, "backend-root", "r", config.BackendRoot, "storage root URI (hdfs://, s3://, file://)")
	fs.StringVarP(&config.BackendUser, "backend-user", "u", config.BackendUser, "HDFS service principal")
	fs.StringSliceVar(&config.NamenodeAddrs, "namenode", config.NamenodeAddrs, "namenode address (repeatable)")
	fs.DurationVar(&config.DialTimeout, "dial-timeout", config.DialTimeout, "backend connect timeout")
	fs.IntVar(&config.ChunkSize, "chunk-size", config.ChunkSize, "backend write chunk size in bytes")

	fs.StringVarP(&config.BasePath, "base-path", "b", config.BasePath, "destination directory below the root")
	fs.StringVarP(&config.Namespace, "namespace", "n", config.Namespace, "segment between base path and date")
	fs.StringVar(&config.Timezone, "timezone", config.Timezone, "time zone of the date partition")
	fs.BoolVar(&config.AtomicPublish, "atomic-publish", config.AtomicPublish, "write to a temporary file and rename into place")

	fs.IntVarP(&config.KeyBits, "key-bits", "k", config.KeyBits, "RSA modulus size")
	fs.StringVarP(&config.Padding, "padding", "p", config.Padding, "RSA padding for direct payloads (oaep, pkcs1v15)")

	fs.Int64Var(&config.MaxUploadSize, "max-upload-size", config.MaxUploadSize, "request body limit in bytes (0 disables)")
	fs.DurationVar(&config.ProbeInterval, "probe-interval", config.ProbeInterval, "backend health probe interval")

	fs.StringVarP(&config.JournalDSN, "journal-dsn", "d", config.JournalDSN, "PostgreSQL DSN of the upload journal (empty disables)")

	fs.StringVar(&config.S3Region, "s3-region", config.S3Region, "S3 region")
	fs.StringVar(&config.S3AccessKey, "s3-access-key", config.S3AccessKey, "S3 access key")
	fs.StringVar(&config.S3SecretKey, "s3-secret-key", config.S3SecretKey, "S3 secret key")
	fs.StringVar(&config.S3Endpoint, "s3-endpoint", config.S3Endpoint, "S3 endpoint URL")
	fs.BoolVar(&config.S3UsePathStyle, "s3-path-style", config.S3UsePathStyle, "use path-style S3 addressing")

	fs.StringVarP(&config.LogLevel, "log-level", "l", config.LogLevel, "debug, info, warn or error")

	return fs
}

// parseFlags overlays command-line flags onto config.
func parseFlags(config *Config, args []string) error {
	if err := FlagSet(config).Parse(args); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	return nil
}
