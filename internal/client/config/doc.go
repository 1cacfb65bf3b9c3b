// Package config loads runtime configuration for the fileproxy client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected with -c / --config.
//  3. FILEPROXY_CLIENT_* environment variables.
//  4. Command-line flags, which override earlier values.
//
// Supported flags
//
//	-s, --server string    base URL of the proxy (http://host:port)
//	-m, --mode string      auto, direct or envelope
//	-t, --timeout duration request timeout
//	-n, --name string      filename sent to the proxy (default: base name of the file)
//	-p, --padding string   RSA padding for direct mode: oaep (default) or pkcs1v15
//
// The padding must match the server's --padding. Both default to OAEP;
// senders built on the plain "RSA" cipher of common crypto libraries emit
// PKCS#1 v1.5 and need --padding pkcs1v15 on both sides. Envelope mode is
// unaffected.
//
// # JSON schema
//
// The JSON loader uses timex.Duration, so the timeout can be either a string
// like "30s" or integer nanoseconds:
//
//	{
//	  "server_url": "http://127.0.0.1:8080",
//	  "mode": "auto",
//	  "timeout": "30s"
//	}
//
// Load returns the positional arguments left after flag parsing; the CLI
// reads its command from them.
package config
