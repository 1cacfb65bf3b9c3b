// Package cli is the fileproxy command-line client.
//
// Commands:
//
//	publickey [ssh]   print the proxy's public key
//	upload FILE...    encrypt and upload local files
//	health            check the proxy's storage backend
//	help              list commands
//
// With no command the client reads commands line by line from stdin until
// EOF or "exit".
package cli
