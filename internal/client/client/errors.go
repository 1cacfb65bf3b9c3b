package client

import "errors"

var (
	// ErrUnavailable is returned when the proxy cannot be reached.
	ErrUnavailable = errors.New("server unavailable")

	// ErrRejected is returned when the proxy answered "false".
	ErrRejected = errors.New("upload rejected")
)
