package common

import "errors"

var (
	// ErrInvalidFilename is returned when a declared filename has no usable
	// last segment.
	ErrInvalidFilename = errors.New("invalid filename")

	// ErrPayloadTooLarge is returned when an upload exceeds the configured limit.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrMissingFile is returned when the multipart body has no file field.
	ErrMissingFile = errors.New("missing file field")
)
