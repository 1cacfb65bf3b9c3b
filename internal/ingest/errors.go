package ingest

import (
	"errors"
	"fmt"

	"github.com/zeebo/errs"

	"github.com/dmitrijs2005/fileproxy/internal/common"
	"github.com/dmitrijs2005/fileproxy/internal/cryptox"
	"github.com/dmitrijs2005/fileproxy/internal/storage"
)

// Error is the class of every failed ingestion.
var Error = errs.Class("ingest")

// Pipeline steps, as reported by StepError.
const (
	StepFilename = "filename"
	StepDecrypt  = "decrypt"
	StepMkdir    = "mkdir"
	StepWrite    = "write"
	StepPublish  = "publish"
)

// StepError names the pipeline step that failed.
type StepError struct {
	Step string
	Path string
	Err  error
}

func (e *StepError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Step, e.Path, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func fail(step, p string, err error) error {
	return Error.Wrap(&StepError{Step: step, Path: p, Err: err})
}

// Step returns the failed step recorded in err, or "".
func Step(err error) string {
	var se *StepError
	if errors.As(err, &se) {
		return se.Step
	}
	return ""
}

// Classify maps err onto a short, stable name suitable for clients.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, common.ErrInvalidFilename):
		return "invalid_filename"
	case errors.Is(err, common.ErrPayloadTooLarge):
		return "payload_too_large"
	case errors.Is(err, common.ErrMissingFile):
		return "missing_file"
	case cryptox.DecryptionError.Has(err):
		return "decryption"
	case storage.BackendUnavailableError.Has(err):
		return "backend_unavailable"
	case storage.PartialWriteError.Has(err):
		return "partial_write"
	case storage.NotFoundError.Has(err):
		return "not_found"
	}
	return "internal"
}
