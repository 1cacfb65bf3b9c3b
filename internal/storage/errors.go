package storage

import (
	"errors"
	"io/fs"

	"github.com/zeebo/errs"
)

var (
	// BackendUnavailableError is the class of dial and handshake failures.
	BackendUnavailableError = errs.Class("backend unavailable")

	// NotFoundError is the class of reads and opens on absent paths.
	NotFoundError = errs.Class("not found")

	// PartialWriteError is the class of stream writes that started but did
	// not complete. The destination may hold a truncated file.
	PartialWriteError = errs.Class("partial write")
)

func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrNotExist) && !NotFoundError.Has(err) {
		return NotFoundError.Wrap(err)
	}
	return err
}
