package storage

import (
	"context"
	"io"
	"sync"
)

// WriteHandle is an open streaming destination. It is not safe for
// concurrent use.
type WriteHandle struct {
	ctx     context.Context
	path    string
	w       Writer
	conn    Conn
	backend *Backend

	written int64
	once    sync.Once
	err     error
}

// Path is the backend-absolute destination.
func (h *WriteHandle) Path() string {
	return h.path
}

// Written is the number of bytes accepted so far.
func (h *WriteHandle) Written() int64 {
	return h.written
}

func (h *WriteHandle) Write(p []byte) (int, error) {
	n, err := h.w.Write(p)
	h.written += int64(n)
	if err != nil {
		return n, PartialWriteError.Wrap(err)
	}
	return n, nil
}

// Flush pushes buffered bytes to the backend.
func (h *WriteHandle) Flush() error {
	return PartialWriteError.Wrap(h.w.Flush())
}

// Close finishes the file and releases the handle's Conn. Calling Close
// more than once returns the first result.
func (h *WriteHandle) Close() error {
	h.once.Do(func() {
		if err := h.w.Close(); err != nil {
			h.err = PartialWriteError.Wrap(err)
		}
		h.backend.release(h.ctx, h.conn, "write", h.path)
	})
	return h.err
}

type readHandle struct {
	ctx     context.Context
	path    string
	rc      io.ReadCloser
	conn    Conn
	backend *Backend

	once sync.Once
	err  error
}

func (r *readHandle) Read(p []byte) (int, error) {
	return r.rc.Read(p)
}

func (r *readHandle) Close() error {
	r.once.Do(func() {
		r.err = r.rc.Close()
		r.backend.release(r.ctx, r.conn, "read", r.path)
	})
	return r.err
}
