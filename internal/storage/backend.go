// Package storage is the proxy's view of the distributed file store.
//
// Callers address files with client-relative paths; Backend resolves them
// against the configured root (see Resolve) and performs each operation on
// its own Conn, which is closed on every exit path. Drivers for concrete
// clusters live in sub-packages (hdfs, s3, local).
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"

	"github.com/dmitrijs2005/fileproxy/internal/common"
	"github.com/dmitrijs2005/fileproxy/internal/logging"
)

// Backend performs path-addressed operations against the store.
type Backend struct {
	resolver  *Resolver
	dialer    Dialer
	logger    logging.Logger
	chunkSize int
}

// Option customizes a Backend.
type Option func(*Backend)

// WithChunkSize overrides the streaming chunk size used by Upload.
func WithChunkSize(n int) Option {
	return func(b *Backend) {
		if n > 0 {
			b.chunkSize = n
		}
	}
}

// New returns a Backend that dials a fresh Conn for every operation.
func New(resolver *Resolver, dialer Dialer, logger logging.Logger, opts ...Option) *Backend {
	b := &Backend{
		resolver:  resolver,
		dialer:    dialer,
		logger:    logger.With("module", "storage"),
		chunkSize: common.ChunkSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Resolve exposes the backend-absolute form of p.
func (b *Backend) Resolve(p string) string {
	return b.resolver.Resolve(p)
}

// Root returns the configured backend root.
func (b *Backend) Root() string {
	return b.resolver.Root()
}

func (b *Backend) dial(ctx context.Context) (Conn, error) {
	conn, err := b.dialer.Dial(ctx)
	if err != nil {
		return nil, BackendUnavailableError.Wrap(err)
	}
	return conn, nil
}

func (b *Backend) release(ctx context.Context, conn Conn, op, p string) {
	if err := conn.Close(); err != nil {
		b.logger.Warn(ctx, "close backend handle", "op", op, "path", p, "error", err)
	}
}

// withConn runs fn on a freshly dialed Conn and releases it afterwards,
// including when fn panics.
func (b *Backend) withConn(ctx context.Context, op, p string, fn func(Conn) error) error {
	conn, err := b.dial(ctx)
	if err != nil {
		return err
	}
	defer b.release(ctx, conn, op, p)
	return fn(conn)
}

// Stat returns metadata for p.
func (b *Backend) Stat(ctx context.Context, p string) (FileInfo, error) {
	abs := b.resolver.Resolve(p)
	var fi FileInfo
	err := b.withConn(ctx, "stat", abs, func(c Conn) error {
		var err error
		fi, err = c.Stat(ctx, abs)
		return err
	})
	return fi, classify(err)
}

// Exists reports whether p is present. Any error, including an unreachable
// backend, is logged and reported as false.
func (b *Backend) Exists(ctx context.Context, p string) bool {
	abs := b.resolver.Resolve(p)
	found := false
	err := b.withConn(ctx, "exists", abs, func(c Conn) error {
		_, err := c.Stat(ctx, abs)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return nil
		case err != nil:
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		b.logger.Error(ctx, "check existence failed", "path", abs, "error", err)
		return false
	}
	return found
}

// Mkdir creates p and any missing parents. An existing path is left
// untouched and reported as AlreadyPresent.
func (b *Backend) Mkdir(ctx context.Context, p string) (Outcome, error) {
	if b.Exists(ctx, p) {
		return AlreadyPresent, nil
	}

	abs := b.resolver.Resolve(p)
	err := b.withConn(ctx, "mkdir", abs, func(c Conn) error {
		return c.MkdirAll(ctx, abs)
	})
	if err != nil {
		b.logger.Error(ctx, "create directory failed", "path", abs, "error", err)
		return Failed, fmt.Errorf("mkdir %s: %w", abs, err)
	}
	return Created, nil
}

// WriteStream opens p for streaming writes. The returned handle owns its
// Conn; closing the handle releases it. Nothing is rolled back when a write
// fails part-way.
func (b *Backend) WriteStream(ctx context.Context, p string, overwrite bool) (*WriteHandle, error) {
	abs := b.resolver.Resolve(p)
	conn, err := b.dial(ctx)
	if err != nil {
		return nil, err
	}

	w, err := conn.Create(ctx, abs, overwrite)
	if err != nil {
		b.release(ctx, conn, "create", abs)
		b.logger.Error(ctx, "open write stream failed", "path", abs, "error", err)
		return nil, fmt.Errorf("create %s: %w", abs, classify(err))
	}

	return &WriteHandle{ctx: ctx, path: abs, w: w, conn: conn, backend: b}, nil
}

// Upload streams r into p in chunks, flushing after each one, and closes the
// destination. It returns the number of bytes written. Failures after the first byte belong to
// PartialWriteError.
func (b *Backend) Upload(ctx context.Context, p string, r io.Reader, overwrite bool) (int64, error) {
	h, err := b.WriteStream(ctx, p, overwrite)
	if err != nil {
		return 0, err
	}

	buf := make([]byte, b.chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			_ = h.Close()
			return h.Written(), PartialWriteError.Wrap(err)
		}

		n, rerr := r.Read(buf)
		if n > 0 {
			if _, werr := h.Write(buf[:n]); werr != nil {
				_ = h.Close()
				return h.Written(), werr
			}
			if ferr := h.Flush(); ferr != nil {
				_ = h.Close()
				return h.Written(), ferr
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			_ = h.Close()
			b.logger.Error(ctx, "read upload source failed", "path", h.Path(), "written", h.Written(), "error", rerr)
			return h.Written(), PartialWriteError.Wrap(rerr)
		}
	}

	if err := h.Close(); err != nil {
		return h.Written(), err
	}
	return h.Written(), nil
}

// ReadStream opens p for reading. The reader owns its Conn; closing it
// releases the handle. Absent paths yield NotFoundError.
func (b *Backend) ReadStream(ctx context.Context, p string) (io.ReadCloser, error) {
	abs := b.resolver.Resolve(p)
	conn, err := b.dial(ctx)
	if err != nil {
		return nil, err
	}

	rc, err := conn.Open(ctx, abs)
	if err != nil {
		b.release(ctx, conn, "open", abs)
		b.logger.Error(ctx, "open read stream failed", "path", abs, "error", err)
		return nil, fmt.Errorf("open %s: %w", abs, classify(err))
	}
	return &readHandle{ctx: ctx, path: abs, rc: rc, conn: conn, backend: b}, nil
}

// ReadAll returns the full contents of p.
func (b *Backend) ReadAll(ctx context.Context, p string) ([]byte, error) {
	rc, err := b.ReadStream(ctx, p)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", b.resolver.Resolve(p), err)
	}
	return data, nil
}

// ReadText returns p decoded from the named encoding (any WHATWG label such
// as "gbk" or "windows-1252"; empty means UTF-8).
func (b *Backend) ReadText(ctx context.Context, p, encoding string) (string, error) {
	rc, err := b.ReadStream(ctx, p)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	var r io.Reader = rc
	if name := strings.TrimSpace(encoding); name != "" && !strings.EqualFold(name, "utf-8") && !strings.EqualFold(name, "utf8") {
		enc, err := htmlindex.Get(name)
		if err != nil {
			return "", fmt.Errorf("encoding %q: %w", encoding, err)
		}
		r = transform.NewReader(rc, enc.NewDecoder())
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", b.resolver.Resolve(p), err)
	}
	return string(data), nil
}

// ReadJSON decodes the JSON document at p into v.
func (b *Backend) ReadJSON(ctx context.Context, p string, v any) error {
	rc, err := b.ReadStream(ctx, p)
	if err != nil {
		return err
	}
	defer rc.Close()

	if err := json.NewDecoder(rc).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", b.resolver.Resolve(p), err)
	}
	return nil
}

// Delete removes p, recursively when asked to.
func (b *Backend) Delete(ctx context.Context, p string, recursive bool) (Outcome, error) {
	abs := b.resolver.Resolve(p)
	err := b.withConn(ctx, "delete", abs, func(c Conn) error {
		return c.Remove(ctx, abs, recursive)
	})
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return Absent, nil
	case err != nil:
		b.logger.Error(ctx, "delete failed", "path", abs, "recursive", recursive, "error", err)
		return Failed, fmt.Errorf("delete %s: %w", abs, err)
	}
	return Deleted, nil
}

// Rename moves src to dst in one backend operation.
func (b *Backend) Rename(ctx context.Context, src, dst string) (Outcome, error) {
	absSrc, absDst := b.resolver.Resolve(src), b.resolver.Resolve(dst)
	err := b.withConn(ctx, "rename", absSrc, func(c Conn) error {
		return c.Rename(ctx, absSrc, absDst)
	})
	if err != nil {
		b.logger.Error(ctx, "rename failed", "src", absSrc, "dst", absDst, "error", err)
		return Failed, fmt.Errorf("rename %s to %s: %w", absSrc, absDst, classify(err))
	}
	return Renamed, nil
}

// List returns the immediate children of p that pass filter (nil accepts
// everything) and are directories when wantDirs is set, files otherwise.
func (b *Backend) List(ctx context.Context, p string, filter func(string) bool, wantDirs bool) ([]string, error) {
	entries, err := b.readDir(ctx, p)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if filter != nil && !filter(e.Path) {
			continue
		}
		if e.IsDir == wantDirs {
			out = append(out, e.Path)
		}
	}
	return out, nil
}

// ListEntries returns metadata for the immediate children of p that pass
// filter. A missing p yields an empty result.
func (b *Backend) ListEntries(ctx context.Context, p string, filter func(string) bool) ([]FileInfo, error) {
	entries, err := b.readDir(ctx, p)
	if NotFoundError.Has(err) {
		return []FileInfo{}, nil
	}
	if err != nil {
		return nil, err
	}

	out := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		if filter == nil || filter(e.Path) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (b *Backend) readDir(ctx context.Context, p string) ([]FileInfo, error) {
	abs := b.resolver.Resolve(p)
	var entries []FileInfo
	err := b.withConn(ctx, "list", abs, func(c Conn) error {
		var err error
		entries, err = c.ReadDir(ctx, abs)
		return err
	})
	if err != nil {
		b.logger.Error(ctx, "list failed", "path", abs, "error", err)
		return nil, fmt.Errorf("list %s: %w", abs, classify(err))
	}
	return entries, nil
}

// BlockLocations describes the placement of p from offset 0 to its length.
func (b *Backend) BlockLocations(ctx context.Context, p string) ([]BlockLocation, error) {
	abs := b.resolver.Resolve(p)
	var locs []BlockLocation
	err := b.withConn(ctx, "block locations", abs, func(c Conn) error {
		var err error
		locs, err = c.BlockLocations(ctx, abs)
		return err
	})
	if err != nil {
		b.logger.Error(ctx, "block locations failed", "path", abs, "error", err)
		return nil, fmt.Errorf("block locations %s: %w", abs, classify(err))
	}
	return locs, nil
}

// HealthCheck dials the backend and asks for its status.
func (b *Backend) HealthCheck(ctx context.Context) bool {
	err := b.withConn(ctx, "status", b.resolver.Root(), func(c Conn) error {
		_, err := c.Status(ctx)
		return err
	})
	if err != nil {
		b.logger.Error(ctx, "backend health check failed", "root", b.resolver.Root(), "error", err)
		return false
	}
	return true
}

// CopyFromLocal uploads the local file at localPath into dstDir, keeping
// its base name, and returns the destination path.
func (b *Backend) CopyFromLocal(ctx context.Context, localPath, dstDir string, overwrite bool) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open local %s: %w", localPath, err)
	}
	defer f.Close()

	dst := Join(b.resolver.Resolve(dstDir), filepath.Base(localPath))
	if _, err := b.Upload(ctx, dst, f, overwrite); err != nil {
		return "", err
	}
	return dst, nil
}

// CopyToLocal downloads src to localPath, replacing any existing file and
// creating missing local directories.
func (b *Backend) CopyToLocal(ctx context.Context, src, localPath string) error {
	rc, err := b.ReadStream(ctx, src)
	if err != nil {
		return err
	}
	defer rc.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o750); err != nil {
		return fmt.Errorf("mkdir local %s: %w", filepath.Dir(localPath), err)
	}
	f, err := os.OpenFile(localPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("create local %s: %w", localPath, err)
	}

	if _, err := io.Copy(f, rc); err != nil {
		_ = f.Close()
		return fmt.Errorf("download %s: %w", b.resolver.Resolve(src), err)
	}
	return f.Close()
}
