// Package local serves file:// roots from the machine's own filesystem. It
// stands in for the cluster in development and single-node setups.
package local

import (
	"bufio"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/fileproxy/internal/common"
	"github.com/dmitrijs2005/fileproxy/internal/storage"
)

const (
	dirPerm  os.FileMode = 0o750
	filePerm os.FileMode = 0o640
)

// Dialer hands out Conns on the local filesystem.
type Dialer struct {
	root string
}

// NewDialer checks that root's native directory exists.
func NewDialer(root string) (*Dialer, error) {
	loc, err := storage.Split(root)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(filepath.FromSlash(loc.Path))
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, &fs.PathError{Op: "open", Path: root, Err: errors.New("not a directory")}
	}
	return &Dialer{root: root}, nil
}

// Dial implements storage.Dialer.
func (d *Dialer) Dial(ctx context.Context) (storage.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &conn{root: d.root}, nil
}

type conn struct {
	root   string
	closed bool
}

func native(ctx context.Context, abs string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	loc, err := storage.Split(abs)
	if err != nil {
		return "", err
	}
	return filepath.FromSlash(loc.Path), nil
}

func toFileInfo(abs string, fi fs.FileInfo) storage.FileInfo {
	return storage.FileInfo{
		Path:    abs,
		Name:    fi.Name(),
		Size:    fi.Size(),
		IsDir:   fi.IsDir(),
		ModTime: fi.ModTime(),
	}
}

func (c *conn) Stat(ctx context.Context, abs string) (storage.FileInfo, error) {
	p, err := native(ctx, abs)
	if err != nil {
		return storage.FileInfo{}, err
	}
	fi, err := os.Stat(p)
	if err != nil {
		return storage.FileInfo{}, err
	}
	return toFileInfo(abs, fi), nil
}

func (c *conn) MkdirAll(ctx context.Context, abs string) error {
	p, err := native(ctx, abs)
	if err != nil {
		return err
	}
	return os.MkdirAll(p, dirPerm)
}

type fileWriter struct {
	f *os.File
	*bufio.Writer
}

// Flush hands buffered bytes to the OS. Close syncs them to disk.
func (w *fileWriter) Flush() error {
	return w.Writer.Flush()
}

func (w *fileWriter) Close() error {
	if err := w.Writer.Flush(); err != nil {
		_ = w.f.Close()
		return err
	}
	if err := w.f.Sync(); err != nil {
		_ = w.f.Close()
		return err
	}
	return w.f.Close()
}

func (c *conn) Create(ctx context.Context, abs string, overwrite bool) (storage.Writer, error) {
	p, err := native(ctx, abs)
	if err != nil {
		return nil, err
	}
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if !overwrite {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(p, flags, filePerm)
	if err != nil {
		return nil, err
	}
	return &fileWriter{f: f, Writer: bufio.NewWriterSize(f, common.ChunkSize)}, nil
}

func (c *conn) Open(ctx context.Context, abs string) (io.ReadCloser, error) {
	p, err := native(ctx, abs)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	if fi, err := f.Stat(); err == nil && fi.IsDir() {
		_ = f.Close()
		return nil, &fs.PathError{Op: "open", Path: abs, Err: errors.New("is a directory")}
	}
	return f, nil
}

func (c *conn) Remove(ctx context.Context, abs string, recursive bool) error {
	p, err := native(ctx, abs)
	if err != nil {
		return err
	}
	if !recursive {
		return os.Remove(p)
	}
	if _, err := os.Lstat(p); err != nil {
		return err
	}
	return os.RemoveAll(p)
}

func (c *conn) Rename(ctx context.Context, src, dst string) error {
	s, err := native(ctx, src)
	if err != nil {
		return err
	}
	d, err := native(ctx, dst)
	if err != nil {
		return err
	}
	return os.Rename(s, d)
}

func (c *conn) ReadDir(ctx context.Context, abs string) ([]storage.FileInfo, error) {
	p, err := native(ctx, abs)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(p)
	if err != nil {
		return nil, err
	}
	out := make([]storage.FileInfo, 0, len(entries))
	for _, e := range entries {
		fi, err := e.Info()
		if err != nil {
			return nil, err
		}
		out = append(out, toFileInfo(storage.Join(abs, e.Name()), fi))
	}
	return out, nil
}

// BlockLocations reports the whole file as one block on this host.
func (c *conn) BlockLocations(ctx context.Context, abs string) ([]storage.BlockLocation, error) {
	fi, err := c.Stat(ctx, abs)
	if err != nil {
		return nil, err
	}
	host, _ := os.Hostname()
	return storage.SplitBlocks(fi.Size, 0, []string{host}), nil
}

// Status only verifies that the root is reachable; capacity is not reported.
func (c *conn) Status(ctx context.Context) (storage.FsStatus, error) {
	if _, err := c.Stat(ctx, c.root); err != nil {
		return storage.FsStatus{}, err
	}
	return storage.FsStatus{}, nil
}

func (c *conn) Close() error {
	if c.closed {
		return errors.New("local: conn already closed")
	}
	c.closed = true
	return nil
}
