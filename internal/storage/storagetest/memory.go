// Package storagetest provides an in-memory storage.Dialer for tests.
//
// It keeps a hierarchical namespace keyed by native path (the authority of
// backend-absolute paths is ignored) and counts dials and closes so tests
// can check that every handle is released.
package storagetest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/fileproxy/internal/storage"
)

// FS is an in-memory file tree shared by all Conns it dials.
type FS struct {
	mu       sync.Mutex
	files    map[string][]byte
	dirs     map[string]time.Time
	failures map[string]error

	dials   int
	closes  int
	flushes int

	// DialErr, when set, makes Dial fail.
	DialErr error
	// BlockSize is used by BlockLocations.
	BlockSize int64
}

// New returns an empty tree holding only "/".
func New() *FS {
	return &FS{
		files:     map[string][]byte{},
		dirs:      map[string]time.Time{"/": time.Now()},
		failures:  map[string]error{},
		BlockSize: 4,
	}
}

// Fail makes every call of op ("stat", "mkdir", "create", "write", "flush",
// "open", "remove", "rename", "readdir", "blocks", "status") return err. A nil err
// clears the failure.
func (f *FS) Fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, op)
		return
	}
	f.failures[op] = err
}

// Dials is the number of successful Dial calls.
func (f *FS) Dials() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

// Flushes is the number of explicit Writer.Flush calls.
func (f *FS) Flushes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushes
}

// OpenConns is the number of dialed Conns not yet closed.
func (f *FS) OpenConns() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials - f.closes
}

// File returns the content stored at abs.
func (f *FS) File(abs string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.files[native(abs)]
	return append([]byte(nil), b...), ok
}

// IsDir reports whether abs is a directory.
func (f *FS) IsDir(abs string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.dirs[native(abs)]
	return ok
}

// Paths lists every file path, sorted.
func (f *FS) Paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.files))
	for p := range f.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Dial implements storage.Dialer.
func (f *FS) Dial(ctx context.Context) (storage.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DialErr != nil {
		return nil, f.DialErr
	}
	f.dials++
	return &conn{fs: f}, nil
}

func native(abs string) string {
	loc, err := storage.Split(abs)
	if err != nil {
		return abs
	}
	p := path.Clean(loc.Path)
	return p
}

func notExist(op, p string) error {
	return &fs.PathError{Op: op, Path: p, Err: fs.ErrNotExist}
}

type conn struct {
	fs     *FS
	closed bool
}

func (c *conn) check(ctx context.Context, op string) error {
	if c.closed {
		return errors.New("storagetest: use of closed conn")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.fs.failures[op]
}

func (c *conn) Stat(ctx context.Context, p string) (storage.FileInfo, error) {
	c.fs.mu.Lock()
	defer c.fs.mu.Unlock()
	if err := c.check(ctx, "stat"); err != nil {
		return storage.FileInfo{}, err
	}
	return c.fs.stat(p)
}

func (f *FS) stat(abs string) (storage.FileInfo, error) {
	n := native(abs)
	if t, ok := f.dirs[n]; ok {
		return storage.FileInfo{Path: abs, Name: path.Base(n), IsDir: true, ModTime: t}, nil
	}
	if b, ok := f.files[n]; ok {
		return storage.FileInfo{Path: abs, Name: path.Base(n), Size: int64(len(b)), BlockSize: f.BlockSize}, nil
	}
	return storage.FileInfo{}, notExist("stat", abs)
}

func (c *conn) MkdirAll(ctx context.Context, p string) error {
	c.fs.mu.Lock()
	defer c.fs.mu.Unlock()
	if err := c.check(ctx, "mkdir"); err != nil {
		return err
	}

	cur := "/"
	for _, seg := range strings.Split(strings.Trim(native(p), "/"), "/") {
		if seg == "" {
			continue
		}
		cur = path.Join(cur, seg)
		if _, ok := c.fs.files[cur]; ok {
			return fmt.Errorf("mkdir %s: not a directory", cur)
		}
		if _, ok := c.fs.dirs[cur]; !ok {
			c.fs.dirs[cur] = time.Now()
		}
	}
	return nil
}

func (c *conn) Create(ctx context.Context, p string, overwrite bool) (storage.Writer, error) {
	c.fs.mu.Lock()
	defer c.fs.mu.Unlock()
	if err := c.check(ctx, "create"); err != nil {
		return nil, err
	}

	n := native(p)
	if _, ok := c.fs.dirs[path.Dir(n)]; !ok {
		return nil, notExist("create", path.Dir(n))
	}
	if _, ok := c.fs.dirs[n]; ok {
		return nil, fmt.Errorf("create %s: is a directory", p)
	}
	if _, ok := c.fs.files[n]; ok && !overwrite {
		return nil, &fs.PathError{Op: "create", Path: p, Err: fs.ErrExist}
	}
	c.fs.files[n] = []byte{}
	return &writer{fs: c.fs, path: n}, nil
}

type writer struct {
	fs     *FS
	path   string
	buf    bytes.Buffer
	closed bool
}

func (w *writer) Write(p []byte) (int, error) {
	w.fs.mu.Lock()
	err := w.fs.failures["write"]
	w.fs.mu.Unlock()
	if w.closed {
		return 0, errors.New("storagetest: write on closed writer")
	}
	if err != nil {
		return 0, err
	}
	return w.buf.Write(p)
}

func (w *writer) Flush() error {
	w.fs.mu.Lock()
	defer w.fs.mu.Unlock()
	w.fs.flushes++
	if err := w.fs.failures["flush"]; err != nil {
		return err
	}
	w.store()
	return nil
}

// store publishes the buffer; callers hold fs.mu.
func (w *writer) store() {
	w.fs.files[w.path] = append([]byte(nil), w.buf.Bytes()...)
}

func (w *writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.fs.mu.Lock()
	defer w.fs.mu.Unlock()
	w.store()
	return nil
}

func (c *conn) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	c.fs.mu.Lock()
	defer c.fs.mu.Unlock()
	if err := c.check(ctx, "open"); err != nil {
		return nil, err
	}
	b, ok := c.fs.files[native(p)]
	if !ok {
		return nil, notExist("open", p)
	}
	return io.NopCloser(bytes.NewReader(append([]byte(nil), b...))), nil
}

func (c *conn) Remove(ctx context.Context, p string, recursive bool) error {
	c.fs.mu.Lock()
	defer c.fs.mu.Unlock()
	if err := c.check(ctx, "remove"); err != nil {
		return err
	}

	n := native(p)
	if _, ok := c.fs.files[n]; ok {
		delete(c.fs.files, n)
		return nil
	}
	if _, ok := c.fs.dirs[n]; !ok {
		return notExist("remove", p)
	}

	prefix := strings.TrimRight(n, "/") + "/"
	children := false
	for k := range c.fs.files {
		children = children || strings.HasPrefix(k, prefix)
	}
	for k := range c.fs.dirs {
		children = children || strings.HasPrefix(k, prefix)
	}
	if children && !recursive {
		return fmt.Errorf("remove %s: directory not empty", p)
	}
	for k := range c.fs.files {
		if strings.HasPrefix(k, prefix) {
			delete(c.fs.files, k)
		}
	}
	for k := range c.fs.dirs {
		if strings.HasPrefix(k, prefix) {
			delete(c.fs.dirs, k)
		}
	}
	if n != "/" {
		delete(c.fs.dirs, n)
	}
	return nil
}

func (c *conn) Rename(ctx context.Context, src, dst string) error {
	c.fs.mu.Lock()
	defer c.fs.mu.Unlock()
	if err := c.check(ctx, "rename"); err != nil {
		return err
	}

	s, d := native(src), native(dst)
	if _, ok := c.fs.dirs[path.Dir(d)]; !ok {
		return notExist("rename", path.Dir(d))
	}
	if b, ok := c.fs.files[s]; ok {
		if _, isDir := c.fs.dirs[d]; isDir {
			return fmt.Errorf("rename %s: destination is a directory", dst)
		}
		c.fs.files[d] = b
		delete(c.fs.files, s)
		return nil
	}
	if _, ok := c.fs.dirs[s]; !ok {
		return notExist("rename", src)
	}
	if _, ok := c.fs.dirs[d]; ok {
		return &fs.PathError{Op: "rename", Path: dst, Err: fs.ErrExist}
	}
	prefix := s + "/"
	for k, v := range c.fs.files {
		if strings.HasPrefix(k, prefix) {
			c.fs.files[d+"/"+strings.TrimPrefix(k, prefix)] = v
			delete(c.fs.files, k)
		}
	}
	for k, v := range c.fs.dirs {
		if strings.HasPrefix(k, prefix) {
			c.fs.dirs[d+"/"+strings.TrimPrefix(k, prefix)] = v
			delete(c.fs.dirs, k)
		}
	}
	c.fs.dirs[d] = c.fs.dirs[s]
	delete(c.fs.dirs, s)
	return nil
}

func (c *conn) ReadDir(ctx context.Context, p string) ([]storage.FileInfo, error) {
	c.fs.mu.Lock()
	defer c.fs.mu.Unlock()
	if err := c.check(ctx, "readdir"); err != nil {
		return nil, err
	}

	n := native(p)
	if _, ok := c.fs.dirs[n]; !ok {
		return nil, notExist("readdir", p)
	}

	var names []string
	for k := range c.fs.files {
		if k != n && path.Dir(k) == n {
			names = append(names, k)
		}
	}
	for k := range c.fs.dirs {
		if k != n && path.Dir(k) == n {
			names = append(names, k)
		}
	}
	sort.Strings(names)

	out := make([]storage.FileInfo, 0, len(names))
	for _, k := range names {
		fi, err := c.fs.stat(storage.Join(p, path.Base(k)))
		if err != nil {
			return nil, err
		}
		out = append(out, fi)
	}
	return out, nil
}

func (c *conn) BlockLocations(ctx context.Context, p string) ([]storage.BlockLocation, error) {
	c.fs.mu.Lock()
	defer c.fs.mu.Unlock()
	if err := c.check(ctx, "blocks"); err != nil {
		return nil, err
	}
	b, ok := c.fs.files[native(p)]
	if !ok {
		return nil, notExist("blocks", p)
	}
	return storage.SplitBlocks(int64(len(b)), c.fs.BlockSize, []string{"memory"}), nil
}

func (c *conn) Status(ctx context.Context) (storage.FsStatus, error) {
	c.fs.mu.Lock()
	defer c.fs.mu.Unlock()
	if err := c.check(ctx, "status"); err != nil {
		return storage.FsStatus{}, err
	}
	var used uint64
	for _, b := range c.fs.files {
		used += uint64(len(b))
	}
	return storage.FsStatus{Capacity: 1 << 30, Used: used, Remaining: 1<<30 - used}, nil
}

func (c *conn) Close() error {
	c.fs.mu.Lock()
	defer c.fs.mu.Unlock()
	if c.closed {
		return errors.New("storagetest: conn closed twice")
	}
	c.closed = true
	c.fs.closes++
	return nil
}
