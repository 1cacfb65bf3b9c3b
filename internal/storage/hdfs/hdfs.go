// Package hdfs connects storage.Backend to an HDFS cluster through the
// native namenode/datanode protocol.
package hdfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"time"

	gohdfs "github.com/colinmarc/hdfs/v2"
	"github.com/colinmarc/hdfs/v2/hadoopconf"

	"github.com/dmitrijs2005/fileproxy/internal/storage"
)

// Options configure the dialer.
type Options struct {
	// Addresses of the namenodes. When empty, the root's authority is used,
	// and when that is empty too the Hadoop configuration found through
	// HADOOP_CONF_DIR / HADOOP_HOME.
	Addresses []string
	// User is the principal files are created as.
	User string
	// UseDatanodeHostname connects to datanodes by hostname instead of IP.
	UseDatanodeHostname bool
	// DialTimeout bounds every TCP connect. Zero means no timeout.
	DialTimeout time.Duration
}

// client is the subset of *gohdfs.Client the driver calls.
type client interface {
	Stat(name string) (os.FileInfo, error)
	MkdirAll(dirname string, perm os.FileMode) error
	Create(name string) (storage.Writer, error)
	Open(name string) (io.ReadCloser, error)
	Remove(name string) error
	RemoveAll(name string) error
	Rename(oldpath, newpath string) error
	ReadDir(dirname string) ([]os.FileInfo, error)
	StatFs() (gohdfs.FsInfo, error)
	Close() error
}

type nativeClient struct {
	*gohdfs.Client
}

func (c nativeClient) Create(name string) (storage.Writer, error) {
	w, err := c.Client.Create(name)
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (c nativeClient) Open(name string) (io.ReadCloser, error) {
	r, err := c.Client.Open(name)
	if err != nil {
		return nil, err
	}
	return r, nil
}

var (
	loadHadoopConf = hadoopconf.LoadFromEnvironment
	newClient      = func(opts gohdfs.ClientOptions) (client, error) {
		c, err := gohdfs.NewClient(opts)
		if err != nil {
			return nil, err
		}
		return nativeClient{c}, nil
	}
)

const dirPerm os.FileMode = 0o755

// Dialer opens one namenode client per Dial.
type Dialer struct {
	opts gohdfs.ClientOptions
}

// NewDialer builds the client options once. root is the backend root URI; its
// authority is the default namenode address.
func NewDialer(root string, o Options) (*Dialer, error) {
	loc, err := storage.Split(root)
	if err != nil {
		return nil, err
	}

	var opts gohdfs.ClientOptions
	switch {
	case len(o.Addresses) > 0:
		opts.Addresses = o.Addresses
	case loc.Authority != "":
		opts.Addresses = []string{loc.Authority}
	default:
		conf, err := loadHadoopConf()
		if err != nil {
			return nil, fmt.Errorf("load hadoop configuration: %w", err)
		}
		opts = gohdfs.ClientOptionsFromConf(conf)
		if len(opts.Addresses) == 0 {
			return nil, fmt.Errorf("no namenode address for root %q", root)
		}
	}

	opts.User = o.User
	opts.UseDatanodeHostname = o.UseDatanodeHostname
	if o.DialTimeout > 0 {
		d := &net.Dialer{Timeout: o.DialTimeout}
		opts.NamenodeDialFunc = d.DialContext
		opts.DatanodeDialFunc = d.DialContext
	}
	return &Dialer{opts: opts}, nil
}

// Dial implements storage.Dialer.
func (d *Dialer) Dial(ctx context.Context) (storage.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := newClient(d.opts)
	if err != nil {
		return nil, fmt.Errorf("connect namenode %v: %w", d.opts.Addresses, err)
	}
	return &conn{c: c}, nil
}

type conn struct {
	c client
}

func native(abs string) (string, error) {
	loc, err := storage.Split(abs)
	if err != nil {
		return "", err
	}
	return loc.Path, nil
}

// prepare checks ctx and maps abs to a namenode path.
func prepare(ctx context.Context, abs string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return native(abs)
}

func toFileInfo(abs string, fi os.FileInfo) storage.FileInfo {
	out := storage.FileInfo{
		Path:    abs,
		Name:    fi.Name(),
		Size:    fi.Size(),
		IsDir:   fi.IsDir(),
		ModTime: fi.ModTime(),
	}
	if st, ok := fi.Sys().(interface{ GetBlocksize() uint64 }); ok {
		out.BlockSize = int64(st.GetBlocksize())
	}
	return out
}

func (c *conn) Stat(ctx context.Context, abs string) (storage.FileInfo, error) {
	p, err := prepare(ctx, abs)
	if err != nil {
		return storage.FileInfo{}, err
	}
	fi, err := c.c.Stat(p)
	if err != nil {
		return storage.FileInfo{}, err
	}
	return toFileInfo(abs, fi), nil
}

func (c *conn) MkdirAll(ctx context.Context, abs string) error {
	p, err := prepare(ctx, abs)
	if err != nil {
		return err
	}
	return c.c.MkdirAll(p, dirPerm)
}

func (c *conn) Create(ctx context.Context, abs string, overwrite bool) (storage.Writer, error) {
	p, err := prepare(ctx, abs)
	if err != nil {
		return nil, err
	}

	// The namenode refuses to create over an existing file.
	fi, err := c.c.Stat(p)
	switch {
	case err == nil && fi.IsDir():
		return nil, &fs.PathError{Op: "create", Path: abs, Err: errors.New("is a directory")}
	case err == nil && !overwrite:
		return nil, &fs.PathError{Op: "create", Path: abs, Err: fs.ErrExist}
	case err == nil:
		if err := c.c.Remove(p); err != nil {
			return nil, err
		}
	case !os.IsNotExist(err):
		return nil, err
	}
	return c.c.Create(p)
}

func (c *conn) Open(ctx context.Context, abs string) (io.ReadCloser, error) {
	p, err := prepare(ctx, abs)
	if err != nil {
		return nil, err
	}
	return c.c.Open(p)
}

func (c *conn) Remove(ctx context.Context, abs string, recursive bool) error {
	p, err := prepare(ctx, abs)
	if err != nil {
		return err
	}
	if recursive {
		// RemoveAll succeeds on missing paths; callers need to tell.
		if _, err := c.c.Stat(p); err != nil {
			return err
		}
		return c.c.RemoveAll(p)
	}
	return c.c.Remove(p)
}

func (c *conn) Rename(ctx context.Context, src, dst string) error {
	s, err := prepare(ctx, src)
	if err != nil {
		return err
	}
	d, err := native(dst)
	if err != nil {
		return err
	}
	return c.c.Rename(s, d)
}

func (c *conn) ReadDir(ctx context.Context, abs string) ([]storage.FileInfo, error) {
	p, err := prepare(ctx, abs)
	if err != nil {
		return nil, err
	}
	entries, err := c.c.ReadDir(p)
	if err != nil {
		return nil, err
	}
	out := make([]storage.FileInfo, 0, len(entries))
	for _, fi := range entries {
		out = append(out, toFileInfo(storage.Join(abs, fi.Name()), fi))
	}
	return out, nil
}

// BlockLocations splits the file by its block size. The client library does
// not expose replica hosts, so Hosts is always empty.
func (c *conn) BlockLocations(ctx context.Context, abs string) ([]storage.BlockLocation, error) {
	fi, err := c.Stat(ctx, abs)
	if err != nil {
		return nil, err
	}
	return storage.SplitBlocks(fi.Size, fi.BlockSize, nil), nil
}

func (c *conn) Status(ctx context.Context) (storage.FsStatus, error) {
	if err := ctx.Err(); err != nil {
		return storage.FsStatus{}, err
	}
	st, err := c.c.StatFs()
	if err != nil {
		return storage.FsStatus{}, err
	}
	return storage.FsStatus{Capacity: st.Capacity, Used: st.Used, Remaining: st.Remaining}, nil
}

func (c *conn) Close() error {
	return c.c.Close()
}
