package storage

import (
	"context"
	"io"
	"time"
)

// Conn is a handle to the backend cluster scoped to one operation. It is
// dialed, used and closed by a single Backend method and never shared.
//
// All paths are backend-absolute (see Resolve). Missing paths are reported
// with errors matching fs.ErrNotExist.
type Conn interface {
	Stat(ctx context.Context, p string) (FileInfo, error)
	MkdirAll(ctx context.Context, p string) error
	// Create opens p for writing. Without overwrite an existing file is an
	// error matching fs.ErrExist.
	Create(ctx context.Context, p string, overwrite bool) (Writer, error)
	Open(ctx context.Context, p string) (io.ReadCloser, error)
	Remove(ctx context.Context, p string, recursive bool) error
	// Rename moves src to dst, replacing a file already at dst.
	Rename(ctx context.Context, src, dst string) error
	ReadDir(ctx context.Context, p string) ([]FileInfo, error)
	BlockLocations(ctx context.Context, p string) ([]BlockLocation, error)
	Status(ctx context.Context) (FsStatus, error)
	Close() error
}

// Writer is a streaming destination opened by Conn.Create.
type Writer interface {
	io.WriteCloser
	Flush() error
}

// Dialer opens a new Conn.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context) (Conn, error) {
	return f(ctx)
}

// FileInfo describes one backend entry.
type FileInfo struct {
	Path      string
	Name      string
	Size      int64
	IsDir     bool
	ModTime   time.Time
	BlockSize int64
}

// BlockLocation describes where a byte range of a file is stored.
type BlockLocation struct {
	Offset int64
	Length int64
	// Hosts lists the nodes holding a replica, when the driver knows them.
	Hosts []string
}

// FsStatus is the backend's capacity report.
type FsStatus struct {
	Capacity  uint64
	Used      uint64
	Remaining uint64
}

// SplitBlocks cuts [0, size) into blockSize ranges. Drivers that know block
// sizes but not replica placement use it for BlockLocations.
func SplitBlocks(size, blockSize int64, hosts []string) []BlockLocation {
	if size <= 0 {
		return nil
	}
	if blockSize <= 0 || blockSize > size {
		blockSize = size
	}
	out := make([]BlockLocation, 0, (size+blockSize-1)/blockSize)
	for off := int64(0); off < size; off += blockSize {
		n := blockSize
		if off+n > size {
			n = size - off
		}
		out = append(out, BlockLocation{Offset: off, Length: n, Hosts: hosts})
	}
	return out
}
