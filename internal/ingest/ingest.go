// Package ingest turns an encrypted upload into a file in the date
// partition of the backend.
//
// Every request runs the same steps: sanitize the declared filename, decrypt
// the body, compute the partition directory, create it when missing, and
// stream the plaintext to <base>/<namespace>/<yyyyMMdd>/<filename>. Any
// failing step fails the whole request; nothing is retried.
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/dmitrijs2005/fileproxy/internal/common"
	"github.com/dmitrijs2005/fileproxy/internal/cryptox"
	"github.com/dmitrijs2005/fileproxy/internal/logging"
	"github.com/dmitrijs2005/fileproxy/internal/storage"
)

// Decrypter is the server key pair as seen by the pipeline.
type Decrypter interface {
	Decrypt(ciphertext []byte) ([]byte, error)
	OpenEnvelope(r io.Reader) (io.Reader, error)
	BlockSize() int
}

// Storage is the subset of storage.Backend the pipeline drives.
type Storage interface {
	Resolve(p string) string
	Exists(ctx context.Context, p string) bool
	Mkdir(ctx context.Context, p string) (storage.Outcome, error)
	Upload(ctx context.Context, p string, r io.Reader, overwrite bool) (int64, error)
	Rename(ctx context.Context, src, dst string) (storage.Outcome, error)
	Delete(ctx context.Context, p string, recursive bool) (storage.Outcome, error)
}

// Journal records stored uploads.
type Journal interface {
	Record(ctx context.Context, r Receipt) error
}

// Mode is how a payload was encrypted.
type Mode string

const (
	ModeDirect   Mode = "direct"
	ModeEnvelope Mode = "envelope"
)

// Request is one upload: the encrypted body and the client's filename.
type Request struct {
	Filename string
	Body     io.Reader
}

// Receipt describes a stored upload.
type Receipt struct {
	ID        uuid.UUID
	Filename  string
	Partition string
	// Path is backend-absolute.
	Path     string
	Size     int64
	Digest   string
	Mode     Mode
	StoredAt time.Time
}

// Options control where and how uploads land.
type Options struct {
	// BasePath is the destination root below the backend root.
	BasePath string
	// Namespace is the fixed segment between BasePath and the date.
	Namespace string
	// Location is the time zone the date partition is computed in.
	Location *time.Location
	// AtomicPublish writes to a hidden sibling and renames it into place,
	// so readers never see a partial file. Envelope payloads are always
	// published this way.
	AtomicPublish bool
	// Clock returns the current time.
	Clock func() time.Time
	// Journal, when set, receives every receipt.
	Journal Journal
}

// DefaultOptions returns options for the given base path.
func DefaultOptions(basePath string) Options {
	return Options{
		BasePath:      basePath,
		Namespace:     common.DefaultNamespace,
		Location:      time.UTC,
		AtomicPublish: true,
		Clock:         time.Now,
	}
}

// Pipeline runs uploads. It holds no per-request state and is safe for
// concurrent use.
type Pipeline struct {
	keys   Decrypter
	store  Storage
	opts   Options
	logger logging.Logger
}

// New builds a pipeline. Zero-valued options fall back to DefaultOptions.
func New(keys Decrypter, store Storage, opts Options, logger logging.Logger) *Pipeline {
	if opts.Namespace == "" {
		opts.Namespace = common.DefaultNamespace
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Pipeline{keys: keys, store: store, opts: opts, logger: logger.With("module", "ingest")}
}

// SanitizeFilename keeps the last segment of name, splitting on both "/"
// and "\". Names that end up empty, "." or ".." are rejected.
func SanitizeFilename(name string) (string, error) {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	switch {
	case strings.TrimSpace(name) == "", name == ".", name == "..":
		return "", fmt.Errorf("%w: %q", common.ErrInvalidFilename, name)
	case strings.ContainsRune(name, 0):
		return "", fmt.Errorf("%w: contains NUL", common.ErrInvalidFilename)
	}
	return name, nil
}

// PartitionDir returns base/namespace/yyyyMMdd for t.
func PartitionDir(base, namespace string, t time.Time) string {
	return storage.Join(base, namespace, t.Format(common.PartitionLayout))
}

// PartitionFor returns the backend-absolute partition directory for day, as
// recorded in receipts.
func (p *Pipeline) PartitionFor(day time.Time) string {
	return p.store.Resolve(PartitionDir(p.opts.BasePath, p.opts.Namespace, day))
}

// Ingest stores one upload and returns its receipt.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (*Receipt, error) {
	name, err := SanitizeFilename(req.Filename)
	if err != nil {
		p.logger.Warn(ctx, "rejected upload", "step", StepFilename, "filename", req.Filename, "error", err)
		return nil, fail(StepFilename, "", err)
	}

	plain, mode, err := p.decrypt(req.Body)
	if err != nil {
		p.logger.Warn(ctx, "rejected upload", "step", StepDecrypt, "filename", name, "error", err)
		return nil, fail(StepDecrypt, "", err)
	}

	now := p.opts.Clock().In(p.opts.Location)
	dir := PartitionDir(p.opts.BasePath, p.opts.Namespace, now)
	if !p.store.Exists(ctx, dir) {
		if _, err := p.store.Mkdir(ctx, dir); err != nil {
			p.logger.Error(ctx, "upload failed", "step", StepMkdir, "path", dir, "error", err)
			return nil, fail(StepMkdir, dir, err)
		}
	}

	dst := storage.Join(dir, name)
	hasher := blake3.New()
	src := io.TeeReader(plain, hasher)

	var size int64
	// Envelope plaintext is authenticated chunk by chunk while it streams, so
	// it must not reach dst before the last chunk verifies.
	if p.opts.AtomicPublish || mode == ModeEnvelope {
		size, err = p.publish(ctx, dir, name, dst, src)
	} else {
		size, err = p.store.Upload(ctx, dst, src, true)
		if err != nil {
			err = fail(StepWrite, dst, err)
		}
	}
	if err != nil {
		p.logger.Error(ctx, "upload failed", "step", Step(err), "path", dst, "written", size, "error", err)
		return nil, err
	}

	receipt := Receipt{
		ID:        uuid.New(),
		Filename:  name,
		Partition: p.store.Resolve(dir),
		Path:      p.store.Resolve(dst),
		Size:      size,
		Digest:    hex.EncodeToString(hasher.Sum(nil)),
		Mode:      mode,
		StoredAt:  now,
	}

	if p.opts.Journal != nil {
		if err := p.opts.Journal.Record(ctx, receipt); err != nil {
			p.logger.Warn(ctx, "journal record failed", "path", receipt.Path, "error", err)
		}
	}

	p.logger.Info(ctx, "upload stored", "path", receipt.Path, "bytes", size, "mode", mode, "digest", receipt.Digest)
	return &receipt, nil
}

// decrypt picks the scheme from the payload's first bytes.
func (p *Pipeline) decrypt(body io.Reader) (io.Reader, Mode, error) {
	br := bufio.NewReaderSize(body, max(cryptox.EnvelopeSniffLen, 4096))
	head, err := br.Peek(cryptox.EnvelopeSniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, "", fmt.Errorf("read payload: %w", err)
	}

	if cryptox.IsEnvelope(head) {
		plain, err := p.keys.OpenEnvelope(br)
		if err != nil {
			return nil, "", err
		}
		return plain, ModeEnvelope, nil
	}

	// One extra byte is enough to tell an oversized block from a full one.
	block, err := io.ReadAll(io.LimitReader(br, int64(p.keys.BlockSize())+1))
	if err != nil {
		return nil, "", fmt.Errorf("read payload: %w", err)
	}
	plain, err := p.keys.Decrypt(block)
	if err != nil {
		return nil, "", err
	}
	return bytes.NewReader(plain), ModeDirect, nil
}

// publish writes src to a hidden sibling of dst and renames it over dst.
// The sibling is removed when either step fails.
func (p *Pipeline) publish(ctx context.Context, dir, name, dst string, src io.Reader) (int64, error) {
	tmp := storage.Join(dir, "."+name+"."+uuid.NewString()+".part")

	size, err := p.store.Upload(ctx, tmp, src, false)
	if err != nil {
		p.discard(ctx, tmp)
		return size, fail(StepWrite, dst, err)
	}
	if _, err := p.store.Rename(ctx, tmp, dst); err != nil {
		p.discard(ctx, tmp)
		return size, fail(StepPublish, dst, err)
	}
	return size, nil
}

func (p *Pipeline) discard(ctx context.Context, tmp string) {
	ctx = context.WithoutCancel(ctx)
	if out, err := p.store.Delete(ctx, tmp, false); err != nil {
		p.logger.Warn(ctx, "remove temporary file", "path", tmp, "outcome", out.String(), "error", err)
	}
}
