package client

import (
	"bytes"
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/fileproxy/internal/common"
	"github.com/dmitrijs2005/fileproxy/internal/cryptox"
	"github.com/dmitrijs2005/fileproxy/internal/logging"
	"github.com/dmitrijs2005/fileproxy/internal/netx"
)

// Mode selects how a file is encrypted.
type Mode string

const (
	ModeAuto     Mode = "auto"
	ModeDirect   Mode = "direct"
	ModeEnvelope Mode = "envelope"
)

// UploadError is a "false" answer from the proxy.
type UploadError struct {
	// Class is the X-Upload-Error value, possibly empty.
	Class string
}

func (e *UploadError) Error() string {
	if e.Class == "" {
		return ErrRejected.Error()
	}
	return ErrRejected.Error() + ": " + e.Class
}

func (e *UploadError) Unwrap() error {
	return ErrRejected
}

// Result describes a stored upload.
type Result struct {
	// Path is the backend path reported by the proxy.
	Path string
	Mode Mode
}

// Client is an HTTP client for one proxy.
type Client struct {
	baseURL string
	http    *http.Client
	padding cryptox.Padding
	logger  logging.Logger
}

// New returns a client for the proxy at baseURL. padding must match the
// server's direct-mode padding.
func New(baseURL string, httpClient *http.Client, padding cryptox.Padding, logger logging.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		padding: padding,
		logger:  logger.With("module", "client"),
	}
}

func (c *Client) endpoint(p string) string {
	return c.baseURL + p
}

// PublicKeyText returns the base64 public key as served.
func (c *Client) PublicKeyText(ctx context.Context) (string, error) {
	s, err := netx.GetText(ctx, c.http, c.endpoint("/proxy/publicKey"))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return strings.TrimSpace(s), nil
}

// PublicKey fetches and parses the server's public key.
func (c *Client) PublicKey(ctx context.Context) (*rsa.PublicKey, error) {
	s, err := c.PublicKeyText(ctx)
	if err != nil {
		return nil, err
	}
	return cryptox.ParsePublicKey(s)
}

// AuthorizedKey fetches the ssh-rsa line used as envelope recipient.
func (c *Client) AuthorizedKey(ctx context.Context) (string, error) {
	s, err := netx.GetText(ctx, c.http, c.endpoint("/proxy/publicKey?format=ssh"))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return strings.TrimSpace(s), nil
}

// Health returns nil when the proxy reports its backend healthy.
func (c *Client) Health(ctx context.Context) error {
	if _, err := netx.GetText(ctx, c.http, c.endpoint("/proxy/health")); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

// UploadFile uploads the local file at path. An empty name sends the file's
// base name.
func (c *Client) UploadFile(ctx context.Context, path, name string, mode Mode) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if name == "" {
		name = filepath.Base(path)
	}
	return c.Upload(ctx, name, f, fi.Size(), mode)
}

// Upload encrypts r and posts it under name. size is the plaintext length,
// or -1 when unknown; ModeAuto uses it to choose between direct and
// envelope encryption.
func (c *Client) Upload(ctx context.Context, name string, r io.Reader, size int64, mode Mode) (*Result, error) {
	switch mode {
	case ModeDirect:
		pub, err := c.PublicKey(ctx)
		if err != nil {
			return nil, err
		}
		return c.uploadDirect(ctx, name, r, pub)
	case ModeEnvelope:
		return c.uploadEnvelope(ctx, name, r)
	case ModeAuto, "":
		pub, err := c.PublicKey(ctx)
		if err != nil {
			return nil, err
		}
		if size >= 0 && size <= int64(cryptox.MaxPlaintextFor(pub, c.padding)) {
			return c.uploadDirect(ctx, name, r, pub)
		}
		return c.uploadEnvelope(ctx, name, r)
	}
	return nil, fmt.Errorf("unknown mode %q", mode)
}

func (c *Client) uploadDirect(ctx context.Context, name string, r io.Reader, pub *rsa.PublicKey) (*Result, error) {
	limit := cryptox.MaxPlaintextFor(pub, c.padding)
	plaintext, err := io.ReadAll(io.LimitReader(r, int64(limit)+1))
	if err != nil {
		return nil, err
	}
	if len(plaintext) > limit {
		return nil, fmt.Errorf("file does not fit one direct block of %d bytes, use envelope mode", limit)
	}

	ciphertext, err := cryptox.EncryptBlock(pub, c.padding, plaintext)
	if err != nil {
		return nil, err
	}
	return c.post(ctx, name, bytes.NewReader(ciphertext), ModeDirect)
}

var errUploadDone = errors.New("upload finished")

func (c *Client) uploadEnvelope(ctx context.Context, name string, r io.Reader) (*Result, error) {
	recipient, err := c.AuthorizedKey(ctx)
	if err != nil {
		return nil, err
	}

	// age writes its header on creation, so sealing has to run on the
	// writing side of the pipe.
	pr, pw := io.Pipe()
	sealErr := make(chan error, 1)
	go func() {
		err := seal(pw, recipient, r)
		sealErr <- err
		pw.CloseWithError(err)
	}()

	res, err := c.post(ctx, name, pr, ModeEnvelope)
	pr.CloseWithError(errUploadDone)
	if serr := <-sealErr; serr != nil && !errors.Is(serr, errUploadDone) {
		return nil, fmt.Errorf("encrypt: %w", serr)
	}
	return res, err
}

func seal(w io.Writer, recipient string, r io.Reader) error {
	sealer, err := cryptox.SealEnvelope(w, recipient)
	if err != nil {
		return err
	}
	if _, err := io.Copy(sealer, r); err != nil {
		return err
	}
	return sealer.Close()
}

func (c *Client) post(ctx context.Context, name string, body io.Reader, mode Mode) (*Result, error) {
	resp, err := netx.UploadMultipart(ctx, c.http, c.endpoint("/proxy/upload"), common.UploadField, name, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, resp.Status)
	}

	if strings.TrimSpace(string(b)) != common.ResponseSuccess {
		uerr := &UploadError{Class: resp.Header.Get(common.UploadErrorHeader)}
		c.logger.Warn(ctx, "upload rejected", "filename", name, "class", uerr.Class, "request_id", resp.Header.Get(common.RequestIDHeader))
		return nil, uerr
	}

	res := &Result{Path: resp.Header.Get(common.UploadPathHeader), Mode: mode}
	c.logger.Info(ctx, "upload stored", "filename", name, "path", res.Path, "mode", string(mode))
	return res, nil
}
