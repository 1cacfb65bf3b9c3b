// Package httpapi exposes the proxy over HTTP: the public key for clients,
// the encrypted upload endpoint, backend health and the upload journal.
package httpapi

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/dmitrijs2005/fileproxy/internal/common"
	"github.com/dmitrijs2005/fileproxy/internal/ingest"
	"github.com/dmitrijs2005/fileproxy/internal/logging"
)

// KeySource hands out the public half of the server key pair.
type KeySource interface {
	PublicKey() string
	AuthorizedKey() string
}

// Ingester stores one decrypted upload.
type Ingester interface {
	Ingest(ctx context.Context, req ingest.Request) (*ingest.Receipt, error)
}

// HealthChecker reports whether the backend is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) bool
}

// Server is the HTTP front of the proxy.
type Server struct {
	address       string
	keys          KeySource
	ingester      Ingester
	health        HealthChecker
	ledger        Ledger
	partitionFor  func(day time.Time) string
	maxUploadSize int64
	logger        logging.Logger

	Handler http.Handler
	srv     *http.Server
}

// Option customizes a Server.
type Option func(*Server)

// WithMaxUploadSize caps the request body. Zero disables the limit.
func WithMaxUploadSize(n int64) Option {
	return func(s *Server) {
		s.maxUploadSize = n
	}
}

// WithHealthChecker enables GET /proxy/health.
func WithHealthChecker(h HealthChecker) Option {
	return func(s *Server) {
		s.health = h
	}
}

// NewServer builds the router for the proxy endpoints.
func NewServer(address string, keys KeySource, ingester Ingester, logger logging.Logger, opts ...Option) *Server {
	s := &Server{
		address:  address,
		keys:     keys,
		ingester: ingester,
		logger:   logger.With("module", "http"),
	}
	for _, opt := range opts {
		opt(s)
	}

	router := mux.NewRouter()
	router.Use(s.requestID, s.requestLog)

	router.HandleFunc("/proxy/publicKey", s.HandlePublicKey).Methods(http.MethodGet)
	router.HandleFunc("/proxy/upload", s.HandleUpload).Methods(http.MethodPost)
	if s.health != nil {
		router.HandleFunc("/proxy/health", s.HandleHealth).Methods(http.MethodGet)
	}
	if s.ledger != nil && s.partitionFor != nil {
		router.HandleFunc("/proxy/partitions/{day:[0-9]{8}}", s.HandlePartition).Methods(http.MethodGet)
	}
	s.Handler = router

	return s
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, lis)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.srv = &http.Server{
		Handler:           s.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "HTTP server started", "address", lis.Addr().String())
		errCh <- s.srv.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info(ctx, "Shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// HandlePublicKey writes the base64 public key, or the authorized_keys
// line used as envelope recipient when format=ssh.
func (s *Server) HandlePublicKey(w http.ResponseWriter, r *http.Request) {
	key := s.keys.PublicKey()
	if r.URL.Query().Get("format") == "ssh" {
		key = s.keys.AuthorizedKey()
	}
	s.textResponse(w, http.StatusOK, key)
}

// HandleUpload streams the file part into the ingestion pipeline. The
// response is always 200 with "success" or "false".
func (s *Server) HandleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.maxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadSize)
	}

	receipt, err := s.upload(ctx, r)
	if err != nil {
		w.Header().Set(common.UploadErrorHeader, classify(err))
		s.textResponse(w, http.StatusOK, common.ResponseFailure)
		return
	}

	w.Header().Set(common.UploadPathHeader, receipt.Path)
	s.textResponse(w, http.StatusOK, common.ResponseSuccess)
}

func (s *Server) upload(ctx context.Context, r *http.Request) (*ingest.Receipt, error) {
	part, err := filePart(r)
	if err != nil {
		s.logger.Warn(ctx, "rejected upload", "error", err)
		return nil, err
	}
	defer part.Close()

	return s.ingester.Ingest(ctx, ingest.Request{
		Filename: part.FileName(),
		Body:     part,
	})
}

// filePart returns the first part of the file field without buffering the
// request body.
func filePart(r *http.Request) (*multipart.Part, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, err
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, common.ErrMissingFile
		}
		if err != nil {
			return nil, err
		}
		if part.FormName() == common.UploadField {
			return part, nil
		}
		part.Close()
	}
}

// HandleHealth reports backend reachability.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.health.HealthCheck(r.Context()) {
		s.textResponse(w, http.StatusServiceUnavailable, "unavailable")
		return
	}
	s.textResponse(w, http.StatusOK, "ok")
}

func (s *Server) textResponse(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	if _, err := io.WriteString(w, body); err != nil {
		s.logger.Debug(context.Background(), "write response", "error", err)
	}
}

// classify is ingest.Classify plus the transport-level failures.
func classify(err error) string {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return "payload_too_large"
	}
	if errors.Is(err, http.ErrNotMultipart) || errors.Is(err, http.ErrMissingBoundary) {
		return "missing_file"
	}
	return ingest.Classify(err)
}
