// Package server wires the proxy together: it generates the key pair,
// dials the storage backend, opens the optional upload journal and runs
// the HTTP and gRPC servers until a signal arrives.
package server

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/fileproxy/internal/cryptox"
	"github.com/dmitrijs2005/fileproxy/internal/ingest"
	"github.com/dmitrijs2005/fileproxy/internal/logging"
	"github.com/dmitrijs2005/fileproxy/internal/server/config"
	"github.com/dmitrijs2005/fileproxy/internal/server/httpapi"
	"github.com/dmitrijs2005/fileproxy/internal/server/journal"
	"github.com/dmitrijs2005/fileproxy/internal/storage"
	"github.com/dmitrijs2005/fileproxy/internal/storage/hdfs"
	"github.com/dmitrijs2005/fileproxy/internal/storage/local"
	s3store "github.com/dmitrijs2005/fileproxy/internal/storage/s3"

	gs "github.com/dmitrijs2005/fileproxy/internal/server/grpc"
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	keys     *cryptox.KeyPair
	backend  *storage.Backend
	journal  *journal.PostgresJournal
	pipeline *ingest.Pipeline
	http     *httpapi.Server
}

// Seams for tests.
var (
	logOutput   io.Writer = os.Stdout
	openJournal           = journal.Open
)

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger, err := logging.New(logOutput, c.LogLevel)
	if err != nil {
		return nil, err
	}

	keys, err := cryptox.GenerateKeyPair(c.KeyBits, cryptox.WithPadding(c.PaddingMode()))
	if err != nil {
		return nil, fmt.Errorf("key pair: %w", err)
	}
	logger.Info(ctx, "key pair generated", "bits", c.KeyBits, "padding", keys.Padding().String())

	resolver, err := storage.NewResolver(c.BackendRoot)
	if err != nil {
		return nil, err
	}
	dialer, err := newDialer(ctx, c, resolver)
	if err != nil {
		return nil, fmt.Errorf("backend init error: %w", err)
	}
	backend := storage.New(resolver, dialer, logger, storage.WithChunkSize(c.ChunkSize))

	opts := ingest.DefaultOptions(c.BasePath)
	opts.Namespace = c.Namespace
	opts.Location = c.Location()
	opts.AtomicPublish = c.AtomicPublish

	app := &App{config: c, logger: logger, keys: keys, backend: backend}

	if c.JournalDSN != "" {
		j, err := openJournal(ctx, c.JournalDSN)
		if err != nil {
			return nil, fmt.Errorf("journal init error: %w", err)
		}
		app.journal = j
		opts.Journal = j
	}

	app.pipeline = ingest.New(keys, backend, opts, logger)
	httpOpts := []httpapi.Option{
		httpapi.WithMaxUploadSize(c.MaxUploadSize),
		httpapi.WithHealthChecker(backend),
	}
	if app.journal != nil {
		httpOpts = append(httpOpts, httpapi.WithLedger(app.journal, app.pipeline.PartitionFor))
	}
	app.http = httpapi.NewServer(c.HTTPAddr, keys, app.pipeline, logger, httpOpts...)
	return app, nil
}

// newDialer picks the storage driver from the root's scheme.
func newDialer(ctx context.Context, c *config.Config, r *storage.Resolver) (storage.Dialer, error) {
	switch r.Scheme() {
	case "hdfs":
		return hdfs.NewDialer(c.BackendRoot, hdfs.Options{
			Addresses:   c.NamenodeAddrs,
			User:        c.BackendUser,
			DialTimeout: c.DialTimeout,
		})
	case "s3":
		return s3store.NewDialer(ctx, c.BackendRoot, s3store.Options{
			Region:       c.S3Region,
			AccessKey:    c.S3AccessKey,
			SecretKey:    c.S3SecretKey,
			Endpoint:     c.S3Endpoint,
			UsePathStyle: c.S3UsePathStyle,
		})
	case "file", "":
		return local.NewDialer(c.BackendRoot)
	}
	return nil, fmt.Errorf("unsupported backend scheme %q", r.Scheme())
}

func (app *App) initSignalHandler(ctx context.Context, cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		defer signal.Stop(sigs)
		select {
		case sig := <-sigs:
			app.logger.Info(ctx, "signal received", "signal", sig.String())
			cancelFunc()
		case <-ctx.Done():
		}
	}()
}

// Run serves until ctx is cancelled, a signal arrives or a server fails.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "root", app.backend.Root(), "base_path", app.config.BasePath)
	app.initSignalHandler(ctx, cancelFunc)

	if !app.backend.HealthCheck(ctx) {
		app.logger.Warn(ctx, "backend is not reachable yet", "root", app.backend.Root())
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.http.Run(ctx)
	})
	if app.config.GRPCAddr != "" {
		g.Go(func() error {
			s := gs.NewGRPCServer(app.config.GRPCAddr, app.logger, app.backend, app.config.ProbeInterval)
			return s.Run(ctx)
		})
	}

	err := g.Wait()
	if app.journal != nil {
		if cerr := app.journal.Close(); cerr != nil {
			app.logger.Warn(ctx, "close journal", "error", cerr)
		}
	}
	app.logger.Info(ctx, "app stopped")
	return err
}
