package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/dmitrijs2005/fileproxy/internal/client/client"
	"github.com/dmitrijs2005/fileproxy/internal/client/config"
	"github.com/dmitrijs2005/fileproxy/internal/cryptox"
	"github.com/dmitrijs2005/fileproxy/internal/logging"
)

// proxyClient is the part of client.Client the commands use.
type proxyClient interface {
	PublicKeyText(ctx context.Context) (string, error)
	AuthorizedKey(ctx context.Context) (string, error)
	Health(ctx context.Context) error
	UploadFile(ctx context.Context, path, name string, mode client.Mode) (*client.Result, error)
}

type App struct {
	config *config.Config
	client proxyClient
	logger logging.Logger
	out    io.Writer
	errOut io.Writer
}

// NewApp builds a client for c. Results go to out, diagnostics and logs to
// errOut.
func NewApp(c *config.Config, out, errOut io.Writer) (*App, error) {
	logger, err := logging.New(errOut, c.LogLevel)
	if err != nil {
		return nil, err
	}
	padding, err := cryptox.ParsePadding(c.Padding)
	if err != nil {
		return nil, err
	}

	hc := &http.Client{Timeout: c.Timeout}
	cl := client.New(c.ServerURL, hc, padding, logger)

	return &App{config: c, client: cl, logger: logger, out: out, errOut: errOut}, nil
}

// Run executes args as one command, or reads commands from in when args is
// empty. It returns the process exit code.
func (a *App) Run(ctx context.Context, args []string, in io.Reader) int {
	if len(args) == 0 {
		return runREPL(ctx, a, in, a.out)
	}
	if err := a.exec(ctx, args); err != nil {
		fmt.Fprintln(a.errOut, "error:", err)
		return 1
	}
	return 0
}
