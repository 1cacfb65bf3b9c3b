package cli

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/fileproxy/internal/client/client"
	"github.com/dmitrijs2005/fileproxy/internal/client/config"
	"github.com/dmitrijs2005/fileproxy/internal/cryptox"
	"github.com/dmitrijs2005/fileproxy/internal/ingest"
	"github.com/dmitrijs2005/fileproxy/internal/logging"
	"github.com/dmitrijs2005/fileproxy/internal/server/httpapi"
	"github.com/dmitrijs2005/fileproxy/internal/storage"
	"github.com/dmitrijs2005/fileproxy/internal/storage/storagetest"
)

type fakeClient struct {
	healthErr error
	uploadErr map[string]error
	uploads   []string
	names     []string
	modes     []client.Mode
}

func (f *fakeClient) PublicKeyText(context.Context) (string, error) { return "MIIB", nil }
func (f *fakeClient) AuthorizedKey(context.Context) (string, error) { return "ssh-rsa AAAA", nil }
func (f *fakeClient) Health(context.Context) error                  { return f.healthErr }

func (f *fakeClient) UploadFile(_ context.Context, path, name string, mode client.Mode) (*client.Result, error) {
	f.uploads = append(f.uploads, path)
	f.names = append(f.names, name)
	f.modes = append(f.modes, mode)
	if err := f.uploadErr[path]; err != nil {
		return nil, err
	}
	return &client.Result{Path: "/data/2109/20240501/" + filepath.Base(path), Mode: client.ModeDirect}, nil
}

func newTestApp(fc *fakeClient) (*App, *bytes.Buffer, *bytes.Buffer) {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	var out, errOut bytes.Buffer
	return &App{config: cfg, client: fc, logger: logging.Nop{}, out: &out, errOut: &errOut}, &out, &errOut
}

func TestRun_Commands(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantCode int
		wantOut  string
		wantErr  string
	}{
		{"public key", []string{"publickey"}, 0, "MIIB\n", ""},
		{"ssh key", []string{"pk", "ssh"}, 0, "ssh-rsa AAAA\n", ""},
		{"bad publickey arg", []string{"publickey", "pem"}, 1, "", "usage"},
		{"health", []string{"health"}, 0, "ok\n", ""},
		{"help", []string{"help"}, 0, helpText + "\n", ""},
		{"upload without files", []string{"upload"}, 1, "", "usage"},
		{"unknown", []string{"rm", "-rf"}, 1, "", `unknown command "rm"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, out, errOut := newTestApp(&fakeClient{})
			code := app.Run(context.Background(), tt.args, strings.NewReader(""))
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantOut, out.String())
			assert.Contains(t, errOut.String(), tt.wantErr)
		})
	}
}

func TestRun_HealthFailure(t *testing.T) {
	app, _, errOut := newTestApp(&fakeClient{healthErr: client.ErrUnavailable})
	assert.Equal(t, 1, app.Run(context.Background(), []string{"health"}, nil))
	assert.Contains(t, errOut.String(), client.ErrUnavailable.Error())
}

func TestUpload_ContinuesPastFailures(t *testing.T) {
	fc := &fakeClient{uploadErr: map[string]error{"b.txt": &client.UploadError{Class: "decryption"}}}
	app, out, errOut := newTestApp(fc)
	app.config.Mode = config.ModeEnvelope

	code := app.Run(context.Background(), []string{"upload", "a.txt", "b.txt", "c.txt"}, nil)
	assert.Equal(t, 1, code)
	assert.Equal(t, []string{"a.txt", "b.txt", "c.txt"}, fc.uploads)
	assert.Equal(t, []client.Mode{client.ModeEnvelope, client.ModeEnvelope, client.ModeEnvelope}, fc.modes)
	assert.Contains(t, out.String(), "a.txt -> /data/2109/20240501/a.txt (direct)")
	assert.Contains(t, out.String(), "c.txt -> /data/2109/20240501/c.txt")
	assert.Contains(t, errOut.String(), "b.txt: upload rejected: decryption")
}

func TestUpload_NameNeedsOneFile(t *testing.T) {
	fc := &fakeClient{}
	app, _, _ := newTestApp(fc)
	app.config.Name = "renamed.txt"

	assert.Equal(t, 1, app.Run(context.Background(), []string{"upload", "a", "b"}, nil))
	assert.Empty(t, fc.uploads)

	assert.Equal(t, 0, app.Run(context.Background(), []string{"upload", "a"}, nil))
	assert.Equal(t, []string{"renamed.txt"}, fc.names)
}

func TestRunREPL(t *testing.T) {
	app, out, _ := newTestApp(&fakeClient{})
	in := strings.NewReader("\npublickey\nbogus\nhealth\nexit\nhealth\n")

	code := app.Run(context.Background(), nil, in)
	assert.Equal(t, 1, code)

	s := out.String()
	assert.Contains(t, s, "MIIB")
	assert.Contains(t, s, `error: unknown command "bogus"`)
	assert.Equal(t, 1, strings.Count(s, "ok\n"))
	assert.True(t, strings.HasSuffix(s, "Bye!\n"), s)
}

type stubExec struct{ calls [][]string }

func (s *stubExec) exec(_ context.Context, args []string) error {
	s.calls = append(s.calls, args)
	return errors.New("should not run")
}

func TestRunREPL_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	e := &stubExec{}
	assert.Equal(t, 0, runREPL(ctx, e, strings.NewReader("health\n"), &out))
	assert.Empty(t, e.calls)
}

func TestNewApp_Errors(t *testing.T) {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.Padding = "none"
	_, err := NewApp(cfg, &bytes.Buffer{}, &bytes.Buffer{})
	require.Error(t, err)

	cfg.LoadDefaults()
	cfg.LogLevel = "chatty"
	_, err = NewApp(cfg, &bytes.Buffer{}, &bytes.Buffer{})
	require.Error(t, err)
}

func TestApp_AgainstProxy(t *testing.T) {
	keys, err := cryptox.GenerateKeyPair(2048)
	require.NoError(t, err)

	mem := storagetest.New()
	r, err := storage.NewResolver("hdfs://host:9020")
	require.NoError(t, err)
	backend := storage.New(r, mem, logging.Nop{})
	opts := ingest.DefaultOptions("/data")
	opts.Clock = func() time.Time { return time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC) }
	s := httpapi.NewServer(":0", keys, ingest.New(keys, backend, opts, logging.Nop{}), logging.Nop{})
	ts := httptest.NewServer(s.Handler)
	defer ts.Close()

	dir := t.TempDir()
	small := filepath.Join(dir, "small.txt")
	big := filepath.Join(dir, "big.bin")
	require.NoError(t, os.WriteFile(small, []byte("tiny"), 0o600))
	require.NoError(t, os.WriteFile(big, bytes.Repeat([]byte("x"), 64<<10), 0o600))

	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.ServerURL = ts.URL

	var out, errOut bytes.Buffer
	app, err := NewApp(cfg, &out, &errOut)
	require.NoError(t, err)

	require.Equal(t, 0, app.Run(context.Background(), []string{"upload", small, big}, nil), errOut.String())
	assert.Contains(t, out.String(), "(direct)")
	assert.Contains(t, out.String(), "(envelope)")

	got, ok := mem.File("hdfs://host:9020/data/2109/20240501/big.bin")
	require.True(t, ok)
	assert.Len(t, got, 64<<10)

	out.Reset()
	require.Equal(t, 0, app.Run(context.Background(), []string{"publickey"}, nil))
	assert.Equal(t, keys.PublicKey()+"\n", out.String())
}
