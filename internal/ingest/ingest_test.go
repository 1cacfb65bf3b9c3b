package ingest

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"

	"github.com/dmitrijs2005/fileproxy/internal/common"
	"github.com/dmitrijs2005/fileproxy/internal/cryptox"
	"github.com/dmitrijs2005/fileproxy/internal/logging"
	"github.com/dmitrijs2005/fileproxy/internal/storage"
	"github.com/dmitrijs2005/fileproxy/internal/storage/storagetest"
)

const root = "hdfs://host:9020"

var (
	keysOnce       sync.Once
	serverKeys     *cryptox.KeyPair
	foreignKeys    *cryptox.KeyPair
	errKeysFixture error
)

func fixtureKeys(t *testing.T) (*cryptox.KeyPair, *cryptox.KeyPair) {
	t.Helper()
	keysOnce.Do(func() {
		if serverKeys, errKeysFixture = cryptox.GenerateKeyPair(2048); errKeysFixture != nil {
			return
		}
		foreignKeys, errKeysFixture = cryptox.GenerateKeyPair(2048)
	})
	require.NoError(t, errKeysFixture)
	return serverKeys, foreignKeys
}

func fixedClock() time.Time {
	return time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
}

type recordingJournal struct {
	mu       sync.Mutex
	receipts []Receipt
	err      error
}

func (j *recordingJournal) Record(_ context.Context, r Receipt) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.receipts = append(j.receipts, r)
	return j.err
}

type harness struct {
	pipeline *Pipeline
	mem      *storagetest.FS
	keys     *cryptox.KeyPair
	foreign  *cryptox.KeyPair
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	keys, foreign := fixtureKeys(t)

	mem := storagetest.New()
	r, err := storage.NewResolver(root)
	require.NoError(t, err)
	backend := storage.New(r, mem, logging.Nop{})

	opts := DefaultOptions("/data")
	opts.Clock = fixedClock
	if mutate != nil {
		mutate(&opts)
	}
	return &harness{
		pipeline: New(keys, backend, opts, logging.Nop{}),
		mem:      mem,
		keys:     keys,
		foreign:  foreign,
	}
}

func seal(t *testing.T, recipient string, plaintext []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := cryptox.SealEnvelope(&buf, recipient)
	require.NoError(t, err)
	_, err = w.Write(plaintext)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func digest(b []byte) string {
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "report.txt", want: "report.txt"},
		{in: "/a/b/c.txt", want: "c.txt"},
		{in: `C:\Users\x\report.csv`, want: "report.csv"},
		{in: `mixed/dir\name.bin`, want: "name.bin"},
		{in: "../../etc/passwd", want: "passwd"},
		{in: "with space.txt", want: "with space.txt"},
		{in: ".hidden", want: ".hidden"},
		{in: "", wantErr: true},
		{in: "dir/", wantErr: true},
		{in: `dir\`, wantErr: true},
		{in: ".", wantErr: true},
		{in: "a/..", wantErr: true},
		{in: "   ", wantErr: true},
		{in: "nul\x00byte", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.in), func(t *testing.T) {
			got, err := SanitizeFilename(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, common.ErrInvalidFilename)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPartitionDir(t *testing.T) {
	assert.Equal(t, "/data/2109/20240501", PartitionDir("/data", "2109", fixedClock()))
	assert.Equal(t, "/data/2109/20240501", PartitionDir("/data/", "2109", fixedClock()))
	assert.Equal(t, "/2109/20241231", PartitionDir("", "2109", time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)))
}

func TestPipeline_PartitionFor(t *testing.T) {
	h := newHarness(t, nil)
	assert.Equal(t, root+"/data/2109/20240501", h.pipeline.PartitionFor(fixedClock()))
}

func TestIngest_DirectEndToEnd(t *testing.T) {
	h := newHarness(t, nil)
	plaintext := []byte("quarterly numbers")
	ct, err := h.keys.Encrypt(plaintext)
	require.NoError(t, err)

	rc, err := h.pipeline.Ingest(context.Background(), Request{Filename: "report.txt", Body: bytes.NewReader(ct)})
	require.NoError(t, err)

	assert.Equal(t, "hdfs://host:9020/data/2109/20240501/report.txt", rc.Path)
	assert.Equal(t, "hdfs://host:9020/data/2109/20240501", rc.Partition)
	assert.Equal(t, "report.txt", rc.Filename)
	assert.Equal(t, ModeDirect, rc.Mode)
	assert.EqualValues(t, len(plaintext), rc.Size)
	assert.Equal(t, digest(plaintext), rc.Digest)
	assert.Equal(t, fixedClock(), rc.StoredAt)

	got, ok := h.mem.File(rc.Path)
	require.True(t, ok)
	assert.Equal(t, plaintext, got)
	assert.Equal(t, []string{"/data/2109/20240501/report.txt"}, h.mem.Paths(), "no temporary files left behind")
	assert.Zero(t, h.mem.OpenConns())
}

func TestIngest_PartitionUsesLocation(t *testing.T) {
	tz := time.FixedZone("UTC+14", 14*3600)
	h := newHarness(t, func(o *Options) {
		o.Location = tz
		o.Namespace = "ns"
		o.Clock = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	})
	ct, err := h.keys.Encrypt([]byte("x"))
	require.NoError(t, err)

	rc, err := h.pipeline.Ingest(context.Background(), Request{Filename: "x", Body: bytes.NewReader(ct)})
	require.NoError(t, err)
	assert.Equal(t, root+"/data/ns/20240502/x", rc.Path)
}

func TestIngest_Envelope(t *testing.T) {
	h := newHarness(t, nil)
	plaintext := make([]byte, 300*1024)
	_, err := rand.Read(plaintext)
	require.NoError(t, err)

	body := seal(t, h.keys.AuthorizedKey(), plaintext)
	rc, err := h.pipeline.Ingest(context.Background(), Request{Filename: "big.bin", Body: bytes.NewReader(body)})
	require.NoError(t, err)

	assert.Equal(t, ModeEnvelope, rc.Mode)
	assert.EqualValues(t, len(plaintext), rc.Size)
	assert.Equal(t, digest(plaintext), rc.Digest)
	got, ok := h.mem.File(rc.Path)
	require.True(t, ok)
	assert.Equal(t, plaintext, got)
}

func TestIngest_ForeignCiphertextWritesNothing(t *testing.T) {
	h := newHarness(t, nil)

	direct, err := h.foreign.Encrypt([]byte("not for you"))
	require.NoError(t, err)
	envelope := seal(t, h.foreign.AuthorizedKey(), []byte("not for you either"))

	for name, body := range map[string][]byte{"direct": direct, "envelope": envelope} {
		t.Run(name, func(t *testing.T) {
			_, err := h.pipeline.Ingest(context.Background(), Request{Filename: "x.txt", Body: bytes.NewReader(body)})
			require.Error(t, err)
			assert.True(t, Error.Has(err))
			assert.True(t, cryptox.DecryptionError.Has(err))
			assert.Equal(t, StepDecrypt, Step(err))
			assert.Equal(t, "decryption", Classify(err))
		})
	}
	assert.Empty(t, h.mem.Paths())
	assert.False(t, h.mem.IsDir(root+"/data/2109/20240501"))
}

func TestIngest_RejectsBadInput(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.pipeline.Ingest(ctx, Request{Filename: "..", Body: strings.NewReader("x")})
	require.Error(t, err)
	assert.Equal(t, StepFilename, Step(err))
	assert.Equal(t, "invalid_filename", Classify(err))

	_, err = h.pipeline.Ingest(ctx, Request{Filename: "empty", Body: strings.NewReader("")})
	require.Error(t, err)
	assert.True(t, cryptox.DecryptionError.Has(err))

	oversized := make([]byte, h.keys.BlockSize()+1)
	_, err = h.pipeline.Ingest(ctx, Request{Filename: "big", Body: bytes.NewReader(oversized)})
	require.Error(t, err)
	assert.True(t, cryptox.DecryptionError.Has(err))
	assert.Empty(t, h.mem.Paths())
}

func TestIngest_TamperedEnvelopeLeavesNoFile(t *testing.T) {
	for _, atomic := range []bool{true, false} {
		t.Run(fmt.Sprintf("atomic=%v", atomic), func(t *testing.T) {
			h := newHarness(t, func(o *Options) { o.AtomicPublish = atomic })
			plaintext := bytes.Repeat([]byte("a"), 200*1024)
			body := seal(t, h.keys.AuthorizedKey(), plaintext)
			body[len(body)-10] ^= 0xff

			_, err := h.pipeline.Ingest(context.Background(), Request{Filename: "t.bin", Body: bytes.NewReader(body)})
			require.Error(t, err)
			assert.True(t, cryptox.DecryptionError.Has(err))
			assert.Equal(t, StepWrite, Step(err))
			assert.Empty(t, h.mem.Paths(), "temporary file removed, destination never created")
			assert.Zero(t, h.mem.OpenConns())
		})
	}
}

func TestIngest_TamperedEnvelopeKeepsEarlierFile(t *testing.T) {
	for _, atomic := range []bool{true, false} {
		t.Run(fmt.Sprintf("atomic=%v", atomic), func(t *testing.T) {
			h := newHarness(t, func(o *Options) { o.AtomicPublish = atomic })
			ctx := context.Background()

			ct, err := h.keys.Encrypt([]byte("good copy"))
			require.NoError(t, err)
			_, err = h.pipeline.Ingest(ctx, Request{Filename: "t.bin", Body: bytes.NewReader(ct)})
			require.NoError(t, err)

			body := seal(t, h.keys.AuthorizedKey(), bytes.Repeat([]byte("b"), 200*1024))
			body[len(body)-10] ^= 0xff
			_, err = h.pipeline.Ingest(ctx, Request{Filename: "t.bin", Body: bytes.NewReader(body)})
			require.Error(t, err)
			assert.True(t, cryptox.DecryptionError.Has(err))

			got, ok := h.mem.File(root + "/data/2109/20240501/t.bin")
			require.True(t, ok)
			assert.Equal(t, "good copy", string(got))
			assert.Equal(t, []string{"/data/2109/20240501/t.bin"}, h.mem.Paths())
		})
	}
}

func TestIngest_BackendUnavailable(t *testing.T) {
	h := newHarness(t, nil)
	h.mem.DialErr = errors.New("connection refused")
	ct, err := h.keys.Encrypt([]byte("x"))
	require.NoError(t, err)

	_, err = h.pipeline.Ingest(context.Background(), Request{Filename: "x", Body: bytes.NewReader(ct)})
	require.Error(t, err)
	assert.Equal(t, StepMkdir, Step(err))
	assert.Equal(t, "backend_unavailable", Classify(err))
}

func TestIngest_PublishFailureCleansUp(t *testing.T) {
	h := newHarness(t, nil)
	h.mem.Fail("rename", errors.New("lease conflict"))
	ct, err := h.keys.Encrypt([]byte("x"))
	require.NoError(t, err)

	_, err = h.pipeline.Ingest(context.Background(), Request{Filename: "x", Body: bytes.NewReader(ct)})
	require.Error(t, err)
	assert.Equal(t, StepPublish, Step(err))
	assert.Empty(t, h.mem.Paths())
}

func TestIngest_MkdirIdempotentAcrossUploads(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	for _, name := range []string{"a", "b"} {
		ct, err := h.keys.Encrypt([]byte(name))
		require.NoError(t, err)
		_, err = h.pipeline.Ingest(ctx, Request{Filename: name, Body: bytes.NewReader(ct)})
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"/data/2109/20240501/a", "/data/2109/20240501/b"}, h.mem.Paths())
}

func TestIngest_SamePathLastWriterWins(t *testing.T) {
	for _, atomic := range []bool{true, false} {
		t.Run(fmt.Sprintf("atomic=%v", atomic), func(t *testing.T) {
			h := newHarness(t, func(o *Options) { o.AtomicPublish = atomic })
			ctx := context.Background()
			for _, body := range []string{"first version", "second"} {
				ct, err := h.keys.Encrypt([]byte(body))
				require.NoError(t, err)
				_, err = h.pipeline.Ingest(ctx, Request{Filename: "same.txt", Body: bytes.NewReader(ct)})
				require.NoError(t, err)
			}
			got, ok := h.mem.File(root + "/data/2109/20240501/same.txt")
			require.True(t, ok)
			assert.Equal(t, "second", string(got))
			assert.Len(t, h.mem.Paths(), 1)
		})
	}
}

func TestIngest_ConcurrentDistinctUploads(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	const n = 12

	bodies := make([][]byte, n)
	for i := range bodies {
		ct, err := h.keys.Encrypt([]byte(fmt.Sprintf("payload-%02d", i)))
		require.NoError(t, err)
		bodies[i] = ct
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.pipeline.Ingest(ctx, Request{Filename: fmt.Sprintf("f%02d.txt", i), Body: bytes.NewReader(bodies[i])})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		got, ok := h.mem.File(fmt.Sprintf("%s/data/2109/20240501/f%02d.txt", root, i))
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("payload-%02d", i), string(got))
	}
	assert.Len(t, h.mem.Paths(), n)
	assert.Zero(t, h.mem.OpenConns())
}

func TestIngest_Journal(t *testing.T) {
	j := &recordingJournal{}
	h := newHarness(t, func(o *Options) { o.Journal = j })
	ct, err := h.keys.Encrypt([]byte("x"))
	require.NoError(t, err)

	rc, err := h.pipeline.Ingest(context.Background(), Request{Filename: "x", Body: bytes.NewReader(ct)})
	require.NoError(t, err)
	require.Len(t, j.receipts, 1)
	assert.Equal(t, *rc, j.receipts[0])

	j.err = errors.New("db down")
	_, err = h.pipeline.Ingest(context.Background(), Request{Filename: "y", Body: bytes.NewReader(ct)})
	require.NoError(t, err, "journal failures do not fail stored uploads")
	assert.Len(t, j.receipts, 2)
}

func TestClassify(t *testing.T) {
	assert.Empty(t, Classify(nil))
	assert.Equal(t, "internal", Classify(errors.New("x")))
	assert.Equal(t, "payload_too_large", Classify(fmt.Errorf("wrap: %w", common.ErrPayloadTooLarge)))
	assert.Equal(t, "missing_file", Classify(common.ErrMissingFile))
	assert.Equal(t, "partial_write", Classify(storage.PartialWriteError.New("x")))
	assert.Equal(t, "not_found", Classify(storage.NotFoundError.New("x")))
	assert.Empty(t, Step(errors.New("x")))
}
