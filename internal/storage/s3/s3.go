// Package s3 maps the storage.Conn contract onto an S3-compatible object
// store (AWS, MinIO). Roots look like s3://bucket/prefix.
//
// Object stores have no directories, so a directory is a zero-length object
// whose key ends in "/" (the convention most consoles use) or any key prefix
// that has objects under it. Rename is copy-then-delete and only works on
// single objects.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/dmitrijs2005/fileproxy/internal/storage"
)

// Options configure the S3 client.
type Options struct {
	Region       string
	AccessKey    string
	SecretKey    string
	Endpoint     string
	UsePathStyle bool
	// PartSize is the multipart chunk size; zero keeps the SDK default.
	PartSize int64
}

// api is the slice of *s3.Client the driver uses.
type api interface {
	manager.UploadAPIClient
	s3.ListObjectsV2APIClient
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) api {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// Dialer creates an S3 client per Dial from a configuration loaded once.
type Dialer struct {
	cfg    aws.Config
	opts   Options
	bucket string
}

// NewDialer loads the AWS configuration for root's bucket.
func NewDialer(ctx context.Context, root string, o Options) (*Dialer, error) {
	loc, err := storage.Split(root)
	if err != nil {
		return nil, err
	}
	if loc.Scheme != "s3" || loc.Authority == "" {
		return nil, fmt.Errorf("s3 root must look like s3://bucket[/prefix], got %q", root)
	}

	optFns := []func(*config.LoadOptions) error{}
	if o.Region != "" {
		optFns = append(optFns, config.WithRegion(o.Region))
	}
	if o.AccessKey != "" {
		optFns = append(optFns, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(o.AccessKey, o.SecretKey, ""),
		))
	}

	cfg, err := loadDefaultAWSConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Dialer{cfg: cfg, opts: o, bucket: loc.Authority}, nil
}

// Dial implements storage.Dialer.
func (d *Dialer) Dial(ctx context.Context) (storage.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	client := newS3ClientFromConfig(d.cfg, func(o *s3.Options) {
		if d.opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(d.opts.Endpoint)
		}
		o.UsePathStyle = d.opts.UsePathStyle
	})
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		if d.opts.PartSize > 0 {
			u.PartSize = d.opts.PartSize
		}
	})
	return &conn{api: client, uploader: uploader, bucket: d.bucket}, nil
}

type conn struct {
	api      api
	uploader *manager.Uploader
	bucket   string
}

type object struct {
	bucket string
	key    string
}

func (o object) dirKey() string {
	if o.key == "" {
		return ""
	}
	return o.key + "/"
}

func parse(ctx context.Context, abs string) (object, error) {
	if err := ctx.Err(); err != nil {
		return object{}, err
	}
	loc, err := storage.Split(abs)
	if err != nil {
		return object{}, err
	}
	return object{bucket: loc.Authority, key: strings.Trim(loc.Path, "/")}, nil
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	var re *awshttp.ResponseError
	switch {
	case errors.As(err, &nf), errors.As(err, &nsk):
		return true
	case errors.As(err, &re):
		return re.HTTPStatusCode() == http.StatusNotFound
	}
	return false
}

func notExist(op, abs string, err error) error {
	if err == nil || isNotFound(err) {
		return &fs.PathError{Op: op, Path: abs, Err: fs.ErrNotExist}
	}
	return err
}

func (c *conn) Stat(ctx context.Context, abs string) (storage.FileInfo, error) {
	o, err := parse(ctx, abs)
	if err != nil {
		return storage.FileInfo{}, err
	}
	return c.stat(ctx, abs, o)
}

func (c *conn) stat(ctx context.Context, abs string, o object) (storage.FileInfo, error) {
	name := o.key[strings.LastIndex(o.key, "/")+1:]
	if o.key == "" {
		if _, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(o.bucket)}); err != nil {
			return storage.FileInfo{}, notExist("stat", abs, err)
		}
		return storage.FileInfo{Path: abs, IsDir: true}, nil
	}

	head, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(o.bucket), Key: aws.String(o.key)})
	if err == nil {
		return storage.FileInfo{
			Path:    abs,
			Name:    name,
			Size:    aws.ToInt64(head.ContentLength),
			ModTime: aws.ToTime(head.LastModified),
		}, nil
	}
	if !isNotFound(err) {
		return storage.FileInfo{}, err
	}

	out, err := c.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(o.bucket),
		Prefix:  aws.String(o.dirKey()),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return storage.FileInfo{}, notExist("stat", abs, err)
	}
	if len(out.Contents) == 0 && len(out.CommonPrefixes) == 0 {
		return storage.FileInfo{}, notExist("stat", abs, nil)
	}
	return storage.FileInfo{Path: abs, Name: name, IsDir: true}, nil
}

func (c *conn) MkdirAll(ctx context.Context, abs string) error {
	o, err := parse(ctx, abs)
	if err != nil {
		return err
	}
	if o.key == "" {
		return nil
	}
	if fi, err := c.stat(ctx, abs, o); err == nil && !fi.IsDir {
		return &fs.PathError{Op: "mkdir", Path: abs, Err: errors.New("not a directory")}
	}
	_, err = c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(o.dirKey()),
		Body:   strings.NewReader(""),
	})
	return err
}

// writer streams into a single upload running in its own goroutine.
type writer struct {
	pw   *io.PipeWriter
	done chan error
	err  error
	once bool
}

func (w *writer) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

// Flush is a no-op: bytes become visible only when the upload completes.
func (w *writer) Flush() error {
	return nil
}

func (w *writer) Close() error {
	if w.once {
		return w.err
	}
	w.once = true
	_ = w.pw.Close()
	w.err = <-w.done
	return w.err
}

func (c *conn) Create(ctx context.Context, abs string, overwrite bool) (storage.Writer, error) {
	o, err := parse(ctx, abs)
	if err != nil {
		return nil, err
	}
	if o.key == "" {
		return nil, &fs.PathError{Op: "create", Path: abs, Err: errors.New("is a directory")}
	}

	fi, err := c.stat(ctx, abs, o)
	switch {
	case err == nil && fi.IsDir:
		return nil, &fs.PathError{Op: "create", Path: abs, Err: errors.New("is a directory")}
	case err == nil && !overwrite:
		return nil, &fs.PathError{Op: "create", Path: abs, Err: fs.ErrExist}
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return nil, err
	}

	pr, pw := io.Pipe()
	w := &writer{pw: pw, done: make(chan error, 1)}
	go func() {
		_, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(o.bucket),
			Key:    aws.String(o.key),
			Body:   pr,
		})
		_ = pr.CloseWithError(err)
		w.done <- err
	}()
	return w, nil
}

func (c *conn) Open(ctx context.Context, abs string) (io.ReadCloser, error) {
	o, err := parse(ctx, abs)
	if err != nil {
		return nil, err
	}
	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(o.bucket), Key: aws.String(o.key)})
	if err != nil {
		return nil, notExist("open", abs, err)
	}
	return out.Body, nil
}

func (c *conn) Remove(ctx context.Context, abs string, recursive bool) error {
	o, err := parse(ctx, abs)
	if err != nil {
		return err
	}
	fi, err := c.stat(ctx, abs, o)
	if err != nil {
		return err
	}
	if !fi.IsDir {
		_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(o.bucket), Key: aws.String(o.key)})
		return err
	}

	var keys []string
	p := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(o.bucket),
		Prefix: aws.String(o.dirKey()),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}

	for _, k := range keys {
		if k != o.dirKey() && !recursive {
			return &fs.PathError{Op: "remove", Path: abs, Err: errors.New("directory not empty")}
		}
	}
	for _, k := range keys {
		if _, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(o.bucket), Key: aws.String(k)}); err != nil {
			return err
		}
	}
	return nil
}

func copySource(o object) string {
	segs := strings.Split(o.key, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return o.bucket + "/" + strings.Join(segs, "/")
}

func (c *conn) Rename(ctx context.Context, src, dst string) error {
	s, err := parse(ctx, src)
	if err != nil {
		return err
	}
	d, err := parse(ctx, dst)
	if err != nil {
		return err
	}

	fi, err := c.stat(ctx, src, s)
	if err != nil {
		return err
	}
	if fi.IsDir {
		return &fs.PathError{Op: "rename", Path: src, Err: errors.New("directory rename is not supported")}
	}

	if _, err := c.api.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(d.bucket),
		Key:        aws.String(d.key),
		CopySource: aws.String(copySource(s)),
	}); err != nil {
		return err
	}
	_, err = c.api.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(s.key)})
	return err
}

func (c *conn) ReadDir(ctx context.Context, abs string) ([]storage.FileInfo, error) {
	o, err := parse(ctx, abs)
	if err != nil {
		return nil, err
	}

	prefix := o.dirKey()
	p := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
		Bucket:    aws.String(o.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	var out []storage.FileInfo
	seen := false
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, notExist("readdir", abs, err)
		}
		for _, cp := range page.CommonPrefixes {
			seen = true
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			out = append(out, storage.FileInfo{Path: storage.Join(abs, name), Name: name, IsDir: true})
		}
		for _, obj := range page.Contents {
			seen = true
			key := aws.ToString(obj.Key)
			if key == prefix {
				continue
			}
			name := strings.TrimPrefix(key, prefix)
			out = append(out, storage.FileInfo{
				Path:    storage.Join(abs, name),
				Name:    name,
				Size:    aws.ToInt64(obj.Size),
				ModTime: aws.ToTime(obj.LastModified),
			})
		}
	}
	if !seen && prefix != "" {
		return nil, notExist("readdir", abs, nil)
	}
	return out, nil
}

// BlockLocations reports one block per object; placement is opaque.
func (c *conn) BlockLocations(ctx context.Context, abs string) ([]storage.BlockLocation, error) {
	fi, err := c.Stat(ctx, abs)
	if err != nil {
		return nil, err
	}
	return storage.SplitBlocks(fi.Size, 0, nil), nil
}

// Status checks the bucket is reachable. Object stores report no capacity.
func (c *conn) Status(ctx context.Context) (storage.FsStatus, error) {
	if err := ctx.Err(); err != nil {
		return storage.FsStatus{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)}); err != nil {
		return storage.FsStatus{}, err
	}
	return storage.FsStatus{}, nil
}

// Close is a no-op; SDK clients hold no per-client connections to release.
func (c *conn) Close() error {
	return nil
}
