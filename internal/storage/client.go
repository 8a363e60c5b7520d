// Package storage wraps one S3-compatible instance: idempotent bucket
// provisioning, file upload, regex object discovery and streamed reads.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/daaas-storage/internal/ingest"
	"github.com/andresuchdata/daaas-storage/internal/secrets"
)

// DefaultRegion is the region the notebook storage instances are configured with.
const DefaultRegion = "us-west-1"

// Options configures a Client.
type Options struct {
	Region string
	// ChunkSize bounds the payload size of events produced by Fetch.
	ChunkSize int
	Logger    *zerolog.Logger
}

// Client is the handle for one storage instance.
type Client struct {
	instance  string
	objects   ObjectStorage
	selector  Selector
	chunkSize int
	logger    zerolog.Logger
}

// Connect builds a Client for instance from its resolved credentials.
func Connect(ctx context.Context, instance string, creds secrets.Credentials, opts Options) (*Client, error) {
	if opts.Region == "" {
		opts.Region = DefaultRegion
	}

	objects, err := NewMinioStorage(creds, opts.Region)
	if err != nil {
		return nil, pkgerrors.WithStack(&Error{Kind: ErrStoreUnavailable, Op: "connect", Instance: instance, Err: err})
	}
	selector, err := NewS3Selector(ctx, creds, opts.Region)
	if err != nil {
		return nil, pkgerrors.WithStack(&Error{Kind: ErrStoreUnavailable, Op: "connect", Instance: instance, Err: err})
	}
	return NewClient(instance, objects, selector, opts), nil
}

// NewClient wraps already constructed backends. selector may be nil, in
// which case Select is unavailable.
func NewClient(instance string, objects ObjectStorage, selector Selector, opts Options) *Client {
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = ingest.DefaultChunkSize
	}
	return &Client{
		instance:  instance,
		objects:   objects,
		selector:  selector,
		chunkSize: chunkSize,
		logger:    logger.With().Str("instance", instance).Logger(),
	}
}

// Instance returns the canonical instance name this client was built for.
func (c *Client) Instance() string { return c.instance }

func (c *Client) fail(op, bucket, key string, err error) error {
	return pkgerrors.WithStack(&Error{
		Kind:     ErrStoreUnavailable,
		Op:       op,
		Instance: c.instance,
		Bucket:   bucket,
		Key:      key,
		Err:      err,
	})
}

// EnsureBucket creates bucket if it does not exist yet.
func (c *Client) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := c.objects.BucketExists(ctx, bucket)
	if err != nil {
		return c.fail("bucket exists", bucket, "", err)
	}
	if exists {
		return nil
	}
	if err := c.objects.MakeBucket(ctx, bucket); err != nil {
		return c.fail("make bucket", bucket, "", err)
	}
	c.logger.Info().Str("bucket", bucket).Msg("Created bucket")
	return nil
}

// Upload puts the local file at source under key, creating the bucket if
// needed. An existing object at key is overwritten.
func (c *Client) Upload(ctx context.Context, bucket, key, source string) error {
	info, err := os.Stat(source)
	if err != nil {
		return fmt.Errorf("cannot upload %s: %w", source, err)
	}
	if info.IsDir() {
		return fmt.Errorf("cannot upload %s: is a directory", source)
	}
	if err := c.EnsureBucket(ctx, bucket); err != nil {
		return err
	}
	if err := c.objects.PutFile(ctx, bucket, key, source); err != nil {
		return c.fail("upload "+source, bucket, key, err)
	}
	c.logger.Debug().Str("bucket", bucket).Str("key", key).Str("source", source).Msg("uploaded file")
	return nil
}

type listConfig struct {
	prefix    string
	recursive bool
}

// ListOption customises ListMatching.
type ListOption func(*listConfig)

// WithPrefix restricts the listing to keys under prefix.
func WithPrefix(prefix string) ListOption {
	return func(c *listConfig) { c.prefix = prefix }
}

// WithRecursive controls whether nested keys are listed. The default is true.
func WithRecursive(recursive bool) ListOption {
	return func(c *listConfig) { c.recursive = recursive }
}

// ListMatching returns the object keys in bucket whose beginning matches
// pattern. This is regex matching anchored at the start of the key only: a
// pattern that matches a prefix of a key selects the whole key. Directory
// entries are never returned.
func (c *Client) ListMatching(ctx context.Context, bucket, pattern string, opts ...ListOption) ([]string, error) {
	re, err := CompilePattern(pattern)
	if err != nil {
		var serr *Error
		if errors.As(err, &serr) {
			serr.Instance, serr.Bucket = c.instance, bucket
		}
		return nil, err
	}

	cfg := listConfig{recursive: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	objects, err := c.objects.ListObjects(ctx, bucket, cfg.prefix, cfg.recursive)
	if err != nil {
		return nil, pkgerrors.WithStack(&Error{
			Kind:     ErrStoreUnavailable,
			Op:       "list",
			Instance: c.instance,
			Bucket:   bucket,
			Prefix:   cfg.prefix,
			Err:      err,
		})
	}

	matching := make([]string, 0, len(objects))
	for _, obj := range objects {
		if obj.IsDir {
			continue
		}
		if matchesAtStart(re, obj.Key) {
			matching = append(matching, obj.Key)
		}
	}
	return matching, nil
}

// CompilePattern compiles a listing pattern. An invalid pattern is reported
// as ErrPatternInvalid so callers can reject it before any I/O.
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, pkgerrors.WithStack(&Error{Kind: ErrPatternInvalid, Op: "list", Err: err})
	}
	return re, nil
}

// matchesAtStart reports whether re matches s starting at offset 0. The
// leftmost match begins at 0 whenever any match does.
func matchesAtStart(re *regexp.Regexp, s string) bool {
	loc := re.FindStringIndex(s)
	return loc != nil && loc[0] == 0
}

// Fetch opens the object at key as a stream of raw byte chunks.
func (c *Client) Fetch(ctx context.Context, bucket, key string) (ingest.Stream, error) {
	rc, err := c.objects.GetObject(ctx, bucket, key)
	if err != nil {
		return nil, c.fail("get", bucket, key, err)
	}
	return ingest.NewReaderStream(rc, c.source(bucket, key), c.chunkSize), nil
}

// Download copies the object at key into the local file dest, creating
// parent directories. A partially written dest is removed on failure.
func (c *Client) Download(ctx context.Context, bucket, key, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create download dir: %w", err)
	}
	rc, err := c.objects.GetObject(ctx, bucket, key)
	if err != nil {
		return c.fail("get", bucket, key, err)
	}
	defer rc.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create local file %s: %w", dest, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		_ = os.Remove(dest)
		return c.fail("download to "+dest, bucket, key, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dest)
		return fmt.Errorf("failed to close %s: %w", dest, err)
	}
	return nil
}

// Select runs query against the object at key and returns the event stream
// of its results.
func (c *Client) Select(ctx context.Context, bucket, key string, query SelectQuery) (ingest.Stream, error) {
	if c.selector == nil {
		return nil, c.fail("select", bucket, key, fmt.Errorf("select is not configured"))
	}
	events, err := c.selector.SelectObjectContent(ctx, query.input(bucket, key))
	if err != nil {
		return nil, c.fail("select", bucket, key, err)
	}
	return &selectStream{events: events, source: c.source(bucket, key)}, nil
}

func (c *Client) source(bucket, key string) string {
	return path.Join(c.instance, bucket, key)
}
