package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	// ErrStoreUnavailable wraps network, auth and service failures from the object store.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrPatternInvalid means a listing pattern is not a valid regular expression.
	ErrPatternInvalid = errors.New("pattern invalid")
)

// ObjectInfo represents metadata for a remote file/object.
type ObjectInfo struct {
	Key   string
	Size  int64
	IsDir bool
}

// ObjectStorage captures the S3-compatible operations a Client needs.
type ObjectStorage interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string) error
	PutFile(ctx context.Context, bucket, key, path string) error
	ListObjects(ctx context.Context, bucket, prefix string, recursive bool) ([]ObjectInfo, error)
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// Error names the instance, bucket and key a storage operation failed on.
type Error struct {
	Kind     error
	Op       string
	Instance string
	Bucket   string
	Key      string
	Prefix   string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Op != "" {
		fmt.Fprintf(&b, " during %s", e.Op)
	}

	var where []string
	if e.Instance != "" {
		where = append(where, fmt.Sprintf("instance %q", e.Instance))
	}
	if e.Bucket != "" {
		where = append(where, fmt.Sprintf("bucket %q", e.Bucket))
	}
	if e.Key != "" {
		where = append(where, fmt.Sprintf("key %q", e.Key))
	}
	if e.Prefix != "" {
		where = append(where, fmt.Sprintf("prefix %q", e.Prefix))
	}
	if len(where) > 0 {
		b.WriteString(" (" + strings.Join(where, ", ") + ")")
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Err }
