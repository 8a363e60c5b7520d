package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/andresuchdata/daaas-storage/internal/secrets"
)

// MinioStorage implements ObjectStorage on top of minio-go.
type MinioStorage struct {
	client *minio.Client
	region string
}

// NewMinioStorage connects to the bare host in creds. The scheme is taken
// from creds.Secure.
func NewMinioStorage(creds secrets.Credentials, region string) (*MinioStorage, error) {
	host := creds.Host()
	if host == "" {
		return nil, fmt.Errorf("minio endpoint must be provided")
	}
	client, err := minio.New(host, &minio.Options{
		Creds:  miniocreds.NewStaticV4(creds.AccessKey, creds.SecretKey, ""),
		Secure: creds.Secure,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed creating minio client for %s: %w", host, err)
	}
	return &MinioStorage{client: client, region: region}, nil
}

func (m *MinioStorage) BucketExists(ctx context.Context, bucket string) (bool, error) {
	return m.client.BucketExists(ctx, bucket)
}

func (m *MinioStorage) MakeBucket(ctx context.Context, bucket string) error {
	return m.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: m.region})
}

func (m *MinioStorage) PutFile(ctx context.Context, bucket, key, path string) error {
	_, err := m.client.FPutObject(ctx, bucket, key, path, minio.PutObjectOptions{})
	return err
}

// ListObjects drains the listing channel. Common prefixes returned by a
// non-recursive listing are marked as directories.
func (m *MinioStorage) ListObjects(ctx context.Context, bucket, prefix string, recursive bool) ([]ObjectInfo, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var results []ObjectInfo
	for obj := range m.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: recursive,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		results = append(results, ObjectInfo{
			Key:   obj.Key,
			Size:  obj.Size,
			IsDir: strings.HasSuffix(obj.Key, "/"),
		})
	}
	return results, nil
}

// GetObject stats the object first so missing keys and auth failures surface
// here rather than on the first read.
func (m *MinioStorage) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, err
	}
	return obj, nil
}

var _ ObjectStorage = (*MinioStorage)(nil)
