package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/daaas-storage/internal/secrets"
	"github.com/andresuchdata/daaas-storage/internal/storage"
)

const shellSecret = "export MINIO_URL=\"http://minio:9000\"\nexport MINIO_ACCESS_KEY=\"ak\"\nexport MINIO_SECRET_KEY=\"sk\"\n"

func secretsDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
	}
	return dir
}

type countingFactory struct {
	calls atomic.Int32
	delay time.Duration
}

func (f *countingFactory) build(_ context.Context, instance string, _ secrets.Credentials) (*storage.Client, error) {
	f.calls.Add(1)
	time.Sleep(f.delay)
	return storage.NewClient(instance, nil, nil, storage.Options{}), nil
}

func newRegistry(t *testing.T, dir string, factory Factory) *Registry {
	t.Helper()
	logger := zerolog.Nop()
	resolver := secrets.NewResolver(secrets.Options{Dir: dir, StripScheme: true, Logger: &logger})
	return New(resolver, factory, &logger)
}

func TestListSkipsDocumentsAndDirectories(t *testing.T) {
	dir := secretsDir(t, map[string]string{
		"minio-standard":      shellSecret,
		"minio-standard.json": `{}`,
		"minio-premium":       shellSecret,
		"only-doc.json":       `{}`,
	})
	require.NoError(t, os.Mkdir(filepath.Join(dir, "..data"), 0o755))

	r := newRegistry(t, dir, (&countingFactory{}).build)
	names, err := r.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"minio-premium", "minio-standard"}, names)
}

func TestListMissingDir(t *testing.T) {
	r := newRegistry(t, filepath.Join(t.TempDir(), "absent"), (&countingFactory{}).build)
	_, err := r.List()
	assert.Error(t, err)
}

func TestClientIsCached(t *testing.T) {
	dir := secretsDir(t, map[string]string{"minio-standard": shellSecret})
	factory := &countingFactory{}
	r := newRegistry(t, dir, factory.build)

	first, err := r.Client(context.Background(), "minio-standard")
	require.NoError(t, err)
	second, err := r.Client(context.Background(), "minio-standard")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), factory.calls.Load())
	assert.Equal(t, "minio-standard", first.Instance())
}

func TestClientConstructsOnceUnderConcurrency(t *testing.T) {
	dir := secretsDir(t, map[string]string{"minio-standard": shellSecret})
	factory := &countingFactory{delay: 20 * time.Millisecond}
	r := newRegistry(t, dir, factory.build)

	var wg sync.WaitGroup
	clients := make([]*storage.Client, 16)
	for i := range clients {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := r.Client(context.Background(), "minio-standard")
			assert.NoError(t, err)
			clients[i] = c
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), factory.calls.Load())
	for _, c := range clients {
		assert.Same(t, clients[0], c)
	}
}

func TestClientFailureIsIsolatedAndNotCached(t *testing.T) {
	dir := secretsDir(t, map[string]string{
		"good": shellSecret,
		"bad":  "export MINIO_URL=http://x\n",
	})
	factory := &countingFactory{}
	r := newRegistry(t, dir, factory.build)

	_, err := r.Client(context.Background(), "bad")
	assert.ErrorIs(t, err, secrets.ErrCredentialsMalformed)

	good, err := r.Client(context.Background(), "good")
	require.NoError(t, err)
	assert.NotNil(t, good)

	// fixing the secret makes the next call succeed
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad"), []byte(shellSecret), 0o600))
	_, err = r.Client(context.Background(), "bad")
	assert.NoError(t, err)
}

func TestBuildSkipsBrokenInstances(t *testing.T) {
	dir := secretsDir(t, map[string]string{
		"minio-a": shellSecret,
		"minio-b": "garbage\n",
		"minio-c": shellSecret,
	})
	r := newRegistry(t, dir, (&countingFactory{}).build)

	clients, failures, err := r.Build(context.Background())
	require.NoError(t, err)
	assert.Len(t, clients, 2)
	assert.Contains(t, clients, "minio-a")
	assert.Contains(t, clients, "minio-c")
	require.Contains(t, failures, "minio-b")
	assert.ErrorIs(t, failures["minio-b"], secrets.ErrCredentialsMalformed)
}

func TestBuildFactoryFailure(t *testing.T) {
	dir := secretsDir(t, map[string]string{"a": shellSecret, "b": shellSecret})
	factory := func(_ context.Context, instance string, _ secrets.Credentials) (*storage.Client, error) {
		if instance == "a" {
			return nil, errors.New("bad endpoint")
		}
		return storage.NewClient(instance, nil, nil, storage.Options{}), nil
	}
	r := newRegistry(t, dir, factory)

	clients, failures, err := r.Build(context.Background())
	require.NoError(t, err)
	assert.Contains(t, clients, "b")
	assert.Contains(t, failures, "a")
}

func TestLookupByFriendlyName(t *testing.T) {
	dir := secretsDir(t, map[string]string{"minio-standard-gateway": shellSecret})
	r := newRegistry(t, dir, (&countingFactory{}).build)

	c, err := r.Lookup(context.Background(), "minio_standard_gateway")
	require.NoError(t, err)
	assert.Equal(t, "minio-standard-gateway", c.Instance(), "friendly names never replace the canonical name")

	same, err := r.Lookup(context.Background(), "minio-standard-gateway")
	require.NoError(t, err)
	assert.Same(t, c, same)

	_, err = r.Lookup(context.Background(), "unknown")
	assert.Error(t, err)
}

func TestFriendlyName(t *testing.T) {
	assert.Equal(t, "minio_standard", FriendlyName("minio-standard"))
	assert.Equal(t, "plain", FriendlyName("plain"))
}

func TestLookupReachesDocumentOnlyInstance(t *testing.T) {
	dir := secretsDir(t, map[string]string{
		"minio-doc.json": `{"MINIO_URL": "http://minio:9000", "MINIO_ACCESS_KEY": "ak", "MINIO_SECRET_KEY": "sk"}`,
	})
	r := newRegistry(t, dir, (&countingFactory{}).build)

	names, err := r.List()
	require.NoError(t, err)
	assert.Empty(t, names, "document-only instances are not listed")

	byFriendly, err := r.Lookup(context.Background(), "minio_doc")
	require.NoError(t, err)
	assert.Equal(t, "minio-doc", byFriendly.Instance())

	byName, err := r.Lookup(context.Background(), "minio-doc")
	require.NoError(t, err)
	assert.Same(t, byFriendly, byName)
}
