package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/andresuchdata/daaas-storage/internal/ingest"
	"github.com/andresuchdata/daaas-storage/internal/storage"
	"github.com/andresuchdata/daaas-storage/internal/table"
)

// ClientProvider hands out storage clients by instance name.
// *registry.Registry satisfies it.
type ClientProvider interface {
	Lookup(ctx context.Context, name string) (*storage.Client, error)
}

// FetchRequest names one object to ingest. When Query is set the object is
// read through S3 Select, otherwise it is fetched as is.
type FetchRequest struct {
	Instance string
	Bucket   string
	Key      string
	Decoder  table.Decoder
	Query    *storage.SelectQuery
}

// FetchService ties instance lookup, object reads and staged ingestion
// together for analysis code.
type FetchService struct {
	clients     ClientProvider
	pipeline    *ingest.Pipeline
	concurrency int
}

func NewFetchService(clients ClientProvider, pipeline *ingest.Pipeline, concurrency int) *FetchService {
	if concurrency < 1 {
		concurrency = 1
	}
	return &FetchService{clients: clients, pipeline: pipeline, concurrency: concurrency}
}

// FetchTable streams one object into a table.
func (s *FetchService) FetchTable(ctx context.Context, req FetchRequest) (table.Table, error) {
	client, err := s.clients.Lookup(ctx, req.Instance)
	if err != nil {
		return nil, err
	}
	return s.fetch(ctx, client, req)
}

func (s *FetchService) fetch(ctx context.Context, client *storage.Client, req FetchRequest) (table.Table, error) {
	var (
		stream ingest.Stream
		err    error
	)
	if req.Query != nil {
		stream, err = client.Select(ctx, req.Bucket, req.Key, *req.Query)
	} else {
		stream, err = client.Fetch(ctx, req.Bucket, req.Key)
	}
	if err != nil {
		return nil, err
	}
	return s.pipeline.Ingest(ctx, stream, req.Decoder)
}

// FetchMatching ingests every object in bucket whose key matches pattern
// (start-anchored, see storage.Client.ListMatching). The first failure
// cancels the remaining ingestions; each one still removes its staging file.
func (s *FetchService) FetchMatching(ctx context.Context, instance, bucket, pattern string, dec table.Decoder, opts ...storage.ListOption) (map[string]table.Table, error) {
	if _, err := storage.CompilePattern(pattern); err != nil {
		return nil, err
	}
	client, err := s.clients.Lookup(ctx, instance)
	if err != nil {
		return nil, err
	}
	keys, err := client.ListMatching(ctx, bucket, pattern, opts...)
	if err != nil {
		return nil, err
	}
	log.Info().Str("instance", instance).Str("bucket", bucket).Int("objects", len(keys)).Msg("ingesting matching objects")

	var (
		mu      sync.Mutex
		results = make(map[string]table.Table, len(keys))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, key := range keys {
		g.Go(func() error {
			tbl, err := s.fetch(gctx, client, FetchRequest{Bucket: bucket, Key: key, Decoder: dec})
			if err != nil {
				return err
			}
			mu.Lock()
			results[key] = tbl
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Find lists the keys in bucket matching pattern. An invalid pattern fails
// before the instance is looked up.
func (s *FetchService) Find(ctx context.Context, instance, bucket, pattern string, opts ...storage.ListOption) ([]string, error) {
	if _, err := storage.CompilePattern(pattern); err != nil {
		return nil, err
	}
	client, err := s.clients.Lookup(ctx, instance)
	if err != nil {
		return nil, err
	}
	return client.ListMatching(ctx, bucket, pattern, opts...)
}

// Upload copies a local file into bucket under key, creating the bucket if needed.
func (s *FetchService) Upload(ctx context.Context, instance, bucket, key, source string) error {
	client, err := s.clients.Lookup(ctx, instance)
	if err != nil {
		return err
	}
	if err := client.Upload(ctx, bucket, key, source); err != nil {
		return fmt.Errorf("failed to copy %s to %s/%s: %w", source, instance, bucket, err)
	}
	return nil
}

// DownloadMatching copies every object in bucket whose key matches pattern
// into dir, keeping the key's path below dir, and returns the local paths.
func (s *FetchService) DownloadMatching(ctx context.Context, instance, bucket, pattern, dir string, opts ...storage.ListOption) ([]string, error) {
	if dir == "" {
		return nil, fmt.Errorf("download dir is required")
	}
	if _, err := storage.CompilePattern(pattern); err != nil {
		return nil, err
	}

	client, err := s.clients.Lookup(ctx, instance)
	if err != nil {
		return nil, err
	}
	keys, err := client.ListMatching(ctx, bucket, pattern, opts...)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create download dir: %w", err)
	}

	localPaths := make([]string, 0, len(keys))
	for _, key := range keys {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		localPath := filepath.Join(dir, filepath.FromSlash(key))
		rel, err := filepath.Rel(dir, localPath)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil, fmt.Errorf("key %q escapes download dir %s", key, dir)
		}
		if err := client.Download(ctx, bucket, key, localPath); err != nil {
			return nil, err
		}
		localPaths = append(localPaths, localPath)
	}
	log.Info().Str("instance", instance).Str("bucket", bucket).Int("files", len(localPaths)).Str("dir", dir).Msg("downloaded matching objects")
	return localPaths, nil
}
