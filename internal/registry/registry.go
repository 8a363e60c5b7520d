// Package registry discovers storage instances from the secrets directory and
// hands out one lazily built client per instance.
package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/andresuchdata/daaas-storage/internal/secrets"
	"github.com/andresuchdata/daaas-storage/internal/storage"
)

// Resolver produces credentials for an instance.
type Resolver interface {
	Dir() string
	Resolve(instance string) (secrets.Credentials, error)
}

// Factory connects a client for an instance.
type Factory func(ctx context.Context, instance string, creds secrets.Credentials) (*storage.Client, error)

// StorageFactory returns a Factory that connects real storage clients.
func StorageFactory(opts storage.Options) Factory {
	return func(ctx context.Context, instance string, creds secrets.Credentials) (*storage.Client, error) {
		return storage.Connect(ctx, instance, creds, opts)
	}
}

// Registry owns every client it builds. Callers never construct clients
// directly.
type Registry struct {
	resolver Resolver
	factory  Factory
	logger   zerolog.Logger

	mu      sync.RWMutex
	clients map[string]*storage.Client
	group   singleflight.Group
}

func New(resolver Resolver, factory Factory, logger *zerolog.Logger) *Registry {
	l := log.Logger
	if logger != nil {
		l = *logger
	}
	return &Registry{
		resolver: resolver,
		factory:  factory,
		logger:   l.With().Str("component", "registry").Logger(),
		clients:  make(map[string]*storage.Client),
	}
}

// List returns the instance names found in the secrets directory, sorted.
// Entries ending in .json are the document form of another entry's secrets
// and are not listed; directories are skipped.
func (r *Registry) List() ([]string, error) {
	entries, err := os.ReadDir(r.resolver.Dir())
	if err != nil {
		return nil, fmt.Errorf("failed listing instances in %s: %w", r.resolver.Dir(), err)
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, secrets.DocumentSuffix) {
			continue
		}
		// Stat follows symlinks, which is how mounted secrets are laid out.
		info, err := os.Stat(filepath.Join(r.resolver.Dir(), name))
		if err != nil || info.IsDir() {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Client returns the client for instance, building it on first use.
// Concurrent first calls build it once. Failures are not cached, so a later
// call retries.
func (r *Registry) Client(ctx context.Context, instance string) (*storage.Client, error) {
	r.mu.RLock()
	c, ok := r.clients[instance]
	r.mu.RUnlock()
	if ok {
		return c, nil
	}

	v, err, _ := r.group.Do(instance, func() (any, error) {
		r.mu.RLock()
		c, ok := r.clients[instance]
		r.mu.RUnlock()
		if ok {
			return c, nil
		}

		creds, err := r.resolver.Resolve(instance)
		if err != nil {
			return nil, err
		}
		c, err = r.factory(ctx, instance, creds)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.clients[instance] = c
		r.mu.Unlock()
		r.logger.Debug().Str("instance", instance).Str("endpoint", creds.Host()).Msg("storage client ready")
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*storage.Client), nil
}

// FriendlyName converts an instance name into an identifier-safe alias,
// e.g. "minio-standard" becomes "minio_standard".
func FriendlyName(instance string) string {
	return strings.NewReplacer("-", "_", ".", "_").Replace(instance)
}

// Lookup returns the client for an instance given either its canonical or
// its friendly name. Besides the listed instances it also reaches instances
// that only have a document-form secret, which List leaves out.
func (r *Registry) Lookup(ctx context.Context, name string) (*storage.Client, error) {
	names, err := r.lookupNames()
	if err != nil {
		return nil, err
	}
	for _, instance := range names {
		if instance == name {
			return r.Client(ctx, instance)
		}
	}
	for _, instance := range names {
		if FriendlyName(instance) == name {
			return r.Client(ctx, instance)
		}
	}
	return nil, fmt.Errorf("no storage instance named %q in %s", name, r.resolver.Dir())
}

// lookupNames is List followed by the sorted document-only instances.
func (r *Registry) lookupNames() ([]string, error) {
	names, err := r.List()
	if err != nil {
		return nil, err
	}
	listed := make(map[string]bool, len(names))
	for _, name := range names {
		listed[name] = true
	}

	entries, err := os.ReadDir(r.resolver.Dir())
	if err != nil {
		return nil, fmt.Errorf("failed listing instances in %s: %w", r.resolver.Dir(), err)
	}
	var docOnly []string
	for _, entry := range entries {
		name, ok := strings.CutSuffix(entry.Name(), secrets.DocumentSuffix)
		if !ok || name == "" || listed[name] || entry.IsDir() {
			continue
		}
		docOnly = append(docOnly, name)
	}
	sort.Strings(docOnly)
	return append(names, docOnly...), nil
}

// Build eagerly connects every listed instance. Instances whose secrets are
// missing or malformed are reported in the error map and do not stop the
// others.
func (r *Registry) Build(ctx context.Context) (map[string]*storage.Client, map[string]error, error) {
	names, err := r.List()
	if err != nil {
		return nil, nil, err
	}

	clients := make(map[string]*storage.Client, len(names))
	failures := make(map[string]error)
	for _, instance := range names {
		c, err := r.Client(ctx, instance)
		if err != nil {
			r.logger.Warn().Err(err).Str("instance", instance).Msg("skipping storage instance")
			failures[instance] = err
			continue
		}
		clients[instance] = c
	}
	return clients, failures, nil
}
