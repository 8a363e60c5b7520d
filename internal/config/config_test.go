package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestFromViperDefaults(t *testing.T) {
	cfg := FromViper(viper.New())

	assert.Equal(t, DefaultSecretsDir, cfg.Secrets.Dir)
	assert.True(t, cfg.Secrets.StripScheme)
	assert.Equal(t, "us-west-1", cfg.Storage.Region)
	assert.Equal(t, os.TempDir(), cfg.Ingest.StagingDir)
	assert.Equal(t, 64*1024, cfg.Ingest.ChunkSize)
	assert.Equal(t, 4, cfg.Ingest.Concurrency)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestFromViperOverrides(t *testing.T) {
	v := viper.New()
	v.Set("SECRETS_DIR", "/tmp/secrets")
	v.Set("STORAGE_STRIP_SCHEME", false)
	v.Set("STAGING_DIR", "/scratch")
	v.Set("INGEST_CHUNK_SIZE", 10)
	v.Set("INGEST_CONCURRENCY", -3)

	cfg := FromViper(v)

	assert.Equal(t, "/tmp/secrets", cfg.Secrets.Dir)
	assert.False(t, cfg.Secrets.StripScheme)
	assert.Equal(t, "/scratch", cfg.Ingest.StagingDir)
	assert.Equal(t, 10, cfg.Ingest.ChunkSize)
	assert.Equal(t, 4, cfg.Ingest.Concurrency, "non-positive concurrency falls back to default")
}
