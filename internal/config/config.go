// internal/config/config.go
package config

import (
	"os"
	"sync"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultSecretsDir is where the notebook server mounts per-instance storage secrets.
const DefaultSecretsDir = "/vault/secrets"

type Config struct {
	Secrets SecretsConfig
	Storage StorageConfig
	Ingest  IngestConfig
	Log     LogConfig
}

type SecretsConfig struct {
	Dir         string
	StripScheme bool
}

type StorageConfig struct {
	Region string
}

type IngestConfig struct {
	StagingDir  string
	ChunkSize   int
	Concurrency int
}

type LogConfig struct {
	Level string
	JSON  bool
}

var (
	once     sync.Once
	instance *Config
)

// Load reads .env (if present) and the process environment once per process.
func Load() *Config {
	once.Do(func() {
		// Load .env file if it exists
		_ = godotenv.Load()

		viper.AutomaticEnv()
		instance = FromViper(viper.GetViper())
	})

	return instance
}

// FromViper builds a Config from v after applying the defaults.
func FromViper(v *viper.Viper) *Config {
	setDefaults(v)

	stagingDir := v.GetString("STAGING_DIR")
	if stagingDir == "" {
		stagingDir = os.TempDir()
	}

	return &Config{
		Secrets: SecretsConfig{
			Dir:         v.GetString("SECRETS_DIR"),
			StripScheme: v.GetBool("STORAGE_STRIP_SCHEME"),
		},
		Storage: StorageConfig{
			Region: v.GetString("STORAGE_REGION"),
		},
		Ingest: IngestConfig{
			StagingDir:  stagingDir,
			ChunkSize:   positive(v.GetInt("INGEST_CHUNK_SIZE"), 64*1024),
			Concurrency: positive(v.GetInt("INGEST_CONCURRENCY"), 4),
		},
		Log: LogConfig{
			Level: v.GetString("LOG_LEVEL"),
			JSON:  v.GetBool("LOG_JSON"),
		},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SECRETS_DIR", DefaultSecretsDir)
	v.SetDefault("STORAGE_STRIP_SCHEME", true)
	v.SetDefault("STORAGE_REGION", "us-west-1")
	v.SetDefault("STAGING_DIR", "")
	v.SetDefault("INGEST_CHUNK_SIZE", 64*1024)
	v.SetDefault("INGEST_CONCURRENCY", 4)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_JSON", false)
}

func positive(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
