// Package config loads the layered (file + env) application configuration
// into typed per-subsystem structs via viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ChunkerConfig tunes FastCDC content-defined chunking.
type ChunkerConfig struct {
	MinChunkSize int
	AvgChunkSize int
	MaxChunkSize int
}

// PackStoreConfig tunes the content-addressed chunk pack-file store.
type PackStoreConfig struct {
	RootDir          string
	MaxPackSizeBytes int64
	CompressionLevel int // maps to zstd.EncoderLevel
	RepairInterval   time.Duration
}

// IngestConfig tunes ingest-session behavior.
type IngestConfig struct {
	SessionTTL time.Duration
}

// CatalogConfig points at the persisted catalog backend.
type CatalogConfig struct {
	DSN string
}

// RedisConfig describes how to reach the Redis instance backing the
// distributed cache and lock, when those are enabled.
type RedisConfig struct {
	Host        string
	Port        int
	Password    string
	DB          int
	PoolSize    int
	DialTimeout time.Duration
}

// Addr returns the host:port dial address.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ServerConfig configures the HTTP transport surface.
type ServerConfig struct {
	ListenAddr      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Config is the top-level application configuration, one field per
// subsystem.
type Config struct {
	Chunker   ChunkerConfig
	PackStore PackStoreConfig
	Ingest    IngestConfig
	Catalog   CatalogConfig
	Redis     RedisConfig
	Server    ServerConfig
}

func defaults() Config {
	return Config{
		Chunker: ChunkerConfig{
			MinChunkSize: 4 << 10,
			AvgChunkSize: 16 << 10,
			MaxChunkSize: 64 << 10,
		},
		PackStore: PackStoreConfig{
			RootDir:          "./data/packs",
			MaxPackSizeBytes: 4 << 30,
			CompressionLevel: 3,
			RepairInterval:   6 * time.Hour,
		},
		Ingest: IngestConfig{
			SessionTTL: 24 * time.Hour,
		},
		Catalog: CatalogConfig{
			DSN: "",
		},
		Redis: RedisConfig{
			Host:        "localhost",
			Port:        6379,
			PoolSize:    10,
			DialTimeout: 5 * time.Second,
		},
		Server: ServerConfig{
			ListenAddr:      ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// Load reads configPath (if non-empty) and environment variables prefixed
// ALEXSTORE_ (nested fields addressed with underscores, e.g.
// ALEXSTORE_REDIS_HOST), layering them over the built-in defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v, defaults())

	v.SetEnvPrefix("ALEXSTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configPath, err)
		}
	}

	cfg := defaults()
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

// setDefaults seeds viper with every field of d so env-only overrides
// (with no config file present) still resolve correctly.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("chunker.minchunksize", d.Chunker.MinChunkSize)
	v.SetDefault("chunker.avgchunksize", d.Chunker.AvgChunkSize)
	v.SetDefault("chunker.maxchunksize", d.Chunker.MaxChunkSize)

	v.SetDefault("packstore.rootdir", d.PackStore.RootDir)
	v.SetDefault("packstore.maxpacksizebytes", d.PackStore.MaxPackSizeBytes)
	v.SetDefault("packstore.compressionlevel", d.PackStore.CompressionLevel)
	v.SetDefault("packstore.repairinterval", d.PackStore.RepairInterval)

	v.SetDefault("ingest.sessionttl", d.Ingest.SessionTTL)

	v.SetDefault("catalog.dsn", d.Catalog.DSN)

	v.SetDefault("redis.host", d.Redis.Host)
	v.SetDefault("redis.port", d.Redis.Port)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.poolsize", d.Redis.PoolSize)
	v.SetDefault("redis.dialtimeout", d.Redis.DialTimeout)

	v.SetDefault("server.listenaddr", d.Server.ListenAddr)
	v.SetDefault("server.readtimeout", d.Server.ReadTimeout)
	v.SetDefault("server.writetimeout", d.Server.WriteTimeout)
	v.SetDefault("server.shutdowntimeout", d.Server.ShutdownTimeout)
}
