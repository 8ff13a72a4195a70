package nodestore

import (
	"fmt"

	"github.com/LeJamon/rcld/internal/storage/nodestore/compression"
)

// Supported backends
const (
	BackendPebble  = "pebble"
	BackendLevelDB = "leveldb"
)

// Config holds configuration options for the node store.
type Config struct {
	// Backend is "pebble" or "leveldb".
	Backend string `mapstructure:"backend"`

	// Path is the directory holding the database. Ignored when InMemory.
	Path string `mapstructure:"path"`

	InMemory bool `mapstructure:"in_memory"`

	// CacheSize is the number of decoded nodes kept in memory.
	CacheSize int `mapstructure:"cache_size"`

	// BackendCacheMB sizes the backend's own block cache. Zero keeps its default.
	BackendCacheMB int `mapstructure:"backend_cache_mb"`

	Compressor string `mapstructure:"compressor"`
	SyncWrites bool   `mapstructure:"sync_writes"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend:    BackendPebble,
		Path:       "./db/nodestore",
		CacheSize:  2000,
		Compressor: "lz4",
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendPebble, BackendLevelDB:
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedBackend, c.Backend)
	}
	if c.Path == "" && !c.InMemory {
		return fmt.Errorf("%w: path must be specified", ErrInvalidConfig)
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("%w: cache_size must be non-negative", ErrInvalidConfig)
	}
	if c.BackendCacheMB < 0 {
		return fmt.Errorf("%w: backend_cache_mb must be non-negative", ErrInvalidConfig)
	}
	if !compression.IsAvailable(c.Compressor) {
		return fmt.Errorf("%w: unknown compressor %q", ErrInvalidConfig, c.Compressor)
	}
	return nil
}
