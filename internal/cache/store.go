package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

var (
	// ErrNotConnected is returned when the cache has not been connected yet
	ErrNotConnected = errors.New("cache not connected")

	// ErrItemTooLarge is returned when a value exceeds a store's capacity
	ErrItemTooLarge = errors.New("item too large for cache")
)

// Store is a key/value backend with per-entry expiry.
type Store interface {
	// Get returns the value for key. A missing or expired key is not an error.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Ping(ctx context.Context) error
	Close() error
}

// StoreOptions selects and configures a backend
type StoreOptions struct {
	Backend          string // redis, disk, memory, none
	RedisURL         string
	DiskPath         string
	DiskCapacity     int64
	CompressionLevel int
	MemoryCapacity   int64
}

// NewStore builds the backend named in opts
func NewStore(opts StoreOptions) (Store, error) {
	switch opts.Backend {
	case "redis":
		return NewRedisStore(opts.RedisURL)
	case "disk":
		path := opts.DiskPath
		if path == "" {
			dir, err := os.UserCacheDir()
			if err != nil {
				return nil, fmt.Errorf("failed to resolve cache directory: %w", err)
			}
			path = filepath.Join(dir, "narrator", "tts")
		}
		return NewDiskStore(path, opts.DiskCapacity, opts.CompressionLevel)
	case "memory", "":
		return NewMemoryStore(opts.MemoryCapacity), nil
	case "none":
		return NoopStore{}, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", opts.Backend)
	}
}

// NoopStore never stores anything
type NoopStore struct{}

func (NoopStore) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (NoopStore) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (NoopStore) Ping(context.Context) error { return nil }
func (NoopStore) Close() error { return nil }
