package cache

import (
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

const (
	indexFile         = "cache.index"
	compressThreshold = 1024
)

// DiskStore persists audio as files under a directory, optionally zstd
// compressed. A gob index tracks sizes, expiry and last access.
type DiskStore struct {
	basePath string
	capacity int64
	size     int64

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	index map[string]*diskEntry

	mu  sync.Mutex
	now func() time.Time
}

type diskEntry struct {
	Key          string
	FilePath     string
	Size         int64 // on disk
	OriginalSize int64
	ExpiresAt    time.Time
	LastAccess   time.Time
	Compressed   bool
}

// NewDiskStore opens (or creates) a disk store. compressionLevel 0 disables
// compression; capacity <= 0 means unbounded.
func NewDiskStore(basePath string, capacity int64, compressionLevel int) (*DiskStore, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	ds := &DiskStore{
		basePath: basePath,
		capacity: capacity,
		index:    make(map[string]*diskEntry),
		now:      time.Now,
	}

	if compressionLevel > 0 {
		var err error
		ds.encoder, err = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(compressionLevel)))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		ds.decoder, err = zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
	}

	if err := ds.loadIndex(); err != nil {
		ds.index = make(map[string]*diskEntry)
	}
	for _, entry := range ds.index {
		ds.size += entry.Size
	}

	return ds, nil
}

func (ds *DiskStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	entry, ok := ds.index[key]
	if !ok {
		return nil, false, nil
	}
	if !entry.ExpiresAt.IsZero() && !ds.now().Before(entry.ExpiresAt) {
		ds.removeEntry(entry)
		return nil, false, nil
	}

	data, err := os.ReadFile(entry.FilePath)
	if err != nil {
		ds.removeEntry(entry)
		return nil, false, fmt.Errorf("failed to read cache file: %w", err)
	}

	if entry.Compressed {
		if ds.decoder == nil {
			ds.removeEntry(entry)
			return nil, false, nil
		}
		data, err = ds.decoder.DecodeAll(data, nil)
		if err != nil {
			ds.removeEntry(entry)
			return nil, false, fmt.Errorf("failed to decompress cache file: %w", err)
		}
	}

	entry.LastAccess = ds.now()
	return data, true, nil
}

func (ds *DiskStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	data := value
	compressed := false
	if ds.encoder != nil && len(value) > compressThreshold {
		if c := ds.encoder.EncodeAll(value, nil); len(c) < len(value) {
			data = c
			compressed = true
		}
	}

	diskSize := int64(len(data))
	if ds.capacity > 0 && diskSize > ds.capacity {
		return ErrItemTooLarge
	}

	if existing, ok := ds.index[key]; ok {
		ds.removeEntry(existing)
	}
	for ds.capacity > 0 && ds.size+diskSize > ds.capacity && len(ds.index) > 0 {
		ds.evictOldest()
	}

	path := ds.filePath(key)
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	now := ds.now()
	entry := &diskEntry{
		Key:          key,
		FilePath:     path,
		Size:         diskSize,
		OriginalSize: int64(len(value)),
		LastAccess:   now,
		Compressed:   compressed,
	}
	if ttl > 0 {
		entry.ExpiresAt = now.Add(ttl)
	}
	ds.index[key] = entry
	ds.size += diskSize

	return ds.saveIndex()
}

func (ds *DiskStore) Ping(context.Context) error {
	_, err := os.Stat(ds.basePath)
	return err
}

// Close persists the index and releases the codecs
func (ds *DiskStore) Close() error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	err := ds.saveIndex()
	if ds.encoder != nil {
		ds.encoder.Close()
	}
	if ds.decoder != nil {
		ds.decoder.Close()
	}
	return err
}

// Size returns the bytes used on disk
func (ds *DiskStore) Size() int64 {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.size
}

// Len returns the number of indexed entries
func (ds *DiskStore) Len() int {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return len(ds.index)
}

func (ds *DiskStore) filePath(key string) string {
	hash := sha256.Sum256([]byte(key))
	return filepath.Join(ds.basePath, hex.EncodeToString(hash[:16])+".cache")
}

func (ds *DiskStore) removeEntry(entry *diskEntry) {
	os.Remove(entry.FilePath)
	ds.size -= entry.Size
	delete(ds.index, entry.Key)
}

func (ds *DiskStore) evictOldest() {
	var oldest *diskEntry
	for _, entry := range ds.index {
		if oldest == nil || entry.LastAccess.Before(oldest.LastAccess) {
			oldest = entry
		}
	}
	if oldest != nil {
		ds.removeEntry(oldest)
	}
}

func (ds *DiskStore) loadIndex() error {
	file, err := os.Open(filepath.Join(ds.basePath, indexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	return gob.NewDecoder(file).Decode(&ds.index)
}

func (ds *DiskStore) saveIndex() error {
	indexPath := filepath.Join(ds.basePath, indexFile)
	tempPath := indexPath + ".tmp"

	file, err := os.Create(tempPath)
	if err != nil {
		return err
	}
	err = gob.NewEncoder(file).Encode(ds.index)
	closeErr := file.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempPath)
		return err
	}
	return os.Rename(tempPath, indexPath)
}

// writeFileAtomic writes to a temp file and renames it into place
func writeFileAtomic(path string, data []byte) error {
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		os.Remove(tempPath)
		return err
	}
	return os.Rename(tempPath, path)
}
