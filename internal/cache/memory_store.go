package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process LRU bounded by total value size in bytes.
// Entries also expire after their TTL.
type MemoryStore struct {
	capacity int64
	size     int64

	items    map[string]*list.Element
	eviction *list.List

	mu  sync.Mutex
	now func() time.Time
}

type memoryEntry struct {
	key       string
	value     []byte
	expiresAt time.Time // zero means never
}

// NewMemoryStore creates a store holding at most capacity bytes.
// A non-positive capacity means unbounded.
func NewMemoryStore(capacity int64) *MemoryStore {
	return &MemoryStore{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		eviction: list.New(),
		now:      time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.items[key]
	if !ok {
		return nil, false, nil
	}
	entry := elem.Value.(*memoryEntry)
	if !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt) {
		s.removeElement(elem)
		return nil, false, nil
	}

	s.eviction.MoveToFront(elem)
	return entry.value, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	valueSize := int64(len(value))
	if s.capacity > 0 && valueSize > s.capacity {
		return ErrItemTooLarge
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = s.now().Add(ttl)
	}

	if elem, ok := s.items[key]; ok {
		s.removeElement(elem)
	}

	for s.capacity > 0 && s.size+valueSize > s.capacity && s.eviction.Len() > 0 {
		s.removeElement(s.eviction.Back())
	}

	elem := s.eviction.PushFront(&memoryEntry{key: key, value: value, expiresAt: expiresAt})
	s.items[key] = elem
	s.size += valueSize
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make(map[string]*list.Element)
	s.eviction.Init()
	s.size = 0
	return nil
}

// Size returns the bytes currently held
func (s *MemoryStore) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Len returns the number of entries, expired ones included until touched
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// removeElement must be called with the lock held
func (s *MemoryStore) removeElement(elem *list.Element) {
	s.eviction.Remove(elem)
	entry := elem.Value.(*memoryEntry)
	delete(s.items, entry.key)
	s.size -= int64(len(entry.value))
}
