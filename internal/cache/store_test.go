package cache

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestMemoryStore_GetSet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(1024)

	if _, ok, _ := s.Get(ctx, "missing"); ok {
		t.Error("Expected miss for unknown key")
	}
	if err := s.Set(ctx, "k", []byte("audio"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	val, ok, err := s.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Expected hit, got ok=%v err=%v", ok, err)
	}
	if string(val) != "audio" {
		t.Errorf("Expected 'audio', got '%s'", val)
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	now := time.Now()
	s.now = func() time.Time { return now }

	_ = s.Set(ctx, "k", []byte("audio"), time.Second)
	now = now.Add(2 * time.Second)

	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Error("Expected expired entry to miss")
	}
	if s.Len() != 0 {
		t.Errorf("Expected expired entry to be dropped, got %d entries", s.Len())
	}
}

func TestMemoryStore_LRUEviction(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(10)

	_ = s.Set(ctx, "a", []byte("12345"), 0)
	_ = s.Set(ctx, "b", []byte("12345"), 0)
	_, _, _ = s.Get(ctx, "a") // a is now most recent
	_ = s.Set(ctx, "c", []byte("12345"), 0)

	if _, ok, _ := s.Get(ctx, "b"); ok {
		t.Error("Expected least recently used entry to be evicted")
	}
	if _, ok, _ := s.Get(ctx, "a"); !ok {
		t.Error("Expected recently used entry to survive")
	}
	if s.Size() != 10 {
		t.Errorf("Expected size 10, got %d", s.Size())
	}
	if err := s.Set(ctx, "huge", make([]byte, 11), 0); err != ErrItemTooLarge {
		t.Errorf("Expected ErrItemTooLarge, got %v", err)
	}
}

func TestDiskStore_RoundTripCompressed(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewDiskStore(dir, 0, 3)
	if err != nil {
		t.Fatalf("NewDiskStore failed: %v", err)
	}

	audio := bytes.Repeat([]byte("ID3 frame "), 500)
	if err := s.Set(ctx, "tts:abc", audio, time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if s.Size() >= int64(len(audio)) {
		t.Errorf("Expected compressed size below %d, got %d", len(audio), s.Size())
	}
	got, ok, err := s.Get(ctx, "tts:abc")
	if err != nil || !ok {
		t.Fatalf("Expected hit, got ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(got, audio) {
		t.Error("Expected decompressed audio to match")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Index survives reopen
	reopened, err := NewDiskStore(dir, 0, 3)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer reopened.Close()
	if _, ok, _ := reopened.Get(ctx, "tts:abc"); !ok {
		t.Error("Expected entry to survive reopen")
	}
	if reopened.Len() != 1 {
		t.Errorf("Expected 1 entry after reopen, got %d", reopened.Len())
	}
}

func TestDiskStore_Expiry(t *testing.T) {
	ctx := context.Background()
	s, err := NewDiskStore(t.TempDir(), 0, 0)
	if err != nil {
		t.Fatalf("NewDiskStore failed: %v", err)
	}
	defer s.Close()

	now := time.Now()
	s.now = func() time.Time { return now }

	_ = s.Set(ctx, "k", []byte("audio"), time.Minute)
	now = now.Add(time.Hour)

	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Error("Expected expired entry to miss")
	}
	if s.Size() != 0 {
		t.Errorf("Expected size 0 after expiry, got %d", s.Size())
	}
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	s, err := NewRedisStore("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore failed: %v", err)
	}
	defer s.Close()

	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	if _, ok, err := s.Get(ctx, "tts:missing"); ok || err != nil {
		t.Errorf("Expected clean miss, got ok=%v err=%v", ok, err)
	}
	if err := s.Set(ctx, "tts:k", []byte("audio"), time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if ttl := mr.TTL("tts:k"); ttl != time.Hour {
		t.Errorf("Expected TTL 1h, got %v", ttl)
	}
	val, ok, err := s.Get(ctx, "tts:k")
	if err != nil || !ok || string(val) != "audio" {
		t.Errorf("Expected 'audio' hit, got %q ok=%v err=%v", val, ok, err)
	}

	mr.FastForward(2 * time.Hour)
	if _, ok, _ := s.Get(ctx, "tts:k"); ok {
		t.Error("Expected key to expire")
	}
}

func TestNewStore(t *testing.T) {
	tests := []struct {
		backend string
		wantErr bool
	}{
		{"memory", false},
		{"none", false},
		{"disk", false},
		{"redis", false},
		{"memcached", true},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			s, err := NewStore(StoreOptions{
				Backend:  tt.backend,
				RedisURL: "redis://localhost:6379/0",
				DiskPath: t.TempDir(),
			})
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expected error=%v, got %v", tt.wantErr, err)
			}
			if s != nil {
				s.Close()
			}
		})
	}
}
