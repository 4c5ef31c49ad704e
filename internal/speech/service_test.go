package speech

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/lexiqai/narrator/internal/cache"
	"github.com/lexiqai/narrator/internal/narrative"
	"github.com/lexiqai/narrator/internal/tts"
)

type fakeSynth struct {
	mu       sync.Mutex
	calls    int
	requests []tts.SynthesisRequest
	err      error
}

func (f *fakeSynth) SynthesizeBytes(ctx context.Context, req tts.SynthesisRequest) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return []byte("audio:" + req.VoiceID + ":" + req.Text), nil
}

func (f *fakeSynth) OutputFormat() string { return "mp3_44100_128" }
func (f *fakeSynth) ModelID() string { return "eleven_multilingual_v2" }

func testVoices() VoiceTable {
	return VoiceTable{
		Roles: map[narrative.VoiceRole]string{
			narrative.RoleNarrator:   "narrator-voice",
			narrative.RoleNPC:        "npc-voice",
			narrative.RoleInnerVoice: "inner-voice",
			narrative.RoleJudge:      "judge-voice",
		},
		Speakers: map[string]string{"mira": "mira-voice"},
	}
}

func newTestService(t *testing.T, synth *fakeSynth) (*Service, *cache.MemoryStore) {
	t.Helper()
	store := cache.NewMemoryStore(0)
	c := cache.New(store, cache.WithLogger(zerolog.Nop()))
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	return NewService(synth, c, testVoices()), store
}

func TestSpeak_CachesSecondRequest(t *testing.T) {
	synth := &fakeSynth{}
	svc, _ := newTestService(t, synth)
	ctx := context.Background()
	req := Request{Text: "Hello world", Role: narrative.RoleNarrator}

	first, err := svc.Speak(ctx, req)
	if err != nil {
		t.Fatalf("Speak failed: %v", err)
	}
	if first.CacheHit {
		t.Error("Expected first request to miss")
	}

	second, err := svc.Speak(ctx, req)
	if err != nil {
		t.Fatalf("Speak failed: %v", err)
	}
	if !second.CacheHit {
		t.Error("Expected second request to hit")
	}
	if string(second.Audio) != string(first.Audio) {
		t.Errorf("Expected identical audio, got %q and %q", first.Audio, second.Audio)
	}
	if synth.calls != 1 {
		t.Errorf("Expected 1 synthesis call, got %d", synth.calls)
	}
	if first.ContentType != "audio/mpeg" {
		t.Errorf("Expected audio/mpeg, got %s", first.ContentType)
	}
}

func TestSpeak_CacheOptOut(t *testing.T) {
	synth := &fakeSynth{}
	svc, store := newTestService(t, synth)
	noCache := false
	req := Request{Text: "Hello", Role: narrative.RoleNPC, Cache: &noCache}

	for i := 0; i < 2; i++ {
		if _, err := svc.Speak(context.Background(), req); err != nil {
			t.Fatalf("Speak failed: %v", err)
		}
	}
	if synth.calls != 2 {
		t.Errorf("Expected 2 synthesis calls, got %d", synth.calls)
	}
	if store.Len() != 0 {
		t.Errorf("Expected nothing cached, got %d entries", store.Len())
	}
}

func TestSpeak_VoiceSelection(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want string
	}{
		{"narrator", Request{Text: "x", Role: narrative.RoleNarrator}, "narrator-voice"},
		{"npc", Request{Text: "x", Role: narrative.RoleNPC}, "npc-voice"},
		{"known speaker", Request{Text: "x", Role: narrative.RoleNPC, Speaker: "Mira"}, "mira-voice"},
		{"unknown speaker", Request{Text: "x", Role: narrative.RoleJudge, Speaker: "Bob"}, "judge-voice"},
		{"no role", Request{Text: "x"}, "narrator-voice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t, &fakeSynth{})
			res, err := svc.Speak(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("Speak failed: %v", err)
			}
			if res.VoiceID != tt.want {
				t.Errorf("Expected voice %s, got %s", tt.want, res.VoiceID)
			}
		})
	}
}

func TestSpeak_PresetChangesKey(t *testing.T) {
	synth := &fakeSynth{}
	svc, _ := newTestService(t, synth)
	ctx := context.Background()

	calm, err := svc.Speak(ctx, Request{Text: "Stay.", Role: narrative.RoleNPC, Preset: PresetDialogueCalm})
	if err != nil {
		t.Fatalf("Speak failed: %v", err)
	}
	intense, err := svc.Speak(ctx, Request{Text: "Stay.", Role: narrative.RoleNPC, Preset: PresetDialogueIntense})
	if err != nil {
		t.Fatalf("Speak failed: %v", err)
	}
	if calm.CacheKey == intense.CacheKey {
		t.Error("Expected different presets to produce different keys")
	}
	if synth.requests[1].VoiceSettings.UseSpeakerBoost == nil {
		t.Error("Expected intense preset settings to reach the synthesizer")
	}
}

func TestSpeak_Validation(t *testing.T) {
	synth := &fakeSynth{}
	svc, _ := newTestService(t, synth)

	tests := []Request{
		{Text: "   "},
		{Text: "Hello", Role: "villain"},
		{Text: "Hello", Preset: "operatic"},
	}
	for _, req := range tests {
		if _, err := svc.Speak(context.Background(), req); !errors.Is(err, tts.ErrValidation) {
			t.Errorf("Expected validation error for %+v, got %v", req, err)
		}
	}
	if synth.calls != 0 {
		t.Errorf("Expected no synthesis calls, got %d", synth.calls)
	}
}

func TestSpeak_SynthesisErrorNotCached(t *testing.T) {
	synth := &fakeSynth{err: &tts.APIError{StatusCode: 503, Message: "busy", Retryable: true}}
	svc, store := newTestService(t, synth)

	_, err := svc.Speak(context.Background(), Request{Text: "Hello"})
	var apiErr *tts.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected *tts.APIError, got %v", err)
	}
	if store.Len() != 0 {
		t.Error("Expected failed synthesis not to be cached")
	}
}

func TestRemoteResolver(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != SpeakPath {
			t.Errorf("Expected %s, got %s", SpeakPath, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		if got.Text == "" {
			http.Error(w, "invalid text: must not be empty", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3remote"))
	}))
	defer srv.Close()

	r := NewRemoteResolver(srv.URL, nil)
	audio, err := r.Resolve(context.Background(), Request{Text: "Hello", Role: narrative.RoleJudge, Priority: "high"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if string(audio) != "ID3remote" {
		t.Errorf("Expected 'ID3remote', got '%s'", audio)
	}
	if got.Role != narrative.RoleJudge || got.Priority != "high" {
		t.Errorf("Expected request fields to be forwarded, got %+v", got)
	}

	if _, err := r.Resolve(context.Background(), Request{}); !errors.Is(err, tts.ErrValidation) {
		t.Errorf("Expected validation error for 400, got %v", err)
	}
}

func TestService_CacheKeyMatchesSpeak(t *testing.T) {
	synth := &fakeSynth{}
	svc, _ := newTestService(t, synth)

	req := Request{Text: "The bridge holds.", Role: narrative.RoleJudge}
	key, err := svc.CacheKey(req)
	if err != nil {
		t.Fatalf("CacheKey failed: %v", err)
	}

	res, err := svc.Speak(context.Background(), req)
	if err != nil {
		t.Fatalf("Speak failed: %v", err)
	}
	if res.CacheKey != key {
		t.Errorf("Expected key %s, got %s", key, res.CacheKey)
	}
	if synth.calls != 1 {
		t.Errorf("Expected CacheKey not to synthesize, got %d calls", synth.calls)
	}

	if _, err := svc.CacheKey(Request{Text: " "}); !errors.Is(err, tts.ErrValidation) {
		t.Errorf("Expected validation error, got %v", err)
	}
}
