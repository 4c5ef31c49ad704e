package cache

import (
	"strings"
	"testing"
	"time"

	"github.com/lexiqai/narrator/internal/narrative"
)

func floatPtr(f float64) *float64 { return &f }

func TestGenerateKey_Deterministic(t *testing.T) {
	settings := Settings{Stability: floatPtr(0.5), SimilarityBoost: floatPtr(0.75)}

	a := GenerateKey("The door creaks open.", "voice-1", settings)
	b := GenerateKey("The door creaks open.", "voice-1", settings)
	if a != b {
		t.Errorf("Expected identical keys, got %s and %s", a, b)
	}
	if !strings.HasPrefix(a, "tts:") {
		t.Errorf("Expected tts: prefix, got %s", a)
	}
	if len(a) != len("tts:")+64 {
		t.Errorf("Expected 64 hex chars after prefix, got %d", len(a)-len("tts:"))
	}
}

func TestGenerateKey_InputsMatter(t *testing.T) {
	base := GenerateKey("Hello", "voice-1", Settings{})

	tests := []struct {
		name string
		key  string
	}{
		{"text", GenerateKey("Hello!", "voice-1", Settings{})},
		{"voice", GenerateKey("Hello", "voice-2", Settings{})},
		{"stability", GenerateKey("Hello", "voice-1", Settings{Stability: floatPtr(0.3)})},
		{"model", GenerateKey("Hello", "voice-1", Settings{ModelID: "eleven_turbo_v2"})},
	}
	for _, tt := range tests {
		if tt.key == base {
			t.Errorf("Expected %s to change the key", tt.name)
		}
	}
}

func TestGenerateKey_UnsetSettingsIgnored(t *testing.T) {
	a := GenerateKey("Hello", "voice-1", Settings{})
	b := GenerateKey("Hello", "voice-1", Settings{Style: nil, UseSpeakerBoost: nil})
	if a != b {
		t.Errorf("Expected nil settings not to affect key")
	}

	zero := GenerateKey("Hello", "voice-1", Settings{Style: floatPtr(0)})
	if zero == a {
		t.Errorf("Expected an explicit zero to affect key")
	}
}

func TestTTL(t *testing.T) {
	if got := TTL(ContentNarration); got != 604800*time.Second {
		t.Errorf("Expected narration TTL 604800s, got %v", got)
	}
	if got := TTL(ContentStaticDialogue); got != 2592000*time.Second {
		t.Errorf("Expected static dialogue TTL 2592000s, got %v", got)
	}
}

func TestContentTypeForRole(t *testing.T) {
	tests := []struct {
		role narrative.VoiceRole
		want ContentType
	}{
		{narrative.RoleNarrator, ContentNarration},
		{narrative.RoleJudge, ContentNarration},
		{narrative.RoleNPC, ContentStaticDialogue},
		{narrative.RoleInnerVoice, ContentStaticDialogue},
		{"", ContentStaticDialogue},
	}
	for _, tt := range tests {
		if got := ContentTypeForRole(tt.role); got != tt.want {
			t.Errorf("ContentTypeForRole(%q): expected %s, got %s", tt.role, tt.want, got)
		}
	}
}
