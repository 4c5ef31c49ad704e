package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lexiqai/narrator/internal/narrative"
)

// KeyPrefix namespaces every audio entry in the backing store.
const KeyPrefix = "tts:"

// Settings are the synthesis parameters that change the produced audio.
// Only the fields that are set participate in the key.
type Settings struct {
	ModelID         string
	OutputFormat    string
	Stability       *float64
	SimilarityBoost *float64
	Style           *float64
	UseSpeakerBoost *bool
}

// GenerateKey derives the deterministic cache key for one synthesis input.
func GenerateKey(text, voiceID string, settings Settings) string {
	pairs := settings.pairs()
	sort.Strings(pairs)

	h := sha256.New()
	h.Write([]byte(text))
	h.Write([]byte{0})
	h.Write([]byte(voiceID))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(pairs, "&")))

	return KeyPrefix + hex.EncodeToString(h.Sum(nil))
}

func (s Settings) pairs() []string {
	var pairs []string
	if s.ModelID != "" {
		pairs = append(pairs, "model_id="+s.ModelID)
	}
	if s.OutputFormat != "" {
		pairs = append(pairs, "output_format="+s.OutputFormat)
	}
	if s.Stability != nil {
		pairs = append(pairs, "stability="+formatFloat(*s.Stability))
	}
	if s.SimilarityBoost != nil {
		pairs = append(pairs, "similarity_boost="+formatFloat(*s.SimilarityBoost))
	}
	if s.Style != nil {
		pairs = append(pairs, "style="+formatFloat(*s.Style))
	}
	if s.UseSpeakerBoost != nil {
		pairs = append(pairs, "use_speaker_boost="+strconv.FormatBool(*s.UseSpeakerBoost))
	}
	return pairs
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// ContentType classifies cached audio for expiry purposes
type ContentType string

const (
	ContentNarration      ContentType = "narration"
	ContentStaticDialogue ContentType = "static_dialogue"
)

const (
	narrationTTL      = 7 * 24 * time.Hour
	staticDialogueTTL = 30 * 24 * time.Hour
)

// TTL returns how long audio of the given type stays cached.
// Unknown types get the narration lifetime.
func TTL(ct ContentType) time.Duration {
	if ct == ContentStaticDialogue {
		return staticDialogueTTL
	}
	return narrationTTL
}

// ContentTypeForRole maps a voice role to its cache classification.
// Narrator and judge lines are story-specific; everything else is treated
// as reusable dialogue.
func ContentTypeForRole(role narrative.VoiceRole) ContentType {
	switch role {
	case narrative.RoleNarrator, narrative.RoleJudge:
		return ContentNarration
	default:
		return ContentStaticDialogue
	}
}
