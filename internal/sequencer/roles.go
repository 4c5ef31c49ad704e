package sequencer

import (
	"strings"
	"unicode"

	"github.com/lexiqai/narrator/internal/narrative"
	"github.com/lexiqai/narrator/internal/speech"
)

var typeRoles = map[narrative.BeatType]narrative.VoiceRole{
	narrative.BeatNarration:  narrative.RoleNarrator,
	narrative.BeatAction:     narrative.RoleNarrator,
	narrative.BeatSound:      narrative.RoleNarrator,
	narrative.BeatTransition: narrative.RoleNarrator,
	narrative.BeatDialogue:   narrative.RoleNPC,
	narrative.BeatThought:    narrative.RoleInnerVoice,
}

var (
	intenseTokens = []string{"intense", "angry", "excited", "furious", "shout", "urgent", "panic"}
	calmTokens    = []string{"calm", "gentle", "soft", "quiet", "peaceful", "whisper", "soothing"}
)

// RoleFor picks the voice role for a beat. A spoken line (dialogue or
// thought with a speaker) maps by type; anything else uses the type table
// and falls back to the narrator.
func RoleFor(b narrative.Beat) narrative.VoiceRole {
	if strings.TrimSpace(b.Speaker) != "" {
		switch b.Type {
		case narrative.BeatThought:
			return narrative.RoleInnerVoice
		case narrative.BeatDialogue:
			return narrative.RoleNPC
		}
	}
	if role, ok := typeRoles[b.Type]; ok {
		return role
	}
	return narrative.RoleNarrator
}

// PresetFor derives a delivery preset from the beat's emotion hint.
// Tokens match by prefix ("excitedly" is intense). It returns "" when the
// emotion is neither intense nor calm.
func PresetFor(b narrative.Beat) string {
	tokens := strings.FieldsFunc(strings.ToLower(b.Metadata.Emotion), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	if matchesAny(tokens, intenseTokens) {
		return speech.PresetDialogueIntense
	}
	if matchesAny(tokens, calmTokens) {
		return speech.PresetDialogueCalm
	}
	return ""
}

func matchesAny(tokens, vocabulary []string) bool {
	for _, t := range tokens {
		for _, v := range vocabulary {
			if strings.HasPrefix(t, v) {
				return true
			}
		}
	}
	return false
}
