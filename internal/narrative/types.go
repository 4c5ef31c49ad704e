package narrative

import (
	"fmt"
	"strings"
	"time"
)

// VoiceRole is the coarse speaker category used to pick a synthetic voice
// and a cache classification.
type VoiceRole string

const (
	RoleNarrator   VoiceRole = "narrator"
	RoleNPC        VoiceRole = "npc"
	RoleInnerVoice VoiceRole = "inner_voice"
	RoleJudge      VoiceRole = "judge"
)

// Valid reports whether r is one of the known roles. The empty role is not valid.
func (r VoiceRole) Valid() bool {
	switch r {
	case RoleNarrator, RoleNPC, RoleInnerVoice, RoleJudge:
		return true
	}
	return false
}

// ParseVoiceRole parses a role name. An empty string yields the empty role.
func ParseVoiceRole(s string) (VoiceRole, error) {
	r := VoiceRole(strings.ToLower(strings.TrimSpace(s)))
	if r == "" || r.Valid() {
		return r, nil
	}
	return "", fmt.Errorf("unknown voice role %q", s)
}

// BeatType is the dramatic type of a narrative beat
type BeatType string

const (
	BeatNarration  BeatType = "narration"
	BeatDialogue   BeatType = "dialogue"
	BeatAction     BeatType = "action"
	BeatThought    BeatType = "thought"
	BeatSound      BeatType = "sound"
	BeatTransition BeatType = "transition"
)

// Beat is one unit of narrative text produced by the story engine.
type Beat struct {
	ID       string       `json:"id" yaml:"id"`
	Type     BeatType     `json:"type" yaml:"type"`
	Content  string       `json:"content" yaml:"content"`
	Speaker  string       `json:"speaker,omitempty" yaml:"speaker,omitempty"`
	Metadata BeatMetadata `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// BeatMetadata carries optional delivery hints for a beat.
type BeatMetadata struct {
	Emotion string `json:"emotion,omitempty" yaml:"emotion,omitempty"`

	// PauseAfter overrides the sequence's default pause after this beat.
	// Nil means "use the default"; zero means "no pause".
	PauseAfter *time.Duration `json:"pause_after,omitempty" yaml:"pause_after,omitempty"`
}

// IsEmpty reports whether the beat has no speakable content
func (b Beat) IsEmpty() bool {
	return strings.TrimSpace(b.Content) == ""
}
