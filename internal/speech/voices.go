package speech

import (
	"fmt"
	"strings"

	"github.com/lexiqai/narrator/internal/config"
	"github.com/lexiqai/narrator/internal/narrative"
	"github.com/lexiqai/narrator/internal/tts"
)

// Named voice presets
const (
	PresetNarration       = "narration"
	PresetDialogueIntense = "dialogue_intense"
	PresetDialogueCalm    = "dialogue_calm"
	PresetInnerVoice      = "inner_voice"
	PresetJudge           = "judge"
)

func f64(v float64) *float64 { return &v }
func boolp(v bool) *bool { return &v }

var presets = map[string]tts.VoiceSettings{
	PresetNarration:       {Stability: f64(0.6), SimilarityBoost: f64(0.75), Style: f64(0.2)},
	PresetDialogueIntense: {Stability: f64(0.3), SimilarityBoost: f64(0.8), Style: f64(0.7), UseSpeakerBoost: boolp(true)},
	PresetDialogueCalm:    {Stability: f64(0.75), SimilarityBoost: f64(0.7), Style: f64(0.1)},
	PresetInnerVoice:      {Stability: f64(0.5), SimilarityBoost: f64(0.6), Style: f64(0.4)},
	PresetJudge:           {Stability: f64(0.8), SimilarityBoost: f64(0.85), Style: f64(0.3)},
}

// rolePresets is applied when a request names no preset
var rolePresets = map[narrative.VoiceRole]string{
	narrative.RoleNarrator:   PresetNarration,
	narrative.RoleInnerVoice: PresetInnerVoice,
	narrative.RoleJudge:      PresetJudge,
}

// LookupPreset returns the voice settings of a named preset
func LookupPreset(name string) (tts.VoiceSettings, bool) {
	s, ok := presets[name]
	return s, ok
}

// PresetNames lists the known presets
func PresetNames() []string {
	return []string{PresetNarration, PresetDialogueIntense, PresetDialogueCalm, PresetInnerVoice, PresetJudge}
}

// VoiceTable maps roles (and optionally named speakers) to voice ids
type VoiceTable struct {
	Roles    map[narrative.VoiceRole]string
	Speakers map[string]string // lower-cased speaker name -> voice id
}

// VoiceTableFromConfig builds the table from the configured role voices
func VoiceTableFromConfig(cfg *config.Config) VoiceTable {
	return VoiceTable{
		Roles: map[narrative.VoiceRole]string{
			narrative.RoleNarrator:   cfg.NarratorVoiceID,
			narrative.RoleNPC:        cfg.NPCVoiceID,
			narrative.RoleInnerVoice: cfg.InnerVoiceVoiceID,
			narrative.RoleJudge:      cfg.JudgeVoiceID,
		},
	}
}

// VoiceFor picks the voice for a speaker/role pair. A known speaker wins,
// then the role, then the narrator voice.
func (t VoiceTable) VoiceFor(role narrative.VoiceRole, speaker string) (string, error) {
	if speaker != "" {
		if id, ok := t.Speakers[strings.ToLower(strings.TrimSpace(speaker))]; ok && id != "" {
			return id, nil
		}
	}
	if id := t.Roles[role]; id != "" {
		return id, nil
	}
	if id := t.Roles[narrative.RoleNarrator]; id != "" {
		return id, nil
	}
	return "", fmt.Errorf("no voice configured for role %q", role)
}
