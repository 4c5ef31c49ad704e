package tts

const (
	DefaultStability       = 0.5
	DefaultSimilarityBoost = 0.75
)

// VoiceSettings tune a voice for one request. Unset fields use the
// backend defaults (stability 0.5, similarity boost 0.75).
type VoiceSettings struct {
	Stability       *float64
	SimilarityBoost *float64
	Style           *float64
	UseSpeakerBoost *bool
}

// SynthesisRequest is one text-to-speech call
type SynthesisRequest struct {
	Text          string
	VoiceID       string
	ModelID       string // empty uses the client default
	OutputFormat  string // empty uses the client default
	VoiceSettings VoiceSettings

	// Stream selects the streamed endpoint. Nil uses the client default.
	Stream *bool
}

// Voice is one entry of the backend's voice library
type Voice struct {
	VoiceID     string            `json:"voice_id"`
	Name        string            `json:"name"`
	Category    string            `json:"category"`
	Description string            `json:"description,omitempty"`
	PreviewURL  string            `json:"preview_url,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
}

type voicesResponse struct {
	Voices []Voice `json:"voices"`
}

// wire body of POST /text-to-speech/{voiceId}
type synthesisBody struct {
	Text          string            `json:"text"`
	ModelID       string            `json:"model_id,omitempty"`
	VoiceSettings wireVoiceSettings `json:"voice_settings"`
}

type wireVoiceSettings struct {
	Stability       float64  `json:"stability"`
	SimilarityBoost float64  `json:"similarity_boost"`
	Style           *float64 `json:"style,omitempty"`
	UseSpeakerBoost *bool    `json:"use_speaker_boost,omitempty"`
}

// Resolved returns the settings with defaults applied
func (s VoiceSettings) Resolved() VoiceSettings {
	out := s
	if out.Stability == nil {
		v := DefaultStability
		out.Stability = &v
	}
	if out.SimilarityBoost == nil {
		v := DefaultSimilarityBoost
		out.SimilarityBoost = &v
	}
	return out
}

func (s VoiceSettings) wire() wireVoiceSettings {
	r := s.Resolved()
	return wireVoiceSettings{
		Stability:       *r.Stability,
		SimilarityBoost: *r.SimilarityBoost,
		Style:           r.Style,
		UseSpeakerBoost: r.UseSpeakerBoost,
	}
}
