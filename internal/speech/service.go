package speech

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lexiqai/narrator/internal/audio"
	"github.com/lexiqai/narrator/internal/cache"
	"github.com/lexiqai/narrator/internal/narrative"
	"github.com/lexiqai/narrator/internal/observability"
	"github.com/lexiqai/narrator/internal/tts"
)

// Request asks for one line of speech
type Request struct {
	Text    string              `json:"text"`
	Role    narrative.VoiceRole `json:"role,omitempty"`
	Preset  string              `json:"preset,omitempty"`
	Speaker string              `json:"speaker,omitempty"`

	// Priority is carried for observers only; it never reorders playback.
	Priority string `json:"priority,omitempty"`

	// Cache nil means the line may be served from and stored in the cache.
	Cache *bool `json:"cache,omitempty"`
}

// Cacheable reports whether the request may use the cache
func (r Request) Cacheable() bool {
	return r.Cache == nil || *r.Cache
}

// Resolver produces audio bytes for a request
type Resolver interface {
	Resolve(ctx context.Context, req Request) ([]byte, error)
}

// Synthesizer is the part of the synthesis client the service needs
type Synthesizer interface {
	SynthesizeBytes(ctx context.Context, req tts.SynthesisRequest) ([]byte, error)
	OutputFormat() string
	ModelID() string
}

// Result is resolved audio plus how it was obtained
type Result struct {
	Audio       []byte
	ContentType string
	VoiceID     string
	CacheKey    string
	CacheHit    bool
}

// Service resolves requests through the cache and the synthesis backend
type Service struct {
	synth  Synthesizer
	cache  *cache.Cache
	voices VoiceTable
	format audio.Format
	logger zerolog.Logger
}

// NewService creates a speech service. c may be nil to disable caching.
func NewService(synth Synthesizer, c *cache.Cache, voices VoiceTable) *Service {
	format, err := audio.ParseFormat(synth.OutputFormat())
	if err != nil {
		format = audio.DefaultFormat
	}
	return &Service{
		synth:  synth,
		cache:  c,
		voices: voices,
		format: format,
		logger: observability.Component("speech"),
	}
}

// Format is the audio format the service produces
func (s *Service) Format() audio.Format {
	return s.format
}

// Resolve implements Resolver
func (s *Service) Resolve(ctx context.Context, req Request) ([]byte, error) {
	res, err := s.Speak(ctx, req)
	if err != nil {
		return nil, err
	}
	return res.Audio, nil
}

// plan is everything needed to synthesize or look up a request
type plan struct {
	voiceID  string
	settings tts.VoiceSettings
	key      string
}

func (s *Service) plan(req Request) (plan, error) {
	if strings.TrimSpace(req.Text) == "" {
		return plan{}, &tts.ValidationError{Field: "text", Message: "must not be empty"}
	}
	if req.Role != "" && !req.Role.Valid() {
		return plan{}, &tts.ValidationError{Field: "role", Message: fmt.Sprintf("unknown role %q", req.Role)}
	}

	settings, err := s.settingsFor(req)
	if err != nil {
		return plan{}, err
	}
	voiceID, err := s.voices.VoiceFor(req.Role, req.Speaker)
	if err != nil {
		return plan{}, &tts.ValidationError{Field: "voice_id", Message: err.Error()}
	}

	resolved := settings.Resolved()
	key := cache.GenerateKey(req.Text, voiceID, cache.Settings{
		ModelID:         s.synth.ModelID(),
		OutputFormat:    s.format.String(),
		Stability:       resolved.Stability,
		SimilarityBoost: resolved.SimilarityBoost,
		Style:           resolved.Style,
		UseSpeakerBoost: resolved.UseSpeakerBoost,
	})
	return plan{voiceID: voiceID, settings: settings, key: key}, nil
}

// CacheKey returns the key a request is cached under
func (s *Service) CacheKey(req Request) (string, error) {
	p, err := s.plan(req)
	if err != nil {
		return "", err
	}
	return p.key, nil
}

// Speak resolves a request: cache lookup, synthesis on a miss, then a
// best-effort cache store.
func (s *Service) Speak(ctx context.Context, req Request) (*Result, error) {
	p, err := s.plan(req)
	if err != nil {
		return nil, err
	}
	voiceID, settings, key := p.voiceID, p.settings, p.key

	result := &Result{
		ContentType: s.format.ContentType(),
		VoiceID:     voiceID,
		CacheKey:    key,
	}
	logger := s.logger.With().Str("voice_id", voiceID).Str("cache_key", key).Logger()

	useCache := s.cache != nil && req.Cacheable()
	if useCache {
		if data, ok := s.cache.Get(ctx, key); ok {
			logger.Debug().Msg("Serving speech from cache")
			result.Audio = data
			result.CacheHit = true
			return result, nil
		}
	}

	data, err := s.synth.SynthesizeBytes(ctx, tts.SynthesisRequest{
		Text:          req.Text,
		VoiceID:       voiceID,
		VoiceSettings: settings,
	})
	if err != nil {
		return nil, err
	}
	result.Audio = data

	if useCache {
		s.cache.Set(ctx, key, data, cache.TTL(cache.ContentTypeForRole(req.Role)))
	}
	logger.Debug().Int("bytes", len(data)).Msg("Synthesized speech")
	return result, nil
}

func (s *Service) settingsFor(req Request) (tts.VoiceSettings, error) {
	name := req.Preset
	if name == "" {
		name = rolePresets[req.Role]
	}
	if name == "" {
		return tts.VoiceSettings{}, nil
	}
	settings, ok := LookupPreset(name)
	if !ok {
		return tts.VoiceSettings{}, &tts.ValidationError{Field: "preset", Message: fmt.Sprintf("unknown preset %q", name)}
	}
	return settings, nil
}
