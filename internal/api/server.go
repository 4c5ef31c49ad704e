package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/narrator/internal/observability"
	"github.com/lexiqai/narrator/internal/playback"
	"github.com/lexiqai/narrator/internal/sequencer"
	"github.com/lexiqai/narrator/internal/speech"
	"github.com/lexiqai/narrator/internal/tts"
)

const maxBodyBytes = 1 << 20

// Speaker resolves one request into audio plus cache metadata
type Speaker interface {
	Speak(ctx context.Context, req speech.Request) (*speech.Result, error)
}

// Server exposes synthesis and narration control over HTTP
type Server struct {
	speaker      Speaker
	queue        *playback.Queue
	sequencer    *sequencer.Sequencer
	defaultPause time.Duration
	logger       zerolog.Logger
}

// Option configures a Server
type Option func(*Server)

// WithQueue enables the narration control routes
func WithQueue(q *playback.Queue) Option {
	return func(s *Server) {
		s.queue = q
		s.sequencer = sequencer.New(q)
	}
}

// WithDefaultPause sets the pause between beats of a sequence request
// that does not name one.
func WithDefaultPause(d time.Duration) Option {
	return func(s *Server) { s.defaultPause = d }
}

// NewServer creates the HTTP surface
func NewServer(speaker Speaker, opts ...Option) *Server {
	s := &Server{
		speaker: speaker,
		logger:  observability.Component("api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register mounts all routes on mux
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST "+speech.SpeakPath, s.handleSpeak)

	if s.queue == nil {
		return
	}
	mux.HandleFunc("POST /api/narration/enqueue", s.handleEnqueue)
	mux.HandleFunc("POST /api/narration/sequence", s.handleSequence)
	mux.HandleFunc("POST /api/narration/items/{id}/preload", s.handlePreload)
	mux.HandleFunc("POST /api/narration/play", s.control("play", s.queue.Play))
	mux.HandleFunc("POST /api/narration/pause", s.control("pause", s.queue.Pause))
	mux.HandleFunc("POST /api/narration/resume", s.control("resume", s.queue.Resume))
	mux.HandleFunc("POST /api/narration/skip", s.control("skip", s.queue.Skip))
	mux.HandleFunc("POST /api/narration/stop", s.control("stop", s.queue.Stop))
	mux.HandleFunc("POST /api/narration/volume", s.handleVolume)
	mux.HandleFunc("GET /api/narration/state", s.handleState)
	mux.HandleFunc("GET /api/narration/events", s.handleEvents)
}

// handleSpeak resolves a request and writes the audio body
func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	logger := observability.WithCorrelationID(correlationID(r))

	var req speech.Request
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, "tts_speak", http.StatusBadRequest, err)
		return
	}

	res, err := s.speaker.Speak(r.Context(), req)
	if err != nil {
		code := statusFor(err)
		logger.Warn().Err(err).Int("status", code).Msg("Speak request failed")
		s.fail(w, "tts_speak", code, err)
		return
	}

	cacheHeader := "MISS"
	if res.CacheHit {
		cacheHeader = "HIT"
	}
	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("Content-Length", fmt.Sprint(len(res.Audio)))
	w.Header().Set("X-Cache", cacheHeader)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(res.Audio); err != nil {
		logger.Debug().Err(err).Msg("Failed to write audio response")
	}

	observability.RecordHTTPRequest("tts_speak", http.StatusOK)
	observability.RecordAudioBytes(len(res.Audio))
	logger.Debug().
		Str("voice_id", res.VoiceID).
		Str("cache_key", res.CacheKey).
		Bool("cache_hit", res.CacheHit).
		Int("bytes", len(res.Audio)).
		Msg("Speak request served")
}

// statusFor maps a resolution error onto an HTTP status
func statusFor(err error) int {
	if errors.Is(err, tts.ErrValidation) {
		return http.StatusBadRequest
	}
	var apiErr *tts.APIError
	if errors.As(err, &apiErr) && !apiErr.Retryable &&
		apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
		return apiErr.StatusCode
	}
	if errors.Is(err, playback.ErrNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, playback.ErrDisposed) {
		return http.StatusServiceUnavailable
	}
	return http.StatusBadGateway
}

func (s *Server) fail(w http.ResponseWriter, route string, code int, err error) {
	observability.RecordHTTPRequest(route, code)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(code)
	fmt.Fprintln(w, err.Error())
}

func (s *Server) writeJSON(w http.ResponseWriter, route string, code int, v interface{}) {
	observability.RecordHTTPRequest(route, code)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug().Err(err).Str("route", route).Msg("Failed to encode response")
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	body := io.LimitReader(r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func correlationID(r *http.Request) string {
	if id := r.Header.Get("X-Correlation-ID"); id != "" {
		return id
	}
	return observability.NewCorrelationID()
}
