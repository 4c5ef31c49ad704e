package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/lexiqai/narrator/internal/narrative"
	"github.com/lexiqai/narrator/internal/sequencer"
	"github.com/lexiqai/narrator/internal/speech"
)

// enqueueRequest is a speech request, or a pause when PauseMs is set
type enqueueRequest struct {
	speech.Request
	PauseMs *int64 `json:"pause_ms,omitempty"`
}

type beatRequest struct {
	ID           string             `json:"id"`
	Type         narrative.BeatType `json:"type"`
	Content      string             `json:"content"`
	Speaker      string             `json:"speaker,omitempty"`
	Emotion      string             `json:"emotion,omitempty"`
	PauseAfterMs *int64             `json:"pause_after_ms,omitempty"`
}

type sequenceRequest struct {
	Beats          []beatRequest `json:"beats"`
	DefaultPauseMs *int64        `json:"default_pause_ms,omitempty"`
	SkipEmpty      *bool         `json:"skip_empty,omitempty"`
	Cache          *bool         `json:"cache,omitempty"`
}

type volumeRequest struct {
	Volume *float64 `json:"volume"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, "narration_enqueue", http.StatusBadRequest, err)
		return
	}

	var (
		id  string
		err error
	)
	if req.PauseMs != nil {
		id, err = s.queue.EnqueuePause(time.Duration(*req.PauseMs) * time.Millisecond)
	} else {
		if req.Text == "" {
			s.fail(w, "narration_enqueue", http.StatusBadRequest, errors.New("text or pause_ms is required"))
			return
		}
		if req.Role != "" && !req.Role.Valid() {
			s.fail(w, "narration_enqueue", http.StatusBadRequest, fmt.Errorf("unknown voice role %q", req.Role))
			return
		}
		id, err = s.queue.Enqueue(req.Request)
	}
	if err != nil {
		s.fail(w, "narration_enqueue", queueStatus(err), err)
		return
	}

	s.writeJSON(w, "narration_enqueue", http.StatusAccepted, map[string]string{"id": id})
}

func (s *Server) handleSequence(w http.ResponseWriter, r *http.Request) {
	var req sequenceRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, "narration_sequence", http.StatusBadRequest, err)
		return
	}

	opts := sequencer.Options{
		DefaultPause: s.defaultPause,
		SkipEmpty:    true,
		Cache:        req.Cache,
	}
	if req.DefaultPauseMs != nil {
		opts.DefaultPause = time.Duration(*req.DefaultPauseMs) * time.Millisecond
	}
	if req.SkipEmpty != nil {
		opts.SkipEmpty = *req.SkipEmpty
	}

	beats := make([]narrative.Beat, 0, len(req.Beats))
	for _, b := range req.Beats {
		beat := narrative.Beat{
			ID:       b.ID,
			Type:     b.Type,
			Content:  b.Content,
			Speaker:  b.Speaker,
			Metadata: narrative.BeatMetadata{Emotion: b.Emotion},
		}
		if b.PauseAfterMs != nil {
			d := time.Duration(*b.PauseAfterMs) * time.Millisecond
			beat.Metadata.PauseAfter = &d
		}
		beats = append(beats, beat)
	}

	ids, err := s.sequencer.SpeakSequence(beats, opts)
	if err != nil {
		s.fail(w, "narration_sequence", queueStatus(err), err)
		return
	}
	s.writeJSON(w, "narration_sequence", http.StatusAccepted, map[string][]string{"ids": ids})
}

func (s *Server) handlePreload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.queue.Preload(r.Context(), id); err != nil {
		code := statusFor(err)
		s.fail(w, "narration_preload", code, err)
		return
	}
	s.writeJSON(w, "narration_preload", http.StatusOK, s.queue.Status())
}

// control wraps a transport call and answers with the resulting status
func (s *Server) control(name string, fn func() error) http.HandlerFunc {
	route := "narration_" + name
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(); err != nil {
			s.fail(w, route, queueStatus(err), err)
			return
		}
		s.writeJSON(w, route, http.StatusOK, s.queue.Status())
	}
}

func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) {
	var req volumeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, "narration_volume", http.StatusBadRequest, err)
		return
	}
	if req.Volume == nil {
		s.fail(w, "narration_volume", http.StatusBadRequest, errors.New("volume is required"))
		return
	}
	if err := s.queue.SetVolume(*req.Volume); err != nil {
		s.fail(w, "narration_volume", queueStatus(err), err)
		return
	}
	s.writeJSON(w, "narration_volume", http.StatusOK, s.queue.Status())
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, "narration_state", http.StatusOK, s.queue.Status())
}

// queueStatus maps queue errors; anything unexpected is a bad request
func queueStatus(err error) int {
	code := statusFor(err)
	if code == http.StatusBadGateway {
		return http.StatusBadRequest
	}
	return code
}
