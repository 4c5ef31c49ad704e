package sink

import (
	"fmt"
	"sync"

	"github.com/lexiqai/narrator/internal/audio"
	"github.com/lexiqai/narrator/internal/config"
	"github.com/lexiqai/narrator/internal/playback"
)

const (
	KindSpeaker = "speaker"
	KindDiscard = "discard"
)

// New builds the sink named by the playback configuration
func New(cfg *config.Config, format audio.Format) (playback.Sink, error) {
	switch cfg.PlaybackSink {
	case KindSpeaker:
		return NewSpeaker(format, cfg.SpeakerSampleRate), nil
	case KindDiscard, "":
		return NewDiscard(format, cfg.DiscardRealtime), nil
	default:
		return nil, fmt.Errorf("unknown playback sink %q", cfg.PlaybackSink)
	}
}

// signal is a close-once channel
type signal struct {
	ch   chan struct{}
	once sync.Once
}

func newSignal() *signal {
	return &signal{ch: make(chan struct{})}
}

// fire closes the channel and reports whether this call did it
func (s *signal) fire() bool {
	fired := false
	s.once.Do(func() {
		close(s.ch)
		fired = true
	})
	return fired
}
