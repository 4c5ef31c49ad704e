package sink

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/effects"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/rs/zerolog"

	"github.com/lexiqai/narrator/internal/audio"
	"github.com/lexiqai/narrator/internal/observability"
	"github.com/lexiqai/narrator/internal/playback"
)

const resampleQuality = 4

// Speaker plays audio on the default output device
type Speaker struct {
	format     audio.Format
	sampleRate beep.SampleRate
	logger     zerolog.Logger

	initOnce sync.Once
	initErr  error
}

// NewSpeaker creates a speaker sink for audio in the given format. The
// device is opened at sampleRate on first playback; other rates are resampled.
func NewSpeaker(format audio.Format, sampleRate int) *Speaker {
	if sampleRate <= 0 {
		sampleRate = audio.DefaultFormat.SampleRate
	}
	return &Speaker{
		format:     format,
		sampleRate: beep.SampleRate(sampleRate),
		logger:     observability.Component("speaker"),
	}
}

func (s *Speaker) init() error {
	s.initOnce.Do(func() {
		s.initErr = speaker.Init(s.sampleRate, s.sampleRate.N(time.Second/10))
		if s.initErr == nil {
			s.logger.Info().Int("sample_rate", int(s.sampleRate)).Msg("Audio output initialized")
		}
	})
	return s.initErr
}

// Load decodes audio into a playable track
func (s *Speaker) Load(data []byte) (playback.Track, error) {
	streamer, rate, err := s.decode(data)
	if err != nil {
		return nil, err
	}

	var src beep.Streamer = streamer
	if rate != s.sampleRate {
		src = beep.Resample(resampleQuality, rate, s.sampleRate, streamer)
	}

	ctrl := &beep.Ctrl{Streamer: src}
	return &speakerTrack{
		owner:    s,
		source:   streamer,
		ctrl:     ctrl,
		volume:   &effects.Volume{Streamer: ctrl, Base: 2},
		started:  newSignal(),
		finished: newSignal(),
	}, nil
}

func (s *Speaker) decode(data []byte) (beep.StreamCloser, beep.SampleRate, error) {
	if len(data) == 0 {
		return nil, 0, fmt.Errorf("empty audio")
	}

	if s.format.Codec == audio.CodecMP3 {
		streamer, format, err := mp3.Decode(io.NopCloser(bytes.NewReader(data)))
		if err != nil {
			return nil, 0, fmt.Errorf("failed to decode MP3: %w", err)
		}
		return streamer, format.SampleRate, nil
	}

	samples, err := audio.DecodeSamples(data, s.format)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode audio: %w", err)
	}
	return &sampleStreamer{samples: samples}, beep.SampleRate(s.format.SampleRate), nil
}

type speakerTrack struct {
	owner  *Speaker
	source beep.StreamCloser
	ctrl   *beep.Ctrl
	volume *effects.Volume

	started  *signal
	finished *signal

	mu  sync.Mutex
	err error
}

func (t *speakerTrack) Play(volume float64) error {
	if err := t.owner.init(); err != nil {
		t.fail(fmt.Errorf("failed to initialize speaker: %w", err))
		return err
	}

	t.SetVolume(volume)
	t.started.fire()
	speaker.Play(beep.Seq(t.volume, beep.Callback(func() {
		if err := t.source.Err(); err != nil {
			t.fail(err)
			return
		}
		t.finished.fire()
	})))
	return nil
}

func (t *speakerTrack) Pause() error {
	speaker.Lock()
	t.ctrl.Paused = true
	speaker.Unlock()
	return nil
}

func (t *speakerTrack) Resume() error {
	speaker.Lock()
	t.ctrl.Paused = false
	speaker.Unlock()
	return nil
}

// Stop detaches the source; the mixer drops the track on its next pull
func (t *speakerTrack) Stop() error {
	speaker.Lock()
	t.ctrl.Streamer = nil
	speaker.Unlock()
	t.finished.fire()
	return nil
}

func (t *speakerTrack) SetVolume(v float64) {
	speaker.Lock()
	defer speaker.Unlock()
	if v <= 0 {
		t.volume.Silent = true
		return
	}
	t.volume.Silent = false
	t.volume.Volume = math.Log2(v)
}

func (t *speakerTrack) Started() <-chan struct{} { return t.started.ch }
func (t *speakerTrack) Done() <-chan struct{} { return t.finished.ch }

func (t *speakerTrack) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *speakerTrack) Close() error {
	return t.source.Close()
}

func (t *speakerTrack) fail(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
	t.finished.fire()
}

// sampleStreamer streams decoded mono samples to both channels
type sampleStreamer struct {
	samples []int16
	pos     int
}

func (s *sampleStreamer) Stream(buf [][2]float64) (int, bool) {
	if s.pos >= len(s.samples) {
		return 0, false
	}
	n := 0
	for n < len(buf) && s.pos < len(s.samples) {
		v := audio.SampleToFloat(s.samples[s.pos])
		buf[n][0], buf[n][1] = v, v
		n++
		s.pos++
	}
	return n, true
}

func (s *sampleStreamer) Err() error   { return nil }
func (s *sampleStreamer) Close() error { return nil }
