package sink

import (
	"sync"
	"time"

	"github.com/lexiqai/narrator/internal/audio"
	"github.com/lexiqai/narrator/internal/playback"
)

// Discard drops audio. In realtime mode a track lasts as long as its
// estimated duration, so the queue paces like a real device.
type Discard struct {
	format   audio.Format
	realtime bool
}

func NewDiscard(format audio.Format, realtime bool) *Discard {
	return &Discard{format: format, realtime: realtime}
}

func (d *Discard) Load(data []byte) (playback.Track, error) {
	var length time.Duration
	if d.realtime {
		length = d.format.EstimateDuration(len(data))
	}
	return &discardTrack{
		remaining: length,
		started:   newSignal(),
		finished:  newSignal(),
	}, nil
}

type discardTrack struct {
	mu        sync.Mutex
	remaining time.Duration
	resumedAt time.Time
	timer     *time.Timer
	volume    float64

	started  *signal
	finished *signal
}

func (t *discardTrack) Play(volume float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.volume = volume
	t.started.fire()
	t.scheduleLocked()
	return nil
}

func (t *discardTrack) scheduleLocked() {
	if t.remaining <= 0 {
		t.finished.fire()
		return
	}
	t.resumedAt = time.Now()
	t.timer = time.AfterFunc(t.remaining, func() { t.finished.fire() })
}

func (t *discardTrack) Pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer == nil {
		return nil
	}
	if t.timer.Stop() {
		t.remaining -= time.Since(t.resumedAt)
	}
	t.timer = nil
	return nil
}

func (t *discardTrack) Resume() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		return nil
	}
	select {
	case <-t.finished.ch:
		return nil
	default:
	}
	t.scheduleLocked()
	return nil
}

func (t *discardTrack) Stop() error {
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()
	t.finished.fire()
	return nil
}

func (t *discardTrack) SetVolume(v float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.volume = v
}

func (t *discardTrack) Started() <-chan struct{} { return t.started.ch }
func (t *discardTrack) Done() <-chan struct{} { return t.finished.ch }
func (t *discardTrack) Err() error { return nil }
func (t *discardTrack) Close() error { return t.Stop() }
