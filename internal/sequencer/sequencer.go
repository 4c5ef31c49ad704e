package sequencer

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/narrator/internal/narrative"
	"github.com/lexiqai/narrator/internal/observability"
	"github.com/lexiqai/narrator/internal/playback"
	"github.com/lexiqai/narrator/internal/speech"
)

// Queue is the part of the playback queue the sequencer drives
type Queue interface {
	Enqueue(req speech.Request) (string, error)
	EnqueuePause(d time.Duration) (string, error)
	Subscribe(fn playback.Handler) func()
}

// Hook is called with the original beat and its position among the spoken beats
type Hook func(beat narrative.Beat, index int)

// Options control one SpeakSequence call
type Options struct {
	// DefaultPause is inserted between beats unless a beat overrides it
	DefaultPause time.Duration
	// SkipEmpty drops beats with no speakable content
	SkipEmpty bool

	OnBeatStart Hook
	OnBeatEnd   Hook
	OnBeatError func(beat narrative.Beat, index int, err error)

	// Cache applies to every request of the sequence; nil means cacheable
	Cache *bool
}

// Sequencer turns ordered story beats into queue items
type Sequencer struct {
	queue  Queue
	logger zerolog.Logger
}

func New(queue Queue) *Sequencer {
	return &Sequencer{
		queue:  queue,
		logger: observability.Component("sequencer"),
	}
}

// SpeakSequence enqueues one content item per beat with pause items between
// them and returns the content item ids in order. If enqueueing fails
// part-way, the ids enqueued so far are returned with the error.
func (s *Sequencer) SpeakSequence(beats []narrative.Beat, opts Options) ([]string, error) {
	spoken := make([]narrative.Beat, 0, len(beats))
	for _, b := range beats {
		if opts.SkipEmpty && b.IsEmpty() {
			continue
		}
		spoken = append(spoken, b)
	}
	if len(spoken) == 0 {
		return []string{}, nil
	}

	tracker := newTracker(spoken, opts, s.logger)
	tracker.mu.Lock()
	tracker.unsubscribe = s.queue.Subscribe(tracker.handle)
	defer tracker.mu.Unlock()

	ids := make([]string, 0, len(spoken))
	for i, b := range spoken {
		id, err := s.queue.Enqueue(requestFor(b, opts))
		if err != nil {
			tracker.sealLocked()
			return ids, fmt.Errorf("failed to enqueue beat %d: %w", i, err)
		}
		ids = append(ids, id)
		tracker.index[id] = i

		if i == len(spoken)-1 {
			break
		}
		if pause := pauseAfter(b, opts.DefaultPause); pause > 0 {
			if _, err := s.queue.EnqueuePause(pause); err != nil {
				tracker.sealLocked()
				return ids, fmt.Errorf("failed to enqueue pause after beat %d: %w", i, err)
			}
		}
	}
	tracker.sealLocked()

	s.logger.Debug().
		Int("beats", len(beats)).
		Int("spoken", len(spoken)).
		Msg("Sequence enqueued")
	return ids, nil
}

func requestFor(b narrative.Beat, opts Options) speech.Request {
	return speech.Request{
		Text:    strings.TrimSpace(b.Content),
		Role:    RoleFor(b),
		Preset:  PresetFor(b),
		Speaker: b.Speaker,
		Cache:   opts.Cache,
	}
}

func pauseAfter(b narrative.Beat, def time.Duration) time.Duration {
	if b.Metadata.PauseAfter != nil {
		return *b.Metadata.PauseAfter
	}
	return def
}

// tracker routes queue events for one sequence to its hooks and removes
// its own subscription once every content item has ended, failed or been
// dropped by Stop.
type tracker struct {
	beats  []narrative.Beat
	opts   Options
	logger zerolog.Logger

	mu          sync.Mutex
	index       map[string]int // live content item id -> beat position
	seen        map[string]bool
	sealed      bool // no more ids will be added
	done        bool
	unsubscribe func()
}

func newTracker(beats []narrative.Beat, opts Options, logger zerolog.Logger) *tracker {
	return &tracker{
		beats:  beats,
		opts:   opts,
		logger: logger,
		index:  make(map[string]int),
		seen:   make(map[string]bool),
	}
}

func (t *tracker) handle(ev playback.Event) {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return
	}

	var call func()
	switch ev.Type {
	case playback.EventItemStart, playback.EventItemEnd, playback.EventItemError:
		if ev.Item == nil {
			break
		}
		i, ok := t.index[ev.Item.ID]
		if !ok {
			break
		}
		beat := t.beats[i]
		switch ev.Type {
		case playback.EventItemStart:
			if hook := t.opts.OnBeatStart; hook != nil {
				call = func() { hook(beat, i) }
			}
		case playback.EventItemEnd:
			t.forgetLocked(ev.Item.ID)
			if hook := t.opts.OnBeatEnd; hook != nil {
				call = func() { hook(beat, i) }
			}
		case playback.EventItemError:
			t.forgetLocked(ev.Item.ID)
			if hook := t.opts.OnBeatError; hook != nil {
				err := ev.Err
				call = func() { hook(beat, i, err) }
			}
		}
	case playback.EventQueueChanged:
		if ev.Status != nil {
			t.pruneLocked(*ev.Status)
		}
	}
	t.finishIfDoneLocked()
	t.mu.Unlock()

	if call != nil {
		call()
	}
}

func (t *tracker) forgetLocked(id string) {
	delete(t.index, id)
	delete(t.seen, id)
}

// pruneLocked drops items that left the queue without an end or error event
func (t *tracker) pruneLocked(status playback.Status) {
	live := make(map[string]bool, len(status.PendingItems)+1)
	if status.CurrentItem != nil {
		live[status.CurrentItem.ID] = true
	}
	for _, it := range status.PendingItems {
		live[it.ID] = true
	}

	for id := range t.index {
		switch {
		case live[id]:
			t.seen[id] = true
		case t.seen[id]:
			t.logger.Debug().Str("item_id", id).Msg("Sequence item dropped from queue")
			t.forgetLocked(id)
		}
	}
}

func (t *tracker) sealLocked() {
	t.sealed = true
	t.finishIfDoneLocked()
}

func (t *tracker) finishIfDoneLocked() {
	if !t.sealed || t.done || len(t.index) > 0 {
		return
	}
	t.done = true
	if t.unsubscribe != nil {
		t.unsubscribe()
	}
}
