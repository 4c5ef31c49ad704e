package playback

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lexiqai/narrator/internal/observability"
	"github.com/lexiqai/narrator/internal/speech"
)

var (
	// ErrDisposed is returned by every mutating call after Dispose
	ErrDisposed = errors.New("playback queue disposed")

	// ErrNotFound is returned when an item id is not pending in the queue
	ErrNotFound = errors.New("queue item not found")
)

// Options configure a Queue
type Options struct {
	// AutoPlay starts playback when an item is enqueued into an idle queue
	AutoPlay bool
	// Volume is the initial volume in [0, 1]
	Volume float64
	Logger *zerolog.Logger
}

// Queue plays speech items strictly in FIFO order, one at a time.
type Queue struct {
	resolver speech.Resolver
	sink     Sink
	autoPlay bool
	logger   zerolog.Logger
	bus      *eventBus

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    State
	items    *list.List
	index    map[string]*list.Element
	current  *item
	track    Track
	stopItem context.CancelFunc
	volume   float64
	running  bool // worker goroutine active
	halted   bool // Stop was called; the worker must not dequeue
	disposed bool
}

// NewQueue creates an idle queue
func NewQueue(resolver speech.Resolver, sink Sink, opts Options) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	logger := observability.Component("playback")
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &Queue{
		resolver: resolver,
		sink:     sink,
		autoPlay: opts.AutoPlay,
		logger:   logger,
		bus:      newEventBus(),
		ctx:      ctx,
		cancel:   cancel,
		items:    list.New(),
		index:    make(map[string]*list.Element),
		volume:   clampVolume(opts.Volume),
	}
}

// Subscribe registers a handler for queue events and returns a function
// that removes it.
func (q *Queue) Subscribe(fn Handler) func() {
	return q.bus.subscribe(fn)
}

// Enqueue appends a speech item and returns its id
func (q *Queue) Enqueue(req speech.Request) (string, error) {
	return q.push(&item{req: req})
}

// EnqueuePause appends a silent gap
func (q *Queue) EnqueuePause(d time.Duration) (string, error) {
	if d < 0 {
		return "", fmt.Errorf("pause duration must not be negative: %v", d)
	}
	return q.push(&item{isPause: true, pause: d})
}

func (q *Queue) push(it *item) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.disposed {
		return "", ErrDisposed
	}

	it.id = uuid.NewString()
	it.state = ItemPending
	q.index[it.id] = q.items.PushBack(it)

	q.logger.Debug().
		Str("item_id", it.id).
		Bool("pause", it.isPause).
		Int("pending", q.items.Len()).
		Msg("Item enqueued")
	q.emitQueueChangedLocked()

	if q.autoPlay && q.state == StateIdle && q.current == nil {
		q.startLocked()
	}
	return it.id, nil
}

// Play starts consuming the queue. From paused it resumes.
func (q *Queue) Play() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.disposed {
		return ErrDisposed
	}
	switch q.state {
	case StatePaused:
		return q.resumeLocked()
	case StateIdle:
		if q.items.Len() > 0 {
			q.startLocked()
		}
	}
	return nil
}

// Pause pauses the current item. Only valid while playing.
func (q *Queue) Pause() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.disposed {
		return ErrDisposed
	}
	if q.state != StatePlaying || q.track == nil {
		return nil
	}
	if err := q.track.Pause(); err != nil {
		return fmt.Errorf("failed to pause: %w", err)
	}
	q.setStateLocked(StatePaused)
	q.emitQueueChangedLocked()
	return nil
}

// Resume continues a paused item. Only valid while paused.
func (q *Queue) Resume() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.disposed {
		return ErrDisposed
	}
	if q.state != StatePaused {
		return nil
	}
	return q.resumeLocked()
}

func (q *Queue) resumeLocked() error {
	if q.track != nil {
		if err := q.track.Resume(); err != nil {
			return fmt.Errorf("failed to resume: %w", err)
		}
	}
	q.setStateLocked(StatePlaying)
	q.emitQueueChangedLocked()
	return nil
}

// Skip ends the current item and advances to the next one
func (q *Queue) Skip() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.disposed {
		return ErrDisposed
	}
	if q.current == nil {
		return nil
	}

	q.finishCurrentLocked("skipped")
	if q.items.Len() > 0 && !q.halted {
		q.setStateLocked(StateLoading)
	} else {
		q.setStateLocked(StateIdle)
	}
	q.emitQueueChangedLocked()
	return nil
}

// Stop ends the current item, discards everything pending and goes idle
func (q *Queue) Stop() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.disposed {
		return ErrDisposed
	}

	if q.current != nil {
		q.finishCurrentLocked("stopped")
	}
	q.clearPendingLocked()
	q.halted = true
	q.setStateLocked(StateIdle)
	q.emitQueueChangedLocked()
	return nil
}

// SetVolume applies volume to the live track and remembers it
func (q *Queue) SetVolume(v float64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.disposed {
		return ErrDisposed
	}
	q.volume = clampVolume(v)
	if q.track != nil {
		q.track.SetVolume(q.volume)
	}
	return nil
}

// Volume returns the remembered volume
func (q *Queue) Volume() float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.volume
}

// Status returns a snapshot of the queue
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.statusLocked()
}

// Preload resolves a pending item's audio ahead of time. It never changes
// playback state; a later dequeue reuses the result or waits for it.
func (q *Queue) Preload(ctx context.Context, id string) error {
	q.mu.Lock()
	if q.disposed {
		q.mu.Unlock()
		return ErrDisposed
	}
	el, ok := q.index[id]
	if !ok {
		q.mu.Unlock()
		if q.isCurrent(id) {
			return nil
		}
		return ErrNotFound
	}
	it := el.Value.(*item)
	if it.isPause || it.audio != nil {
		q.mu.Unlock()
		return nil
	}
	if p := it.preload; p != nil {
		q.mu.Unlock()
		select {
		case <-p.done:
			return p.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	p := &preload{done: make(chan struct{})}
	it.preload = p
	req := it.req
	q.mu.Unlock()

	audio, err := q.resolver.Resolve(ctx, req)

	q.mu.Lock()
	if err == nil && !it.finished {
		it.audio = audio
	}
	p.err = err
	it.preload = nil
	close(p.done)
	q.mu.Unlock()

	if err != nil {
		q.logger.Warn().Err(err).Str("item_id", id).Msg("Preload failed")
	}
	return err
}

func (q *Queue) isCurrent(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current != nil && q.current.id == id
}

// Dispose stops playback, clears the queue and detaches all listeners.
// Calling it again is a no-op.
func (q *Queue) Dispose() {
	q.mu.Lock()
	if q.disposed {
		q.mu.Unlock()
		return
	}
	q.disposed = true

	if it := q.current; it != nil {
		it.finished = true
		q.releaseTrackLocked(true)
		if q.stopItem != nil {
			q.stopItem()
			q.stopItem = nil
		}
		q.current = nil
	}
	q.clearPendingLocked()
	q.setStateLocked(StateIdle)
	q.mu.Unlock()

	q.cancel()
	q.bus.close()
	q.logger.Debug().Msg("Queue disposed")
}

// startLocked launches the worker unless it is already running
func (q *Queue) startLocked() {
	q.halted = false
	if q.items.Len() > 0 && q.current == nil {
		q.setStateLocked(StateLoading)
	}
	if q.running {
		return
	}
	q.running = true
	go q.run()
}

// run consumes items until the queue is empty, halted or disposed
func (q *Queue) run() {
	for {
		q.mu.Lock()
		if q.disposed || q.halted {
			q.running = false
			q.mu.Unlock()
			return
		}
		front := q.items.Front()
		if front == nil {
			q.running = false
			q.current = nil
			if q.setStateLocked(StateIdle) {
				q.emitQueueChangedLocked()
			}
			q.mu.Unlock()
			return
		}

		it := q.items.Remove(front).(*item)
		delete(q.index, it.id)
		it.advance(ItemLoading)
		q.current = it
		ctx, cancel := context.WithCancel(q.ctx)
		q.stopItem = cancel
		q.setStateLocked(StateLoading)
		q.emitQueueChangedLocked()
		q.mu.Unlock()

		if it.isPause {
			q.runPause(ctx, it)
		} else {
			q.playItem(ctx, it)
		}
		cancel()
	}
}

func (q *Queue) runPause(ctx context.Context, it *item) {
	if it.pause > 0 {
		timer := time.NewTimer(it.pause)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if it.finished {
		return
	}
	it.advance(ItemCompleted)
	it.finished = true
	q.current = nil
	q.stopItem = nil
}

func (q *Queue) playItem(ctx context.Context, it *item) {
	logger := q.logger.With().Str("item_id", it.id).Logger()

	audio, err := q.resolve(ctx, it)
	if err != nil {
		q.failItem(it, fmt.Errorf("failed to resolve audio: %w", err))
		return
	}

	q.mu.Lock()
	if it.finished {
		q.mu.Unlock()
		return
	}
	it.audio = audio
	it.advance(ItemReady)
	q.mu.Unlock()

	track, err := q.sink.Load(audio)
	if err != nil {
		q.failItem(it, fmt.Errorf("failed to load audio: %w", err))
		return
	}

	q.mu.Lock()
	if it.finished {
		q.mu.Unlock()
		track.Close()
		return
	}
	q.track = track
	volume := q.volume
	q.mu.Unlock()

	if err := track.Play(volume); err != nil {
		q.failItem(it, fmt.Errorf("failed to start playback: %w", err))
		return
	}

	started := false
	select {
	case <-track.Started():
		started = true
	case <-track.Done():
		select {
		case <-track.Started():
			started = true
		default:
		}
	case <-ctx.Done():
		return
	}

	if !started {
		err := track.Err()
		if err == nil {
			err = errors.New("track ended before it started")
		}
		q.failItem(it, fmt.Errorf("playback failed: %w", err))
		return
	}

	q.mu.Lock()
	if it.finished {
		q.mu.Unlock()
		return
	}
	it.advance(ItemPlaying)
	q.setStateLocked(StatePlaying)
	snap := it.snapshot()
	q.bus.publish(Event{Type: EventItemStart, Item: &snap})
	q.emitQueueChangedLocked()
	q.mu.Unlock()
	logger.Debug().Int("bytes", len(audio)).Msg("Item started")

	select {
	case <-track.Done():
	case <-ctx.Done():
		return
	}

	if err := track.Err(); err != nil {
		q.failItem(it, fmt.Errorf("playback failed: %w", err))
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if it.finished {
		return
	}
	q.finishCurrentLocked("completed")
	logger.Debug().Msg("Item completed")
}

// resolve returns preloaded audio, waits for an in-flight preload, or
// resolves the item itself.
func (q *Queue) resolve(ctx context.Context, it *item) ([]byte, error) {
	q.mu.Lock()
	if it.audio != nil {
		audio := it.audio
		q.mu.Unlock()
		return audio, nil
	}
	p := it.preload
	req := it.req
	q.mu.Unlock()

	if p != nil {
		select {
		case <-p.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		q.mu.Lock()
		audio := it.audio
		q.mu.Unlock()
		if audio != nil {
			return audio, nil
		}
	}

	return q.resolver.Resolve(ctx, req)
}

// failItem records err on the item, emits item_error and lets the worker advance
func (q *Queue) failItem(it *item, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if it.finished || q.current != it {
		return
	}
	it.advance(ItemError)
	it.err = err.Error()
	it.finished = true
	q.releaseTrackLocked(true)
	q.current = nil
	q.stopItem = nil

	snap := it.snapshot()
	q.bus.publish(Event{Type: EventItemError, Item: &snap, Error: it.err, Err: err})
	observability.RecordQueueItem("error")
	q.logger.Warn().Err(err).Str("item_id", it.id).Msg("Queue item failed")
}

// finishCurrentLocked marks the current item completed, emits its end
// event (content items only), releases its track and cancels its context.
func (q *Queue) finishCurrentLocked(outcome string) {
	it := q.current
	if it == nil || it.finished {
		return
	}

	interrupted := outcome != "completed"
	it.advance(ItemCompleted)
	it.finished = true
	q.releaseTrackLocked(interrupted)
	if q.stopItem != nil {
		q.stopItem()
		q.stopItem = nil
	}
	q.current = nil

	if !it.isPause {
		snap := it.snapshot()
		q.bus.publish(Event{Type: EventItemEnd, Item: &snap})
		observability.RecordQueueItem(outcome)
	}
}

func (q *Queue) releaseTrackLocked(stop bool) {
	if q.track == nil {
		return
	}
	if stop {
		if err := q.track.Stop(); err != nil {
			q.logger.Debug().Err(err).Msg("Failed to stop track")
		}
	}
	if err := q.track.Close(); err != nil {
		q.logger.Debug().Err(err).Msg("Failed to close track")
	}
	q.track = nil
}

func (q *Queue) clearPendingLocked() {
	q.items.Init()
	q.index = make(map[string]*list.Element)
}

// setStateLocked reports whether the state changed
func (q *Queue) setStateLocked(s State) bool {
	if q.state == s {
		return false
	}
	q.logger.Debug().Str("from", q.state.String()).Str("to", s.String()).Msg("Playback state changed")
	q.state = s
	observability.SetPlaybackState(int(s))
	return true
}

func (q *Queue) emitQueueChangedLocked() {
	status := q.statusLocked()
	q.bus.publish(Event{Type: EventQueueChanged, Status: &status})
}

func (q *Queue) statusLocked() Status {
	status := Status{
		PlaybackState: q.state,
		PendingItems:  make([]ItemSnapshot, 0, q.items.Len()),
		Volume:        q.volume,
	}
	if q.current != nil {
		snap := q.current.snapshot()
		status.CurrentItem = &snap
	}
	for el := q.items.Front(); el != nil; el = el.Next() {
		status.PendingItems = append(status.PendingItems, el.Value.(*item).snapshot())
	}
	status.TotalItems = len(status.PendingItems)
	if status.CurrentItem != nil {
		status.TotalItems++
	}
	return status
}

func clampVolume(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
