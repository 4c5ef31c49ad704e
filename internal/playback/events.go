package playback

import (
	"sync"
	"time"
)

// EventType names a queue lifecycle event
type EventType string

const (
	EventItemStart    EventType = "item_start"
	EventItemEnd      EventType = "item_end"
	EventItemError    EventType = "item_error"
	EventQueueChanged EventType = "queue_changed"
)

// Event is delivered to subscribers in emission order
type Event struct {
	Type   EventType     `json:"type"`
	Item   *ItemSnapshot `json:"item,omitempty"`
	Status *Status       `json:"status,omitempty"`
	Error  string        `json:"error,omitempty"`
	Time   time.Time     `json:"time"`

	// Err is the cause of an item_error
	Err error `json:"-"`
}

// Handler receives queue events. It runs on the dispatcher goroutine and
// may call back into the queue.
type Handler func(Event)

type subscription struct {
	id uint64
	fn Handler
}

// eventBus fans events out to subscribers from a single goroutine so
// ordering is preserved and publishers never block.
type eventBus struct {
	mu      sync.Mutex
	subs    []subscription
	nextID  uint64
	pending []Event
	closed  bool
	signal  chan struct{}
}

func newEventBus() *eventBus {
	b := &eventBus{signal: make(chan struct{}, 1)}
	go b.loop()
	return b
}

func (b *eventBus) subscribe(fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(id) })
	}
}

func (b *eventBus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

func (b *eventBus) publish(ev Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	b.pending = append(b.pending, ev)
	b.mu.Unlock()

	select {
	case b.signal <- struct{}{}:
	default:
	}
}

// close drops undelivered events and detaches every subscriber
func (b *eventBus) close() {
	b.mu.Lock()
	b.closed = true
	b.pending = nil
	b.subs = nil
	b.mu.Unlock()

	select {
	case b.signal <- struct{}{}:
	default:
	}
}

func (b *eventBus) loop() {
	for range b.signal {
		for {
			b.mu.Lock()
			if b.closed {
				b.mu.Unlock()
				return
			}
			if len(b.pending) == 0 {
				b.mu.Unlock()
				break
			}
			ev := b.pending[0]
			b.pending = b.pending[1:]
			subs := append([]subscription(nil), b.subs...)
			b.mu.Unlock()

			for _, s := range subs {
				if b.isSubscribed(s.id) {
					s.fn(ev)
				}
			}
		}
	}
}

func (b *eventBus) isSubscribed(id uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		if s.id == id {
			return true
		}
	}
	return false
}
