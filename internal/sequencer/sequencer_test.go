package sequencer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/narrator/internal/audio"
	"github.com/lexiqai/narrator/internal/narrative"
	"github.com/lexiqai/narrator/internal/playback"
	"github.com/lexiqai/narrator/internal/sink"
	"github.com/lexiqai/narrator/internal/speech"
)

type call struct {
	req   speech.Request
	pause time.Duration
}

type fakeQueue struct {
	mu       sync.Mutex
	calls    []call
	failAt   int // fail the n-th Enqueue (1-based); 0 never
	handlers int
}

func (q *fakeQueue) Enqueue(req speech.Request) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls = append(q.calls, call{req: req})
	if q.failAt > 0 && q.contentCount() == q.failAt {
		return "", playback.ErrDisposed
	}
	return fmt.Sprintf("item-%d", len(q.calls)), nil
}

func (q *fakeQueue) EnqueuePause(d time.Duration) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls = append(q.calls, call{pause: d})
	return fmt.Sprintf("pause-%d", len(q.calls)), nil
}

func (q *fakeQueue) Subscribe(fn playback.Handler) func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers++
	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.handlers--
	}
}

func (q *fakeQueue) contentCount() int {
	n := 0
	for _, c := range q.calls {
		if c.pause == 0 {
			n++
		}
	}
	return n
}

func beat(typ narrative.BeatType, content string) narrative.Beat {
	return narrative.Beat{Type: typ, Content: content}
}

func TestSpeakSequence_InsertsPauses(t *testing.T) {
	q := &fakeQueue{}
	s := New(q)

	ids, err := s.SpeakSequence([]narrative.Beat{
		beat(narrative.BeatNarration, "The door creaks."),
		beat(narrative.BeatAction, "You step inside."),
		beat(narrative.BeatNarration, "Darkness."),
	}, Options{DefaultPause: 500 * time.Millisecond})
	if err != nil {
		t.Fatalf("SpeakSequence failed: %v", err)
	}

	if len(q.calls) != 5 {
		t.Fatalf("Expected 5 queue items, got %d", len(q.calls))
	}
	for i, c := range q.calls {
		isPause := i%2 == 1
		if isPause && c.pause != 500*time.Millisecond {
			t.Errorf("Expected 500ms pause at %d, got %+v", i, c)
		}
		if !isPause && c.req.Text == "" {
			t.Errorf("Expected content item at %d, got %+v", i, c)
		}
	}
	if len(ids) != 3 {
		t.Errorf("Expected 3 content ids, got %d", len(ids))
	}
	if ids[0] != "item-1" || ids[1] != "item-3" || ids[2] != "item-5" {
		t.Errorf("Expected content ids only, got %v", ids)
	}
}

func TestSpeakSequence_SkipEmpty(t *testing.T) {
	beats := []narrative.Beat{
		beat(narrative.BeatNarration, "First."),
		beat(narrative.BeatNarration, "   \n\t"),
		beat(narrative.BeatNarration, "Third."),
	}

	q := &fakeQueue{}
	ids, err := New(q).SpeakSequence(beats, Options{DefaultPause: 500 * time.Millisecond, SkipEmpty: true})
	if err != nil {
		t.Fatalf("SpeakSequence failed: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("Expected 2 ids, got %d", len(ids))
	}
	if len(q.calls) != 3 {
		t.Errorf("Expected 3 queue items, got %d", len(q.calls))
	}
	for _, c := range q.calls {
		if c.pause == 0 && c.req.Text != "First." && c.req.Text != "Third." {
			t.Errorf("Unexpected content item %q", c.req.Text)
		}
	}
}

func TestSpeakSequence_PauseOverrides(t *testing.T) {
	zero := time.Duration(0)
	long := 2 * time.Second

	b1 := beat(narrative.BeatNarration, "One.")
	b1.Metadata.PauseAfter = &zero
	b2 := beat(narrative.BeatNarration, "Two.")
	b2.Metadata.PauseAfter = &long
	b3 := beat(narrative.BeatNarration, "Three.")
	b3.Metadata.PauseAfter = &long

	q := &fakeQueue{}
	if _, err := New(q).SpeakSequence([]narrative.Beat{b1, b2, b3}, Options{DefaultPause: time.Second}); err != nil {
		t.Fatalf("SpeakSequence failed: %v", err)
	}

	// no pause after One, 2s after Two, nothing after the last beat
	if len(q.calls) != 4 {
		t.Fatalf("Expected 4 queue items, got %d", len(q.calls))
	}
	if q.calls[2].pause != long {
		t.Errorf("Expected 2s pause, got %v", q.calls[2].pause)
	}
}

func TestSpeakSequence_NoDefaultPause(t *testing.T) {
	q := &fakeQueue{}
	New(q).SpeakSequence([]narrative.Beat{
		beat(narrative.BeatNarration, "a"),
		beat(narrative.BeatNarration, "b"),
	}, Options{})

	if len(q.calls) != 2 {
		t.Errorf("Expected 2 queue items, got %d", len(q.calls))
	}
}

func TestSpeakSequence_Empty(t *testing.T) {
	q := &fakeQueue{}
	ids, err := New(q).SpeakSequence(nil, Options{})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("Expected no ids, got %v", ids)
	}
	if q.handlers != 0 {
		t.Errorf("Expected no subscription, got %d", q.handlers)
	}
}

func TestSpeakSequence_EnqueueFailure(t *testing.T) {
	q := &fakeQueue{failAt: 2}
	ids, err := New(q).SpeakSequence([]narrative.Beat{
		beat(narrative.BeatNarration, "a"),
		beat(narrative.BeatNarration, "b"),
		beat(narrative.BeatNarration, "c"),
	}, Options{})

	if !errors.Is(err, playback.ErrDisposed) {
		t.Errorf("Expected wrapped ErrDisposed, got %v", err)
	}
	if len(ids) != 1 {
		t.Errorf("Expected 1 id before failure, got %v", ids)
	}
}

func TestSpeakSequence_RequestMapping(t *testing.T) {
	speaking := beat(narrative.BeatDialogue, "Halt!")
	speaking.Speaker = "guard"
	speaking.Metadata.Emotion = "angry"

	thinking := beat(narrative.BeatThought, "I should run.")
	thinking.Speaker = "you"
	thinking.Metadata.Emotion = "quiet, uneasy"

	q := &fakeQueue{}
	New(q).SpeakSequence([]narrative.Beat{speaking, thinking}, Options{})

	first, second := q.calls[0].req, q.calls[1].req
	if first.Role != narrative.RoleNPC || first.Preset != speech.PresetDialogueIntense || first.Speaker != "guard" {
		t.Errorf("Unexpected dialogue request %+v", first)
	}
	if second.Role != narrative.RoleInnerVoice || second.Preset != speech.PresetDialogueCalm {
		t.Errorf("Unexpected thought request %+v", second)
	}
}

func TestRoleFor(t *testing.T) {
	tests := []struct {
		typ     narrative.BeatType
		speaker string
		want    narrative.VoiceRole
	}{
		{narrative.BeatNarration, "", narrative.RoleNarrator},
		{narrative.BeatAction, "", narrative.RoleNarrator},
		{narrative.BeatSound, "", narrative.RoleNarrator},
		{narrative.BeatTransition, "", narrative.RoleNarrator},
		{narrative.BeatDialogue, "", narrative.RoleNPC},
		{narrative.BeatThought, "", narrative.RoleInnerVoice},
		{narrative.BeatDialogue, "mira", narrative.RoleNPC},
		{narrative.BeatThought, "mira", narrative.RoleInnerVoice},
		{narrative.BeatNarration, "mira", narrative.RoleNarrator},
		{narrative.BeatType("unknown"), "", narrative.RoleNarrator},
	}

	for _, tt := range tests {
		b := narrative.Beat{Type: tt.typ, Speaker: tt.speaker, Content: "x"}
		if got := RoleFor(b); got != tt.want {
			t.Errorf("RoleFor(%s, %q): expected %s, got %s", tt.typ, tt.speaker, tt.want, got)
		}
	}
}

func TestPresetFor(t *testing.T) {
	tests := []struct {
		emotion string
		want    string
	}{
		{"", ""},
		{"Intense", speech.PresetDialogueIntense},
		{"excitedly curious", speech.PresetDialogueIntense},
		{"furious", speech.PresetDialogueIntense},
		{"in a panic", speech.PresetDialogueIntense},
		{"calm", speech.PresetDialogueCalm},
		{"soft-spoken", speech.PresetDialogueCalm},
		{"whispering", speech.PresetDialogueCalm},
		{"sad", ""},
		{"curious", ""},
	}

	for _, tt := range tests {
		b := narrative.Beat{Metadata: narrative.BeatMetadata{Emotion: tt.emotion}}
		if got := PresetFor(b); got != tt.want {
			t.Errorf("PresetFor(%q): expected %q, got %q", tt.emotion, tt.want, got)
		}
	}
}

type echoResolver struct {
	fail string
}

func (r echoResolver) Resolve(ctx context.Context, req speech.Request) ([]byte, error) {
	if req.Text == r.fail {
		return nil, errors.New("synthesis failed")
	}
	return []byte(req.Text), nil
}

type hookLog struct {
	mu      sync.Mutex
	entries []string
}

func (h *hookLog) add(format string, args ...interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, fmt.Sprintf(format, args...))
}

func (h *hookLog) snapshot() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.entries...)
}

func newPlaybackQueue(t *testing.T, resolver speech.Resolver) *playback.Queue {
	t.Helper()
	logger := zerolog.Nop()
	q := playback.NewQueue(resolver, sink.NewDiscard(audio.DefaultFormat, false), playback.Options{
		AutoPlay: true,
		Volume:   1,
		Logger:   &logger,
	})
	t.Cleanup(q.Dispose)
	return q
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func TestSpeakSequence_HooksFireInOrder(t *testing.T) {
	q := newPlaybackQueue(t, echoResolver{fail: "broken"})
	log := &hookLog{}

	_, err := New(q).SpeakSequence([]narrative.Beat{
		beat(narrative.BeatNarration, "one"),
		beat(narrative.BeatNarration, "broken"),
		beat(narrative.BeatNarration, "three"),
	}, Options{
		DefaultPause: 5 * time.Millisecond,
		OnBeatStart:  func(b narrative.Beat, i int) { log.add("start:%d:%s", i, b.Content) },
		OnBeatEnd:    func(b narrative.Beat, i int) { log.add("end:%d:%s", i, b.Content) },
		OnBeatError: func(b narrative.Beat, i int, err error) {
			log.add("error:%d:%s", i, b.Content)
		},
	})
	if err != nil {
		t.Fatalf("SpeakSequence failed: %v", err)
	}

	waitFor(t, "all hooks", func() bool { return len(log.snapshot()) == 5 })
	want := []string{"start:0:one", "end:0:one", "error:1:broken", "start:2:three", "end:2:three"}
	got := log.snapshot()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected hook %d to be %s, got %s", i, want[i], got[i])
		}
	}
}

func TestSpeakSequence_ConcurrentSequencesKeepTheirHooks(t *testing.T) {
	q := newPlaybackQueue(t, echoResolver{})
	seq := New(q)

	var first, second hookLog
	seq.SpeakSequence([]narrative.Beat{beat(narrative.BeatNarration, "a1"), beat(narrative.BeatNarration, "a2")}, Options{
		OnBeatEnd: func(b narrative.Beat, i int) { first.add("%s", b.Content) },
	})
	seq.SpeakSequence([]narrative.Beat{beat(narrative.BeatNarration, "b1")}, Options{
		OnBeatEnd: func(b narrative.Beat, i int) { second.add("%s", b.Content) },
	})

	waitFor(t, "both sequences", func() bool {
		return len(first.snapshot()) == 2 && len(second.snapshot()) == 1
	})
	if got := first.snapshot(); got[0] != "a1" || got[1] != "a2" {
		t.Errorf("Expected first sequence hooks a1,a2, got %v", got)
	}
	if got := second.snapshot(); got[0] != "b1" {
		t.Errorf("Expected second sequence hook b1, got %v", got)
	}
}

func TestTracker_UnsubscribesWhenDone(t *testing.T) {
	var unsubscribed bool
	tr := newTracker([]narrative.Beat{beat(narrative.BeatNarration, "a")}, Options{}, zerolog.Nop())
	tr.unsubscribe = func() { unsubscribed = true }
	tr.index["item-1"] = 0
	tr.sealed = true

	tr.handle(playback.Event{Type: playback.EventItemStart, Item: &playback.ItemSnapshot{ID: "item-1"}})
	if unsubscribed {
		t.Fatal("Expected subscription to stay while the item is playing")
	}

	tr.handle(playback.Event{Type: playback.EventItemEnd, Item: &playback.ItemSnapshot{ID: "item-1"}})
	if !unsubscribed {
		t.Error("Expected subscription to be removed after the last item ended")
	}
}

func TestTracker_DroppedItemsReleaseSubscription(t *testing.T) {
	var unsubscribed bool
	tr := newTracker([]narrative.Beat{beat(narrative.BeatNarration, "a"), beat(narrative.BeatNarration, "b")}, Options{}, zerolog.Nop())
	tr.unsubscribe = func() { unsubscribed = true }
	tr.index["item-1"] = 0
	tr.index["item-2"] = 1
	tr.sealed = true

	tr.handle(playback.Event{Type: playback.EventQueueChanged, Status: &playback.Status{
		PendingItems: []playback.ItemSnapshot{{ID: "item-1"}, {ID: "item-2"}},
	}})
	if unsubscribed {
		t.Fatal("Expected subscription to stay while items are pending")
	}

	// Stop clears the queue
	tr.handle(playback.Event{Type: playback.EventQueueChanged, Status: &playback.Status{
		PendingItems: []playback.ItemSnapshot{},
	}})
	if !unsubscribed {
		t.Error("Expected subscription to be removed after items were dropped")
	}
}
