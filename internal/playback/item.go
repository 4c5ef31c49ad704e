package playback

import (
	"time"

	"github.com/lexiqai/narrator/internal/narrative"
	"github.com/lexiqai/narrator/internal/speech"
)

// item is owned by the queue and only touched with the queue lock held
type item struct {
	id      string
	req     speech.Request
	isPause bool
	pause   time.Duration

	state    ItemState
	audio    []byte
	err      string
	finished bool // terminal and its end/error event (if any) emitted

	preload *preload
}

type preload struct {
	done chan struct{}
	err  error
}

// advance moves the item forward, ignoring backward transitions
func (it *item) advance(to ItemState) {
	if it.state.Terminal() || to < it.state {
		return
	}
	it.state = to
}

// ItemSnapshot is a read-only copy of a queue item
type ItemSnapshot struct {
	ID         string              `json:"id"`
	Text       string              `json:"text,omitempty"`
	Role       narrative.VoiceRole `json:"role,omitempty"`
	Preset     string              `json:"preset,omitempty"`
	Speaker    string              `json:"speaker,omitempty"`
	Priority   string              `json:"priority,omitempty"`
	IsPause    bool                `json:"is_pause,omitempty"`
	PauseMs    int64               `json:"pause_ms,omitempty"`
	State      ItemState           `json:"state"`
	Error      string              `json:"error,omitempty"`
	AudioBytes int                 `json:"audio_bytes,omitempty"`
}

func (it *item) snapshot() ItemSnapshot {
	return ItemSnapshot{
		ID:         it.id,
		Text:       it.req.Text,
		Role:       it.req.Role,
		Preset:     it.req.Preset,
		Speaker:    it.req.Speaker,
		Priority:   it.req.Priority,
		IsPause:    it.isPause,
		PauseMs:    it.pause.Milliseconds(),
		State:      it.state,
		Error:      it.err,
		AudioBytes: len(it.audio),
	}
}

// Status is a snapshot of the whole queue
type Status struct {
	PlaybackState State          `json:"playback_state"`
	CurrentItem   *ItemSnapshot  `json:"current_item,omitempty"`
	PendingItems  []ItemSnapshot `json:"pending_items"`
	TotalItems    int            `json:"total_items"`
	Volume        float64        `json:"volume"`
}
