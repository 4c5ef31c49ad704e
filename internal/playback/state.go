package playback

import "fmt"

// State is the global playback state of a queue
type State int

const (
	// StateIdle means nothing is loading or playing
	StateIdle State = iota
	// StateLoading means an item was dequeued and its audio is being resolved
	StateLoading
	// StatePlaying means the sink reported the current item started
	StatePlaying
	// StatePaused means the current item is paused
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for _, c := range []State{StateIdle, StateLoading, StatePlaying, StatePaused} {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown playback state %q", b)
}

// ItemState is the lifecycle of one queue item. It only moves forward:
// pending, loading, ready, playing, completed; or error from any
// non-terminal state.
type ItemState int

const (
	ItemPending ItemState = iota
	ItemLoading
	ItemReady
	ItemPlaying
	ItemCompleted
	ItemError
)

func (s ItemState) String() string {
	switch s {
	case ItemPending:
		return "pending"
	case ItemLoading:
		return "loading"
	case ItemReady:
		return "ready"
	case ItemPlaying:
		return "playing"
	case ItemCompleted:
		return "completed"
	case ItemError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible
func (s ItemState) Terminal() bool {
	return s == ItemCompleted || s == ItemError
}

func (s ItemState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ItemState) UnmarshalText(b []byte) error {
	for c := ItemPending; c <= ItemError; c++ {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown item state %q", b)
}
