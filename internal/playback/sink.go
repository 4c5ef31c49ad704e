package playback

// Sink turns resolved audio into a playable track
type Sink interface {
	Load(audio []byte) (Track, error)
}

// Track is one loaded clip. Play is called at most once.
type Track interface {
	Play(volume float64) error
	Pause() error
	Resume() error
	Stop() error
	SetVolume(volume float64)

	// Started is closed once audio output has begun
	Started() <-chan struct{}
	// Done is closed when playback ends, naturally or not
	Done() <-chan struct{}
	// Err reports why playback ended abnormally, after Done
	Err() error

	Close() error
}
