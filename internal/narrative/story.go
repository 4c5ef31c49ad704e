package narrative

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Story is an ordered list of beats read from a YAML file
type Story struct {
	Title string `yaml:"title"`

	// DefaultPause is the gap between beats; nil leaves it to the caller
	DefaultPause *time.Duration `yaml:"default_pause,omitempty"`

	Beats []Beat `yaml:"beats"`
}

// DecodeStory reads a story document
func DecodeStory(r io.Reader) (*Story, error) {
	var s Story
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse story: %w", err)
	}
	if len(s.Beats) == 0 {
		return nil, fmt.Errorf("story has no beats")
	}
	for i, b := range s.Beats {
		if b.Type == "" {
			s.Beats[i].Type = BeatNarration
			continue
		}
		switch b.Type {
		case BeatNarration, BeatDialogue, BeatAction, BeatThought, BeatSound, BeatTransition:
		default:
			return nil, fmt.Errorf("beat %d: unknown type %q", i, b.Type)
		}
	}
	return &s, nil
}

// LoadStory reads a story file
func LoadStory(path string) (*Story, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open story: %w", err)
	}
	defer f.Close()
	return DecodeStory(f)
}
