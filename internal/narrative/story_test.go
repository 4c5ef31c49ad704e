package narrative

import (
	"strings"
	"testing"
	"time"
)

const sampleStory = `
title: The Lantern
default_pause: 750ms
beats:
  - id: b1
    content: The lantern gutters in the wind.
  - id: b2
    type: dialogue
    speaker: keeper
    content: Who's there?
    metadata:
      emotion: urgent
      pause_after: 2s
  - id: b3
    type: thought
    content: Don't answer.
`

func TestDecodeStory(t *testing.T) {
	story, err := DecodeStory(strings.NewReader(sampleStory))
	if err != nil {
		t.Fatalf("DecodeStory failed: %v", err)
	}

	if story.Title != "The Lantern" {
		t.Errorf("Expected title, got %q", story.Title)
	}
	if story.DefaultPause == nil || *story.DefaultPause != 750*time.Millisecond {
		t.Errorf("Expected default pause 750ms, got %v", story.DefaultPause)
	}
	if len(story.Beats) != 3 {
		t.Fatalf("Expected 3 beats, got %d", len(story.Beats))
	}
	if story.Beats[0].Type != BeatNarration {
		t.Errorf("Expected missing type to default to narration, got %q", story.Beats[0].Type)
	}

	b2 := story.Beats[1]
	if b2.Speaker != "keeper" || b2.Metadata.Emotion != "urgent" {
		t.Errorf("Unexpected dialogue beat %+v", b2)
	}
	if b2.Metadata.PauseAfter == nil || *b2.Metadata.PauseAfter != 2*time.Second {
		t.Errorf("Expected pause_after 2s, got %v", b2.Metadata.PauseAfter)
	}
	if story.Beats[2].Metadata.PauseAfter != nil {
		t.Error("Expected no pause override on the last beat")
	}
}

func TestDecodeStory_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"no beats", "title: Empty\n"},
		{"unknown type", "beats:\n  - type: song\n    content: la\n"},
		{"unknown field", "beats:\n  - content: hi\n    mood: sad\n"},
		{"malformed", "beats: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeStory(strings.NewReader(tt.doc)); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestParseVoiceRole(t *testing.T) {
	tests := []struct {
		in      string
		want    VoiceRole
		wantErr bool
	}{
		{"", "", false},
		{"Narrator", RoleNarrator, false},
		{" npc ", RoleNPC, false},
		{"inner_voice", RoleInnerVoice, false},
		{"judge", RoleJudge, false},
		{"villain", "", true},
	}
	for _, tt := range tests {
		got, err := ParseVoiceRole(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseVoiceRole(%q): unexpected error %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseVoiceRole(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestBeatIsEmpty(t *testing.T) {
	if !(Beat{Content: " \t\n"}).IsEmpty() {
		t.Error("Expected whitespace beat to be empty")
	}
	if (Beat{Content: "x"}).IsEmpty() {
		t.Error("Expected beat with content not to be empty")
	}
}
