package audio

import (
	"encoding/binary"
	"testing"
	"time"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name    string
		want    Format
		wantErr bool
	}{
		{"mp3_44100_128", Format{Codec: CodecMP3, SampleRate: 44100, Bitrate: 128}, false},
		{"mp3_22050_32", Format{Codec: CodecMP3, SampleRate: 22050, Bitrate: 32}, false},
		{"pcm_24000", Format{Codec: CodecPCM, SampleRate: 24000}, false},
		{"ulaw_8000", Format{Codec: CodecULaw, SampleRate: 8000}, false},
		{"", DefaultFormat, false},
		{"opus_48000", Format{}, true},
		{"pcm", Format{}, true},
		{"mp3_abc_128", Format{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFormat(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expected error=%v, got %v", tt.wantErr, err)
			}
			if got != tt.want {
				t.Errorf("Expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestFormat_String(t *testing.T) {
	for _, name := range []string{"mp3_44100_128", "pcm_16000", "ulaw_8000"} {
		f, err := ParseFormat(name)
		if err != nil {
			t.Fatalf("ParseFormat(%s) failed: %v", name, err)
		}
		if f.String() != name {
			t.Errorf("Expected %s, got %s", name, f.String())
		}
	}
}

func TestFormat_ContentType(t *testing.T) {
	mp3, _ := ParseFormat("mp3_44100_128")
	if mp3.ContentType() != "audio/mpeg" {
		t.Errorf("Expected audio/mpeg, got %s", mp3.ContentType())
	}
	ulaw, _ := ParseFormat("ulaw_8000")
	if ulaw.ContentType() != "audio/basic" {
		t.Errorf("Expected audio/basic, got %s", ulaw.ContentType())
	}
}

func TestFormat_EstimateDuration(t *testing.T) {
	mp3 := Format{Codec: CodecMP3, SampleRate: 44100, Bitrate: 128}
	if d := mp3.EstimateDuration(16000); d != time.Second {
		t.Errorf("Expected 1s for 16000 bytes at 128kbps, got %v", d)
	}
	pcm := Format{Codec: CodecPCM, SampleRate: 24000}
	if d := pcm.EstimateDuration(48000); d != time.Second {
		t.Errorf("Expected 1s for 48000 bytes of pcm_24000, got %v", d)
	}
	ulaw := Format{Codec: CodecULaw, SampleRate: 8000}
	if d := ulaw.EstimateDuration(4000); d != 500*time.Millisecond {
		t.Errorf("Expected 500ms, got %v", d)
	}
	if d := mp3.EstimateDuration(0); d != 0 {
		t.Errorf("Expected 0 for empty audio, got %v", d)
	}
}

func TestDecodePCM16(t *testing.T) {
	samples := []int16{0, 1000, -1000, 32767, -32768}
	pcmData := make([]byte, len(samples)*2)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(pcmData[i*2:], uint16(sample))
	}

	got, err := DecodePCM16(pcmData)
	if err != nil {
		t.Fatalf("DecodePCM16 failed: %v", err)
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("Expected sample %d at index %d, got %d", samples[i], i, got[i])
		}
	}

	if _, err := DecodePCM16([]byte{0x01}); err == nil {
		t.Error("Expected error for odd length")
	}
	if _, err := DecodePCM16(nil); err == nil {
		t.Error("Expected error for empty data")
	}
}

func TestDecodeMulaw(t *testing.T) {
	// 0xFF and 0x7F are the μ-law encodings of positive and negative zero
	samples, err := DecodeMulaw([]byte{0xFF, 0x7F, 0x00, 0x80})
	if err != nil {
		t.Fatalf("DecodeMulaw failed: %v", err)
	}
	if samples[0] != 0 || samples[1] != 0 {
		t.Errorf("Expected zero for 0xFF/0x7F, got %d/%d", samples[0], samples[1])
	}
	if samples[2] >= 0 || samples[3] <= 0 {
		t.Errorf("Expected full-scale negative then positive, got %d/%d", samples[2], samples[3])
	}
	if samples[2] != -samples[3] {
		t.Errorf("Expected symmetric magnitudes, got %d/%d", samples[2], samples[3])
	}
}

func TestDecodeSamples_RejectsMP3(t *testing.T) {
	if _, err := DecodeSamples([]byte("ID3"), DefaultFormat); err == nil {
		t.Error("Expected error for mp3 input")
	}
}

func TestResample(t *testing.T) {
	samples := make([]int16, 100)
	for i := range samples {
		samples[i] = int16(i * 100)
	}

	if got := Resample(samples, 8000, 16000); len(got) < 180 || len(got) > 220 {
		t.Errorf("Expected resampled length around 200, got %d", len(got))
	}
	if got := Resample(samples, 16000, 8000); len(got) < 40 || len(got) > 60 {
		t.Errorf("Expected resampled length around 50, got %d", len(got))
	}
	if got := Resample(samples, 8000, 8000); len(got) != len(samples) {
		t.Errorf("Expected unchanged length %d, got %d", len(samples), len(got))
	}
}
