package audio

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Codec is the container/encoding of synthesized audio
type Codec string

const (
	CodecMP3  Codec = "mp3"
	CodecPCM  Codec = "pcm"  // 16-bit signed little-endian mono
	CodecULaw Codec = "ulaw" // G.711 μ-law mono
)

// Format describes an output format such as "mp3_44100_128" or "pcm_24000"
type Format struct {
	Codec      Codec
	SampleRate int
	Bitrate    int // kbps, mp3 only
}

// DefaultFormat is used when no output format is configured
var DefaultFormat = Format{Codec: CodecMP3, SampleRate: 44100, Bitrate: 128}

// ParseFormat parses an ElevenLabs output format name
// (codec_samplerate[_bitrate]). An empty name yields DefaultFormat.
func ParseFormat(name string) (Format, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return DefaultFormat, nil
	}

	parts := strings.Split(name, "_")
	f := Format{Codec: Codec(parts[0])}
	switch f.Codec {
	case CodecMP3, CodecPCM, CodecULaw:
	default:
		return Format{}, fmt.Errorf("unsupported audio codec %q", parts[0])
	}

	if len(parts) < 2 {
		return Format{}, fmt.Errorf("output format %q has no sample rate", name)
	}
	rate, err := strconv.Atoi(parts[1])
	if err != nil || rate <= 0 {
		return Format{}, fmt.Errorf("invalid sample rate in %q", name)
	}
	f.SampleRate = rate

	if f.Codec == CodecMP3 {
		f.Bitrate = DefaultFormat.Bitrate
		if len(parts) > 2 {
			br, err := strconv.Atoi(parts[2])
			if err != nil || br <= 0 {
				return Format{}, fmt.Errorf("invalid bitrate in %q", name)
			}
			f.Bitrate = br
		}
	}
	return f, nil
}

// String renders the format back into its wire name
func (f Format) String() string {
	if f.Codec == CodecMP3 {
		return fmt.Sprintf("%s_%d_%d", f.Codec, f.SampleRate, f.Bitrate)
	}
	return fmt.Sprintf("%s_%d", f.Codec, f.SampleRate)
}

// ContentType is the MIME type served for this format
func (f Format) ContentType() string {
	switch f.Codec {
	case CodecPCM:
		return fmt.Sprintf("audio/L16; rate=%d; channels=1", f.SampleRate)
	case CodecULaw:
		return "audio/basic"
	default:
		return "audio/mpeg"
	}
}

// EstimateDuration estimates playback time of n encoded bytes
func (f Format) EstimateDuration(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	switch f.Codec {
	case CodecPCM:
		return time.Duration(float64(n/2) / float64(f.SampleRate) * float64(time.Second))
	case CodecULaw:
		return time.Duration(float64(n) / float64(f.SampleRate) * float64(time.Second))
	default:
		if f.Bitrate <= 0 {
			return 0
		}
		return time.Duration(float64(n*8) / float64(f.Bitrate*1000) * float64(time.Second))
	}
}
