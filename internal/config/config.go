package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the narrator service and CLI
type Config struct {
	// Server configuration
	Port           string `envconfig:"PORT" default:"8080"`
	GRPCHealthPort string `envconfig:"GRPC_HEALTH_PORT" default:""` // empty disables the gRPC health server

	// ElevenLabs synthesis backend
	ElevenLabsAPIKey       string `envconfig:"ELEVENLABS_API_KEY"`
	ElevenLabsBaseURL      string `envconfig:"ELEVENLABS_BASE_URL" default:"https://api.elevenlabs.io/v1"`
	ElevenLabsModelID      string `envconfig:"ELEVENLABS_MODEL_ID" default:"eleven_multilingual_v2"`
	ElevenLabsOutputFormat string `envconfig:"ELEVENLABS_OUTPUT_FORMAT" default:"mp3_44100_128"`
	ElevenLabsStreaming    bool   `envconfig:"ELEVENLABS_STREAMING" default:"true"`

	// Voice ids per narrative role
	NarratorVoiceID   string `envconfig:"NARRATOR_VOICE_ID" default:"onwK4e9ZLuTAKqWW03F9"`
	NPCVoiceID        string `envconfig:"NPC_VOICE_ID" default:"pNInz6obpgDQGcFmaJgB"`
	InnerVoiceVoiceID string `envconfig:"INNER_VOICE_VOICE_ID" default:"EXAVITQu4vr4xnSDxMaL"`
	JudgeVoiceID      string `envconfig:"JUDGE_VOICE_ID" default:"VR6AewLTigWG4xSOukaG"`

	// Synthesis retry policy
	SynthMaxRetries     int     `envconfig:"SYNTH_MAX_RETRIES" default:"3"`        // Retries after the first attempt
	SynthInitialDelay   int     `envconfig:"SYNTH_INITIAL_DELAY" default:"500"`    // Initial backoff in milliseconds
	SynthMaxDelay       int     `envconfig:"SYNTH_MAX_DELAY" default:"8000"`       // Backoff cap in milliseconds
	SynthTimeout        int     `envconfig:"SYNTH_TIMEOUT" default:"30"`           // Per-attempt timeout in seconds
	SynthRateLimit      float64 `envconfig:"SYNTH_RATE_LIMIT" default:"0"`         // Requests per second, 0 = unlimited
	SynthRateLimitBurst int     `envconfig:"SYNTH_RATE_LIMIT_BURST" default:"1"`   // Burst size for the rate limiter

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failed calls before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"3"`         // Cache connection attempts
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"500"`            // Reconnection backoff in milliseconds

	// Cache configuration
	CacheBackend          string `envconfig:"CACHE_BACKEND" default:"memory"` // redis, disk, memory, none
	RedisURL              string `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`
	CacheDiskPath         string `envconfig:"CACHE_DISK_PATH" default:""`
	CacheCompressionLevel int    `envconfig:"CACHE_COMPRESSION_LEVEL" default:"3"`    // zstd level for the disk store, 0 disables
	CacheDiskCapacity     int64  `envconfig:"CACHE_DISK_CAPACITY" default:"536870912"` // bytes
	CacheMemoryCapacity   int64  `envconfig:"CACHE_MEMORY_CAPACITY" default:"67108864"` // bytes

	// Playback configuration
	PlaybackSink        string  `envconfig:"PLAYBACK_SINK" default:"discard"` // speaker, discard
	PlaybackAutoPlay    bool    `envconfig:"PLAYBACK_AUTO_PLAY" default:"true"`
	PlaybackVolume      float64 `envconfig:"PLAYBACK_VOLUME" default:"1.0"`
	DefaultBeatPause    int     `envconfig:"DEFAULT_BEAT_PAUSE" default:"500"` // milliseconds
	SpeakerSampleRate   int     `envconfig:"SPEAKER_SAMPLE_RATE" default:"44100"`
	DiscardRealtime     bool    `envconfig:"DISCARD_REALTIME" default:"false"` // discard sink waits for the estimated duration

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	cfg, err := process()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadClient loads configuration for callers that never talk to the
// synthesis backend directly (remote CLI mode), so no API key is required.
func LoadClient() (*Config, error) {
	_ = godotenv.Load()
	cfg, err := process()
	if err != nil {
		return nil, err
	}
	if err := cfg.validateCommon(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func process() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.CacheBackend = strings.ToLower(strings.TrimSpace(cfg.CacheBackend))
	cfg.PlaybackSink = strings.ToLower(strings.TrimSpace(cfg.PlaybackSink))
	return &cfg, nil
}

// Validate checks required fields and value ranges
func (c *Config) Validate() error {
	if c.ElevenLabsAPIKey == "" {
		return fmt.Errorf("ELEVENLABS_API_KEY is required")
	}
	return c.validateCommon()
}

func (c *Config) validateCommon() error {
	switch c.CacheBackend {
	case "redis", "disk", "memory", "none":
	default:
		return fmt.Errorf("CACHE_BACKEND must be one of redis, disk, memory, none; got %q", c.CacheBackend)
	}
	switch c.PlaybackSink {
	case "speaker", "discard":
	default:
		return fmt.Errorf("PLAYBACK_SINK must be speaker or discard; got %q", c.PlaybackSink)
	}
	if c.SynthMaxRetries < 0 {
		return fmt.Errorf("SYNTH_MAX_RETRIES must not be negative")
	}
	if c.PlaybackVolume < 0 || c.PlaybackVolume > 1 {
		return fmt.Errorf("PLAYBACK_VOLUME must be between 0 and 1")
	}
	return nil
}

// SynthInitialDelayDuration returns the initial retry delay
func (c *Config) SynthInitialDelayDuration() time.Duration {
	return time.Duration(c.SynthInitialDelay) * time.Millisecond
}

// SynthMaxDelayDuration returns the retry delay cap
func (c *Config) SynthMaxDelayDuration() time.Duration {
	return time.Duration(c.SynthMaxDelay) * time.Millisecond
}

// SynthTimeoutDuration returns the per-attempt timeout
func (c *Config) SynthTimeoutDuration() time.Duration {
	return time.Duration(c.SynthTimeout) * time.Second
}

// DefaultBeatPauseDuration returns the pause inserted between beats
func (c *Config) DefaultBeatPauseDuration() time.Duration {
	return time.Duration(c.DefaultBeatPause) * time.Millisecond
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
