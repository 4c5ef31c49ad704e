package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/lexiqai/narrator/internal/config"
	"github.com/lexiqai/narrator/internal/observability"
	"github.com/lexiqai/narrator/internal/resilience"
)

const maxErrorBody = 64 << 10

// Config holds the ElevenLabs client settings
type Config struct {
	APIKey       string
	BaseURL      string
	ModelID      string
	OutputFormat string
	Buffered     bool // Use the non-streamed endpoint by default

	MaxRetries   int           // Retries after the first attempt
	InitialDelay time.Duration // First backoff
	MaxDelay     time.Duration // Backoff cap
	Timeout      time.Duration // Until response headers, then per body read

	RateLimit float64 // Requests per second, 0 = unlimited
	RateBurst int

	BreakerMaxFailures  int // 0 disables the circuit breaker
	BreakerResetTimeout time.Duration
}

// ConfigFromEnv maps the service configuration onto client settings
func ConfigFromEnv(cfg *config.Config) Config {
	return Config{
		APIKey:              cfg.ElevenLabsAPIKey,
		BaseURL:             cfg.ElevenLabsBaseURL,
		ModelID:             cfg.ElevenLabsModelID,
		OutputFormat:        cfg.ElevenLabsOutputFormat,
		Buffered:            !cfg.ElevenLabsStreaming,
		MaxRetries:          cfg.SynthMaxRetries,
		InitialDelay:        cfg.SynthInitialDelayDuration(),
		MaxDelay:            cfg.SynthMaxDelayDuration(),
		Timeout:             cfg.SynthTimeoutDuration(),
		RateLimit:           cfg.SynthRateLimit,
		RateBurst:           cfg.SynthRateLimitBurst,
		BreakerMaxFailures:  cfg.CircuitBreakerMaxFailures,
		BreakerResetTimeout: time.Duration(cfg.CircuitBreakerResetTimeout) * time.Second,
	}
}

// Client talks to the ElevenLabs text-to-speech API
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *resilience.CircuitBreaker
	sleep      func(ctx context.Context, d time.Duration) error
	logger     zerolog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger overrides the component logger
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithSleep replaces the wait between retries
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = sleep }
}

// NewClient creates a new ElevenLabs client
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.elevenlabs.io/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 8 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		logger:     observability.Component("elevenlabs"),
	}

	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	c.breaker = resilience.NewCircuitBreaker("elevenlabs", cfg.BreakerMaxFailures, cfg.BreakerResetTimeout)
	c.breaker.IsFailure = isRetryableError
	c.breaker.OnStateChange = func(name string, from, to resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(to))
		c.logger.Warn().
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("Circuit breaker state changed")
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClientFromConfig creates a client from the service configuration
func NewClientFromConfig(cfg *config.Config, opts ...Option) *Client {
	return NewClient(ConfigFromEnv(cfg), opts...)
}

// OutputFormat returns the default output format requested from the backend
func (c *Client) OutputFormat() string {
	return c.cfg.OutputFormat
}

// ModelID returns the default model
func (c *Client) ModelID() string {
	return c.cfg.ModelID
}

// BreakerHealthCheck reports the circuit breaker. It is optional: the
// breaker only leaves the open state on a request, so it must not gate
// readiness.
func (c *Client) BreakerHealthCheck() observability.HealthCheck {
	return observability.HealthCheck{
		Name:     "elevenlabs_breaker",
		Optional: true,
		Check: func(context.Context) (bool, error) {
			state, requests, failures, rate := c.breaker.GetStats()
			if state == resilience.StateOpen {
				return false, fmt.Errorf("circuit open: %d of %d requests failed (%.0f%%)", failures, requests, rate)
			}
			return true, nil
		},
	}
}

// Synthesize converts text to audio. The caller must close the returned
// reader. With streaming enabled the body is handed over as it arrives and
// a read that stalls longer than the timeout fails with a retryable
// *APIError.
func (c *Client) Synthesize(ctx context.Context, req SynthesisRequest) (io.ReadCloser, error) {
	return c.synthesize(ctx, req, bodyStreamed)
}

func (c *Client) synthesize(ctx context.Context, req SynthesisRequest, mode bodyMode) (io.ReadCloser, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	stream := !c.cfg.Buffered
	if req.Stream != nil {
		stream = *req.Stream
	}
	modelID := req.ModelID
	if modelID == "" {
		modelID = c.cfg.ModelID
	}
	outputFormat := req.OutputFormat
	if outputFormat == "" {
		outputFormat = c.cfg.OutputFormat
	}

	payload, err := json.Marshal(synthesisBody{
		Text:          req.Text,
		ModelID:       modelID,
		VoiceSettings: req.VoiceSettings.wire(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := c.cfg.BaseURL + "/text-to-speech/" + url.PathEscape(req.VoiceID)
	if stream {
		endpoint += "/stream"
	}
	if outputFormat != "" {
		endpoint += "?output_format=" + url.QueryEscape(outputFormat)
	}

	logger := c.logger.With().Str("voice_id", req.VoiceID).Int("chars", len(req.Text)).Logger()
	newRequest := func(ctx context.Context) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", "application/json")
		r.Header.Set("Accept", "audio/mpeg")
		return r, nil
	}

	if !stream {
		mode = bodyBuffered
	}

	timer := observability.StartSynthesis()
	body, err := c.execute(ctx, logger, newRequest, mode)
	if err != nil {
		timer.Done("error")
		logger.Error().Err(err).Msg("Synthesis failed")
		return nil, err
	}
	timer.Done("success")
	return body, nil
}

// SynthesizeBytes is Synthesize with the whole body read into memory.
// The body is read inside each attempt, so a stalled or dropped stream is
// retried like any other transient failure.
func (c *Client) SynthesizeBytes(ctx context.Context, req SynthesisRequest) ([]byte, error) {
	body, err := c.synthesize(ctx, req, bodyBuffered)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio stream: %w", err)
	}
	if len(data) == 0 {
		return nil, &APIError{StatusCode: http.StatusOK, Message: "empty audio response"}
	}
	observability.RecordAudioBytes(len(data))
	return data, nil
}

func validate(req SynthesisRequest) error {
	if strings.TrimSpace(req.Text) == "" {
		return &ValidationError{Field: "text", Message: "must not be empty"}
	}
	if strings.TrimSpace(req.VoiceID) == "" {
		return &ValidationError{Field: "voice_id", Message: "is required"}
	}
	return nil
}

// bodyMode says how an attempt hands back a 2xx body
type bodyMode int

const (
	// bodyBuffered reads the whole body inside the attempt
	bodyBuffered bodyMode = iota
	// bodyStreamed returns the body open, each read bounded by the timeout
	bodyStreamed
)

// execute runs one logical call: circuit breaker around the retry loop,
// rate limiting and a timeout on every attempt.
func (c *Client) execute(ctx context.Context, logger zerolog.Logger, newRequest func(context.Context) (*http.Request, error), mode bodyMode) (io.ReadCloser, error) {
	var (
		result   io.ReadCloser
		attempts int
	)

	retryCfg := &resilience.RetryConfig{
		MaxAttempts:       c.cfg.MaxRetries + 1,
		InitialBackoff:    c.cfg.InitialDelay,
		MaxBackoff:        c.cfg.MaxDelay,
		BackoffMultiplier: 2.0,
		Jitter:            true,
		Sleep:             c.sleep,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			logger.Warn().
				Err(err).
				Int("attempt", attempt).
				Int("max_attempts", c.cfg.MaxRetries+1).
				Dur("backoff", wait).
				Msg("Synthesis attempt failed, retrying")
		},
	}

	err := c.breaker.Call(func() error {
		return resilience.Retry(ctx, func(ctx context.Context) error {
			attempts++
			body, err := c.attempt(ctx, newRequest, mode)
			if err != nil {
				return err
			}
			result = body
			return nil
		}, retryCfg, isRetryableError)
	})

	if errors.Is(err, resilience.ErrCircuitOpen) {
		observability.IncrementCircuitBreakerRejections(c.breaker.Name())
		return nil, &APIError{
			StatusCode: http.StatusServiceUnavailable,
			Message:    "synthesis backend unavailable (circuit open)",
			Retryable:  true,
			Err:        err,
		}
	}
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			apiErr.Attempts = attempts
			return nil, apiErr
		}
		return nil, &APIError{Message: err.Error(), Attempts: attempts, Err: err}
	}
	return result, nil
}

func (c *Client) attempt(ctx context.Context, newRequest func(context.Context) (*http.Request, error), mode bodyMode) (io.ReadCloser, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &APIError{Message: "rate limiter: " + err.Error(), Err: err}
		}
	}

	attemptCtx, cancel := context.WithCancel(ctx)
	var timedOut atomic.Bool
	deadline := time.AfterFunc(c.cfg.Timeout, func() {
		timedOut.Store(true)
		cancel()
	})

	req, err := newRequest(attemptCtx)
	if err != nil {
		deadline.Stop()
		cancel()
		return nil, &APIError{Message: "failed to create request: " + err.Error(), Err: err}
	}
	req.Header.Set("xi-api-key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		deadline.Stop()
		cancel()
		observability.RecordSynthesisAttempt("network")
		if timedOut.Load() {
			return nil, &APIError{Message: "request timed out", Retryable: true, Err: context.DeadlineExceeded}
		}
		return nil, &APIError{
			Message:   err.Error(),
			Retryable: resilience.IsRetryableNetworkError(err),
			Err:       err,
		}
	}
	observability.RecordSynthesisAttempt(observability.StatusClass(resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer cancel()
		deadline.Stop()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    parseErrorMessage(data, resp.StatusCode),
			Retryable:  IsRetryableStatus(resp.StatusCode),
		}
	}

	// Past the headers only stalled reads are bounded
	deadline.Stop()
	if timedOut.Load() {
		resp.Body.Close()
		cancel()
		return nil, readError(context.DeadlineExceeded, true)
	}
	body := newIdleReader(resp.Body, c.cfg.Timeout, cancel)
	if mode == bodyStreamed {
		return body, nil
	}

	data, err := io.ReadAll(body)
	body.Close()
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// idleReader fails a streamed body when a single read blocks longer than
// timeout. Read failures come back as *APIError.
type idleReader struct {
	body     io.ReadCloser
	timeout  time.Duration
	cancel   context.CancelFunc
	timer    *time.Timer
	timedOut atomic.Bool
}

func newIdleReader(body io.ReadCloser, timeout time.Duration, cancel context.CancelFunc) *idleReader {
	r := &idleReader{body: body, timeout: timeout, cancel: cancel}
	r.timer = time.AfterFunc(timeout, func() {
		r.timedOut.Store(true)
		cancel()
	})
	r.timer.Stop()
	return r
}

func (r *idleReader) Read(p []byte) (int, error) {
	r.timer.Reset(r.timeout)
	n, err := r.body.Read(p)
	r.timer.Stop()
	if err != nil && err != io.EOF {
		return n, readError(err, r.timedOut.Load())
	}
	return n, err
}

// Close releases the attempt context once the caller is done with the body
func (r *idleReader) Close() error {
	r.timer.Stop()
	err := r.body.Close()
	r.cancel()
	return err
}

// readError types a failure while reading an audio body
func readError(err error, timedOut bool) *APIError {
	if timedOut {
		return &APIError{Message: "audio stream stalled", Retryable: true, Err: context.DeadlineExceeded}
	}
	return &APIError{
		Message:   "failed to read audio: " + err.Error(),
		Retryable: errors.Is(err, io.ErrUnexpectedEOF) || resilience.IsRetryableNetworkError(err),
		Err:       err,
	}
}
