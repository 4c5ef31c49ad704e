package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lexiqai/narrator/internal/resilience"
	"github.com/lexiqai/narrator/internal/tts"
)

// SpeakPath is the server route that resolves a Request into audio
const SpeakPath = "/api/tts/speak"

// RemoteResolver resolves speech through a narrator server
type RemoteResolver struct {
	baseURL    string
	httpClient *http.Client
	retry      *resilience.RetryConfig
}

// NewRemoteResolver creates a resolver for the server at baseURL
func NewRemoteResolver(baseURL string, httpClient *http.Client) *RemoteResolver {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &RemoteResolver{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		retry: &resilience.RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    250 * time.Millisecond,
			MaxBackoff:        2 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
	}
}

// Resolve posts the request and returns the audio body. Transport failures
// and retryable server statuses (429, 5xx) are retried.
func (r *RemoteResolver) Resolve(ctx context.Context, req Request) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var audio []byte
	err = resilience.Retry(ctx, func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+SpeakPath, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := r.httpClient.Do(httpReq)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return resilience.NewRetryableError(err)
			}
			return err
		}
		if resp.StatusCode != http.StatusOK {
			msg := strings.TrimSpace(string(body))
			if resp.StatusCode == http.StatusBadRequest {
				return &tts.ValidationError{Field: "request", Message: msg}
			}
			apiErr := &tts.APIError{
				StatusCode: resp.StatusCode,
				Message:    msg,
				Retryable:  tts.IsRetryableStatus(resp.StatusCode),
			}
			if apiErr.Retryable {
				return resilience.NewRetryableError(apiErr)
			}
			return apiErr
		}
		audio = body
		return nil
	}, r.retry, isRetryableRemote)
	if err != nil {
		return nil, err
	}
	return audio, nil
}

// isRetryableRemote trusts explicit retry markers before falling back to
// transport error classification
func isRetryableRemote(err error) bool {
	if resilience.IsRetryable(err) {
		return true
	}
	var apiErr *tts.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable
	}
	var validationErr *tts.ValidationError
	if errors.As(err, &validationErr) {
		return false
	}
	return resilience.IsRetryableNetworkError(err)
}
