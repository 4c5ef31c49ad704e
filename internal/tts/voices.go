package tts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ListVoices returns the voices available to the account
func (c *Client) ListVoices(ctx context.Context) ([]Voice, error) {
	body, err := c.execute(ctx, c.logger, c.getRequest("/voices"), bodyBuffered)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp voicesResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode voices: %w", err)
	}
	return resp.Voices, nil
}

// ValidateAPIKey reports whether the configured key is accepted.
// A rejected key is (false, nil); other failures are returned.
func (c *Client) ValidateAPIKey(ctx context.Context) (bool, error) {
	if c.cfg.APIKey == "" {
		return false, nil
	}

	body, err := c.execute(ctx, c.logger, c.getRequest("/user"), bodyBuffered)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
			return false, nil
		}
		return false, err
	}
	body.Close()
	return true, nil
}

func (c *Client) getRequest(path string) func(context.Context) (*http.Request, error) {
	endpoint := c.cfg.BaseURL + path
	return func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	}
}
