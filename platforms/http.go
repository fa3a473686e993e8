package platforms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 20 * time.Second}
}

// apiErrorBody covers the error envelopes of all four APIs.
type apiErrorBody struct {
	Message string `json:"message"`
	Detail  string `json:"detail"`
	Title   string `json:"title"`
	Error   struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (b apiErrorBody) text() string {
	switch {
	case b.Error.Message != "":
		return b.Error.Message
	case b.Detail != "":
		return b.Detail
	case b.Message != "":
		return b.Message
	default:
		return b.Title
	}
}

type apiClient struct {
	platform string
	baseURL  string
	http     *http.Client
	headers  map[string]string
}

// do sends body as JSON (when non-nil) with a bearer token and decodes a 2xx
// response into out. The response headers are returned for callers that read
// ids from them.
func (c *apiClient) do(ctx context.Context, method, path, token string, body, out any) (http.Header, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s request: %w", c.platform, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", c.platform, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%s read body: %w", c.platform, err)
	}

	if resp.StatusCode >= 400 {
		var eb apiErrorBody
		_ = json.Unmarshal(raw, &eb)
		msg := eb.text()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		apiErr := &APIError{Platform: c.platform, Status: resp.StatusCode, Message: msg}
		if resp.StatusCode == http.StatusUnauthorized {
			return nil, errors.Join(ErrUnauthorized, apiErr)
		}
		return nil, apiErr
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, fmt.Errorf("decode %s response: %w", c.platform, err)
		}
	}
	return resp.Header, nil
}
