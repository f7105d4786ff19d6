package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"claude-bridge/internal/config"
)

const (
	contentTypeJSON = "application/json"
	userAgent       = "claude-bridge/0.1"
)

// Client issues Messages API calls. It owns transport and authentication
// only; retries are left to the caller.
type Client struct {
	apiKey   string
	version  string
	headers  map[string]string
	client   *http.Client
	messages string
}

// New constructs a client from configuration and a resolved API key.
func New(cfg config.AnthropicConfig, apiKey string, client *http.Client) (*Client, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("api key must not be empty")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("base url must not be empty")
	}

	return &Client{
		apiKey:   apiKey,
		version:  cfg.Version,
		headers:  cfg.Headers,
		client:   client,
		messages: baseURL + "/v1/messages",
	}, nil
}

// CreateMessage performs a non-streaming call.
func (c *Client) CreateMessage(ctx context.Context, req *MessageRequest) (*MessageResponse, error) {
	payload := *req
	payload.Stream = false

	httpReq, err := c.newRequest(ctx, &payload, contentTypeJSON)
	if err != nil {
		return nil, err
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		return nil, parseAPIError(httpResp)
	}

	var resp MessageResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode anthropic response: %w", err)
	}
	return &resp, nil
}

// CreateMessageStream opens a streaming call. The caller owns the returned
// stream and must Close it.
func (c *Client) CreateMessageStream(ctx context.Context, req *MessageRequest) (*Stream, error) {
	payload := *req
	payload.Stream = true

	httpReq, err := c.newRequest(ctx, &payload, "text/event-stream")
	if err != nil {
		return nil, err
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic stream request failed: %w", err)
	}

	if httpResp.StatusCode >= 400 {
		defer httpResp.Body.Close()
		return nil, parseAPIError(httpResp)
	}

	return NewStream(httpResp.Body), nil
}

func (c *Client) newRequest(ctx context.Context, payload *MessageRequest, accept string) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.messages, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}

	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", c.version)

	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	return req, nil
}
