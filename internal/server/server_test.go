package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"claude-bridge/internal/anthropic"
	"claude-bridge/internal/config"
	"claude-bridge/internal/metrics"
	"claude-bridge/internal/provider"
	"claude-bridge/internal/router"
)

type fakeClient struct {
	sse string
	err error
}

func (c *fakeClient) CreateMessage(_ context.Context, req *anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &anthropic.MessageResponse{
		ID:         "msg_1",
		Role:       "assistant",
		Model:      req.Model,
		Content:    []anthropic.ContentBlock{{Type: anthropic.BlockText, Text: "hello"}},
		StopReason: anthropic.StopEndTurn,
		Usage:      anthropic.Usage{InputTokens: 2, OutputTokens: 1},
	}, nil
}

func (c *fakeClient) CreateMessageStream(context.Context, *anthropic.MessageRequest) (*anthropic.Stream, error) {
	if c.err != nil {
		return nil, c.err
	}
	return anthropic.NewStream(io.NopCloser(strings.NewReader(c.sse))), nil
}

const streamBody = `event: message_start
data: {"type":"message_start","message":{"id":"msg_s","model":"claude-3-opus-20240229","usage":{"input_tokens":2,"output_tokens":0}}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hi"}}

event: message_delta
data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":1}}

event: message_stop
data: {"type":"message_stop"}

`

func newTestServer(t *testing.T, client provider.MessagesClient) *httptest.Server {
	t.Helper()
	cfg := config.Default()
	cfg.Aliases = map[string]string{"opus": "claude-3-opus-20240229"}

	catalog, err := provider.NewCatalogFromConfig(cfg)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	rec, err := metrics.New(cfg.Metrics.Namespace, reg)
	require.NoError(t, err)

	handler, err := provider.NewHandler(client, catalog,
		provider.WithMetrics(rec),
		provider.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)

	rt, err := router.New(catalog, handler)
	require.NoError(t, err)

	srv, err := New(cfg, rt, reg)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url+"/v1/chat/completions", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeError(t *testing.T, resp *http.Response) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, &fakeClient{})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestChatCompletionJSON(t *testing.T) {
	ts := newTestServer(t, &fakeClient{})

	resp := post(t, ts.URL, `{"model":"opus","messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out openai.ChatCompletionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "msg_1", out.ID)
	assert.Equal(t, "chat.completion", out.Object)
	assert.Equal(t, "claude-3-opus-20240229", out.Model)
	require.Len(t, out.Choices, 1)
	assert.Equal(t, "hello", out.Choices[0].Message.Content)
	assert.Equal(t, openai.FinishReasonStop, out.Choices[0].FinishReason)
	assert.Equal(t, 3, out.Usage.TotalTokens)
}

func TestChatCompletionStream(t *testing.T) {
	ts := newTestServer(t, &fakeClient{sse: streamBody})

	resp := post(t, ts.URL, `{"model":"claude-3-opus-20240229","messages":[{"role":"user","content":"hi"}],"stream":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var payloads []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			payloads = append(payloads, strings.TrimPrefix(line, "data: "))
		}
	}
	require.NoError(t, scanner.Err())
	require.NotEmpty(t, payloads)
	assert.Equal(t, "[DONE]", payloads[len(payloads)-1])

	chunks := payloads[:len(payloads)-1]
	require.Len(t, chunks, 3)

	var created int64
	for i, raw := range chunks {
		var chunk openai.ChatCompletionStreamResponse
		require.NoError(t, json.Unmarshal([]byte(raw), &chunk))
		assert.Equal(t, "msg_s", chunk.ID)
		if i == 0 {
			created = chunk.Created
		}
		assert.Equal(t, created, chunk.Created)
	}

	var last openai.ChatCompletionStreamResponse
	require.NoError(t, json.Unmarshal([]byte(chunks[2]), &last))
	assert.Equal(t, openai.FinishReasonStop, last.Choices[0].FinishReason)
}

func TestChatCompletionStreamProviderErrorMidStream(t *testing.T) {
	body := "event: message_start\n" +
		`data: {"type":"message_start","message":{"id":"msg_e"}}` + "\n\n" +
		"event: error\n" +
		`data: {"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}` + "\n\n"
	ts := newTestServer(t, &fakeClient{sse: body})

	resp := post(t, ts.URL, `{"model":"claude-3-opus-20240229","messages":[{"role":"user","content":"hi"}],"stream":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(raw)
	assert.Contains(t, text, `"type":"overloaded_error"`)
	assert.NotContains(t, text, "[DONE]")
}

func TestChatCompletionErrors(t *testing.T) {
	tests := []struct {
		name       string
		client     *fakeClient
		body       string
		wantStatus int
		wantType   string
	}{
		{
			name:       "empty body",
			client:     &fakeClient{},
			body:       ``,
			wantStatus: http.StatusBadRequest,
			wantType:   "invalid_request_error",
		},
		{
			name:       "malformed json",
			client:     &fakeClient{},
			body:       `{"model":`,
			wantStatus: http.StatusBadRequest,
			wantType:   "invalid_request_error",
		},
		{
			name:       "trailing data",
			client:     &fakeClient{},
			body:       `{"model":"m","messages":[{"role":"user","content":"hi"}]} {}`,
			wantStatus: http.StatusBadRequest,
			wantType:   "invalid_request_error",
		},
		{
			name:   "image to legacy model",
			client: &fakeClient{},
			body: `{"model":"claude-2.1","messages":[{"role":"user","content":[
				{"type":"image_url","image_url":{"url":"data:image/png;base64,AAAA"}}
			]}]}`,
			wantStatus: http.StatusBadRequest,
			wantType:   "invalid_request_error",
		},
		{
			name:       "missing max tokens default",
			client:     &fakeClient{},
			body:       `{"model":"claude-unknown","messages":[{"role":"user","content":"hi"}]}`,
			wantStatus: http.StatusBadRequest,
			wantType:   "invalid_request_error",
		},
		{
			name:       "provider error keeps status",
			client:     &fakeClient{err: &anthropic.APIError{StatusCode: 429, Type: "rate_limit_error", Message: "slow down"}},
			body:       `{"model":"claude-3-opus-20240229","messages":[{"role":"user","content":"hi"}]}`,
			wantStatus: http.StatusTooManyRequests,
			wantType:   "rate_limit_error",
		},
		{
			name:       "transport error",
			client:     &fakeClient{err: io.ErrUnexpectedEOF},
			body:       `{"model":"claude-3-opus-20240229","messages":[{"role":"user","content":"hi"}]}`,
			wantStatus: http.StatusBadGateway,
			wantType:   "upstream_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, tt.client)
			resp := post(t, ts.URL, tt.body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantType, decodeError(t, resp).Error.Type)
		})
	}
}

func TestModelsEndpoints(t *testing.T) {
	ts := newTestServer(t, &fakeClient{})

	resp, err := http.Get(ts.URL + "/v1/models")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list struct {
		Object string         `json:"object"`
		Data   []openai.Model `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.Equal(t, "list", list.Object)
	assert.Len(t, list.Data, len(config.DefaultModels()))
	assert.Equal(t, "anthropic", list.Data[0].OwnedBy)

	one, err := http.Get(ts.URL + "/v1/models/opus")
	require.NoError(t, err)
	defer one.Body.Close()
	require.Equal(t, http.StatusOK, one.StatusCode)
	var model openai.Model
	require.NoError(t, json.NewDecoder(one.Body).Decode(&model))
	assert.Equal(t, "claude-3-opus-20240229", model.ID)

	missing, err := http.Get(ts.URL + "/v1/models/gpt-4")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, &fakeClient{})
	post(t, ts.URL, `{"model":"claude-3-opus-20240229","messages":[{"role":"user","content":"hi"}]}`)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `claude_bridge_requests_total{mode="complete",model="claude-3-opus-20240229",outcome="ok"} 1`)
}

func TestUnknownRouteUsesOpenAIErrorShape(t *testing.T) {
	ts := newTestServer(t, &fakeClient{})

	resp, err := http.Get(ts.URL + "/v1/nothing")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.NotEmpty(t, decodeError(t, resp).Error.Message)
}
