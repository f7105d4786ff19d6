package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

var (
	errEmptyModel        = errors.New("model must be provided")
	errEmptyMessages     = errors.New("at least one message is required")
	errUnsupportedStop   = errors.New("stop must be a string or an array of strings")
	errInvalidToolChoice = errors.New("tool_choice must be \"auto\", \"none\", \"required\" or a named function")
)

// Tool choice modes.
const (
	ToolChoiceAuto     = "auto"
	ToolChoiceNone     = "none"
	ToolChoiceRequired = "required"
)

// ChatCompletionRequest is the OpenAI-compatible chat/completions request. Optional
// numeric fields are pointers so absence survives decoding. Stream is tri-state;
// anything other than an explicit true is non-streaming.
type ChatCompletionRequest struct {
	Model               string
	Messages            []openai.ChatCompletionMessage
	MaxTokens           *int
	MaxCompletionTokens *int
	Stop                []string
	Temperature         *float64
	TopP                *float64
	Stream              *bool
	StreamOptions       *openai.StreamOptions
	Tools               []openai.Tool
	ToolChoice          *ToolChoice
	ParallelToolCalls   *bool
	User                string
}

type chatCompletionRequestJSON struct {
	Model               string                         `json:"model"`
	Messages            []openai.ChatCompletionMessage `json:"messages"`
	MaxTokens           *int                           `json:"max_tokens,omitempty"`
	MaxCompletionTokens *int                           `json:"max_completion_tokens,omitempty"`
	Stop                json.RawMessage                `json:"stop,omitempty"`
	Temperature         *float64                       `json:"temperature,omitempty"`
	TopP                json.RawMessage                `json:"top_p,omitempty"`
	Stream              *bool                          `json:"stream,omitempty"`
	StreamOptions       *openai.StreamOptions          `json:"stream_options,omitempty"`
	Tools               []openai.Tool                  `json:"tools,omitempty"`
	ToolChoice          *ToolChoice                    `json:"tool_choice,omitempty"`
	ParallelToolCalls   *bool                          `json:"parallel_tool_calls,omitempty"`
	User                string                         `json:"user,omitempty"`
}

// UnmarshalJSON normalises stop and top_p and enforces the minimal validation.
func (r *ChatCompletionRequest) UnmarshalJSON(data []byte) error {
	var raw chatCompletionRequestJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode chat request: %w", err)
	}

	stop, err := parseStop(raw.Stop)
	if err != nil {
		return err
	}

	*r = ChatCompletionRequest{
		Model:               strings.TrimSpace(raw.Model),
		Messages:            raw.Messages,
		MaxTokens:           raw.MaxTokens,
		MaxCompletionTokens: raw.MaxCompletionTokens,
		Stop:                stop,
		Temperature:         raw.Temperature,
		TopP:                parseNumber(raw.TopP),
		Stream:              raw.Stream,
		StreamOptions:       raw.StreamOptions,
		Tools:               raw.Tools,
		ToolChoice:          raw.ToolChoice,
		ParallelToolCalls:   raw.ParallelToolCalls,
		User:                raw.User,
	}

	return r.Validate()
}

// MarshalJSON renders the request in wire form.
func (r ChatCompletionRequest) MarshalJSON() ([]byte, error) {
	out := chatCompletionRequestJSON{
		Model:               r.Model,
		Messages:            r.Messages,
		MaxTokens:           r.MaxTokens,
		MaxCompletionTokens: r.MaxCompletionTokens,
		Temperature:         r.Temperature,
		Stream:              r.Stream,
		StreamOptions:       r.StreamOptions,
		Tools:               r.Tools,
		ToolChoice:          r.ToolChoice,
		ParallelToolCalls:   r.ParallelToolCalls,
		User:                r.User,
	}
	if len(r.Stop) > 0 {
		stop, err := json.Marshal(r.Stop)
		if err != nil {
			return nil, fmt.Errorf("encode stop: %w", err)
		}
		out.Stop = stop
	}
	if r.TopP != nil {
		topP, err := json.Marshal(*r.TopP)
		if err != nil {
			return nil, fmt.Errorf("encode top_p: %w", err)
		}
		out.TopP = topP
	}
	return json.Marshal(out)
}

// Validate checks the fields every request needs regardless of provider.
func (r ChatCompletionRequest) Validate() error {
	if r.Model == "" {
		return errEmptyModel
	}
	if len(r.Messages) == 0 {
		return errEmptyMessages
	}
	return nil
}

// Streaming reports whether the caller explicitly asked for a stream.
func (r ChatCompletionRequest) Streaming() bool {
	return r.Stream != nil && *r.Stream
}

// IncludeUsage reports whether a usage chunk was requested for streams.
func (r ChatCompletionRequest) IncludeUsage() bool {
	return r.StreamOptions != nil && r.StreamOptions.IncludeUsage
}

// RequestedMaxTokens returns max_tokens, falling back to max_completion_tokens.
func (r ChatCompletionRequest) RequestedMaxTokens() *int {
	if r.MaxTokens != nil {
		return r.MaxTokens
	}
	return r.MaxCompletionTokens
}

// ToolChoice is the union of the string modes and the named-function form.
type ToolChoice struct {
	Mode     string
	Function string
}

// Forced reports whether the caller requires a tool call.
func (c *ToolChoice) Forced() bool {
	if c == nil {
		return false
	}
	return c.Mode == ToolChoiceRequired || c.Function != ""
}

// UnmarshalJSON accepts "auto", "none", "required" or {"type":"function",...}.
func (c *ToolChoice) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var mode string
		if err := json.Unmarshal(data, &mode); err != nil {
			return fmt.Errorf("decode tool_choice: %w", err)
		}
		switch mode {
		case ToolChoiceAuto, ToolChoiceNone, ToolChoiceRequired:
			*c = ToolChoice{Mode: mode}
			return nil
		default:
			return fmt.Errorf("%w: got %q", errInvalidToolChoice, mode)
		}
	}

	var named openai.ToolChoice
	if err := json.Unmarshal(data, &named); err != nil {
		return fmt.Errorf("decode tool_choice: %w", err)
	}
	if named.Type != openai.ToolTypeFunction || strings.TrimSpace(named.Function.Name) == "" {
		return errInvalidToolChoice
	}
	*c = ToolChoice{Function: named.Function.Name}
	return nil
}

// MarshalJSON renders the string or named form.
func (c ToolChoice) MarshalJSON() ([]byte, error) {
	if c.Function != "" {
		return json.Marshal(openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: c.Function},
		})
	}
	return json.Marshal(c.Mode)
}

func parseStop(raw json.RawMessage) ([]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if single == "" {
			return nil, nil
		}
		return []string{single}, nil
	}

	var multi []string
	if err := json.Unmarshal(raw, &multi); err == nil {
		return multi, nil
	}
	return nil, errUnsupportedStop
}

// parseNumber returns nil for anything that is not a JSON number.
func parseNumber(raw json.RawMessage) *float64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	n, ok := v.(json.Number)
	if !ok {
		return nil
	}
	f, err := n.Float64()
	if err != nil {
		return nil
	}
	return &f
}
