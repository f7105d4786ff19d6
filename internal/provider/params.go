package provider

import (
	"context"
	"errors"
	"fmt"

	"claude-bridge/internal/anthropic"
	"claude-bridge/internal/models"
	"claude-bridge/internal/translator"
)

// mapParams builds the provider request. Message conversion may resolve
// remote images and is the only step that performs I/O.
func (h *Handler) mapParams(ctx context.Context, req *models.ChatCompletionRequest) (*anthropic.MessageRequest, error) {
	maxTokens, err := h.maxTokens(req)
	if err != nil {
		return nil, err
	}

	messages, system, err := translator.ConvertMessages(ctx, req.Messages, h.images)
	if err != nil {
		return nil, h.inputError("messages", err)
	}

	tools, err := translator.ConvertTools(req.Tools)
	if err != nil {
		return nil, h.inputError("tools", err)
	}

	out := &anthropic.MessageRequest{
		Model:       req.Model,
		MaxTokens:   maxTokens,
		Messages:    messages,
		System:      system,
		TopP:        req.TopP,
		Tools:       tools,
		ToolChoice:  translator.ConvertToolChoice(req.ToolChoice, req.ParallelToolCalls),
		Temperature: halve(req.Temperature),
	}
	if len(req.Stop) > 0 {
		out.StopSequences = append([]string(nil), req.Stop...)
	}
	if req.User != "" {
		out.Metadata = &anthropic.Metadata{UserID: req.User}
	}
	return out, nil
}

// maxTokens prefers the caller's value and falls back to the catalog
// default. The provider has no default of its own, so a model without one
// is an input error.
func (h *Handler) maxTokens(req *models.ChatCompletionRequest) (int, error) {
	if requested := req.RequestedMaxTokens(); requested != nil {
		if *requested < 0 {
			h.metrics.InputRejected("max_tokens")
			return 0, &InputError{
				Param:   "max_tokens",
				Message: fmt.Sprintf("must be non-negative, got %d", *requested),
			}
		}
		return *requested, nil
	}

	if n, ok := h.catalog.DefaultMaxTokens(req.Model); ok {
		return n, nil
	}
	h.metrics.InputRejected("max_tokens")
	return 0, &InputError{
		Param:   "max_tokens",
		Message: fmt.Sprintf("no default max_tokens is known for model %s; set max_tokens explicitly", req.Model),
	}
}

func halve(t *float64) *float64 {
	if t == nil {
		return nil
	}
	v := *t / 2
	return &v
}

// inputError turns conversion failures into *InputError. Anything else,
// context cancellation in particular, is returned as is.
func (h *Handler) inputError(param string, err error) error {
	if !errors.Is(err, translator.ErrInvalidInput) {
		return err
	}
	h.metrics.InputRejected(param)
	return &InputError{Param: param, Message: err.Error(), Err: err}
}
