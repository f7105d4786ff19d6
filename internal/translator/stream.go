package translator

import (
	"fmt"
	"io"
	"iter"

	openai "github.com/sashabaranov/go-openai"

	"claude-bridge/internal/anthropic"
	"claude-bridge/internal/models"
)

// StreamOptions carries what every emitted chunk shares plus the request
// fields that shape the terminal chunks.
type StreamOptions struct {
	Created      int64
	Model        string
	ToolChoice   *models.ToolChoice
	IncludeUsage bool
}

type streamState struct {
	opts StreamOptions

	id    string
	model string

	toolIndex map[int]int
	nextTool  int
	usage     anthropic.Usage
	finished  bool
	usageSent bool
}

// ConvertStream lazily maps provider events onto chat completion chunks. It
// pulls one event at a time and never buffers the stream. The returned
// sequence can be ranged over once; closing the transport is the caller's job.
func ConvertStream(events iter.Seq2[anthropic.StreamEvent, error], opts StreamOptions) iter.Seq2[openai.ChatCompletionStreamResponse, error] {
	return func(yield func(openai.ChatCompletionStreamResponse, error) bool) {
		state := &streamState{
			opts:      opts,
			model:     opts.Model,
			toolIndex: make(map[int]int),
		}

		for event, err := range events {
			if err != nil {
				yield(openai.ChatCompletionStreamResponse{}, err)
				return
			}

			for _, chunk := range state.convert(event) {
				if !yield(chunk, nil) {
					return
				}
			}
			if event.Type == anthropic.EventMessageStop {
				return
			}
		}

		if !state.finished {
			yield(openai.ChatCompletionStreamResponse{}, fmt.Errorf("anthropic stream ended before message_delta: %w", io.ErrUnexpectedEOF))
			return
		}
		// message_stop never arrived; the usage chunk is still owed
		if opts.IncludeUsage && !state.usageSent {
			yield(state.usageChunk(), nil)
		}
	}
}

func (s *streamState) convert(event anthropic.StreamEvent) []openai.ChatCompletionStreamResponse {
	switch event.Type {
	case anthropic.EventMessageStart:
		var providerID string
		if event.Message != nil {
			providerID = event.Message.ID
			if event.Message.Model != "" {
				s.model = event.Message.Model
			}
			s.usage = event.Message.Usage
		}
		s.id = CompletionID(providerID)
		return []openai.ChatCompletionStreamResponse{
			s.chunk(openai.ChatCompletionStreamChoiceDelta{Role: openai.ChatMessageRoleAssistant}, ""),
		}

	case anthropic.EventContentBlockStart:
		block := event.ContentBlock
		if block == nil {
			return nil
		}
		switch block.Type {
		case anthropic.BlockToolUse:
			index := s.nextTool
			s.nextTool++
			s.toolIndex[event.Index] = index
			return []openai.ChatCompletionStreamResponse{
				s.chunk(openai.ChatCompletionStreamChoiceDelta{
					ToolCalls: []openai.ToolCall{{
						Index:    &index,
						ID:       block.ID,
						Type:     openai.ToolTypeFunction,
						Function: openai.FunctionCall{Name: block.Name, Arguments: ""},
					}},
				}, ""),
			}
		case anthropic.BlockText:
			if block.Text == "" {
				return nil
			}
			return []openai.ChatCompletionStreamResponse{
				s.chunk(openai.ChatCompletionStreamChoiceDelta{Content: block.Text}, ""),
			}
		}
		return nil

	case anthropic.EventContentBlockDelta:
		delta := event.Delta
		if delta == nil {
			return nil
		}
		switch delta.Type {
		case anthropic.DeltaText:
			if delta.Text == "" {
				return nil
			}
			return []openai.ChatCompletionStreamResponse{
				s.chunk(openai.ChatCompletionStreamChoiceDelta{Content: delta.Text}, ""),
			}
		case anthropic.DeltaInputJSON:
			index, ok := s.toolIndex[event.Index]
			if !ok || delta.PartialJSON == "" {
				return nil
			}
			return []openai.ChatCompletionStreamResponse{
				s.chunk(openai.ChatCompletionStreamChoiceDelta{
					ToolCalls: []openai.ToolCall{{
						Index:    &index,
						Function: openai.FunctionCall{Arguments: delta.PartialJSON},
					}},
				}, ""),
			}
		}
		return nil

	case anthropic.EventMessageDelta:
		if event.Usage != nil {
			s.usage.OutputTokens = event.Usage.OutputTokens
			if event.Usage.InputTokens > 0 {
				s.usage.InputTokens = event.Usage.InputTokens
			}
		}
		var stopReason string
		if event.Delta != nil {
			stopReason = event.Delta.StopReason
		}
		s.finished = true
		reason := ReconcileFinishReason(stopReason, s.opts.ToolChoice, s.nextTool > 0)
		return []openai.ChatCompletionStreamResponse{
			s.chunk(openai.ChatCompletionStreamChoiceDelta{}, reason),
		}

	case anthropic.EventMessageStop:
		if !s.opts.IncludeUsage {
			return nil
		}
		return []openai.ChatCompletionStreamResponse{s.usageChunk()}
	}

	// ping, content_block_stop, thinking deltas and unknown event types
	return nil
}

// usageChunk is the final chunk of an include_usage stream: usage set and
// an empty choice list.
func (s *streamState) usageChunk() openai.ChatCompletionStreamResponse {
	s.usageSent = true
	if s.id == "" {
		s.id = CompletionID("")
	}
	usage := convertUsage(s.usage)
	return openai.ChatCompletionStreamResponse{
		ID:      s.id,
		Object:  objectChatCompletionChunk,
		Created: s.opts.Created,
		Model:   s.model,
		Choices: []openai.ChatCompletionStreamChoice{},
		Usage:   &usage,
	}
}

func (s *streamState) chunk(delta openai.ChatCompletionStreamChoiceDelta, reason openai.FinishReason) openai.ChatCompletionStreamResponse {
	if s.id == "" {
		s.id = CompletionID("")
	}
	return openai.ChatCompletionStreamResponse{
		ID:      s.id,
		Object:  objectChatCompletionChunk,
		Created: s.opts.Created,
		Model:   s.model,
		Choices: []openai.ChatCompletionStreamChoice{
			{
				Index:        0,
				Delta:        delta,
				FinishReason: reason,
			},
		},
	}
}
