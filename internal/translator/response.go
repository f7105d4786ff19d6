package translator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"claude-bridge/internal/anthropic"
	"claude-bridge/internal/models"
)

const (
	objectChatCompletion      = "chat.completion"
	objectChatCompletionChunk = "chat.completion.chunk"
)

// CompletionID returns the provider message id, or a fresh chatcmpl id when
// the provider did not supply one.
func CompletionID(providerID string) string {
	if providerID != "" {
		return providerID
	}
	return "chatcmpl-" + uuid.NewString()
}

// FinishReason maps a provider stop reason onto the OpenAI vocabulary.
// Unknown reasons pass through unchanged.
func FinishReason(stopReason string) openai.FinishReason {
	switch stopReason {
	case anthropic.StopEndTurn, anthropic.StopStopSequence, anthropic.StopPauseTurn:
		return openai.FinishReasonStop
	case anthropic.StopMaxTokens:
		return openai.FinishReasonLength
	case anthropic.StopToolUse:
		return openai.FinishReasonToolCalls
	case anthropic.StopRefusal:
		return openai.FinishReasonContentFilter
	case "":
		return openai.FinishReasonNull
	default:
		return openai.FinishReason(stopReason)
	}
}

// ReconcileFinishReason applies the caller's tool-choice directive: when a
// tool call was forced and the provider stopped for tool use, or reported
// no stop reason at all, the finish reason is tool_calls. Any other stop
// reason, max_tokens in particular, keeps its own mapping.
func ReconcileFinishReason(stopReason string, choice *models.ToolChoice, hasToolCalls bool) openai.FinishReason {
	if choice.Forced() && hasToolCalls {
		switch stopReason {
		case anthropic.StopToolUse, "":
			return openai.FinishReasonToolCalls
		}
	}
	return FinishReason(stopReason)
}

// ConvertResponse maps a non-streaming provider message onto a chat
// completion. The provider returns a single candidate, so there is exactly
// one choice.
func ConvertResponse(resp *anthropic.MessageResponse, created int64, choice *models.ToolChoice) (*openai.ChatCompletionResponse, error) {
	var text strings.Builder
	var toolCalls []openai.ToolCall

	for _, block := range resp.Content {
		switch block.Type {
		case anthropic.BlockText:
			text.WriteString(block.Text)
		case anthropic.BlockToolUse:
			args, err := compactArguments(block.Input)
			if err != nil {
				return nil, fmt.Errorf("tool_use %s: %w", block.ID, err)
			}
			toolCalls = append(toolCalls, openai.ToolCall{
				ID:   block.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      block.Name,
					Arguments: args,
				},
			})
		}
	}

	role := resp.Role
	if role == "" {
		role = openai.ChatMessageRoleAssistant
	}

	return &openai.ChatCompletionResponse{
		ID:      CompletionID(resp.ID),
		Object:  objectChatCompletion,
		Created: created,
		Model:   resp.Model,
		Choices: []openai.ChatCompletionChoice{
			{
				Index: 0,
				Message: openai.ChatCompletionMessage{
					Role:      role,
					Content:   text.String(),
					ToolCalls: toolCalls,
				},
				FinishReason: ReconcileFinishReason(resp.StopReason, choice, len(toolCalls) > 0),
			},
		},
		Usage: convertUsage(resp.Usage),
	}, nil
}

func convertUsage(u anthropic.Usage) openai.Usage {
	return openai.Usage{
		PromptTokens:     u.InputTokens,
		CompletionTokens: u.OutputTokens,
		TotalTokens:      u.InputTokens + u.OutputTokens,
	}
}

func compactArguments(input json.RawMessage) (string, error) {
	if len(bytes.TrimSpace(input)) == 0 {
		return "{}", nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, input); err != nil {
		return "", fmt.Errorf("compact tool input: %w", err)
	}
	return buf.String(), nil
}
