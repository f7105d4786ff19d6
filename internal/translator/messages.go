// Package translator converts between the OpenAI-compatible chat schema and
// the Anthropic Messages API schema. The functions here are pure apart from
// image resolution, which may perform I/O through an ImageResolver.
package translator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"claude-bridge/internal/anthropic"
)

// ErrInvalidInput marks conversion failures the caller has to fix.
var ErrInvalidInput = errors.New("invalid input")

const (
	roleDeveloper = "developer"
	roleUser      = "user"
	roleAssistant = "assistant"
)

// ImageResolver turns an image_url reference into a provider image source.
type ImageResolver interface {
	Resolve(ctx context.Context, url string) (*anthropic.ImageSource, error)
}

// ConvertMessages maps the chat history onto provider turns and returns the
// system prompt separately. System and developer messages are joined with a
// newline; every other message keeps its relative order. Adjacent turns with
// the same provider role are merged.
func ConvertMessages(ctx context.Context, msgs []openai.ChatCompletionMessage, images ImageResolver) ([]anthropic.Message, string, error) {
	var system []string
	out := make([]anthropic.Message, 0, len(msgs))

	for i, msg := range msgs {
		var (
			turn anthropic.Message
			err  error
		)

		switch msg.Role {
		case openai.ChatMessageRoleSystem, roleDeveloper:
			text, err := plainText(msg)
			if err != nil {
				return nil, "", fmt.Errorf("messages[%d]: %w", i, err)
			}
			if text != "" {
				system = append(system, text)
			}
			continue
		case openai.ChatMessageRoleUser:
			turn, err = userTurn(ctx, msg, images)
		case openai.ChatMessageRoleAssistant:
			turn, err = assistantTurn(msg)
		case openai.ChatMessageRoleTool:
			turn, err = toolResultTurn(ctx, msg, images)
		default:
			err = fmt.Errorf("%w: unsupported role %q", ErrInvalidInput, msg.Role)
		}
		if err != nil {
			return nil, "", fmt.Errorf("messages[%d]: %w", i, err)
		}

		out = appendTurn(out, turn)
	}

	return out, strings.Join(system, "\n"), nil
}

func appendTurn(turns []anthropic.Message, turn anthropic.Message) []anthropic.Message {
	if len(turns) == 0 || turns[len(turns)-1].Role != turn.Role {
		return append(turns, turn)
	}
	last := &turns[len(turns)-1]
	blocks := append(append([]anthropic.ContentBlock{}, last.Content.AsBlocks()...), turn.Content.AsBlocks()...)
	last.Content = anthropic.BlockContent(blocks...)
	return turns
}

func plainText(msg openai.ChatCompletionMessage) (string, error) {
	if msg.MultiContent == nil {
		return msg.Content, nil
	}
	parts := make([]string, 0, len(msg.MultiContent))
	for _, part := range msg.MultiContent {
		if part.Type != openai.ChatMessagePartTypeText {
			return "", fmt.Errorf("%w: %s messages only accept text parts, got %q", ErrInvalidInput, msg.Role, part.Type)
		}
		parts = append(parts, part.Text)
	}
	return strings.Join(parts, "\n"), nil
}

func userTurn(ctx context.Context, msg openai.ChatCompletionMessage, images ImageResolver) (anthropic.Message, error) {
	content, err := partsContent(ctx, msg, images)
	if err != nil {
		return anthropic.Message{}, err
	}
	return anthropic.Message{Role: roleUser, Content: content}, nil
}

// partsContent keeps plain string content as a string and converts
// multi-part content block by block.
func partsContent(ctx context.Context, msg openai.ChatCompletionMessage, images ImageResolver) (anthropic.Content, error) {
	if msg.MultiContent == nil {
		return anthropic.TextContent(msg.Content), nil
	}

	blocks := make([]anthropic.ContentBlock, 0, len(msg.MultiContent))
	for j, part := range msg.MultiContent {
		switch part.Type {
		case openai.ChatMessagePartTypeText:
			blocks = append(blocks, anthropic.ContentBlock{Type: anthropic.BlockText, Text: part.Text})
		case openai.ChatMessagePartTypeImageURL:
			if part.ImageURL == nil || part.ImageURL.URL == "" {
				return anthropic.Content{}, fmt.Errorf("%w: content[%d] image_url is empty", ErrInvalidInput, j)
			}
			if images == nil {
				return anthropic.Content{}, fmt.Errorf("%w: content[%d] images are not accepted", ErrInvalidInput, j)
			}
			source, err := images.Resolve(ctx, part.ImageURL.URL)
			if err != nil {
				return anthropic.Content{}, fmt.Errorf("content[%d]: %w", j, err)
			}
			blocks = append(blocks, anthropic.ContentBlock{Type: anthropic.BlockImage, Source: source})
		default:
			return anthropic.Content{}, fmt.Errorf("%w: content[%d] unsupported part type %q", ErrInvalidInput, j, part.Type)
		}
	}
	return anthropic.BlockContent(blocks...), nil
}

func assistantTurn(msg openai.ChatCompletionMessage) (anthropic.Message, error) {
	text, err := plainText(msg)
	if err != nil {
		return anthropic.Message{}, err
	}
	if len(msg.ToolCalls) == 0 {
		return anthropic.Message{Role: roleAssistant, Content: anthropic.TextContent(text)}, nil
	}

	blocks := make([]anthropic.ContentBlock, 0, len(msg.ToolCalls)+1)
	if text != "" {
		blocks = append(blocks, anthropic.ContentBlock{Type: anthropic.BlockText, Text: text})
	}
	for j, call := range msg.ToolCalls {
		input, err := toolInput(call.Function.Arguments)
		if err != nil {
			return anthropic.Message{}, fmt.Errorf("tool_calls[%d]: %w", j, err)
		}
		blocks = append(blocks, anthropic.ContentBlock{
			Type:  anthropic.BlockToolUse,
			ID:    call.ID,
			Name:  call.Function.Name,
			Input: input,
		})
	}
	return anthropic.Message{Role: roleAssistant, Content: anthropic.BlockContent(blocks...)}, nil
}

func toolInput(arguments string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(arguments)
	if trimmed == "" {
		return json.RawMessage(`{}`), nil
	}
	if !json.Valid([]byte(trimmed)) || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: function arguments must be a JSON object", ErrInvalidInput)
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, []byte(trimmed)); err != nil {
		return nil, fmt.Errorf("%w: function arguments: %v", ErrInvalidInput, err)
	}
	return compact.Bytes(), nil
}

func toolResultTurn(ctx context.Context, msg openai.ChatCompletionMessage, images ImageResolver) (anthropic.Message, error) {
	if strings.TrimSpace(msg.ToolCallID) == "" {
		return anthropic.Message{}, fmt.Errorf("%w: tool message requires tool_call_id", ErrInvalidInput)
	}
	content, err := partsContent(ctx, msg, images)
	if err != nil {
		return anthropic.Message{}, err
	}
	block := anthropic.ContentBlock{
		Type:      anthropic.BlockToolResult,
		ToolUseID: msg.ToolCallID,
		Content:   &content,
	}
	return anthropic.Message{Role: roleUser, Content: anthropic.BlockContent(block)}, nil
}
