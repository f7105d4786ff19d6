package translator

import (
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"claude-bridge/internal/anthropic"
	"claude-bridge/internal/models"
)

// ConvertTools maps function tool declarations to provider tools.
func ConvertTools(tools []openai.Tool) ([]anthropic.Tool, error) {
	if len(tools) == 0 {
		return nil, nil
	}

	out := make([]anthropic.Tool, 0, len(tools))
	for i, tool := range tools {
		if tool.Type != openai.ToolTypeFunction || tool.Function == nil {
			return nil, fmt.Errorf("%w: tools[%d] must be a function tool", ErrInvalidInput, i)
		}
		if strings.TrimSpace(tool.Function.Name) == "" {
			return nil, fmt.Errorf("%w: tools[%d] function name is required", ErrInvalidInput, i)
		}

		schema, err := inputSchema(tool.Function.Parameters)
		if err != nil {
			return nil, fmt.Errorf("tools[%d]: %w", i, err)
		}

		out = append(out, anthropic.Tool{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			InputSchema: schema,
		})
	}
	return out, nil
}

func inputSchema(params any) (json.RawMessage, error) {
	if params == nil {
		return anthropic.DefaultInputSchema, nil
	}

	var schema json.RawMessage
	switch p := params.(type) {
	case json.RawMessage:
		schema = p
	case []byte:
		schema = p
	default:
		encoded, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("%w: encode parameters: %v", ErrInvalidInput, err)
		}
		schema = encoded
	}

	if string(schema) == "null" {
		return anthropic.DefaultInputSchema, nil
	}
	if err := anthropic.ValidateInputSchema(schema); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return schema, nil
}

// ConvertToolChoice maps the tool-choice directive. A nil choice stays nil
// unless parallel tool calls were explicitly disabled, which the provider
// expresses on the choice itself.
func ConvertToolChoice(choice *models.ToolChoice, parallel *bool) *anthropic.ToolChoice {
	var out *anthropic.ToolChoice

	switch {
	case choice == nil:
	case choice.Function != "":
		out = &anthropic.ToolChoice{Type: anthropic.ToolChoiceTool, Name: choice.Function}
	case choice.Mode == models.ToolChoiceRequired:
		out = &anthropic.ToolChoice{Type: anthropic.ToolChoiceAny}
	case choice.Mode == models.ToolChoiceNone:
		out = &anthropic.ToolChoice{Type: anthropic.ToolChoiceNone}
	default:
		out = &anthropic.ToolChoice{Type: anthropic.ToolChoiceAuto}
	}

	if parallel != nil && !*parallel {
		if out == nil {
			out = &anthropic.ToolChoice{Type: anthropic.ToolChoiceAuto}
		}
		if out.Type != anthropic.ToolChoiceNone {
			disable := true
			out.DisableParallelToolUse = &disable
		}
	}
	return out
}
