package translator

import (
	"encoding/json"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"claude-bridge/internal/anthropic"
	"claude-bridge/internal/models"
)

func TestConvertTools(t *testing.T) {
	tools, err := ConvertTools([]openai.Tool{
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        "get_weather",
				Description: "Current weather",
				Parameters: map[string]any{
					"type":       "object",
					"properties": map[string]any{"city": map[string]any{"type": "string"}},
				},
			},
		},
		{
			Type:     openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{Name: "now", Parameters: json.RawMessage(`{"type":"object"}`)},
		},
		{
			Type:     openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{Name: "ping"},
		},
	})
	require.NoError(t, err)
	require.Len(t, tools, 3)

	assert.Equal(t, "get_weather", tools[0].Name)
	assert.Equal(t, "Current weather", tools[0].Description)
	assert.JSONEq(t, `{"type":"object","properties":{"city":{"type":"string"}}}`, string(tools[0].InputSchema))
	assert.JSONEq(t, `{"type":"object"}`, string(tools[1].InputSchema))
	assert.JSONEq(t, string(anthropic.DefaultInputSchema), string(tools[2].InputSchema))
}

func TestConvertToolsRejects(t *testing.T) {
	_, err := ConvertTools([]openai.Tool{{Type: "retrieval"}})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = ConvertTools([]openai.Tool{{Type: openai.ToolTypeFunction, Function: &openai.FunctionDefinition{}}})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = ConvertTools([]openai.Tool{{
		Type:     openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{Name: "f", Parameters: []string{"not", "an", "object"}},
	}})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestConvertToolsEmpty(t *testing.T) {
	tools, err := ConvertTools(nil)
	require.NoError(t, err)
	assert.Nil(t, tools)
}

func TestConvertToolChoice(t *testing.T) {
	off := false
	on := true
	disabled := true

	tests := []struct {
		name     string
		choice   *models.ToolChoice
		parallel *bool
		want     *anthropic.ToolChoice
	}{
		{name: "absent", want: nil},
		{name: "auto", choice: &models.ToolChoice{Mode: models.ToolChoiceAuto}, want: &anthropic.ToolChoice{Type: anthropic.ToolChoiceAuto}},
		{name: "none", choice: &models.ToolChoice{Mode: models.ToolChoiceNone}, want: &anthropic.ToolChoice{Type: anthropic.ToolChoiceNone}},
		{name: "required", choice: &models.ToolChoice{Mode: models.ToolChoiceRequired}, want: &anthropic.ToolChoice{Type: anthropic.ToolChoiceAny}},
		{
			name:   "named",
			choice: &models.ToolChoice{Function: "get_weather"},
			want:   &anthropic.ToolChoice{Type: anthropic.ToolChoiceTool, Name: "get_weather"},
		},
		{
			name:     "parallel disabled without choice",
			parallel: &off,
			want:     &anthropic.ToolChoice{Type: anthropic.ToolChoiceAuto, DisableParallelToolUse: &disabled},
		},
		{
			name:     "parallel disabled with required",
			choice:   &models.ToolChoice{Mode: models.ToolChoiceRequired},
			parallel: &off,
			want:     &anthropic.ToolChoice{Type: anthropic.ToolChoiceAny, DisableParallelToolUse: &disabled},
		},
		{
			name:     "parallel disabled with none",
			choice:   &models.ToolChoice{Mode: models.ToolChoiceNone},
			parallel: &off,
			want:     &anthropic.ToolChoice{Type: anthropic.ToolChoiceNone},
		},
		{name: "parallel enabled", parallel: &on, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ConvertToolChoice(tt.choice, tt.parallel))
		})
	}
}
