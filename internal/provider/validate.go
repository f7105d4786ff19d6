package provider

import (
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"claude-bridge/internal/models"
)

// legacyNoImageModels never accept image input, whatever the catalog says.
var legacyNoImageModels = map[string]struct{}{
	"claude-instant-1.2": {},
	"claude-2.0":         {},
	"claude-2.1":         {},
}

// supportsImages reports whether model may receive image parts.
func (h *Handler) supportsImages(model string) bool {
	if _, legacy := legacyNoImageModels[model]; legacy {
		return false
	}
	if info, ok := h.catalog.Lookup(model); ok {
		return info.Vision
	}
	return true
}

// validateInput rejects images sent to models that cannot read them and
// warns once when any image carries a detail hint the provider ignores.
// Model names and feature flags are otherwise accepted as given.
func (h *Handler) validateInput(req *models.ChatCompletionRequest) error {
	images := h.supportsImages(req.Model)
	ignoredDetail := false

	for i, msg := range req.Messages {
		for j, part := range msg.MultiContent {
			if part.Type != openai.ChatMessagePartTypeImageURL {
				continue
			}
			if !images {
				h.metrics.InputRejected("image_unsupported")
				return &InputError{
					Param: fmt.Sprintf("messages[%d].content[%d]", i, j),
					Message: fmt.Sprintf(
						"model %s does not support image input; remove images or upgrade model version",
						req.Model,
					),
				}
			}
			if part.ImageURL != nil && part.ImageURL.Detail != "" && part.ImageURL.Detail != openai.ImageURLDetailAuto {
				ignoredDetail = true
			}
		}
	}

	if ignoredDetail {
		h.logger.Warn("image detail is not supported by the provider; using default quality",
			"model", req.Model,
		)
		h.metrics.DetailIgnored()
	}
	return nil
}
