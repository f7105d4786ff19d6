package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"claude-bridge/internal/provider"
)

const sseDone = "[DONE]"

// writeChatStream relays chunks as SSE data lines and ends with [DONE]. An
// error after the headers are sent is written as a final error payload.
func writeChatStream(c echo.Context, stream *provider.ChatStream) error {
	defer func() {
		if err := stream.Close(); err != nil {
			slog.Debug("close provider stream", "err", err)
		}
	}()

	writer := c.Response().Writer
	flusher, ok := writer.(http.Flusher)
	if !ok {
		slog.Error("http writer does not support flushing")
		return requestError{
			Status:  http.StatusInternalServerError,
			Message: "server does not support streaming responses",
			Type:    "server_error",
		}
	}

	header := c.Response().Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")

	c.Response().WriteHeader(http.StatusOK)

	for chunk, err := range stream.Chunks() {
		if err != nil {
			if c.Request().Context().Err() != nil {
				return nil
			}
			slog.Warn("provider stream failed", "err", err)
			var reqErr requestError
			if !errors.As(toHTTPError(err), &reqErr) {
				return err
			}
			if werr := writeSSEData(c.Response(), newErrorBody(reqErr)); werr != nil {
				return werr
			}
			flusher.Flush()
			return nil
		}

		if err := writeSSEData(c.Response(), chunk); err != nil {
			slog.Error("failed to write SSE chunk", "err", err)
			return err
		}
		flusher.Flush()
	}

	if _, err := fmt.Fprintf(c.Response(), "data: %s\n\n", sseDone); err != nil {
		return fmt.Errorf("write SSE terminator: %w", err)
	}
	flusher.Flush()
	return nil
}

func writeSSEData(w io.Writer, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal SSE payload: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write SSE data: %w", err)
	}
	return nil
}
