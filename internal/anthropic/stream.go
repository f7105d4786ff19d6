package anthropic

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"sync"
)

const maxEventBytes = 4 << 20

// ErrStreamConsumed is returned when Events is iterated a second time.
var ErrStreamConsumed = errors.New("anthropic stream already consumed")

// Stream decodes server-sent events from a Messages API response body. It is
// forward-only and not restartable.
type Stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner

	mu       sync.Mutex
	consumed bool
	closed   bool
}

// NewStream wraps an SSE body.
func NewStream(body io.ReadCloser) *Stream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventBytes)
	return &Stream{
		body:    body,
		scanner: scanner,
	}
}

// Events yields decoded events in arrival order. The sequence ends after
// message_stop, at end of body, or after the first error. An error event
// from the API is yielded as *APIError.
func (s *Stream) Events() iter.Seq2[StreamEvent, error] {
	return func(yield func(StreamEvent, error) bool) {
		s.mu.Lock()
		if s.consumed {
			s.mu.Unlock()
			yield(StreamEvent{}, ErrStreamConsumed)
			return
		}
		s.consumed = true
		s.mu.Unlock()

		for {
			event, err := s.readEvent()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(StreamEvent{}, err)
				return
			}

			if event.Type == EventError {
				detail := ErrorDetail{Type: "api_error", Message: "stream error"}
				if event.Error != nil {
					detail = *event.Error
				}
				yield(StreamEvent{}, &APIError{Type: detail.Type, Message: detail.Message})
				return
			}

			if !yield(event, nil) {
				return
			}
			if event.Type == EventMessageStop {
				return
			}
		}
	}
}

// Close releases the underlying body. It is safe to call more than once.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}

// readEvent reads one complete SSE event, skipping comment lines and
// events without data.
func (s *Stream) readEvent() (StreamEvent, error) {
	for {
		var eventType string
		var dataLines []string
		sawField := false

		for s.scanner.Scan() {
			line := s.scanner.Text()
			if line == "" {
				if sawField {
					break
				}
				continue
			}
			if strings.HasPrefix(line, ":") {
				continue
			}

			field, value, _ := strings.Cut(line, ":")
			value = strings.TrimPrefix(value, " ")
			switch field {
			case "event":
				eventType = value
				sawField = true
			case "data":
				dataLines = append(dataLines, value)
				sawField = true
			}
		}

		if err := s.scanner.Err(); err != nil {
			return StreamEvent{}, fmt.Errorf("read event stream: %w", err)
		}
		if !sawField {
			return StreamEvent{}, io.EOF
		}
		if len(dataLines) == 0 {
			continue
		}

		var event StreamEvent
		data := strings.Join(dataLines, "\n")
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return StreamEvent{}, fmt.Errorf("decode stream event %q: %w", eventType, err)
		}
		if event.Type == "" {
			event.Type = eventType
		}
		return event, nil
	}
}
