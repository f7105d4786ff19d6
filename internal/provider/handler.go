// Package provider serves OpenAI-compatible chat completions from the
// Anthropic Messages API: it validates the request, maps its parameters,
// dispatches to the vendor client and adapts the result.
package provider

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"claude-bridge/internal/anthropic"
	"claude-bridge/internal/config"
	"claude-bridge/internal/metrics"
	"claude-bridge/internal/models"
	"claude-bridge/internal/translator"
)

// MessagesClient is the vendor client the handler dispatches to.
type MessagesClient interface {
	CreateMessage(ctx context.Context, req *anthropic.MessageRequest) (*anthropic.MessageResponse, error)
	CreateMessageStream(ctx context.Context, req *anthropic.MessageRequest) (*anthropic.Stream, error)
}

// Handler turns one chat completion request into one provider call.
type Handler struct {
	client  MessagesClient
	catalog *Catalog
	images  translator.ImageResolver
	logger  *slog.Logger
	metrics *metrics.Recorder
	now     func() time.Time
}

// Option customises a Handler.
type Option func(*Handler)

// WithLogger sets the sink for advisory warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMetrics records request metrics on rec.
func WithMetrics(rec *metrics.Recorder) Option {
	return func(h *Handler) {
		h.metrics = rec
	}
}

// WithClock replaces time.Now for creation timestamps.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// WithImageResolver sets how image_url parts are turned into image blocks.
func WithImageResolver(images translator.ImageResolver) Option {
	return func(h *Handler) {
		h.images = images
	}
}

// NewHandler constructs a handler. A nil catalog behaves as an empty one.
func NewHandler(client MessagesClient, catalog *Catalog, opts ...Option) (*Handler, error) {
	if client == nil {
		return nil, errors.New("messages client must not be nil")
	}
	if catalog == nil {
		catalog = NewCatalog()
	}

	h := &Handler{
		client:  client,
		catalog: catalog,
		images:  translator.NewImageFetcher(nil, config.DefaultImageMaxBytes),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Result holds exactly one of Response or Stream.
type Result struct {
	Response *openai.ChatCompletionResponse
	Stream   *ChatStream
}

// Handle validates, maps and dispatches req. Streaming is selected only when
// req.Stream is true. Errors from the provider are returned unmodified.
func (h *Handler) Handle(ctx context.Context, req *models.ChatCompletionRequest) (*Result, error) {
	mode := metrics.ModeComplete
	if req.Streaming() {
		mode = metrics.ModeStream
	}
	label := h.metricsModel(req.Model)

	params, err := h.prepare(ctx, req)
	if err != nil {
		h.metrics.ObserveRequest(label, mode, outcome(err))
		return nil, err
	}

	if req.Streaming() {
		return h.stream(ctx, req, params, label)
	}

	created := h.now().Unix()
	start := time.Now()
	resp, err := h.client.CreateMessage(ctx, params)
	h.metrics.ObserveLatency(label, mode, time.Since(start))
	if err != nil {
		h.metrics.ObserveRequest(label, mode, metrics.OutcomeProviderError)
		return nil, err
	}

	out, err := translator.ConvertResponse(resp, created, req.ToolChoice)
	if err != nil {
		h.metrics.ObserveRequest(label, mode, metrics.OutcomeProviderError)
		return nil, err
	}
	h.metrics.AddTokens(label, resp.Usage.InputTokens, resp.Usage.OutputTokens)
	h.metrics.ObserveRequest(label, mode, metrics.OutcomeOK)
	return &Result{Response: out}, nil
}

// stream opens the provider stream. The request outcome is recorded by the
// returned ChatStream once iteration ends.
func (h *Handler) stream(ctx context.Context, req *models.ChatCompletionRequest, params *anthropic.MessageRequest, label string) (*Result, error) {
	params.Stream = true

	created := h.now().Unix()
	start := time.Now()
	source, err := h.client.CreateMessageStream(ctx, params)
	h.metrics.ObserveLatency(label, metrics.ModeStream, time.Since(start))
	if err != nil {
		h.metrics.ObserveRequest(label, metrics.ModeStream, metrics.OutcomeProviderError)
		return nil, err
	}

	chunks := translator.ConvertStream(source.Events(), translator.StreamOptions{
		Created:      created,
		Model:        req.Model,
		ToolChoice:   req.ToolChoice,
		IncludeUsage: req.IncludeUsage(),
	})
	return &Result{Stream: &ChatStream{
		Created: created,
		source:  source,
		chunks:  chunks,
		model:   label,
		metrics: h.metrics,
	}}, nil
}

// metricsModel maps a model name onto its catalog id, or OtherModel when the
// catalog does not know it.
func (h *Handler) metricsModel(name string) string {
	if info, ok := h.catalog.Lookup(name); ok {
		return info.ID
	}
	return metrics.OtherModel
}

// Translate returns the provider request Handle would send for req, without
// calling the provider.
func (h *Handler) Translate(ctx context.Context, req *models.ChatCompletionRequest) (*anthropic.MessageRequest, error) {
	params, err := h.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	params.Stream = req.Streaming()
	return params, nil
}

func (h *Handler) prepare(ctx context.Context, req *models.ChatCompletionRequest) (*anthropic.MessageRequest, error) {
	if err := h.validateInput(req); err != nil {
		return nil, err
	}
	return h.mapParams(ctx, req)
}

func outcome(err error) string {
	var inputErr *InputError
	if errors.As(err, &inputErr) {
		return metrics.OutcomeInputError
	}
	return metrics.OutcomeProviderError
}

// ChatStream is a lazy, forward-only sequence of completion chunks. The
// caller must Close it, whether or not the chunks were consumed.
type ChatStream struct {
	// Created is shared by every chunk.
	Created int64

	source  *anthropic.Stream
	chunks  iter.Seq2[openai.ChatCompletionStreamResponse, error]
	model   string
	metrics *metrics.Recorder
	done    sync.Once
}

// Chunks yields converted chunks as provider events arrive. It can be
// ranged over once.
func (s *ChatStream) Chunks() iter.Seq2[openai.ChatCompletionStreamResponse, error] {
	return func(yield func(openai.ChatCompletionStreamResponse, error) bool) {
		for chunk, err := range s.chunks {
			if err != nil {
				s.finish(metrics.OutcomeProviderError)
				yield(chunk, err)
				return
			}
			s.metrics.StreamChunk(s.model)
			if chunk.Usage != nil {
				s.metrics.AddTokens(s.model, chunk.Usage.PromptTokens, chunk.Usage.CompletionTokens)
			}
			if !yield(chunk, nil) {
				s.finish(metrics.OutcomeCancelled)
				return
			}
		}
		s.finish(metrics.OutcomeOK)
	}
}

// Close releases the provider connection. A stream closed before it was
// fully read counts as cancelled.
func (s *ChatStream) Close() error {
	s.finish(metrics.OutcomeCancelled)
	return s.source.Close()
}

func (s *ChatStream) finish(outcome string) {
	s.done.Do(func() {
		s.metrics.ObserveRequest(s.model, metrics.ModeStream, outcome)
	})
}
