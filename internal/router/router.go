package router

import (
	"context"
	"errors"

	"claude-bridge/internal/anthropic"
	"claude-bridge/internal/models"
	"claude-bridge/internal/provider"
)

// Router resolves model aliases and hands requests to the handler.
type Router struct {
	catalog *provider.Catalog
	handler *provider.Handler
}

// New constructs a router backed by the provided catalog and handler.
func New(catalog *provider.Catalog, handler *provider.Handler) (*Router, error) {
	if catalog == nil {
		return nil, errors.New("catalog must not be nil")
	}
	if handler == nil {
		return nil, errors.New("handler must not be nil")
	}
	return &Router{
		catalog: catalog,
		handler: handler,
	}, nil
}

// Chat routes a chat completion request. The request is copied, never
// modified in place.
func (r *Router) Chat(ctx context.Context, req models.ChatCompletionRequest) (*provider.Result, error) {
	resolved := r.resolve(req)
	return r.handler.Handle(ctx, &resolved)
}

// Translate returns the provider request for req without dispatching it.
func (r *Router) Translate(ctx context.Context, req models.ChatCompletionRequest) (*anthropic.MessageRequest, error) {
	resolved := r.resolve(req)
	return r.handler.Translate(ctx, &resolved)
}

// Models lists the catalog.
func (r *Router) Models() []provider.ModelInfo {
	return r.catalog.List()
}

// Model returns one catalog entry by id or alias.
func (r *Router) Model(name string) (provider.ModelInfo, error) {
	return r.catalog.Model(name)
}

func (r *Router) resolve(req models.ChatCompletionRequest) models.ChatCompletionRequest {
	sanitisedReq := req
	sanitisedReq.Model = r.catalog.Resolve(req.Model)
	return sanitisedReq
}
