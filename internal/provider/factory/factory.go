package factory

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"claude-bridge/internal/anthropic"
	"claude-bridge/internal/config"
	"claude-bridge/internal/metrics"
	"claude-bridge/internal/provider"
	"claude-bridge/internal/translator"
)

const (
	defaultDialTimeout     = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
)

// Components is the wired completion pipeline.
type Components struct {
	Catalog *provider.Catalog
	Handler *provider.Handler
}

// Build resolves the API key, then wires the vendor client, catalog and
// handler from configuration. A missing key fails here, before any network
// call.
func Build(cfg config.Config, lookupEnv func(string) (string, bool), rec *metrics.Recorder, logger *slog.Logger) (*Components, error) {
	apiKey, err := provider.ResolveAPIKey(cfg.Anthropic.APIKey, lookupEnv)
	if err != nil {
		return nil, err
	}

	client, err := anthropic.New(cfg.Anthropic, apiKey, newHTTPClient(cfg.Anthropic.Timeout))
	if err != nil {
		return nil, &provider.ConfigError{Field: "anthropic", Message: err.Error()}
	}
	return build(cfg, client, rec, logger)
}

// BuildOffline wires a pipeline whose client refuses every call. It serves
// request translation without credentials.
func BuildOffline(cfg config.Config, logger *slog.Logger) (*Components, error) {
	return build(cfg, offlineClient{}, nil, logger)
}

func build(cfg config.Config, client provider.MessagesClient, rec *metrics.Recorder, logger *slog.Logger) (*Components, error) {
	catalog, err := provider.NewCatalogFromConfig(cfg)
	if err != nil {
		return nil, &provider.ConfigError{Field: "models", Message: err.Error()}
	}

	images := newImageFetcher(cfg.Images)

	handler, err := provider.NewHandler(client, catalog,
		provider.WithLogger(logger),
		provider.WithMetrics(rec),
		provider.WithImageResolver(images),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise handler: %w", err)
	}

	return &Components{Catalog: catalog, Handler: handler}, nil
}

// newImageFetcher guards remote image downloads. Private networks are only
// reachable when the configuration opts in.
func newImageFetcher(cfg config.ImagesConfig) *translator.ImageFetcher {
	client := translator.NewImageHTTPClient(cfg.FetchTimeout)
	if cfg.AllowPrivateNetworks {
		client = newHTTPClient(cfg.FetchTimeout)
	}
	return translator.NewImageFetcher(client, cfg.MaxBytes,
		translator.WithRemoteFetch(cfg.RemoteAllowed()),
		translator.WithAllowedHosts(cfg.AllowedHosts),
	)
}

type offlineClient struct{}

func (offlineClient) CreateMessage(context.Context, *anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	return nil, fmt.Errorf("%w: no provider client configured", provider.ErrUnsupportedOperation)
}

func (offlineClient) CreateMessageStream(context.Context, *anthropic.MessageRequest) (*anthropic.Stream, error) {
	return nil, fmt.Errorf("%w: no provider client configured", provider.ErrUnsupportedOperation)
}

func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
