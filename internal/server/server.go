package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	openai "github.com/sashabaranov/go-openai"

	"claude-bridge/internal/anthropic"
	"claude-bridge/internal/config"
	"claude-bridge/internal/models"
	"claude-bridge/internal/provider"
	"claude-bridge/internal/router"
)

const (
	maxBodyBytes        = 20 << 20 // 20 MiB, inline images are large
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	idleTimeout         = 120 * time.Second
	modelOwner          = "anthropic"
)

type Server struct {
	cfg     config.Config
	router  *router.Router
	app     *echo.Echo
	address string
	started int64
}

// New constructs an HTTP server wired with routing and middleware. When
// gatherer is nil the metrics endpoint is not registered.
func New(cfg config.Config, rt *router.Router, gatherer prometheus.Gatherer) (*Server, error) {
	if rt == nil {
		return nil, errors.New("router must not be nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = openAIErrorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency: true,
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"error", v.Error,
			)
			return nil
		},
	}))
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            31536000,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'; form-action 'none'",
	}))

	srv := &Server{
		cfg:     cfg,
		router:  rt,
		app:     e,
		address: fmt.Sprintf(":%d", cfg.Server.Port),
		started: time.Now().Unix(),
	}

	srv.registerRoutes()
	if gatherer != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	return srv, nil
}

// Handler exposes the routed echo instance.
func (s *Server) Handler() http.Handler {
	return s.app
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	printStartupBanner(s.cfg.Server.Port, s.cfg.Metrics.Path)
	slog.Info("starting server", "addr", s.address)

	// no write timeout: streamed completions may run for minutes
	httpServer := &http.Server{
		Addr:        s.address,
		Handler:     s.app,
		ReadTimeout: readTimeout,
		IdleTimeout: idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		slog.Info("server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	s.app.GET("/health", s.handleHealth)
	s.app.GET("/v1/models", s.handleListModels)
	s.app.GET("/v1/models/:id", s.handleGetModel)
	s.app.POST("/v1/chat/completions", s.handleChatCompletions)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListModels(c echo.Context) error {
	list := s.router.Models()
	out := openai.ModelsList{Models: make([]openai.Model, 0, len(list))}
	for _, info := range list {
		out.Models = append(out.Models, s.model(info))
	}
	return c.JSON(http.StatusOK, struct {
		Object string `json:"object"`
		openai.ModelsList
	}{Object: "list", ModelsList: out})
}

func (s *Server) handleGetModel(c echo.Context) error {
	info, err := s.router.Model(c.Param("id"))
	if err != nil {
		return requestError{
			Status:  http.StatusNotFound,
			Message: err.Error(),
			Type:    "invalid_request_error",
			Code:    "model_not_found",
		}
	}
	return c.JSON(http.StatusOK, s.model(info))
}

func (s *Server) model(info provider.ModelInfo) openai.Model {
	return openai.Model{
		ID:        info.ID,
		Object:    "model",
		CreatedAt: s.started,
		OwnedBy:   modelOwner,
	}
}

func (s *Server) handleChatCompletions(c echo.Context) error {
	var req models.ChatCompletionRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	result, err := s.router.Chat(ctx, req)
	if err != nil {
		return toHTTPError(err)
	}

	if result.Stream != nil {
		return writeChatStream(c, result.Stream)
	}
	if result.Response == nil {
		return requestError{
			Status:  http.StatusBadGateway,
			Message: "upstream provider returned an empty response",
			Type:    "upstream_error",
		}
	}
	return c.JSON(http.StatusOK, result.Response)
}

func decodeRequestBody[T any](c echo.Context, target *T) error {
	req := c.Request()
	defer req.Body.Close()

	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBodyBytes)

	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return requestError{
				Status:  http.StatusBadRequest,
				Message: "request body is required",
				Type:    "invalid_request_error",
			}
		}
		return requestError{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("invalid JSON payload: %v", err),
			Type:    "invalid_request_error",
		}
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "request body must contain a single JSON object",
			Type:    "invalid_request_error",
		}
	}
	return nil
}

type requestError struct {
	Status  int
	Message string
	Type    string
	Code    string
	Param   string
}

func (e requestError) Error() string {
	return e.Message
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    string `json:"code,omitempty"`
}

func newErrorBody(e requestError) errorBody {
	return errorBody{Error: errorDetail{
		Message: e.Message,
		Type:    e.Type,
		Param:   e.Param,
		Code:    e.Code,
	}}
}

func openAIErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var reqErr requestError
	if errors.As(err, &reqErr) {
		_ = c.JSON(reqErr.Status, newErrorBody(reqErr))
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		_ = c.JSON(he.Code, newErrorBody(requestError{
			Message: fmt.Sprint(he.Message),
			Type:    "invalid_request_error",
		}))
		return
	}

	_ = c.JSON(http.StatusInternalServerError, newErrorBody(requestError{
		Message: "internal server error",
		Type:    "server_error",
	}))
}

// toHTTPError maps pipeline errors onto OpenAI error bodies. Provider
// errors keep the provider's status and type.
func toHTTPError(err error) error {
	var reqErr requestError
	if errors.As(err, &reqErr) {
		return reqErr
	}

	var inputErr *provider.InputError
	if errors.As(err, &inputErr) {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: inputErr.Error(),
			Type:    "invalid_request_error",
			Param:   inputErr.Param,
		}
	}

	var cfgErr *provider.ConfigError
	if errors.As(err, &cfgErr) {
		return requestError{
			Status:  http.StatusInternalServerError,
			Message: cfgErr.Error(),
			Type:    "server_error",
		}
	}

	var apiErr *anthropic.APIError
	if errors.As(err, &apiErr) {
		status := apiErr.StatusCode
		if status == 0 {
			status = http.StatusBadGateway
		}
		return requestError{
			Status:  status,
			Message: apiErr.Message,
			Type:    apiErr.Type,
		}
	}

	if errors.Is(err, provider.ErrUnsupportedOperation) {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: err.Error(),
			Type:    "invalid_request_error",
		}
	}
	if errors.Is(err, context.Canceled) {
		return requestError{
			Status:  499,
			Message: "request cancelled",
			Type:    "request_cancelled",
		}
	}

	slog.Error("upstream provider error", "err", err)
	return requestError{
		Status:  http.StatusBadGateway,
		Message: "upstream provider error",
		Type:    "upstream_error",
	}
}

func printStartupBanner(port int, metricsPath string) {
	host := "127.0.0.1"
	fmt.Println()
	fmt.Println("claude-bridge ready")
	fmt.Printf("Listening on http://%s:%d\n", host, port)
	fmt.Println("Endpoints:")
	fmt.Println("  GET  /health")
	fmt.Println("  GET  /v1/models")
	fmt.Println("  POST /v1/chat/completions")
	fmt.Printf("  GET  %s\n", metricsPath)
	fmt.Printf("OpenAI-style example:\n  curl http://%s:%d/v1/chat/completions -H 'Content-Type: application/json' -d '{\"model\":\"claude-3-5-sonnet-20241022\",\"messages\":[{\"role\":\"user\",\"content\":\"hello\"}]}'\n\n", host, port)
}
