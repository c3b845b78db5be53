// Package httpapi exposes the assistant over HTTP.
//
// Routes:
//   - POST   /api/v1/turns          process a turn of a session
//   - POST   /api/v1/classify       classify an utterance without side effects
//   - GET    /api/v1/sessions/:id   conversation state
//   - DELETE /api/v1/sessions/:id   end a session
//   - GET    /api/v1/patterns       most frequent learned patterns
//   - GET    /health                liveness plus dependency checks
//   - GET    /metrics               Prometheus exposition
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/transitd/internal/assistant"
	"github.com/fyrsmithlabs/transitd/internal/config"
	"github.com/fyrsmithlabs/transitd/internal/logging"
	"github.com/fyrsmithlabs/transitd/internal/session"
)

const (
	defaultPatternLimit = 20
	maxPatternLimit     = 1000
	maxBodySize         = "64K"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Server provides the HTTP endpoints.
type Server struct {
	echo    *echo.Echo
	engine  *assistant.Engine
	checks  map[string]HealthCheck
	version string
	logger  *zap.Logger
	config  config.ServerConfig
}

// Option configures a Server.
type Option func(*Server)

// WithHealthCheck adds a named dependency probe to GET /health.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) { s.checks[name] = check }
}

// WithVersion sets the version reported by GET /health.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// NewServer creates a server for engine.
func NewServer(engine *assistant.Engine, logger *zap.Logger, cfg config.ServerConfig, opts ...Option) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:   e,
		engine: engine,
		checks: make(map[string]HealthCheck),
		logger: logger,
		config: cfg,
	}
	for _, opt := range opts {
		opt(s)
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(maxBodySize))
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(s.requestContext)

	s.registerRoutes()
	return s, nil
}

// requestContext carries the request id into the request context and logs
// every request.
func (s *Server) requestContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		requestID := c.Response().Header().Get(echo.HeaderXRequestID)
		if logging.ValidateID(requestID, "request ID") == nil {
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), requestID)))
		}

		err := next(c)
		if err != nil {
			c.Error(err)
		}

		s.logger.Info("http request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", requestID),
		)
		return nil
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/turns", s.handleTurn)
	v1.POST("/classify", s.handleClassify)
	v1.GET("/sessions/:id", s.handleGetSession)
	v1.DELETE("/sessions/:id", s.handleEndSession)
	v1.GET("/patterns", s.handlePatterns)
}

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok", Version: s.version}
	if len(s.checks) > 0 {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()

		resp.Checks = make(map[string]string, len(s.checks))
		names := make([]string, 0, len(s.checks))
		for name := range s.checks {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if err := s.checks[name](ctx); err != nil {
				resp.Status = "degraded"
				resp.Checks[name] = err.Error()
				continue
			}
			resp.Checks[name] = "ok"
		}
	}
	code := http.StatusOK
	if resp.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, resp)
}

func (s *Server) handleTurn(c echo.Context) error {
	var req TurnRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid turn request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.SessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id field is required")
	}
	if req.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text field is required")
	}

	out, err := s.engine.HandleTurn(c.Request().Context(), assistant.Turn{
		SessionID:  req.SessionID,
		Text:       req.Text,
		Seq:        req.Seq,
		ReceivedAt: time.Now(),
	})
	if err != nil {
		return s.engineError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleClassify(c echo.Context) error {
	var req ClassifyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text field is required")
	}

	ctx := c.Request().Context()
	var conv *session.State
	if req.SessionID != "" {
		st, err := s.engine.Session(ctx, req.SessionID)
		if err != nil {
			return s.engineError(c, err)
		}
		conv = st
	}
	return c.JSON(http.StatusOK, s.engine.Classifier().Classify(ctx, req.Text, conv))
}

func (s *Server) handleGetSession(c echo.Context) error {
	st, err := s.engine.Session(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.engineError(c, err)
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) handleEndSession(c echo.Context) error {
	if err := s.engine.EndSession(c.Request().Context(), c.Param("id")); err != nil {
		return s.engineError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handlePatterns(c echo.Context) error {
	limit := defaultPatternLimit
	if raw := c.QueryParam("limit"); raw != "" {
		if err := echo.QueryParamsBinder(c).Int("limit", &limit).BindError(); err != nil || limit < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
	}
	if limit > maxPatternLimit {
		limit = maxPatternLimit
	}
	store := s.engine.Learner().Store()
	return c.JSON(http.StatusOK, PatternsResponse{
		Patterns: store.Top(limit),
		Total:    store.Len(),
	})
}

// engineError maps engine errors to HTTP errors.
func (s *Server) engineError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, session.ErrInvalidSessionID):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrStoreUnavailable), errors.Is(err, assistant.ErrEngineClosed):
		s.logger.Warn("assistant unavailable",
			append(logging.ContextFields(c.Request().Context()), zap.Error(err))...)
		return echo.NewHTTPError(http.StatusServiceUnavailable, "assistant temporarily unavailable")
	default:
		s.logger.Error("turn failed",
			append(logging.ContextFields(c.Request().Context()), zap.Error(err))...)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo { return s.echo }

// Start serves until ctx is cancelled, then shuts down within the
// configured timeout. It returns http.ErrServerClosed after a graceful
// shutdown.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout.Duration())
		defer cancel()

		s.logger.Info("shutting down http server")
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return http.ErrServerClosed
	}
}
