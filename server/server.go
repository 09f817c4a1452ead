// Package server exposes the pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"mindpulse/aggregate"
	"mindpulse/models"
	"mindpulse/pipeline"
	"mindpulse/store"
)

// Service operations served over HTTP. Implemented by *pipeline.Orchestrator.
type Service interface {
	Run(ctx context.Context, q models.Query) (*pipeline.Result, error)
	Analyze(ctx context.Context, text string) (*pipeline.Analysis, error)
	Clean(ctx context.Context, fp store.Fingerprint) (int, error)
	Dashboard(ctx context.Context) (*pipeline.Dashboard, error)
}

// Server HTTP API
type Server struct {
	echo   *echo.Echo
	svc    Service
	hub    *Hub
	cfg    models.ServerConfig
	logger *zap.Logger
}

// New creates the server. gatherer backs /metrics; nil uses the default registry.
func New(svc Service, hub *Hub, gatherer prometheus.Gatherer, cfg models.ServerConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("http")
	if hub == nil {
		hub = NewHub(logger)
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{echo: e, svc: svc, hub: hub, cfg: cfg, logger: logger}

	e.GET("/health", s.handleHealth)
	e.POST("/scrape", s.handleScrape)
	e.POST("/analyze", s.handleAnalyze)
	e.POST("/clean-cache", s.handleCleanCache)
	e.GET("/dashboard", s.handleDashboard)
	e.GET("/ws", s.handleWS)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	return s
}

// Handler the underlying http.Handler.
func (s *Server) Handler() http.Handler { return s.echo }

// ErrorResponse body of every failed request
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ScrapeRequest body of POST /scrape. Keywords are comma separated.
type ScrapeRequest struct {
	Keywords string `json:"keywords"`
	Limit    *int   `json:"limit"`
}

// ScrapeResponse body of a successful POST /scrape
type ScrapeResponse struct {
	Status string `json:"status"`
	*pipeline.Result
	SentimentCounts aggregate.SentimentCounts `json:"sentiment_counts"`
}

type AnalyzeRequest struct {
	Text string `json:"text"`
}

type AnalyzeResponse struct {
	Status string `json:"status"`
	*pipeline.Analysis
}

type CleanRequest struct {
	CacheKey string `json:"cache_key"`
}

type CleanResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Removed int    `json:"removed"`
}

type DashboardResponse struct {
	Status string `json:"status"`
	*pipeline.Dashboard
	Error string `json:"error,omitempty"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleScrape(c echo.Context) error {
	var req ScrapeRequest
	if err := c.Bind(&req); err != nil {
		return s.fail(c, fmt.Errorf("%w: invalid request body", models.ErrValidation))
	}
	limit := models.DefaultLimit
	if req.Limit != nil {
		limit = *req.Limit
	}
	q, err := models.ParseQuery(req.Keywords, limit)
	if err != nil {
		return s.fail(c, err)
	}

	res, err := s.svc.Run(c.Request().Context(), q)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, ScrapeResponse{
		Status:          "success",
		Result:          res,
		SentimentCounts: res.Summary.Sentiment,
	})
}

func (s *Server) handleAnalyze(c echo.Context) error {
	var req AnalyzeRequest
	if err := c.Bind(&req); err != nil {
		return s.fail(c, fmt.Errorf("%w: invalid request body", models.ErrValidation))
	}
	a, err := s.svc.Analyze(c.Request().Context(), req.Text)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, AnalyzeResponse{Status: "success", Analysis: a})
}

func (s *Server) handleCleanCache(c echo.Context) error {
	var req CleanRequest
	if err := c.Bind(&req); err != nil {
		return s.fail(c, fmt.Errorf("%w: invalid request body", models.ErrValidation))
	}

	var fp store.Fingerprint
	if req.CacheKey != "" {
		parsed, err := store.ParseFingerprint(req.CacheKey)
		if err != nil {
			return s.fail(c, err)
		}
		fp = parsed
	}

	removed, err := s.svc.Clean(c.Request().Context(), fp)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, CleanResponse{
		Status:  "success",
		Message: fmt.Sprintf("Removed %d moderator posts from cache", removed),
		Removed: removed,
	})
}

func (s *Server) handleDashboard(c echo.Context) error {
	d, err := s.svc.Dashboard(c.Request().Context())
	if err != nil {
		s.logger.Error("dashboard failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, DashboardResponse{Status: "error", Dashboard: d, Error: err.Error()})
	}
	return c.JSON(http.StatusOK, DashboardResponse{Status: "success", Dashboard: d})
}

func (s *Server) handleWS(c echo.Context) error {
	s.hub.ServeWS(c.Response(), c.Request())
	return nil
}

// fail maps sentinel errors onto status codes.
func (s *Server) fail(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrFetch):
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.JSON(status, ErrorResponse{Status: "error", Message: err.Error()})
}

// Start listens on the configured address until Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and disconnects WebSocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	s.hub.Close()
	return s.echo.Shutdown(ctx)
}
