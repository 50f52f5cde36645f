// Package api exposes the screening pipeline over HTTP with gin.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/denticheck-screening-server/internal/domain"
	"github.com/denticheck-screening-server/internal/events"
	"github.com/denticheck-screening-server/internal/middleware"
	"github.com/denticheck-screening-server/pkg/external"
)

const (
	uploadField           = "file"
	defaultMaxUploadBytes = 10 << 20
	shutdownTimeout       = 30 * time.Second
	multipartOverhead     = 64 << 10
	defaultListLimit      = 20
	maxListLimit          = 100
)

// Screener runs the screening façades.
type Screener interface {
	Run(ctx context.Context, image *domain.UploadedImage) (*domain.RunResult, error)
	RunQuick(ctx context.Context, image *domain.UploadedImage) (*domain.QuickResult, error)
	RunAnalyze(ctx context.Context, image *domain.UploadedImage, generatePDF bool) (*domain.AnalyzeResult, error)
}

// SessionReader looks up session lifecycle records.
type SessionReader interface {
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
	Recent(ctx context.Context, limit int) ([]*domain.Session, error)
}

// RecordReader reads persisted screening outcomes.
type RecordReader interface {
	GetBySessionID(ctx context.Context, sessionID string) (*domain.ScreeningRecord, error)
	ListRecent(ctx context.Context, limit int) ([]*domain.ScreeningRecord, error)
}

// HealthCheck checks one dependency; a nil error means healthy.
type HealthCheck func(ctx context.Context) error

// Options are the collaborators of a Server. Everything but Screener is optional.
type Options struct {
	Screener  Screener
	Sessions  SessionReader
	Records   RecordReader
	Events    *events.Hub
	ReportDir string
	Breakers  func() []external.CircuitBreakerStats
	Checks    map[string]HealthCheck
}

// Server represents the HTTP server
type Server struct {
	config *domain.Config
	opts   Options
	router *gin.Engine
	server *http.Server
	logger *logrus.Logger
}

// NewServer creates a new HTTP server instance
func NewServer(config *domain.Config, opts Options, logger *logrus.Logger) *Server {
	if config.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.CorrelationID())
	router.Use(middleware.AuditLogger(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(corsMiddleware())

	s := &Server{
		config: config,
		opts:   opts,
		router: router,
		logger: logger,
	}
	s.setupRoutes()
	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.config.Server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	if s.opts.ReportDir != "" {
		s.router.Static("/reports", s.opts.ReportDir)
	}

	v1 := s.router.Group("/api/v1/ai-check")
	if s.config.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(s.config.RateLimit.RequestsPerSecond, s.config.RateLimit.Burst)
		v1.Use(middleware.RateLimit(limiter))
	}
	timeout := middleware.RequestTimeout(s.config.Server.WriteTimeout)
	{
		v1.POST("", timeout, s.handleRun)
		v1.POST("/quick", timeout, s.handleQuick)
		v1.POST("/analyze", timeout, s.handleAnalyze)
		v1.GET("/sessions", s.handleListSessions)
		v1.GET("/sessions/:id", s.handleGetSession)
		v1.GET("/sessions/:id/events", s.handleSessionEvents)
		v1.GET("/sessions/:id/record", s.handleGetRecord)
		v1.GET("/records", s.handleListRecords)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := "healthy"
	checks := make(map[string]string, len(s.opts.Checks))
	for name, check := range s.opts.Checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = "degraded"
			continue
		}
		checks[name] = "ok"
	}

	var breakers []external.CircuitBreakerStats
	if s.opts.Breakers != nil {
		breakers = s.opts.Breakers()
		for _, b := range breakers {
			if b.State == "open" {
				status = "degraded"
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"checks":    checks,
		"breakers":  breakers,
	})
}

func (s *Server) handleRun(c *gin.Context) {
	image, ok := s.readUpload(c)
	if !ok {
		return
	}
	result, err := s.opts.Screener.Run(c.Request.Context(), image)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleQuick(c *gin.Context) {
	image, ok := s.readUpload(c)
	if !ok {
		return
	}
	result, err := s.opts.Screener.RunQuick(c.Request.Context(), image)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleAnalyze(c *gin.Context) {
	generatePDF := true
	if raw := c.Query("generatePdf"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			s.respondError(c, domain.NewValidationError("generatePdf", "must be a boolean", raw))
			return
		}
		generatePDF = parsed
	}

	image, ok := s.readUpload(c)
	if !ok {
		return
	}
	result, err := s.opts.Screener.RunAnalyze(c.Request.Context(), image, generatePDF)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleGetSession(c *gin.Context) {
	if s.opts.Sessions == nil {
		c.JSON(http.StatusNotFound, domain.NewAPIError(domain.ErrCodeSessionNotExists,
			"session tracking is disabled", "", middleware.RequestID(c)))
		return
	}
	sess, err := s.opts.Sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) handleListSessions(c *gin.Context) {
	if s.opts.Sessions == nil {
		c.JSON(http.StatusNotFound, domain.NewAPIError(domain.ErrCodeSessionNotExists,
			"session tracking is disabled", "", middleware.RequestID(c)))
		return
	}
	limit, ok := s.listLimit(c)
	if !ok {
		return
	}
	sessions, err := s.opts.Sessions.Recent(c.Request.Context(), limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if sessions == nil {
		sessions = []*domain.Session{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "count": len(sessions)})
}

func (s *Server) handleGetRecord(c *gin.Context) {
	if !s.recordsEnabled(c) {
		return
	}
	record, err := s.opts.Records.GetBySessionID(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) handleListRecords(c *gin.Context) {
	if !s.recordsEnabled(c) {
		return
	}
	limit, ok := s.listLimit(c)
	if !ok {
		return
	}
	records, err := s.opts.Records.ListRecent(c.Request.Context(), limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if records == nil {
		records = []*domain.ScreeningRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"records": records, "count": len(records)})
}

func (s *Server) recordsEnabled(c *gin.Context) bool {
	if s.opts.Records != nil {
		return true
	}
	c.JSON(http.StatusNotFound, domain.NewAPIError(domain.ErrCodeSessionNotExists,
		"screening record persistence is disabled", "", middleware.RequestID(c)))
	return false
}

// listLimit parses ?limit=, defaulting to 20 and capping at 100.
func (s *Server) listLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		s.respondError(c, domain.NewValidationError("limit", "must be a positive integer", raw))
		return 0, false
	}
	return min(limit, maxListLimit), true
}

// readUpload reads the multipart "file" field within the configured size budget. On
// failure the response has been written.
func (s *Server) readUpload(c *gin.Context) (*domain.UploadedImage, bool) {
	limit := s.config.Server.MaxUploadBytes
	if limit <= 0 {
		limit = defaultMaxUploadBytes
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+multipartOverhead)

	header, err := c.FormFile(uploadField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondTooLarge(c, limit)
			return nil, false
		}
		s.respondError(c, domain.NewValidationError(uploadField, "an image file is required", nil))
		return nil, false
	}
	if header.Size > limit {
		s.respondTooLarge(c, limit)
		return nil, false
	}

	file, err := header.Open()
	if err != nil {
		s.respondError(c, domain.NewValidationError(uploadField, "upload could not be read", header.Filename))
		return nil, false
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		s.respondError(c, domain.NewValidationError(uploadField, "upload could not be read", header.Filename))
		return nil, false
	}
	if int64(len(data)) > limit {
		s.respondTooLarge(c, limit)
		return nil, false
	}

	return &domain.UploadedImage{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, true
}

func (s *Server) respondTooLarge(c *gin.Context, limit int64) {
	c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, domain.NewAPIError(
		domain.ErrCodeUploadTooLarge,
		"upload exceeds the size limit",
		fmt.Sprintf("max %d bytes", limit),
		middleware.RequestID(c),
	))
}

// respondError maps domain errors onto the APIError envelope.
func (s *Server) respondError(c *gin.Context, err error) {
	requestID := middleware.RequestID(c)

	var validationErr *domain.ValidationError
	switch {
	case errors.As(err, &validationErr):
		c.AbortWithStatusJSON(http.StatusBadRequest, domain.NewAPIError(
			domain.ErrCodeInvalidInput, validationErr.Message, validationErr.Field, requestID))
	case errors.Is(err, domain.ErrNotFound), isSessionNotFound(err):
		c.AbortWithStatusJSON(http.StatusNotFound, domain.NewAPIError(
			domain.ErrCodeSessionNotExists, "session not found", "", requestID))
	default:
		s.logger.WithError(err).WithField("correlation_id", requestID).Error("Unhandled request error")
		c.AbortWithStatusJSON(http.StatusInternalServerError, domain.NewAPIError(
			domain.ErrCodeInternalServer, "internal server error", "", requestID))
	}
}

// corsMiddleware adds CORS headers to responses
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, "+middleware.CorrelationHeader)
		c.Header("Access-Control-Expose-Headers", "Content-Length, "+middleware.CorrelationHeader)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
