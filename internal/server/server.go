// Package server exposes the reliability pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ppiankov/policyrag/internal/logging"
	"github.com/ppiankov/policyrag/internal/metrics"
	"github.com/ppiankov/policyrag/internal/model"
	"github.com/ppiankov/policyrag/internal/pipeline"
	"github.com/ppiankov/policyrag/internal/worker"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// QueryRequest is the body of POST /v1/query
type QueryRequest struct {
	QueryID  string `json:"query_id"`
	Question string `json:"question" binding:"required"`
	Category string `json:"category"`
}

// ErrorResponse is returned for rejected requests
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse is returned by GET /healthz
type HealthResponse struct {
	Status      string                  `json:"status"`
	Version     string                  `json:"version"`
	Reliability model.ReliabilityConfig `json:"reliability"`
}

// Server routes HTTP requests to an Answerer
type Server struct {
	answerer    worker.Answerer
	reliability model.ReliabilityConfig
	metrics     *metrics.Metrics
	version     string
	logger      *zap.Logger
}

// New creates a server. A nil metrics disables /metrics.
func New(answerer worker.Answerer, reliability model.ReliabilityConfig, m *metrics.Metrics, version string, logger *zap.Logger) *Server {
	return &Server{
		answerer:    answerer,
		reliability: reliability,
		metrics:     m,
		version:     version,
		logger:      logging.OrNop(logger),
	}
}

// Router builds the gin engine
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestID())

	r.GET("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
	v1 := r.Group("/v1")
	v1.POST("/query", s.handleQuery)
	return r
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-ID", id)
		c.Set("request_id", id)
		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:      "ok",
		Version:     s.version,
		Reliability: s.reliability,
	})
}

// handleQuery answers one question. Pipeline stage failures are part of the
// record (answer ERROR), so they still return 200.
func (s *Server) handleQuery(c *gin.Context) {
	logger := s.logger.With(zap.String("request_id", c.GetString("request_id")))

	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Debug("invalid request body", zap.Error(err))
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error(), Code: "INVALID_REQUEST"})
		return
	}

	rec, err := s.answerer.Answer(c.Request.Context(), model.Query{
		QueryID:  req.QueryID,
		Question: req.Question,
		Category: req.Category,
	})
	switch {
	case errors.Is(err, pipeline.ErrEmptyQuestion):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "EMPTY_QUESTION"})
		return
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Code: "CANCELLED"})
		return
	case err != nil:
		logger.Error("query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "QUERY_FAILED"})
		return
	}

	c.JSON(http.StatusOK, rec)
}
