// Package server exposes the engine over a small JSON HTTP API.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/poiesic/medfuse"
	"github.com/poiesic/medfuse/core"
	"github.com/poiesic/medfuse/query"
)

// Retriever is the part of medfuse.Engine the server needs.
type Retriever interface {
	Retrieve(ctx context.Context, question string, mode core.UserMode) (*medfuse.Response, error)
	Preprocess(ctx context.Context, question string, mode core.UserMode) (*core.ProcessedQuery, error)
	Sources() []core.SourceType
	Stats(ctx context.Context) (*medfuse.Stats, error)
}

var _ Retriever = (*medfuse.Engine)(nil)

const shutdownTimeout = 10 * time.Second

// Server serves a Retriever over HTTP.
type Server struct {
	retriever Retriever
	logger    *slog.Logger
}

// New creates a server over retriever. A nil logger uses slog.Default().
func New(retriever Retriever, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		retriever: retriever,
		logger:    logger.With("component", "server"),
	}
}

// SetupRouter returns the gin router with every /api route registered.
func (s *Server) SetupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	api := r.Group("/api")
	api.POST("/retrieve", s.Retrieve)
	api.POST("/preprocess", s.Preprocess)
	api.GET("/health", s.Health)
	api.GET("/stats", s.Stats)

	return r
}

// Run serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// RetrieveRequest is the body of POST /api/retrieve. An empty mode is
// detected from the question.
type RetrieveRequest struct {
	Question string `json:"question" binding:"required"`
	Mode     string `json:"mode"`
}

// PreprocessRequest is the body of POST /api/preprocess.
type PreprocessRequest struct {
	Question string `json:"question" binding:"required"`
	Mode     string `json:"mode"`
}

// PreprocessResponse describes a processed question.
type PreprocessResponse struct {
	QueryID           string                 `json:"queryId"`
	Original          string                 `json:"original"`
	Normalized        string                 `json:"normalized"`
	Entities          []core.Entity          `json:"entities"`
	QueryType         core.QueryType         `json:"queryType"`
	Mode              core.UserMode          `json:"mode"`
	SuggestedStrategy core.RetrievalStrategy `json:"suggestedStrategy"`
}

// Retrieve answers a question with fused evidence.
func (s *Server) Retrieve(c *gin.Context) {
	var req RetrieveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	mode, ok := parseMode(c, req.Mode)
	if !ok {
		return
	}

	resp, err := s.retriever.Retrieve(c.Request.Context(), req.Question, mode)
	if err != nil {
		s.fail(c, "retrieval failed", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Preprocess reports how a question was classified without retrieving.
func (s *Server) Preprocess(c *gin.Context) {
	var req PreprocessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	mode, ok := parseMode(c, req.Mode)
	if !ok {
		return
	}

	q, err := s.retriever.Preprocess(c.Request.Context(), req.Question, mode)
	if err != nil {
		s.fail(c, "preprocessing failed", err)
		return
	}

	entities := q.Entities
	if entities == nil {
		entities = []core.Entity{}
	}
	c.JSON(http.StatusOK, PreprocessResponse{
		QueryID:           q.ID,
		Original:          q.Original,
		Normalized:        q.Normalized,
		Entities:          entities,
		QueryType:         q.QueryType,
		Mode:              q.Mode,
		SuggestedStrategy: q.SuggestedStrategy,
	})
}

// Health lists the registered providers.
func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"providers": s.retriever.Sources(),
	})
}

// Stats reports document and knowledge graph counts.
func (s *Server) Stats(c *gin.Context) {
	stats, err := s.retriever.Stats(c.Request.Context())
	if err != nil {
		s.fail(c, "statistics unavailable", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// parseMode accepts an empty mode (detect from the question) or a known tag.
func parseMode(c *gin.Context, tag string) (core.UserMode, bool) {
	if tag == "" {
		return "", true
	}
	mode, err := core.ParseUserMode(tag)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	return mode, true
}

func (s *Server) fail(c *gin.Context, msg string, err error) {
	if errors.Is(err, query.ErrEmptyQuestion) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.logger.Error(msg, "err", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"elapsed", time.Since(start))
	}
}
