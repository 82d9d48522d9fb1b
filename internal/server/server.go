// Package server provides the HTTP API for Shiori.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/shiori/internal/config"
	"github.com/hyperjump/shiori/internal/index"
	"github.com/hyperjump/shiori/internal/indexer"
	"github.com/hyperjump/shiori/internal/keyword"
	"github.com/hyperjump/shiori/internal/metrics"
	"github.com/hyperjump/shiori/internal/models"
)

// Querier answers retrieval requests.
type Querier interface {
	Query(ctx context.Context, req *models.QueryRequest) (*models.QueryResponse, error)
}

// Catalog is the read side of the index used for listing and status.
type Catalog interface {
	Documents() []*models.Document
	Document(id string) (*models.Document, error)
	DocumentFragments(documentID string) []models.Fragment
	Stats() index.Stats
}

// Ingester is the write side: files in, documents out.
type Ingester interface {
	IngestFile(ctx context.Context, path string) (*indexer.FileResult, error)
	IngestDirectory(ctx context.Context, dir string) (*indexer.Report, error)
	RemoveDocument(ctx context.Context, id string) error
}

// WatchService manages watched directories at runtime.
type WatchService interface {
	Directories() []string
	AddDirectory(path string, syncExisting bool) error
	RemoveDirectory(path string) error
}

// Server is the HTTP server for the Shiori API.
type Server struct {
	retriever  Querier
	catalog    Catalog
	ingester   Ingester
	keyword    keyword.KeywordIndex
	watch      WatchService
	config     *config.Config
	configPath string
	configMu   sync.Mutex
	logger     *zap.Logger
	server     *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithKeywordIndex enables the fragment keyword search endpoint.
func WithKeywordIndex(kw keyword.KeywordIndex) Option {
	return func(s *Server) { s.keyword = kw }
}

// WithWatch enables the watch directory endpoints. When configPath is set,
// directory changes are saved back to that config file.
func WithWatch(ws WatchService, configPath string) Option {
	return func(s *Server) {
		s.watch = ws
		s.configPath = configPath
	}
}

// NewServer creates a server with the given dependencies.
func NewServer(retriever Querier, catalog Catalog, ing Ingester, cfg *config.Config, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		retriever: retriever,
		catalog:   catalog,
		ingester:  ing,
		config:    cfg,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/query", s.handleQuery)
		r.Post("/ingest", s.handleIngest)
		r.Get("/documents", s.handleListDocuments)
		r.Get("/documents/{id}", s.handleGetDocument)
		r.Delete("/documents/{id}", s.handleDeleteDocument)
		r.Get("/fragments/search", s.handleKeywordSearch)
		r.Get("/status", s.handleStatus)
		r.Get("/watch/directories", s.handleWatchDirectoriesList)
		r.Post("/watch/directories", s.handleWatchDirectoriesAdd)
		r.Delete("/watch/directories", s.handleWatchDirectoriesRemove)
	})
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())
	return r
}

// requestLogger logs each request through zap at debug level.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := s.config.Server.Addr()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
