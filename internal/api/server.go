// Package api serves federated search, query generation and cache management
// over HTTP.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/kyleking/fedquery/internal/documents"
	"github.com/kyleking/fedquery/internal/logging"
	"github.com/kyleking/fedquery/internal/monitor"
	"github.com/kyleking/fedquery/internal/schema"
	"github.com/kyleking/fedquery/internal/search"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
	maxBodyBytes      = 10 << 20
)

// Config holds the collaborators of the server. Documents and Metrics may be nil.
type Config struct {
	Addr         string
	Orchestrator *search.Orchestrator
	Schemas      *schema.Index
	Documents    *documents.Index
	Metrics      *monitor.Metrics
	Logger       *logging.Logger
}

// Server is the HTTP API
type Server struct {
	addr      string
	orch      *search.Orchestrator
	schemas   *schema.Index
	documents *documents.Index
	metrics   *monitor.Metrics
	logger    *logging.Logger
}

// NewServer creates a server from cfg
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetLogger().WithField("component", "api")
	}

	return &Server{
		addr:      cfg.Addr,
		orch:      cfg.Orchestrator,
		schemas:   cfg.Schemas,
		documents: cfg.Documents,
		metrics:   cfg.Metrics,
		logger:    logger,
	}
}

// Routes builds the router
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		s.requestLogger,
		middleware.Recoverer,
		middleware.Compress(5),
	)

	r.Get("/health", s.handleHealth)

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/search", s.handleSearch)
		r.Post("/query", s.handleGenerateQuery)
		r.Post("/sql", s.handleExecuteSQL)
		r.Get("/sources", s.handleSources)
		r.Get("/results/{id}", s.handleResultPage)

		r.Route("/cache", func(r chi.Router) {
			r.Get("/stats", s.handleCacheStats)
			r.Get("/entries", s.handleCacheEntries)
			r.Delete("/", s.handleCacheInvalidate)
		})

		r.Route("/documents", func(r chi.Router) {
			r.Get("/", s.handleListDocuments)
			r.Post("/", s.handleAddDocument)
			r.Post("/search", s.handleSearchDocuments)
			r.Delete("/{id}", s.handleDeleteDocument)
		})
	})

	return r
}

// Serve listens on the configured address until ctx is cancelled, then shuts
// down gracefully
func (s *Server) Serve(ctx context.Context) error {
	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.Routes(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: readHeaderTimeout,
	}

	s.logger.WithField("addr", s.addr).Info("Starting API server")

	eg.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		s.logger.Debug("Shutting down API server")

		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.WithFields(map[string]interface{}{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"duration":   time.Since(start).String(),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("Handled request")
	})
}
