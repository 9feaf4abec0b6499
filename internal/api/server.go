// Package api exposes the HTTP interface: keyword uploads, keyword reads,
// and the event stream.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/serpscout/serpscout/internal/keywords"
	"github.com/serpscout/serpscout/internal/metrics"
	"github.com/serpscout/serpscout/internal/sse"
)

// ScrapeEnqueuer pushes scrape jobs for freshly uploaded keywords.
type ScrapeEnqueuer interface {
	EnqueueScrapeJobs(ctx context.Context, keywordIDs []string, ownerID string) error
}

// Config holds the handler knobs.
type Config struct {
	// MaxUploadKeywords caps how many keywords one CSV may carry.
	MaxUploadKeywords int
}

// Server wires HTTP handlers to the store, the enqueuer, and the gateway.
type Server struct {
	router   chi.Router
	store    keywords.Store
	enqueuer ScrapeEnqueuer
	gateway  *sse.Gateway
	cfg      Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(store keywords.Store, enq ScrapeEnqueuer, gateway *sse.Gateway, cfg Config, logger *zap.Logger) *Server {
	if cfg.MaxUploadKeywords <= 0 {
		cfg.MaxUploadKeywords = 100
	}
	s := &Server{
		store:    store,
		enqueuer: enq,
		gateway:  gateway,
		cfg:      cfg,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/keywords", func(r chi.Router) {
			r.Post("/upload", s.uploadKeywords)
			r.Get("/", s.listKeywords)
			r.Get("/{keyword_id}", s.getKeyword)
		})
		r.Get("/events", s.streamEvents)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ownerID extracts the caller identity from the X-Owner-ID header, falling
// back to the owner_id query parameter for clients that cannot set headers
// (EventSource).
func ownerID(r *http.Request) string {
	if id := r.Header.Get("X-Owner-ID"); id != "" {
		return id
	}
	return r.URL.Query().Get("owner_id")
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
