package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/leadcrawl/internal/app"
	"github.com/JakeFAU/leadcrawl/internal/canonical"
	"github.com/JakeFAU/leadcrawl/internal/config"
	"github.com/JakeFAU/leadcrawl/internal/crawler"
	"github.com/JakeFAU/leadcrawl/internal/fetch"
	"github.com/JakeFAU/leadcrawl/internal/index"
	"github.com/JakeFAU/leadcrawl/internal/logging"
	"github.com/JakeFAU/leadcrawl/internal/metrics"
	"github.com/JakeFAU/leadcrawl/internal/telemetry"
)

// Service is the application surface the handlers drive. *app.App implements it.
type Service interface {
	Crawl(ctx context.Context, seed string, o app.Overrides) (crawler.Result, error)
	FetchResults(ctx context.Context, urls []string, o app.Overrides) []fetch.Result
	IndexURLs(ctx context.Context, urls []string, crawl bool, o app.Overrides) ([]app.IndexedPage, error)
	IndexText(ctx context.Context, pageURL, text string, metadata map[string]any, ts time.Time) (int, error)
	Query(text string, opts index.QueryOptions) []index.QueryResult
	IndexRows() int
}

// Server wires HTTP handlers to the Service.
type Server struct {
	router chi.Router
	svc    Service
	logger *zap.Logger
}

const maxRequestBytes = 8 << 20

// NewServer constructs a Server with middleware and routes.
func NewServer(svc Service, cfg config.APIConfig, logger *zap.Logger) *Server {
	s := &Server{
		svc:    svc,
		logger: logging.OrNop(logger).Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(telemetry.Middleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		if cfg.RequestTimeout > 0 {
			r.Use(timeoutMiddleware(cfg.RequestTimeout))
		}
		r.Post("/crawl", s.crawl)
		r.Post("/fetch", s.fetch)
		r.Post("/index", s.index)
		r.Post("/query", s.query)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "index_rows": s.svc.IndexRows()})
}

func (s *Server) crawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Seed == "" {
		writeError(w, http.StatusBadRequest, "seed required")
		return
	}
	res, err := s.svc.Crawl(r.Context(), req.Seed, req.overrides())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newCrawlResponse(res, req.IncludeHTML))
}

func (s *Server) fetch(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.URLs) == 0 {
		writeError(w, http.StatusBadRequest, "urls required")
		return
	}
	results := s.svc.FetchResults(r.Context(), req.URLs, req.overrides())
	out := make([]fetchResult, 0, len(results))
	for _, res := range results {
		out = append(out, newFetchResult(res, req.IncludeHTML))
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	var req indexRequest
	if !decode(w, r, &req) {
		return
	}
	switch {
	case req.Text != "":
		s.indexText(w, r, req)
	case len(req.URLs) > 0:
		pages, err := s.svc.IndexURLs(r.Context(), req.URLs, req.Crawl, req.overrides())
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"pages": pages})
	default:
		writeError(w, http.StatusBadRequest, "urls or text required")
	}
}

func (s *Server) indexText(w http.ResponseWriter, r *http.Request, req indexRequest) {
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url required with text")
		return
	}
	var ts time.Time
	if req.Timestamp != "" {
		parsed, err := index.ParseTime(req.Timestamp)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		ts = parsed
	}
	n, err := s.svc.IndexText(r.Context(), req.URL, req.Text, req.Metadata, ts)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": req.URL, "chunks": n})
}

func (s *Server) query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !decode(w, r, &req) {
		return
	}
	opts, err := req.options()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	results := s.svc.Query(req.Text, opts)
	if results == nil {
		results = []index.QueryResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, crawler.ErrInvalidOptions), errors.Is(err, canonical.ErrMalformedURL):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// nginx convention for a client that went away mid-request.
const statusClientClosedRequest = 499

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the request ID stored by the request ID middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", RequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error("panic recovered",
						zap.String("request_id", RequestID(r.Context())),
						zap.Any("error", rec),
						zap.Stack("stack"),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, `{"error":"request timed out"}`)
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if subtle.ConstantTimeCompare([]byte(key), []byte(expected)) != 1 {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
