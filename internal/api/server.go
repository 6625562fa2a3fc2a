package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/boatrace-ingest/internal/metrics"
	"github.com/JakeFAU/boatrace-ingest/internal/race"
)

const (
	requestTimeout = 30 * time.Second
	readyTimeout   = 2 * time.Second
)

// Server wires HTTP handlers to the race store.
type Server struct {
	router chi.Router
	store  race.Store
	logger *zap.Logger
}

// Option customizes a Server.
type Option func(*serverOptions)

type serverOptions struct {
	apiKey string
}

// WithAPIKey requires X-API-Key (or ?api_key=) on every /v1 route.
func WithAPIKey(key string) Option {
	return func(o *serverOptions) { o.apiKey = key }
}

// NewServer constructs a Server with middleware and routes.
func NewServer(store race.Store, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o serverOptions
	for _, opt := range opts {
		opt(&o)
	}
	s := &Server{store: store, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if o.apiKey != "" {
			r.Use(apiKeyMiddleware(o.apiKey))
		}
		r.Get("/stats", s.getStats)
		r.Route("/races/{date}/{venue}/{race}", func(r chi.Router) {
			r.Get("/features", s.getFeatures)
			r.Get("/ingestion", s.getIngestion)
		})
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

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("Readiness check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.TableCounts(r.Context())
	if err != nil {
		s.logger.Error("Table counts failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to count rows")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": counts})
}

type featuresResponse struct {
	Race  race.Key          `json:"race"`
	Lanes []race.FeatureRow `json:"lanes"`
}

func (s *Server) getFeatures(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := s.store.QueryFeatureJoin(r.Context(), key)
	if err != nil {
		s.logger.Error("Feature join failed", zap.Stringer("race", key), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to query features")
		return
	}
	if len(rows) == 0 {
		writeError(w, http.StatusNotFound, "race not found")
		return
	}
	writeJSON(w, http.StatusOK, featuresResponse{Race: key, Lanes: rows})
}

type ingestionResponse struct {
	Race         race.Key    `json:"race"`
	Status       race.Status `json:"status"`
	Complete     bool        `json:"complete"`
	LaneCount    int         `json:"lane_count"`
	SkippedRows  int         `json:"skipped_rows"`
	WarningCount int         `json:"warning_count"`
	ContentHash  string      `json:"content_hash,omitempty"`
	IngestedAt   time.Time   `json:"ingested_at"`
}

func (s *Server) getIngestion(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	in, ok, err := s.store.LookupIngestion(r.Context(), key)
	if err != nil {
		s.logger.Error("Ingestion lookup failed", zap.Stringer("race", key), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to look up ingestion")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "race not ingested")
		return
	}
	writeJSON(w, http.StatusOK, ingestionResponse{
		Race:         key,
		Status:       in.Status,
		Complete:     in.Complete,
		LaneCount:    in.LaneCount,
		SkippedRows:  in.SkippedRows,
		WarningCount: in.WarningCount,
		ContentHash:  in.ContentHash,
		IngestedAt:   in.IngestedAt,
	})
}

func keyFromRequest(r *http.Request) (race.Key, error) {
	no, err := strconv.Atoi(chi.URLParam(r, "race"))
	if err != nil {
		return race.Key{}, fmt.Errorf("invalid race number %q", chi.URLParam(r, "race"))
	}
	key := race.Key{
		Date:   chi.URLParam(r, "date"),
		Venue:  chi.URLParam(r, "venue"),
		RaceNo: no,
	}
	if err := key.Validate(); err != nil {
		return race.Key{}, err
	}
	return key, nil
}

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

// RequestID returns the request ID stored by the middleware, if any.
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
					logger.Error("panic recovered",
						zap.String("request_id", RequestID(r.Context())),
						zap.Any("error", rec),
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
		return http.TimeoutHandler(next, d, "request timed out")
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

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
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
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
