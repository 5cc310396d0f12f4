package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opmon/transfer-monitor/internal/logging"
	"github.com/opmon/transfer-monitor/internal/metrics"
	"github.com/opmon/transfer-monitor/internal/stream"
	"github.com/opmon/transfer-monitor/internal/track"
)

// OperationStore answers snapshot queries; the track.Aggregator satisfies it.
type OperationStore interface {
	Snapshot() map[string]track.Entry
}

// Connection reports the push channel state; the stream.Connector satisfies
// it.
type Connection interface {
	State() stream.State
	RetryCount() int
	LastError() error
}

// Server wires HTTP handlers to the monitor's query surfaces.
type Server struct {
	router     chi.Router
	operations OperationStore
	connection Connection
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(operations OperationStore, connection Connection, logger *zap.Logger) *Server {
	s := &Server{
		operations: operations,
		connection: connection,
		logger:     logging.OrNop(logger),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Route("/api", func(r chi.Router) {
		r.Get("/operations", s.getOperations)
		r.Get("/connection", s.getConnection)
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

func (s *Server) getOperations(w http.ResponseWriter, _ *http.Request) {
	if s.operations == nil {
		writeError(w, http.StatusServiceUnavailable, "operation store unavailable")
		return
	}
	snapshot := s.operations.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"operations": snapshot,
		"count":      len(snapshot),
	})
}

func (s *Server) getConnection(w http.ResponseWriter, _ *http.Request) {
	if s.connection == nil {
		writeError(w, http.StatusServiceUnavailable, "connection unavailable")
		return
	}
	body := map[string]any{
		"state":      s.connection.State().String(),
		"retryCount": s.connection.RetryCount(),
	}
	if err := s.connection.LastError(); err != nil {
		body["lastError"] = err.Error()
	}
	writeJSON(w, http.StatusOK, body)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("handler panicked", zap.Any("panic", rec))
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
