// Package server exposes the placeholder root endpoint plus read-only views
// of batch state and run history.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/throw-if-null/vibe/internal/api"
	"github.com/throw-if-null/vibe/internal/journal"
	"github.com/throw-if-null/vibe/internal/logging"
	"github.com/throw-if-null/vibe/internal/telemetry"
)

const maxListLimit = 1000

// RunStore is the subset of the journal the server reads.
type RunStore interface {
	ListRuns(limit int) ([]*api.Run, error)
	GetRun(id string) (*api.Run, error)
}

// StateReader exposes the batch state document.
type StateReader interface {
	Snapshot() map[string][]string
}

type Server struct {
	runs  RunStore
	state StateReader
	log   *logging.Logger
}

// NewServer builds a Server. runs and state may be nil, in which case their
// endpoints answer 503.
func NewServer(runs RunStore, state StateReader, log *logging.Logger) *Server {
	if log == nil {
		log = logging.Discard()
	}
	return &Server{runs: runs, state: state, log: log}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /v1/state", s.handleState)
	mux.HandleFunc("GET /v1/runs", s.handleListRuns)
	mux.HandleFunc("GET /v1/runs/{run_id}", s.handleGetRun)
	return s.instrument(mux)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := telemetry.Tracer().Start(r.Context(), "vibe.http")
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(ctx))

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.Path),
			attribute.Int("http.status_code", rec.status),
		)
		s.log.Debugf("%s %s %d %s", r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, api.RootResponse{Message: "Hello World"})
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	if s.state == nil {
		http.Error(w, "state unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, api.StateResponse{Directories: s.state.Snapshot()})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		http.Error(w, "history unavailable", http.StatusServiceUnavailable)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > maxListLimit {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	runs, err := s.runs.ListRuns(limit)
	if err != nil {
		s.log.Errorf("list runs: %v", err)
		http.Error(w, "failed to list runs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		http.Error(w, "history unavailable", http.StatusServiceUnavailable)
		return
	}
	id := r.PathValue("run_id")
	run, err := s.runs.GetRun(id)
	if errors.Is(err, journal.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.Errorf("get run %s: %v", id, err)
		http.Error(w, "failed to read run", http.StatusInternalServerError)
		return
	}
	writeJSON(w, run)
}
