// Package server exposes the pipeline as a batch HTTP API with a websocket
// feed of journaled run events.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mariozechner/guiding-agent/pkg/pipeline"
	"github.com/mariozechner/guiding-agent/pkg/store"
)

// Runner executes one task. *guide.Guide and *pipeline.Pipeline satisfy it.
type Runner interface {
	Run(ctx context.Context, task string) (*pipeline.Outcome, error)
}

// DefaultRetainedRuns is how many finished runs are kept in memory.
const DefaultRetainedRuns = 100

// Option configures a Server.
type Option func(*Server)

// WithRetainedRuns caps the finished runs kept in memory. Older runs are
// evicted first; with a journal they remain readable from it.
func WithRetainedRuns(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.retain = n
		}
	}
}

// Server serves the run API.
type Server struct {
	runner  Runner
	journal store.Manager
	logger  *slog.Logger

	// baseCtx outlives requests so background runs are not cancelled when
	// the POST returns.
	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu   sync.Mutex
	srv  *http.Server
	runs map[string]*runState
	// finished holds finished run IDs, oldest first.
	finished []string
	retain   int
}

type runState struct {
	ID      string            `json:"id"`
	Task    string            `json:"task"`
	Status  string            `json:"status"`
	Error   string            `json:"error,omitempty"`
	Created time.Time         `json:"created"`
	Outcome *pipeline.Outcome `json:"outcome,omitempty"`

	cancel context.CancelFunc
}

// New creates a Server. journal may be nil, in which case run history is
// kept in memory only and the events websocket is unavailable.
func New(runner Runner, journal store.Manager, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, stop := context.WithCancel(context.Background())
	s := &Server{
		runner:  runner,
		journal: journal,
		logger:  logger,
		baseCtx: ctx,
		stop:    stop,
		runs:    make(map[string]*runState),
		retain:  DefaultRetainedRuns,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the API routes wrapped in the CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/runs", s.handleCreateRun)
	mux.HandleFunc("GET /api/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)
	mux.HandleFunc("POST /api/runs/{id}/cancel", s.handleCancelRun)

	// WebSocket
	mux.HandleFunc("GET /api/runs/{id}/events", s.handleEventsWebSocket)

	return s.corsMiddleware(mux)
}

// Start starts the HTTP server. It blocks until Shutdown is called.
func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	s.logger.Info("Starting web server", "addr", addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, cancels in-flight runs and waits for
// them to finish their cleanup.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	s.stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	return err
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, err error) {
	s.logger.Error("API Error", "status", status, "error", err)
	s.jsonResponse(w, status, map[string]string{"error": err.Error()})
}
