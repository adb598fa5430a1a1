package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/hochfrequenz/batch-engine/internal/batch"
	"github.com/hochfrequenz/batch-engine/internal/definition"
	"github.com/hochfrequenz/batch-engine/internal/domain"
	"github.com/hochfrequenz/batch-engine/internal/ledger"
	"github.com/hochfrequenz/batch-engine/internal/observer"
	"github.com/hochfrequenz/batch-engine/internal/tasktype"
	"github.com/rs/zerolog"
)

// Engine is the part of the executor the API drives
type Engine interface {
	RequestInterrupt(ctx context.Context, id string) error
	Active() []string
	Registry() *tasktype.Registry
}

// Launcher starts batches by name from the current catalog
type Launcher interface {
	Catalog() *definition.Catalog
	Run(ctx context.Context, name string, maxDuration time.Duration) (*domain.BatchRun, error)
}

// Option configures a Server
type Option func(*Server)

// WithObserver adds run metrics to /api/status
func WithObserver(o *observer.Observer) Option {
	return func(s *Server) { s.observer = o }
}

// WithLogger sets the server logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithBaseContext sets the context batch runs started through the API derive from.
// Cancelling it interrupts them.
func WithBaseContext(ctx context.Context) Option {
	return func(s *Server) { s.baseCtx = ctx }
}

// WithMaxDuration bounds batch runs started through the API
func WithMaxDuration(d time.Duration) Option {
	return func(s *Server) { s.maxDuration = d }
}

// Server is the HTTP API server
type Server struct {
	engine      Engine
	launcher    Launcher
	history     ledger.History
	observer    *observer.Observer
	hub         *Hub
	addr        string
	mux         *http.ServeMux
	logger      zerolog.Logger
	baseCtx     context.Context
	maxDuration time.Duration

	runs sync.WaitGroup
}

// NewServer creates a new API server. Run updates reach clients through hub,
// which the executor feeds.
func NewServer(engine Engine, launcher Launcher, history ledger.History, hub *Hub, addr string, opts ...Option) *Server {
	s := &Server{
		engine:      engine,
		launcher:    launcher,
		history:     history,
		hub:         hub,
		addr:        addr,
		mux:         http.NewServeMux(),
		logger:      zerolog.Nop(),
		baseCtx:     context.Background(),
		maxDuration: batch.DefaultMaxDuration,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /api/status", s.statusHandler())
	s.mux.HandleFunc("GET /api/batches", s.listBatchesHandler())
	s.mux.HandleFunc("POST /api/batches/{name}/run", s.runBatchHandler())
	s.mux.HandleFunc("GET /api/runs", s.listRunsHandler())
	s.mux.HandleFunc("GET /api/runs/{id}", s.getRunHandler())
	s.mux.HandleFunc("POST /api/runs/{id}/interrupt", s.interruptHandler())
	s.mux.HandleFunc("GET /api/events", s.sseHandler())
	s.mux.HandleFunc("GET /api/ws", s.wsHandler())
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until ctx is done, then shuts down and waits for batch runs
// started through the API.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("web api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Wait blocks until batch runs started through the API have finished
func (s *Server) Wait() {
	s.runs.Wait()
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSONStatus(w, code, map[string]string{"error": message})
}
