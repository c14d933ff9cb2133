// Package server exposes a repository over HTTP: read-only JSON endpoints
// for history, refs, status, and diffs, plus a WebSocket channel that
// pushes a fresh summary whenever the backing blob store changes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/rybkr/kvgit/internal/gitcore"
)

// Server serves a single repository.
type Server struct {
	addr        string
	repo        *gitcore.Repository
	changes     <-chan struct{}
	rateLimiter *rateLimiter
	httpServer  *http.Server
	logger      *slog.Logger

	clientsMu sync.RWMutex
	clients   map[chan []byte]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config holds Server construction parameters.
type Config struct {
	Addr string
	Repo *gitcore.Repository
	// Changes, when non-nil, delivers external-change signals (see
	// blobstore.Notifier); each signal triggers a broadcast to WebSocket
	// clients.
	Changes <-chan struct{}
	Logger  *slog.Logger
}

// New constructs a Server ready to be started.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:        cfg.Addr,
		repo:        cfg.Repo,
		changes:     cfg.Changes,
		rateLimiter: newRateLimiter(100, 200, time.Second),
		logger:      cfg.Logger,
		clients:     make(map[chan []byte]struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Handler returns the HTTP handler, for embedding and tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/head", s.handleHead)
	mux.HandleFunc("/api/log", s.handleLog)
	mux.HandleFunc("/api/refs", s.handleRefs)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/diff", s.handleDiff)
	mux.HandleFunc("/api/blob", s.handleBlob)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return s.withMiddleware(mux)
}

// Start begins serving and, when a change channel is configured, watching
// for store changes. It does not block.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if s.changes != nil {
		s.wg.Add(1)
		go s.watchLoop()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", "err", err)
		}
	}()

	s.logger.Info("Serving repository", "addr", s.addr)
	return nil
}

// Shutdown stops the server and closes every WebSocket client.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	s.rateLimiter.Close()

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.wg.Wait()
	return err
}

// withMiddleware wraps a handler with rate limiting and request logging.
func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.rateLimiter.allow(getClientIP(r)) {
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("Request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

// watchLoop re-broadcasts a repository summary after each store change.
func (s *Server) watchLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case _, ok := <-s.changes:
			if !ok {
				return
			}
			s.broadcastSummary()
		}
	}
}

// Summary is the WebSocket update payload: enough for a client to refresh
// its view without further requests.
type Summary struct {
	Head     gitcore.HeadState `json:"head"`
	Branches []gitcore.Ref     `json:"branches"`
	Tags     []gitcore.Ref     `json:"tags"`
}

// buildSummary snapshots the repository state.
func (s *Server) buildSummary(ctx context.Context) (*Summary, error) {
	head, err := s.repo.Head(ctx)
	if err != nil {
		return nil, err
	}
	branches, err := s.repo.Branches(ctx)
	if err != nil {
		return nil, err
	}
	tags, err := s.repo.Tags(ctx)
	if err != nil {
		return nil, err
	}
	return &Summary{Head: head, Branches: branches, Tags: tags}, nil
}

// broadcastSummary pushes the current summary to every connected client.
// Slow clients drop updates rather than blocking the loop.
func (s *Server) broadcastSummary() {
	summary, err := s.buildSummary(s.ctx)
	if err != nil {
		s.logger.Error("Failed to build summary", "err", err)
		return
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		s.logger.Error("Failed to encode summary", "err", err)
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for client := range s.clients {
		select {
		case client <- payload:
		default:
			s.logger.Warn("Dropping update for slow client")
		}
	}
}
