// Package server exposes the streaming engine over HTTP: a websocket channel
// per listener, the synchronous word endpoint, the story composer, health and
// metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/dgnsrekt/wordcast/internal/cache"
	"github.com/dgnsrekt/wordcast/internal/compose"
	"github.com/dgnsrekt/wordcast/internal/session"
	"github.com/dgnsrekt/wordcast/internal/telemetry"
	"github.com/dgnsrekt/wordcast/internal/window"
)

// Resolver is what the server needs from the window generator.
type Resolver interface {
	session.Resolver
	ResolveAll(ctx context.Context, text string) ([]window.Result, error)
}

// StatsSource reports unit store statistics for the health endpoint.
type StatsSource interface {
	Stats() cache.Stats
}

// Config configures a Server.
type Config struct {
	Addr         string
	Resolver     Resolver
	Engine       string // synthesizer name reported by /health
	Composer     compose.Composer
	Decorator    compose.Decorator
	Store        StatsSource
	Telemetry    *telemetry.Telemetry
	Logger       *log.Logger
	MaxTextBytes int64 // request body limit, defaults to 1MiB
}

// Server owns the listeners' sessions.
type Server struct {
	cfg      Config
	logger   *log.Logger
	upgrader websocket.Upgrader
	mux      *http.ServeMux

	// ctx outlives every connection; it bounds background resolution.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	conns  map[*conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// New creates a Server.
func New(cfg Config) *Server {
	if cfg.MaxTextBytes <= 0 {
		cfg.MaxTextBytes = 1 << 20
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:    cfg,
		logger: logger.WithPrefix("server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 64 * 1024,
		},
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[*conn]struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("POST /api/words", s.handleWords)
	mux.HandleFunc("POST /api/story", s.handleStory)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", cfg.Telemetry.Handler())
	s.mux = mux

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.mux }

// Sessions returns the number of connected listeners.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("Listening", "addr", s.cfg.Addr, "engine", s.cfg.Engine)

	select {
	case err, ok := <-errCh:
		if ok {
			s.Close()
			return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
		}
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP shutdown error", "err", err)
	}
	s.Close()
	return nil
}

// Close disconnects every listener, stops background resolution and waits
// for the sessions to finish.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	for c := range s.conns {
		c.shutdown()
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

// add registers c. It reports false once Close has started.
func (s *Server) add(c *conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) closing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) remove(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	n := len(s.conns)
	s.mu.Unlock()
	s.logger.Debug("Listener left", "session", c.sess.ID(), "connected", n)
}
