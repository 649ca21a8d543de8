// Package server exposes the dispatcher over WebSocket.
//
// Every connection is served by its own goroutine. Shutdown is driven by the
// shared shutdown flag: once it is set the server stops accepting, lets each
// connection finish the request it is serving, closes idle connections with a
// going-away close frame and releases the listener.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/codefionn/deskrelay/internal/dispatch"
	"github.com/codefionn/deskrelay/internal/logger"
	"github.com/codefionn/deskrelay/internal/registry"
	"github.com/codefionn/deskrelay/internal/shutdown"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	// DefaultMaxMessageSize is the largest accepted frame.
	DefaultMaxMessageSize = 1 << 20

	// DefaultMaxConnections bounds concurrent connections.
	DefaultMaxConnections = 10

	// DefaultShutdownGrace is how long in-flight requests may take after shutdown.
	DefaultShutdownGrace = 5 * time.Second
)

// Options configures a Server.
type Options struct {
	Host string
	Port int

	Dispatcher *dispatch.Dispatcher
	Registry   *registry.Registry
	Shutdown   *shutdown.Flag

	MaxMessageSize int64
	MaxConnections int
	ShutdownGrace  time.Duration

	// RateLimit is the per-connection message rate; zero disables throttling.
	RateLimit rate.Limit
	RateBurst int
}

// Server accepts WebSocket connections and feeds their frames to the dispatcher.
type Server struct {
	opts       Options
	httpServer *http.Server
	hub        *hub
	upgrader   websocket.Upgrader
	log        *logger.Logger

	mu       sync.Mutex
	listener net.Listener

	// handlerCtx outlives shutdown so in-flight handlers are never cancelled
	// by it; it is cancelled only after connections were force-closed.
	handlerCtx    context.Context
	cancelHandler context.CancelFunc
}

// New creates a server. It does not bind until Listen or Run.
func New(opts Options) *Server {
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = DefaultMaxMessageSize
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = DefaultShutdownGrace
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 1
	}

	s := &Server{
		opts: opts,
		hub:  newHub(opts.MaxConnections),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Clients authenticate per message, not per origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: logger.Global().WithPrefix("server"),
	}
	s.handlerCtx, s.cancelHandler = context.WithCancel(context.Background())

	router := httprouter.New()
	router.GET("/", s.handleWebSocket)
	router.GET("/healthz", s.handleHealth)

	s.httpServer = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          logger.StdLogger(s.log, slog.LevelWarn),
	}
	return s
}

// Handler returns the HTTP handler serving the WebSocket endpoint and /healthz.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Listen binds the configured address. A port of 0 picks a free port.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return nil
	}
	addr := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address, or "" before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run serves until the shutdown flag is set or ctx is done, then tears the
// server down. Only a bind failure or a failing serve loop is returned.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	defer s.cancelHandler()

	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()

	s.log.Info("Listening on ws://%s/", ln.Addr())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-s.opts.Shutdown.Done():
		case <-gctx.Done():
		}
		s.stop()
		return nil
	})

	return g.Wait()
}

func (s *Server) stop() {
	s.log.Info("Closing server")

	s.hub.drain()

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownGrace)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.log.Warn("HTTP shutdown: %v", err)
	}

	if !s.hub.wait(s.opts.ShutdownGrace) {
		s.log.Warn("Connections still busy after %s, closing them", s.opts.ShutdownGrace)
		s.hub.closeAll()
		s.cancelHandler()
		s.hub.wait(time.Second)
	}

	s.log.Info("Server closed")
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	c := &conn{
		id:  uuid.NewString(),
		srv: s,
	}
	c.log = s.log.WithPrefix(c.id[:8])
	if s.opts.RateLimit > 0 {
		c.limiter = rate.NewLimiter(s.opts.RateLimit, s.opts.RateBurst)
	}

	if err := s.hub.track(c); err != nil {
		s.log.Warn("Rejecting connection from %s: %v", r.RemoteAddr, err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.hub.untrack(c)
		s.log.Error("Failed to upgrade WebSocket: %v", err)
		return
	}

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()

	c.log.Info("Connection from %s (active: %d)", r.RemoteAddr, s.hub.count())
	go c.serve(s.handlerCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	body := map[string]interface{}{"status": "ok", "generation": uint64(0), "actions": 0}
	if s.opts.Registry != nil {
		if gen := s.opts.Registry.Current(); gen != nil {
			body["generation"] = gen.Number
			body["actions"] = gen.Len()
			body["fingerprint"] = gen.FingerprintHex()
		}
	}
	if s.opts.Shutdown != nil && s.opts.Shutdown.IsSet() {
		body["status"] = "shutting_down"
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Debug("failed to write health response: %v", err)
	}
}
