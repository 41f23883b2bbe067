// Package server exposes the VoxBridge HTTP surface: the client
// websocket endpoint that carries the session wire protocol, the
// /healthz and /readyz probes, and the Prometheus /metrics scrape.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/nxtg-ai/voxbridge/internal/config"
	"github.com/nxtg-ai/voxbridge/internal/health"
	"github.com/nxtg-ai/voxbridge/internal/observe"
	"github.com/nxtg-ai/voxbridge/internal/session"
)

// shutdownTimeout bounds the graceful HTTP drain after ctx cancellation.
const shutdownTimeout = 10 * time.Second

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithHealthCheckers sets the readiness checkers behind /readyz.
func WithHealthCheckers(checkers ...health.Checker) Option {
	return func(s *Server) { s.checkers = checkers }
}

// WithMetrics sets the request metrics recorded by the HTTP middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMetricsHandler overrides the /metrics handler. Defaults to the
// Prometheus default-registry handler the OTel bridge exports into.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// Server serves client sessions over websockets plus the operational
// endpoints.
type Server struct {
	cfg            config.ServerConfig
	manager        *session.Manager
	log            *slog.Logger
	checkers       []health.Checker
	metrics        *observe.Metrics
	metricsHandler http.Handler
}

// New creates a server around a session manager.
func New(cfg config.ServerConfig, manager *session.Manager, opts ...Option) *Server {
	s := &Server{
		cfg:            cfg,
		manager:        manager,
		log:            slog.Default(),
		metricsHandler: promhttp.Handler(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "server")
	return s
}

// Handler builds the full route table wrapped in the observability
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	health.New(s.checkers...).Register(mux)
	mux.Handle("GET /metrics", s.metricsHandler)
	mux.HandleFunc("GET /v1/session", s.handleSession)

	if s.metrics != nil {
		return observe.Middleware(s.metrics)(mux)
	}
	return mux
}

// handleSession upgrades the connection and runs one full session over
// it. The handler returns when the session ends.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Browser clients connect from arbitrary app origins; the session
		// protocol itself carries no ambient credentials.
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	transport := &wsTransport{conn: conn}
	if err := s.manager.Handle(r.Context(), transport); err != nil {
		s.log.Warn("session ended with error", "remote", r.RemoteAddr, "error", err)
	}
}

// Run serves until ctx is cancelled, then drains sessions and shuts the
// listener down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := s.cfg.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
		// Websocket sessions are long-lived; only bound the handshake.
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info("listening", "addr", addr, "tls", s.cfg.TLS != nil)
		var err error
		if s.cfg.TLS != nil {
			err = srv.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: listen: %w", err)
	})

	g.Go(func() error {
		err := s.manager.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// wsTransport adapts a coder/websocket connection to session.Transport.
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) ReadMessage(ctx context.Context) ([]byte, error) {
	_, data, err := t.conn.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("server: read: %w", err)
	}
	return data, nil
}

func (t *wsTransport) WriteMessage(ctx context.Context, data []byte) error {
	if err := t.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("server: write: %w", err)
	}
	return nil
}

func (t *wsTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "session closed")
}
