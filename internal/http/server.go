package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"tailscale.com/tsnet"

	"github.com/letsgohq/letsgo/internal/config"
	"github.com/letsgohq/letsgo/internal/gateway"
)

// RouteRegistrar is implemented by adapters that expose HTTP routes
// (webchat, canvas, webhook).
type RouteRegistrar interface {
	RegisterRoutes(mux *http.ServeMux)
}

// Server is the gateway HTTP listener: health, channel routes, and the
// admin surface. An optional tsnet listener serves the same mux on the
// tailnet.
type Server struct {
	cfg    *config.Config
	daemon *gateway.Daemon
	mux    *http.ServeMux

	httpServer *http.Server
	ts         *tsnet.Server
}

// NewServer builds the server and its route table.
func NewServer(cfg *config.Config, daemon *gateway.Daemon) *Server {
	s := &Server{cfg: cfg, daemon: daemon}
	s.mux = s.buildMux()
	return s
}

func (s *Server) buildMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintln(w, `{"status":"ok"}`)
	})

	// Channel-owned routes (webchat, canvas, webhooks). These bypass
	// admin auth by design; /chat/* and /canvas/* are the user surface.
	for _, name := range s.daemon.Manager().Names() {
		ch, ok := s.daemon.Manager().Get(name)
		if !ok {
			continue
		}
		if registrar, ok := ch.(RouteRegistrar); ok {
			registrar.RegisterRoutes(mux)
			slog.Debug("channel routes mounted", "channel", name, "type", ch.Type())
		}
	}

	// Fail closed: without enabled+token the admin routes are never
	// mounted and return 404 like any unknown path.
	if s.cfg.Admin.Enabled && s.cfg.Admin.Token != "" {
		NewAdminHandler(s.daemon, s.cfg).RegisterRoutes(mux)
		slog.Info("admin surface mounted")
	} else {
		slog.Info("admin surface disabled")
	}

	return mux
}

// Mux exposes the route table (tests, extra listeners).
func (s *Server) Mux() *http.ServeMux { return s.mux }

// Start listens until ctx is cancelled, then shuts down gracefully
// within the configured grace window.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.cfg.Tailscale.Hostname != "" {
		go s.serveTailnet(ctx)
	}

	slog.Info("gateway listening", "addr", addr)

	go func() {
		<-ctx.Done()
		grace := time.Duration(s.cfg.Gateway.ShutdownGraceSec) * time.Second
		if grace <= 0 {
			grace = 5 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
		if s.ts != nil {
			_ = s.ts.Close()
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// serveTailnet exposes the same mux on the tailnet via tsnet, so the
// admin surface can stay off the public interface entirely.
func (s *Server) serveTailnet(ctx context.Context) {
	s.ts = &tsnet.Server{
		Hostname: s.cfg.Tailscale.Hostname,
		AuthKey:  s.cfg.Tailscale.AuthKey,
		Dir:      config.ExpandHome(s.cfg.Tailscale.StateDir),
	}

	ln, err := s.ts.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Gateway.Port))
	if err != nil {
		slog.Error("tailnet listen failed", "hostname", s.cfg.Tailscale.Hostname, "error", err)
		return
	}
	slog.Info("gateway listening on tailnet",
		"hostname", s.cfg.Tailscale.Hostname, "port", s.cfg.Gateway.Port)

	srv := &http.Server{Handler: s.mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		slog.Warn("tailnet server exited", "error", err)
	}
}
