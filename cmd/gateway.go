package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/letsgohq/letsgo/internal/agent"
	"github.com/letsgohq/letsgo/internal/channels"
	"github.com/letsgohq/letsgo/internal/channels/canvas"
	"github.com/letsgohq/letsgo/internal/channels/discord"
	"github.com/letsgohq/letsgo/internal/channels/slack"
	"github.com/letsgohq/letsgo/internal/channels/telegram"
	"github.com/letsgohq/letsgo/internal/channels/webchat"
	"github.com/letsgohq/letsgo/internal/channels/webhook"
	"github.com/letsgohq/letsgo/internal/channels/whatsapp"
	"github.com/letsgohq/letsgo/internal/config"
	"github.com/letsgohq/letsgo/internal/gateway"
	httpapi "github.com/letsgohq/letsgo/internal/http"
	"github.com/letsgohq/letsgo/internal/store"
	"github.com/letsgohq/letsgo/internal/store/file"
	"github.com/letsgohq/letsgo/internal/store/pg"
	"github.com/letsgohq/letsgo/internal/store/sqlite"
	"github.com/letsgohq/letsgo/internal/telemetry"
)

func runGateway() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	switch strings.ToLower(os.Getenv("LETSGO_LOG_LEVEL")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry init failed", "error", err)
		shutdownTelemetry = func(context.Context) error { return nil }
	}

	stores, err := buildStores(ctx, cfg)
	if err != nil {
		slog.Error("failed to open stores", "backend", cfg.Auth.Store, "error", err)
		os.Exit(1)
	}
	defer stores.Close()

	backend := agent.NewHTTPBackend(cfg.Backend.URL,
		time.Duration(cfg.Backend.TimeoutSeconds)*time.Second)

	registry := channels.DefaultRegistry()
	registerBuiltins(registry)

	daemon := gateway.New(cfg, stores, backend, registry)
	if err := daemon.Start(ctx); err != nil {
		slog.Error("daemon start failed", "error", err)
		os.Exit(1)
	}

	server := httpapi.NewServer(cfg, daemon)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return server.Start(groupCtx)
	})
	group.Go(func() error {
		// Config watch hot-reloads the channel set; other sections need
		// a restart.
		if err := config.Watch(groupCtx, cfgPath, func(next *config.Config) {
			daemon.ReloadChannels(groupCtx, next)
		}); err != nil {
			slog.Warn("config watch unavailable", "error", err)
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		slog.Error("gateway exited with error", "error", err)
	}

	grace := time.Duration(cfg.Gateway.ShutdownGraceSec) * time.Second
	if grace <= 0 {
		grace = 10 * time.Second
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if err := daemon.Stop(stopCtx); err != nil {
		slog.Warn("daemon stop", "error", err)
	}
	if err := shutdownTelemetry(stopCtx); err != nil {
		slog.Warn("telemetry shutdown", "error", err)
	}
}

// registerBuiltins installs the compile-time adapter factories. External
// plugin packages that called channels.Register from init keep
// precedence over these.
func registerBuiltins(r *channels.Registry) {
	r.RegisterBuiltin("telegram", telegram.Factory)
	r.RegisterBuiltin("discord", discord.Factory)
	r.RegisterBuiltin("slack", slack.Factory)
	r.RegisterBuiltin("whatsapp", whatsapp.Factory)
	r.RegisterBuiltin("webhook", webhook.Factory)
	r.RegisterBuiltin("webchat", webchat.Factory)
	r.RegisterBuiltin("canvas", canvas.Factory)
}

// buildStores opens the configured persistence backend: file (default),
// sqlite, or postgres.
func buildStores(ctx context.Context, cfg *config.Config) (*store.Stores, error) {
	opts := store.PairingOptions{
		CodeTTL:      time.Duration(cfg.Auth.CodeTTLSeconds) * time.Second,
		MaxPerMinute: cfg.Auth.MaxPerMinute,
	}.WithDefaults()

	switch cfg.Auth.Store {
	case "", "file":
		pairingPath := config.ExpandHome(cfg.Auth.PairingDBPath)
		pairing, err := file.NewPairingStore(pairingPath, opts)
		if err != nil {
			return nil, fmt.Errorf("open pairing store: %w", err)
		}
		jobsPath := filepath.Join(filepath.Dir(pairingPath), "cron_jobs.json")
		cron, err := file.NewCronStore(jobsPath, config.ExpandHome(cfg.Cron.LogPath))
		if err != nil {
			return nil, fmt.Errorf("open cron store: %w", err)
		}
		return &store.Stores{Pairing: pairing, Cron: cron}, nil

	case "sqlite":
		path := config.ExpandHome(cfg.Database.SQLitePath)
		if path == "" {
			path = config.ExpandHome("~/.letsgo/letsgo.db")
		}
		db, err := sqlite.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return &store.Stores{
			Pairing: sqlite.NewPairingStore(db, opts),
			Cron:    sqlite.NewCronStore(db),
		}, nil

	case "postgres":
		dsn := cfg.Database.PostgresDSN
		if dsn == "" {
			return nil, fmt.Errorf("auth.store is postgres but database.postgres_dsn is empty")
		}
		stores, _, err := pg.Connect(ctx, dsn, opts)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return stores, nil

	default:
		return nil, fmt.Errorf("unknown auth store %q", cfg.Auth.Store)
	}
}
