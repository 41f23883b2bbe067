// Command voxbridge is the VoxBridge voice interaction server: it
// accepts client websocket sessions and arbitrates each one between a
// reflex lane, an upstream reasoning lane, and a safe fallback lane.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nxtg-ai/voxbridge/internal/config"
	"github.com/nxtg-ai/voxbridge/internal/health"
	"github.com/nxtg-ai/voxbridge/internal/observe"
	"github.com/nxtg-ai/voxbridge/internal/server"
	"github.com/nxtg-ai/voxbridge/internal/session"
	"github.com/nxtg-ai/voxbridge/pkg/knowledge"
	"github.com/nxtg-ai/voxbridge/pkg/realtime"
	"github.com/nxtg-ai/voxbridge/pkg/realtime/openai"
	"github.com/nxtg-ai/voxbridge/pkg/transcriptstore"
	pgstore "github.com/nxtg-ai/voxbridge/pkg/transcriptstore/postgres"
)

// shutdownTimeout bounds the graceful teardown after a stop signal.
const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxbridge: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxbridge: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voxbridge starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName: "voxbridge",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := otelShutdown(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Upstream provider registry ────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinUpstreams(reg)

	provider, err := reg.CreateUpstream(cfg.Upstream)
	if err != nil {
		slog.Error("failed to create upstream provider", "name", cfg.Upstream.Name, "err", err)
		return 1
	}

	// ── Knowledge registries ──────────────────────────────────────────────────
	svc := knowledge.LoadService(cfg.Knowledge.Dirs...)
	claims := knowledge.LoadClaimRegistry(cfg.Knowledge.Dirs...)
	slog.Info("knowledge loaded", "ready", svc.Ready(), "facts", svc.FactCount(), "claims", claims.Len())

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Transcript store (optional) ───────────────────────────────────────────
	var store transcriptstore.Store
	checkers := []health.Checker{health.KnowledgeChecker(svc)}
	if dsn := cfg.Store.PostgresDSN; dsn != "" {
		pg, err := pgstore.NewStore(ctx, dsn)
		if err != nil {
			slog.Error("failed to open transcript store", "err", err)
			return 1
		}
		defer pg.Close()
		store = pg
		checkers = append(checkers, health.StoreChecker(pg.Pool()))
		slog.Info("transcript store connected")
	} else {
		slog.Info("transcript store disabled — transcripts will not be persisted")
	}

	// ── Session manager + server ──────────────────────────────────────────────
	manager := session.NewManager(session.Deps{
		Config:    *cfg,
		Provider:  provider,
		Knowledge: svc,
		Claims:    claims,
		Store:     store,
		Metrics:   metrics,
		Logger:    logger,
	})

	srv := server.New(cfg.Server, manager,
		server.WithLogger(logger),
		server.WithMetrics(metrics),
		server.WithHealthCheckers(checkers...),
	)

	slog.Info("server ready — press Ctrl+C to shut down")
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	slog.Info("goodbye")
	return 0
}

// ── Upstream wiring ───────────────────────────────────────────────────────────

// registerBuiltinUpstreams wires the realtime provider factories that ship
// with VoxBridge into reg.
func registerBuiltinUpstreams(reg *config.Registry) {
	reg.RegisterUpstream("openai-realtime", func(entry config.UpstreamConfig) (realtime.Provider, error) {
		apiKey := entry.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		var opts []openai.Option
		if entry.Model != "" {
			opts = append(opts, openai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		return openai.New(apiKey, opts...), nil
	})
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
