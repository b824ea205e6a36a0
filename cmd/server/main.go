// DigDeeper - exploration and chat server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/digdeeper/internal/api"
	"github.com/ashureev/digdeeper/internal/config"
	"github.com/ashureev/digdeeper/internal/generate"
	"github.com/ashureev/digdeeper/internal/health"
	"github.com/ashureev/digdeeper/internal/identity"
	"github.com/ashureev/digdeeper/internal/live"
	"github.com/ashureev/digdeeper/internal/middleware"
	"github.com/ashureev/digdeeper/internal/ratelimit"
	"github.com/ashureev/digdeeper/internal/store"
	"github.com/ashureev/digdeeper/internal/workspace"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout     = 10 * time.Second
	healthProbeInterval = 15 * time.Second
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		return err
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	gen, closeGen := newGenerator(cfg, logger)
	defer closeGen()

	scopes, err := ratelimit.LoadScopes(cfg.RateLimitFile)
	if err != nil {
		return err
	}
	limiter := ratelimit.New(scopes)
	defer limiter.Close()

	registry := workspace.NewRegistry(repo, gen, workspace.Config{
		IdleTTL:    cfg.WorkspaceIdleTTL,
		DepthLimit: cfg.MaxSegmentDepth,
	}, logger)
	sweeper := workspace.NewSweeper(registry, repo, cfg.SnapshotRetention, cfg.SweepInterval, logger)
	hub := live.NewHub()

	h := api.NewHandler(registry, hub, limiter, health.Handler(repo))

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins()))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	h.RegisterRoutes(r)
	r.Get("/ws/live", live.NewHandler(hub, cfg.FrontendURL, cfg.IsDevelopment()).ServeHTTP)

	// Long generation calls hold the response open, so there is no
	// WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sweeper.Run(ctx)
	})

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.GRPCHealthPort != "" {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCHealthPort)
		if err != nil {
			stop()
			return errors.Join(err, g.Wait())
		}
		hs := health.NewGRPCServer(repo, healthProbeInterval)
		g.Go(func() error {
			slog.Info("gRPC health listening", "addr", lis.Addr().String())
			return hs.Serve(ctx, lis)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		hub.CloseAll()
		err := srv.Shutdown(shutdownCtx)
		registry.Close(shutdownCtx)
		if err != nil {
			slog.Error("Server forced to shutdown", "error", err)
		}
		return err
	})

	return g.Wait()
}

// newGenerator returns the Gemini generator when an API key is configured
// and a generator that reports every call as unavailable otherwise.
func newGenerator(cfg *config.Config, logger *slog.Logger) (generate.Generator, func()) {
	if cfg.Gemini.APIKey == "" {
		slog.Info("Text generation disabled (GEMINI_API_KEY not set)")
		return generate.Unavailable{}, func() {}
	}
	g, err := generate.NewGemini(context.Background(), generate.GeminiConfig(cfg.Gemini), logger)
	if err != nil {
		slog.Warn("Failed to create Gemini client, text generation will be disabled", "error", err)
		return generate.Unavailable{}, func() {}
	}
	slog.Info("Text generation enabled", "chat_model", cfg.Gemini.ChatModel, "title_model", cfg.Gemini.TitleModel)
	return g, func() {
		if err := g.Close(); err != nil {
			slog.Warn("Failed to close Gemini client", "error", err)
		}
	}
}
