// Command gauntlet runs the test orchestration engine: an HTTP control
// plane plus the loops that drive adversarial Minecraft tests of an
// LLM target agent.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/craftlab-ai/gauntlet/pkg/api"
	"github.com/craftlab-ai/gauntlet/pkg/config"
	"github.com/craftlab-ai/gauntlet/pkg/events"
	"github.com/craftlab-ai/gauntlet/pkg/game"
	"github.com/craftlab-ai/gauntlet/pkg/llm"
	"github.com/craftlab-ai/gauntlet/pkg/runner"
	"github.com/craftlab-ai/gauntlet/pkg/scenario"
	"github.com/craftlab-ai/gauntlet/pkg/storage"
	"github.com/craftlab-ai/gauntlet/pkg/telemetry"
	"github.com/craftlab-ai/gauntlet/pkg/voice"
)

const (
	wsWriteTimeout  = 10 * time.Second
	shutdownTimeout = 30 * time.Second
)

func main() {
	_ = godotenv.Load()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Configuration error", "error", err)
		os.Exit(1)
	}

	repo, closeRepo, err := buildRepository(cfg)
	if err != nil {
		slog.Error("Storage initialisation failed", "error", err)
		os.Exit(1)
	}
	defer closeRepo()

	scenarios := scenario.NewRegistry()
	profiles := scenario.NewProfileRegistry()

	metrics := telemetry.New()
	bus := events.NewBus()
	bus.SetDropHook(metrics.EventsDropped.Inc)
	manager := events.NewConnectionManager(bus, wsWriteTimeout)

	gameCli := game.NewBridgeClient(cfg.MinecraftBridgeURL)
	llmCli := llm.NewHTTPClient(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, 60*time.Second)

	var voiceCli voice.Coordinator
	if cfg.VoiceEnabled() {
		voiceCli = voice.NewBridgeCoordinator(cfg.DiscordBridgeURL, cfg.DiscordBotToken, cfg.ElevenLabsAPIKey)
		slog.Info("Voice coordination enabled", "guild_id", cfg.DiscordGuildID)
	}

	eng := runner.NewRunner(repo, bus, scenarios, profiles, gameCli, llmCli, voiceCli, cfg)
	eng.SetMetrics(metrics)
	service := runner.NewTestService(repo, scenarios, profiles, eng, cfg)

	server := api.NewServer(service, manager, metrics)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Run(":" + cfg.Port) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			slog.Error("HTTP server failed", "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Active runs are cancelled and cleaned up before the HTTP listener
	// goes away, so dashboards see the final events.
	eng.Shutdown(ctx)
	if err := server.Shutdown(ctx); err != nil {
		slog.Warn("HTTP shutdown incomplete", "error", err)
	}
	slog.Info("Shutdown complete")
}

// buildRepository selects the storage backend: PostgreSQL when
// DATABASE_URL is set, otherwise the in-memory store.
func buildRepository(cfg *config.Config) (storage.Repository, func(), error) {
	if cfg.DatabaseURL == "" {
		slog.Info("Using in-memory storage")
		return storage.NewMemoryStore(), func() {}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	store, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("Using PostgreSQL storage")
	return store, func() {
		if err := store.Close(); err != nil {
			slog.Warn("Closing database failed", "error", err)
		}
	}, nil
}
