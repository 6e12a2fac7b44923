// Steward gateway server — routes natural-language requests to
// specialized agents, enforces budgets, and serves the HTTP/WS API.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/steward-ai/steward/pkg/api"
	"github.com/steward-ai/steward/pkg/budget"
	"github.com/steward-ai/steward/pkg/config"
	"github.com/steward-ai/steward/pkg/dispatch"
	"github.com/steward-ai/steward/pkg/health"
	"github.com/steward-ai/steward/pkg/llm"
	"github.com/steward-ai/steward/pkg/orchestrate"
	"github.com/steward-ai/steward/pkg/router"
	"github.com/steward-ai/steward/pkg/services"
	"github.com/steward-ai/steward/pkg/session"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// logNotifier is the budget warning side-channel: warnings are logged,
// never blocking the request path.
type logNotifier struct{}

func (logNotifier) NotifyWarning(project, tier string, spentUSD, limitUSD float64) {
	slog.Warn("Budget warning threshold crossed",
		"project", project,
		"tier", tier,
		"spent_usd", spentUSD,
		"limit_usd", limitUSD)
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	slog.Info("Starting steward", "http_port", httpPort, "config_dir", *configDir)

	ctx := context.Background()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}
	stats := cfg.Stats()
	slog.Info("Configuration loaded", "agents", stats.Agents, "providers", stats.Providers)

	providers, err := llm.NewRegistry(cfg.ProviderRegistry.GetAll())
	if err != nil {
		slog.Error("Failed to build provider registry", "error", err)
		os.Exit(1)
	}

	enforcer, err := budget.NewEnforcer(cfg.Budget, cfg.AgentRegistry, logNotifier{})
	if err != nil {
		slog.Error("Failed to initialize budget enforcer", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := enforcer.Close(); err != nil {
			slog.Error("Error closing cost ledger", "error", err)
		}
	}()

	tracker := health.NewTracker()

	var cache router.DecisionCache
	if cfg.Router.CacheBackend == config.CacheBackendRedis {
		cache = router.NewRedisCache(cfg.Router.RedisAddr)
		slog.Info("Router decision cache on Redis", "addr", cfg.Router.RedisAddr)
	}
	var embedder router.Embedder
	if cfg.Router.EmbedderURL != "" {
		embedder = router.NewOllamaEmbedder(cfg.Router.EmbedderURL, cfg.Router.EmbedderModel)
	}
	selectRouter := router.New(cfg.Router, cfg.AgentRegistry, cache, embedder, tracker)
	if embedder != nil {
		if selectRouter.EnableSemantic(ctx) {
			slog.Info("Semantic routing enabled", "model", cfg.Router.EmbedderModel)
		} else {
			slog.Warn("Semantic routing unavailable; continuing with keyword and cost scoring")
		}
	}

	tools := dispatch.NewToolRegistry()
	dispatcher := dispatch.New(cfg.Dispatch, cfg.AgentRegistry, providers, tracker, enforcer, tools)
	orchestrator := orchestrate.New(cfg.Orchestrator, selectRouter, dispatcher, enforcer)

	sessions, err := session.NewManager(cfg.Sessions)
	if err != nil {
		slog.Error("Failed to initialize session store", "error", err)
		os.Exit(1)
	}

	chat := services.NewChatService(cfg.AgentRegistry, selectRouter, dispatcher, orchestrator, enforcer, sessions)
	server := api.NewServer(cfg.Server, chat, selectRouter, tracker, enforcer)

	httpServer := &http.Server{
		Addr:              ":" + httpPort,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
