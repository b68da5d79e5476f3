package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"music-tutor/backend/internal/adapter"
	"music-tutor/backend/internal/agent"
	"music-tutor/backend/internal/conversation"
	"music-tutor/backend/internal/credentials"
	"music-tutor/backend/internal/events"
	"music-tutor/backend/internal/proxy"
	"music-tutor/backend/internal/tools"
	"music-tutor/backend/pkg/config"
	"music-tutor/backend/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}

	// Initialize logger
	if err := logger.Init(cfg.Env, cfg.LogLevel); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting music tutor server...",
		zap.String("env", cfg.Env),
		zap.String("model", cfg.LLMModel),
	)

	ctx := context.Background()

	// Credential persistence
	store, closeStore, err := newCredentialStore(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to open credential store", zap.Error(err))
	}
	defer closeStore()

	// Initialize dependencies
	llmAdapter := adapter.NewLLMAdapter(cfg.LLMBaseURL, cfg.LLMModel,
		adapter.WithHTTPClient(&http.Client{Timeout: cfg.LLMTimeout}),
	)
	toolbox := tools.NewToolbox(tools.Settings{
		ReplicateBaseURL: cfg.ReplicateBaseURL,
		AudioModel:       cfg.AudioModel,
		ProxyURL:         cfg.EffectiveProxyURL(),
		PollInterval:     cfg.PollInterval,
		JobTimeout:       cfg.JobTimeout,
	})
	orchestrator := agent.NewOrchestrator(llmAdapter, toolbox.For, agent.WithMaxTurns(cfg.MaxTurns))

	s := &server{
		sessions:     conversation.NewRegistry(),
		credentials:  credentials.NewProvider(credentials.FromOverrides(cfg.Overrides), store),
		orchestrator: orchestrator,
		hub:          events.NewHub(),
		proxy: proxy.NewHandler(proxy.Config{
			AllowedHosts: cfg.ProxyAllowedHosts,
			Timeout:      cfg.ProxyTimeout,
		}),
		production: cfg.IsProduction(),
		logger:     log,
	}

	// Start server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: s.router(),
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("Server started",
		zap.String("port", cfg.Port),
		zap.String("model", llmAdapter.Model()),
		zap.String("proxy_url", cfg.EffectiveProxyURL()),
		zap.String("credential_store", cfg.CredentialStore),
	)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
}

// newCredentialStore opens the configured backend. The returned func releases it.
func newCredentialStore(ctx context.Context, cfg *config.Config) (credentials.Store, func(), error) {
	switch cfg.CredentialStore {
	case config.CredentialStoreRedis:
		store, err := credentials.NewRedisStore(ctx, credentials.RedisStoreConfig{
			Address:  cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	default:
		return credentials.NewFileStore(cfg.CredentialsFile), func() {}, nil
	}
}
