package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/upskill-ai/salescoach/internal/agent"
	"github.com/upskill-ai/salescoach/internal/analyze"
	"github.com/upskill-ai/salescoach/internal/api"
	"github.com/upskill-ai/salescoach/internal/config"
	"github.com/upskill-ai/salescoach/internal/graphgen"
	"github.com/upskill-ai/salescoach/internal/scenario"
	"github.com/upskill-ai/salescoach/internal/voiceproxy"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the server (default when no subcommand is given)",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	envFile, _ := cmd.Root().PersistentFlags().GetString("env-file")

	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.Logging)

	scenarios := scenario.NewManager(cfg.Server.ScenarioDir, logger)
	agents := agent.NewManager(cfg.Azure.ModelDeployment, logger)
	analyzer := analyze.NewConversationAnalyzer(
		scenarios, cfg.Azure.OpenAIEndpoint, cfg.Azure.OpenAIAPIKey, cfg.Azure.ModelDeployment, logger)
	assessor := analyze.NewPronunciationAssessor(cfg.Speech.Key, cfg.Speech.Region, logger)
	generator := graphgen.NewGenerator(
		cfg.Azure.OpenAIEndpoint, cfg.Azure.OpenAIAPIKey, cfg.Azure.ModelDeployment, logger)
	proxy := voiceproxy.New(agents, voiceproxy.Options{
		ResourceName:     cfg.Azure.ResourceName,
		ProjectName:      cfg.Azure.ProjectName,
		DefaultModel:     cfg.Azure.ModelDeployment,
		DefaultAgentID:   cfg.Azure.AgentID,
		APIKey:           cfg.Azure.OpenAIAPIKey,
		HandshakeTimeout: cfg.Server.HandshakeTimeout,
	}, logger)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           api.NewServer(scenarios, agents, analyzer, assessor, generator, proxy, cfg, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
		case <-ctx.Done():
			return
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}()

	logger.Info("salescoach starting", "version", version, "addr", cfg.Addr())

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
