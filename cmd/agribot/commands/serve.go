package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agrovoice/agribot/pkg/agribot/config"
	"github.com/agrovoice/agribot/pkg/agribot/coordinator"
	"github.com/agrovoice/agribot/pkg/agribot/graph"
	"github.com/agrovoice/agribot/pkg/agribot/language"
	"github.com/agrovoice/agribot/pkg/agribot/llm"
	"github.com/agrovoice/agribot/pkg/agribot/server"
	"github.com/agrovoice/agribot/pkg/agribot/speech"
	"github.com/agrovoice/agribot/pkg/agribot/tools"
	"github.com/agrovoice/agribot/pkg/agribot/wpp"
)

// newServeCmd creates the `agribot serve` command that starts the webhook
// service.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook service",
		Long: `Start the AgriBot webhook service: listens for WPPConnect events,
aggregates message bursts per sender, and answers through the advisory
pipeline.

Examples:
  agribot serve
  agribot serve --config ./agribot.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	// ── Pipeline components ──
	chat := llm.New(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model,
		time.Duration(cfg.LLM.TimeoutSeconds)*time.Second, logger)

	registry := tools.Build(cfg.Tools, logger)
	logger.Info("tool registry ready", "tools", registry.Len())

	engine := graph.New(chat, registry, logger)

	bridge := language.New(cfg.Language.BaseURL, cfg.Language.APIKey, cfg.Language.Pivot,
		time.Duration(cfg.Language.TimeoutSeconds)*time.Second, logger)

	transcriber := speech.NewTranscriber(cfg.LLM.BaseURL, cfg.LLM.APIKey,
		cfg.Speech.TranscriptionModel,
		time.Duration(cfg.Speech.TimeoutSeconds)*time.Second, logger)

	var synth coordinator.Synthesizer
	if cfg.Speech.TTSEnabled {
		synth = speech.NewSynthesizer(cfg.Language.BaseURL, cfg.Language.APIKey,
			time.Duration(cfg.Speech.TimeoutSeconds)*time.Second, logger)
	}

	gateway := wpp.NewClient(cfg.WPP.BaseURL, cfg.WPP.Session, cfg.WPP.Token,
		time.Duration(cfg.WPP.TimeoutSeconds)*time.Second, logger)

	coord := coordinator.New(cfg.Buffer.WaitTime(), engine, bridge,
		transcriber, synth, gateway, cfg.Reply.Mode, logger)

	srv := server.New(cfg.Server.Address, coord, logger)

	// ── Run until signalled ──
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown incomplete", "error", err)
	}
	coord.Stop()
	logger.Info("goodbye")
	return nil
}

// resolveConfig loads configuration from the --config flag, a discovered
// file, or defaults.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	if path == "" {
		path = config.FindConfigFile()
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the slog logger from the logging config.
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

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}
