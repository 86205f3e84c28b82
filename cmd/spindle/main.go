// Command spindle runs the streaming story relay server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/spindleworks/spindle/internal/cohere"
	"github.com/spindleworks/spindle/internal/config"
	"github.com/spindleworks/spindle/internal/session"
	"github.com/spindleworks/spindle/internal/web"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.Default()

	cmd := &cobra.Command{
		Use:     "spindle",
		Short:   "Streaming story relay server",
		Long:    "spindle relays story generation requests to the Cohere API,\nstreaming tokens back to clients while keeping conversation state in memory.",
		Version: config.Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
		SilenceUsage: true,
	}

	flags := cmd.Flags()
	flags.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	flags.StringVar(&cfg.CohereURL, "cohere-url", cfg.CohereURL, "Cohere generate endpoint URL")
	flags.StringVar(&cfg.CohereModel, "cohere-model", cfg.CohereModel, "Cohere model name")
	flags.DurationVar(&cfg.StreamTimeout, "stream-timeout", cfg.StreamTimeout, "Upstream generation timeout (0 to disable)")
	flags.IntVar(&cfg.MaxHistory, "max-history", cfg.MaxHistory, "Conversation log bound in messages (0 for unbounded)")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")

	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	// A missing credential is fatal at startup, never recoverable at
	// request time.
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg)
	settings := session.DefaultSettings()
	logger.Info().
		Str("version", config.Version).
		Int("port", cfg.Port).
		Float64("humor", settings.Humor).
		Str("emotion", settings.Emotion).
		Bool("roast", settings.Roast).
		Msg("starting spindle, settings initialized")

	store := session.NewStore(cfg.MaxHistory)
	client := cohere.NewClient(cfg.CohereURL, cfg.CohereModel, cfg.APIKey, logger)
	server := web.NewServer(cfg.Addr(), store, client, cfg.StreamTimeout, logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(ctx)
	})

	return g.Wait()
}

// newLogger creates the process logger with the configured level.
func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}
