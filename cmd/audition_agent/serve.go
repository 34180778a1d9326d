package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonathan/role-audition/internal/config"
	"github.com/jonathan/role-audition/internal/extraction"
	"github.com/jonathan/role-audition/internal/scaffold"
	"github.com/jonathan/role-audition/internal/server"
	"github.com/jonathan/role-audition/internal/server/ratelimit"
	"github.com/jonathan/role-audition/internal/tracker"
	"github.com/spf13/cobra"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long:  `Start an HTTP server that exposes role definition extraction and audition scaffold endpoints.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (default 8080, or PORT)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = servePort
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable is required")
	}
	if err := requireAPIKey(cfg); err != nil {
		return err
	}
	jwtConfig, err := config.NewJWTConfig()
	if err != nil {
		return fmt.Errorf("failed to create JWT config: %w", err)
	}

	logger := newLogger(os.Stderr, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	client, err := newLLMClient(ctx, cfg.APIKey)
	if err != nil {
		return fmt.Errorf("failed to create generation client: %w", err)
	}
	defer client.Close()

	scaffolds := tracker.New(store, scaffold.NewBuilder(client, nil, logger), trackerOptions(cfg, logger))
	defer scaffolds.Close()

	srv, err := server.New(server.Config{Port: cfg.Port}, server.Deps{
		Store:     store,
		Extractor: extraction.NewExtractor(client, extraction.WithLogger(logger)),
		Scaffolds: scaffolds,
		Tokens:    server.NewJWTService(jwtConfig).AsTokenValidator(),
		Limiter:   ratelimit.NewLimiter(ratelimit.LoadConfig()),
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	logger.Info("audition service configured",
		"port", cfg.Port,
		"generation_timeout", cfg.GenerationTimeout,
		"shared_scaffold_cache", cfg.SharedScaffoldCache)
	return srv.Run(ctx)
}
