package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/jonathan/role-audition/internal/config"
	"github.com/jonathan/role-audition/internal/db"
	"github.com/jonathan/role-audition/internal/llm"
	"github.com/jonathan/role-audition/internal/localstore"
	"github.com/jonathan/role-audition/internal/server"
	"github.com/jonathan/role-audition/internal/tracker"
)

// defaultLocalDB is used by commands that need a store when none is configured.
const defaultLocalDB = config.SQLitePrefix + ".audition"

// newLLMClient is replaced in tests.
var newLLMClient = func(ctx context.Context, apiKey string) (llm.Client, error) {
	return llm.NewClient(ctx, llm.DefaultConfig(), apiKey)
}

// loadConfig layers the config file, environment and --log-level flag over
// the defaults and validates the result.
func loadConfig() (config.Config, error) {
	cfg := config.Config{}
	if configPath != "" {
		fileCfg, err := config.LoadConfig(configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = *fileCfg
	}
	if err := cfg.ApplyEnv(); err != nil {
		return config.Config{}, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	cfg = cfg.MergeWithDefaults(config.Default())
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newLogger(w io.Writer, level string) *slog.Logger {
	lvl, err := config.ParseLogLevel(level)
	if err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func requireAPIKey(cfg config.Config) error {
	if cfg.APIKey == "" {
		return fmt.Errorf("API key is required (set GEMINI_API_KEY or api_key in the config file)")
	}
	return nil
}

// appStore is everything the service persists.
type appStore interface {
	server.ProjectStore
	tracker.Store
}

// openStore opens Postgres, or the SQLite store for a sqlite:<dir> URL.
func openStore(ctx context.Context, databaseURL string, logger *slog.Logger) (appStore, func(), error) {
	if dir, ok := (&config.Config{DatabaseURL: databaseURL}).SQLiteDir(); ok {
		if dir == "" {
			dir = localstore.MemoryDSN
		}
		store, err := localstore.Open(dir)
		if err != nil {
			return nil, nil, fmt.Errorf("opening local store: %w", err)
		}
		logger.Debug("using local store", "dir", dir)
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Warn("closing local store", "error", err)
			}
		}, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	database, err := db.Connect(connectCtx, databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := database.Migrate(connectCtx); err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return database, database.Close, nil
}

func trackerOptions(cfg config.Config, logger *slog.Logger) tracker.Options {
	return tracker.Options{
		Timeout:     time.Duration(cfg.GenerationTimeout),
		Estimate:    time.Duration(cfg.GenerationEstimate),
		SharedCache: cfg.SharedScaffoldCache,
		Logger:      logger,
	}
}

func writeOutput(w io.Writer, path string, data []byte) error {
	if path == "" {
		_, err := fmt.Fprintln(w, string(data))
		return err
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return nil
}
