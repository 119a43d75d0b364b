package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/thermolog/internal/config"
	"github.com/afroash/thermolog/internal/server"
	"github.com/afroash/thermolog/internal/storage"
)

const version = "v0.1.0"

func main() {
	configPath := flag.String("config", "configs/collector.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadCollectorConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := cfg.Logging.NewLogger(os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Collector failed")
	}
}

// collector bundles the stores and handlers behind the HTTP mux
type collector struct {
	mux     *http.ServeMux
	live    *server.MemoryStore
	handler *server.Handler
	store   *storage.SQLiteStore
	writer  *storage.DBWriter
	cleaner *storage.RetentionCleaner
	logger  zerolog.Logger
}

func newCollector(cfg *config.CollectorConfig, logger zerolog.Logger) (*collector, error) {
	c := &collector{
		mux:    http.NewServeMux(),
		live:   server.NewMemoryStore(cfg.Live.PerChannel),
		logger: logger,
	}

	if cfg.Database.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		store, err := storage.NewSQLiteStore(cfg.Database.Path, logger)
		if err != nil {
			return nil, err
		}
		c.store = store
		c.writer = storage.NewDBWriter(store, storage.DBWriterConfig{
			BatchSize:   cfg.Database.BatchSize,
			FlushPeriod: cfg.Database.FlushPeriod,
			ChannelSize: cfg.Database.ChannelSize,
		}, logger)
	}

	c.handler = server.NewHandler(cfg.Server.AuthToken, c.live, logger, cfg.Server.AllowedOrigins...)
	var api *server.APIHandler
	if c.store != nil {
		c.handler.SetDBWriter(c.writer)
		// Connected samplers keep their rows however old they are
		c.cleaner = storage.NewRetentionCleaner(c.store, storage.RetentionCleanerConfig{
			RetentionDays:  cfg.Database.RetentionDays,
			CleanupPeriod:  cfg.Database.CleanupPeriod,
			ActiveSessions: c.handler.ActiveSessionIDs,
		}, logger)
		api = server.NewAPIHandlerWithHistory(c.live, c.store, logger)
	} else {
		api = server.NewAPIHandler(c.live, logger)
	}
	api.SetActiveSource(c.handler)
	api.Register(c.mux)

	c.mux.Handle("/stream", c.handler)
	c.mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","version":"%s"}`, version)
	})
	return c, nil
}

// close stops the sampler connections before flushing storage
func (c *collector) close() {
	c.handler.CloseAll()
	if c.store == nil {
		return
	}
	c.writer.Stop()
	c.cleaner.Stop()
	if err := c.store.Close(); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to close database")
	}
	c.logger.Info().Msg("Storage closed")
}

func serve(ctx context.Context, cfg *config.CollectorConfig, logger zerolog.Logger) error {
	c, err := newCollector(cfg, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      c.mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info().
		Str("version", version).
		Str("addr", srv.Addr).
		Bool("database", c.store != nil).
		Msg("Starting thermolog collector")
	logger.Debug().Str("config", cfg.String()).Msg("Loaded configuration")

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		c.close()
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down collector...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
	}
	c.close()
	logger.Info().Msg("Collector stopped")
	return nil
}
