package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/afroash/env-logger/internal/config"
	"github.com/afroash/env-logger/internal/logging"
	"github.com/afroash/env-logger/internal/server"
	"github.com/afroash/env-logger/internal/storage"
)

const version = "v0.3.0"

func main() {
	configPath := flag.String("config", "configs/server.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadAppConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, closer, err := logging.New(cfg.Logging, "env-collector")
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer closer.Close()

	logger.Info().
		Str("version", version).
		Str("config", cfg.String()).
		Msg("Starting environment collector")

	store := server.NewMemoryStore(cfg.Storage.BufferSize)

	var sqliteStore *storage.SQLiteStore
	var dbWriter *storage.DBWriter
	var retentionCleaner *storage.RetentionCleaner

	if cfg.Database.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755); err != nil {
			logger.Fatal().Err(err).Msg("Failed to create data directory")
		}
		sqliteStore, err = storage.NewSQLiteStore(cfg.Database.Path, logger)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.Database.Path).Msg("Failed to open SQLite store")
		}

		dbWriter = storage.NewDBWriter(sqliteStore, storage.DBWriterConfig{
			BatchSize:   cfg.Database.BatchSize,
			FlushPeriod: cfg.Database.FlushPeriod,
			ChannelSize: cfg.Database.ChannelSize,
		}, logger)

		retentionCleaner = storage.NewRetentionCleaner(sqliteStore, storage.RetentionCleanerConfig{
			RetentionDays: cfg.Database.RetentionDays,
			CleanupPeriod: cfg.Database.CleanupPeriod,
		}, logger)
	}

	mux := http.NewServeMux()

	var apiHandler *server.APIHandler
	if sqliteStore != nil {
		apiHandler = server.NewAPIHandlerWithHistory(store, sqliteStore, logger)
	} else {
		apiHandler = server.NewAPIHandler(store, logger)
	}
	apiHandler.Register(mux)

	handler := server.NewHandler(
		cfg.Server.AuthToken,
		store,
		logger,
		cfg.Server.AllowedOrigins...,
	)
	if dbWriter != nil {
		handler.SetDBWriter(dbWriter)
	}

	mux.Handle("/sensor-stream", handler)
	mux.HandleFunc("GET /api/devices", handler.HandleDevices)
	mux.HandleFunc("GET /health", server.HealthHandler(version))

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("Collector listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info().Msg("Shutting down collector...")

	// Stop accepting readings before draining the writer.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
	}

	if retentionCleaner != nil {
		retentionCleaner.Stop()
	}
	if dbWriter != nil {
		dbWriter.Stop()
		stats := dbWriter.Stats()
		logger.Info().
			Int64("written", stats.TotalWritten).
			Int64("dropped", stats.TotalDropped).
			Msg("DBWriter stopped")
	}
	if sqliteStore != nil {
		if err := sqliteStore.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close SQLite store")
		}
	}

	logger.Info().Msg("Collector stopped")
}
