package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/afroash/env-logger/internal/config"
	"github.com/afroash/env-logger/internal/logging"
	"github.com/afroash/env-logger/internal/pm1006"
)

const version = "v0.3.0"

func main() {
	configPath := flag.String("config", "configs/logger.yaml", "path to config file")
	listPorts := flag.Bool("list-ports", false, "list serial ports and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}
	if *listPorts {
		ports, err := pm1006.Ports()
		if err != nil {
			log.Fatalf("Failed to list serial ports: %v", err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, closer, err := logging.New(cfg.Logging, "env-logger")
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer closer.Close()

	logger.Info().
		Str("version", version).
		Str("device_id", cfg.Device.ID).
		Str("config", cfg.String()).
		Msg("Starting environment logger")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("Logger stopped with error")
		closer.Close()
		os.Exit(1)
	}
	logger.Info().Msg("Logger stopped")
}
