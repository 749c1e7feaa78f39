// Package logging builds the process logger from LoggingConfig.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/env-logger/internal/config"
)

// New returns a logger writing to stdout, or appending to cfg.FilePath when
// set. The returned closer releases the file.
func New(cfg config.LoggingConfig, service string) (zerolog.Logger, io.Closer, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		return zerolog.Nop(), nil, fmt.Errorf("invalid log level %q", cfg.Level)
	}

	var out io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}
	if cfg.FilePath != "" {
		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("open log file: %w", err)
		}
		out, closer = f, f
	}

	switch strings.ToLower(cfg.Format) {
	case "", "json":
	case "text", "console":
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
			NoColor:    cfg.FilePath != "",
		}
	default:
		closer.Close()
		return zerolog.Nop(), nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}

	logger := zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("service", service).
		Logger()
	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
