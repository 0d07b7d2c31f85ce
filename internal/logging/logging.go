// Package logging builds the service logger.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/kosarica/place-service/config"
)

// ServiceName is attached to every log line
const ServiceName = "place-service"

// New creates the root logger from cfg, writing to stdout
func New(cfg config.LoggingConfig) *zerolog.Logger {
	return NewWithWriter(cfg, os.Stdout)
}

// NewWithWriter creates the root logger writing to out. Format "json"
// writes JSON lines; anything else uses the console writer.
func NewWithWriter(cfg config.LoggingConfig, out io.Writer) *zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	output := out
	if cfg.Format != "json" {
		output = zerolog.ConsoleWriter{Out: out, NoColor: cfg.NoColor}
	}

	logger := zerolog.New(output).Level(level).With().Timestamp().Str("service", ServiceName).Logger()
	return &logger
}
