package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/suPer8Hu/genimage/internal/config"
)

// New creates a zerolog.Logger configured for the given process.
func New(cfg config.Config, component string) zerolog.Logger {
	level := parseLevel(cfg.LogLevel)
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	return log.Output(output).
		With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Str("component", component).
		Str("environment", cfg.Environment).
		Logger().
		Level(level)
}

func parseLevel(raw string) zerolog.Level {
	if raw == "" {
		return zerolog.InfoLevel
	}
	level, err := zerolog.ParseLevel(strings.ToLower(raw))
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}
