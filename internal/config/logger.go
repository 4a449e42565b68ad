package config

import (
	"os"

	"github.com/rs/zerolog"
)

// NewLogger builds the root logger for a binary: JSON on stdout, or a
// console writer in dev.
func NewLogger(cfg Config, component string) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("component", component).Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Str("component", component).Logger()
	}
	return logger
}
