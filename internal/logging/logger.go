package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/nhle/mailsweep/internal/model"
)

const serviceName = "mailsweep"

// New creates the process logger: JSON on stdout with a timestamp and
// service field, at the configured level.
func New(cfg model.LogConfig) zerolog.Logger {
	return NewWithWriter(os.Stdout, cfg)
}

// NewWithWriter is New with a custom destination.
func NewWithWriter(w io.Writer, cfg model.LogConfig) zerolog.Logger {
	logger := zerolog.New(w).With().
		Timestamp().
		Str("service", serviceName).
		Logger()

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	return logger.Level(level)
}
