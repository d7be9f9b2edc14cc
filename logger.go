package fyk

import (
	"os"

	"github.com/rs/zerolog"
)

// newLogger builds the client's diagnostic logger. SilentMode wins over
// Debug; the default level is warn so routine operation stays quiet.
func newLogger(cfg Config) zerolog.Logger {
	level := zerolog.WarnLevel
	switch {
	case cfg.SilentMode:
		level = zerolog.ErrorLevel
	case cfg.Debug:
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Str("component", "fyk").Logger()
}
