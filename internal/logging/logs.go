package logging

import (
	"os"
	"sync/atomic"

	"github.com/rs/zerolog"
)

var current atomic.Pointer[zerolog.Logger]

func init() {
	l := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	current.Store(&l)
}

func setLogger(l zerolog.Logger) {
	current.Store(&l)
}

// Logger returns the process logger for callers that want structured fields.
func Logger() zerolog.Logger {
	return *current.Load()
}

func Tracef(format string, args ...any) {
	current.Load().Trace().Msgf(format, args...)
}

func Debugf(format string, args ...any) {
	current.Load().Debug().Msgf(format, args...)
}

func Infof(format string, args ...any) {
	current.Load().Info().Msgf(format, args...)
}

func Warnf(format string, args ...any) {
	current.Load().Warn().Msgf(format, args...)
}

func Errf(format string, args ...any) {
	current.Load().Error().Msgf(format, args...)
}

// Logf writes without a level so the line survives any level filter.
func Logf(format string, args ...any) {
	current.Load().Log().Msgf(format, args...)
}
