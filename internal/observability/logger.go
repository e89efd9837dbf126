package observability

import (
	logs "github.com/danmuck/tvremote/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger tags the process logger with app and installs it as the
// zerolog global for middleware that logs through log.Logger.
func InitLogger(app string) zerolog.Logger {
	logs.ConfigureRuntime()
	logger := logs.Logger().With().Str("app", app).Logger()
	log.Logger = logger
	return logger
}
