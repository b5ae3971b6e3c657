package observability

import (
	"github.com/danmuck/edgefetch/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger configures the process logger for app and returns it.
func InitLogger(app string) zerolog.Logger {
	logging.ConfigureRuntime(app)
	return log.Logger
}
