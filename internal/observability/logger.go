package observability

import (
	"github.com/danmuck/chatlink/internal/logging"
	"github.com/rs/zerolog"
)

// InitLogger configures runtime logging and returns the app logger.
func InitLogger(app string) zerolog.Logger {
	logging.ConfigureRuntime()
	return logging.Component(app)
}
