package observability

import (
	"github.com/danmuck/bluetrace/internal/logging"
	"github.com/rs/zerolog"
)

// HTTPLogger derives the request logger for a node from the process logger.
func HTTPLogger(node string) zerolog.Logger {
	return logging.Base().With().Str("app", "bluetrace").Str("node", node).Logger()
}
