package engine

import (
	"go.uber.org/zap"

	"github.com/ban1717/scripto/prepare"
)

// Logger returns the engine's logger instance.
// It is a no-op logger unless Options.Logger was set.
func (e *Engine) Logger() *zap.Logger {
	return e.logger
}

func hashField(key string, h prepare.Hash) zap.Field {
	return zap.String(key, h.String()[:16])
}
