// pkg/logger/logger.go
package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Sugared = *zap.SugaredLogger

// New returns the process logger: JSON production encoding for "prod",
// human-readable development output otherwise. level overrides the
// encoder's default level when it parses ("debug", "warn", ...).
func New(env, level string) Sugared {
	zc := zap.NewDevelopmentConfig()
	if env == "prod" {
		zc = zap.NewProductionConfig()
	}
	if lvl, err := zapcore.ParseLevel(strings.TrimSpace(level)); err == nil && level != "" {
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}
	z, err := zc.Build()
	if err != nil {
		z = zap.NewNop()
	}
	return z.Sugar().With("service", "integration-gateway")
}

// Named scopes a logger to one component, falling back to a no-op logger.
func Named(log Sugared, component string) Sugared {
	if log == nil {
		return zap.NewNop().Sugar()
	}
	return log.Named(component)
}
