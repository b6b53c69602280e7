package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap logger for the given environment. "local" gets a console
// encoder at debug level, everything else a production JSON logger.
func New(env string) *zap.Logger {
	var cfg zap.Config

	switch env {
	case "local":
		cfg = zap.NewDevelopmentConfig()
	case "dev":
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	default:
		cfg = zap.NewProductionConfig()
	}

	log, err := cfg.Build()
	if err != nil {
		panic("can't init logger: " + err.Error())
	}
	return log.With(zap.String("service", "signaling-service"))
}
