package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/arbi/kvengine/pkg/kv"
)

func NewLogger(env string) (*zap.Logger, error) {
	var config zap.Config

	if env == "prod" {
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	} else {
		config = zap.NewDevelopmentConfig()
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder

	return config.Build()
}

func NewSugar(env string) (*zap.SugaredLogger, error) {
	logger, err := NewLogger(env)
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// KVLogFunc adapts a sugared logger to the logging hook of the kv packages.
// A "level" field of "warn" or "error" picks the level; everything else logs
// at info.
func KVLogFunc(logger *zap.SugaredLogger) kv.LogFunc {
	if logger == nil {
		return func(string, ...any) {}
	}
	logger = logger.WithOptions(zap.AddCallerSkip(1))
	return func(msg string, fields ...any) {
		level, rest := splitLevel(fields)
		switch level {
		case "warn":
			logger.Warnw(msg, rest...)
		case "error":
			logger.Errorw(msg, rest...)
		case "debug":
			logger.Debugw(msg, rest...)
		default:
			logger.Infow(msg, rest...)
		}
	}
}

func splitLevel(fields []any) (string, []any) {
	for i := 0; i+1 < len(fields); i += 2 {
		if k, ok := fields[i].(string); ok && k == "level" {
			level, _ := fields[i+1].(string)
			rest := make([]any, 0, len(fields)-2)
			rest = append(rest, fields[:i]...)
			rest = append(rest, fields[i+2:]...)
			return level, rest
		}
	}
	return "", fields
}
