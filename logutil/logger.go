package logutil

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger *zap.Logger
	once   sync.Once
)

// InitLogger builds the process-wide logger. Unknown levels fall back to info.
func InitLogger(level string) {
	once.Do(func() {
		logger = newLogger(level)
	})
}

// GetLogger returns the process-wide logger, initialising it at info level if needed
func GetLogger() *zap.Logger {
	InitLogger("info")
	return logger
}

func newLogger(level string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := cfg.Build()
	if err != nil {
		return zap.NewExample()
	}
	return l
}
