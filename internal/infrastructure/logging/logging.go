package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger. ROLLOUT_LOG_LEVEL picks the level,
// ROLLOUT_LOG_FORMAT=console switches to the human readable encoder.
func New() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stderr"}

	if strings.EqualFold(os.Getenv("ROLLOUT_LOG_FORMAT"), "console") {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if v := os.Getenv("ROLLOUT_LOG_LEVEL"); v != "" {
		if lvl, err := zapcore.ParseLevel(v); err == nil {
			cfg.Level = zap.NewAtomicLevelAt(lvl)
		}
	}

	log, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return log
}
