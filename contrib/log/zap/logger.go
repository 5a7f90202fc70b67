package zap

import (
	"log/slog"

	"github.com/fluxsets/cargo/option"
	slogzap "github.com/samber/slog-zap/v2"
	"go.uber.org/zap"
)

// NewLogger builds a slog logger backed by a zap production logger. An empty
// logLevel falls back to the option's level.
func NewLogger(o *option.Option, logLevel string) *slog.Logger {
	level := slog.LevelInfo
	atomicLevel := zap.NewAtomicLevel()
	if logLevel == "" {
		logLevel = o.LogLevel
	}

	zapLevel := zap.InfoLevel
	if logLevel != "" {
		_ = level.UnmarshalText([]byte(logLevel))
		_ = zapLevel.UnmarshalText([]byte(logLevel))
	}
	atomicLevel.SetLevel(zapLevel)

	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = atomicLevel
	zapLogger, err := zapConfig.Build()
	if err != nil {
		return slog.Default()
	}
	logger := slog.New(slogzap.Option{Level: level, Logger: zapLogger}.NewZapHandler())
	return logger.With("version", o.Version, "service_name", o.Name, "service_id", o.ID)
}
