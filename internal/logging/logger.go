// Package logging provides structured logging for slotboard.
//
// Call sites use the package-level helpers with an optional context map:
//
//	logging.Info("Sync completed", map[string]interface{}{"uploaded": n})
//
// The helpers write to a process-wide zap logger installed by Init.
package logging

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kimhsiao/slotboard/internal/config"
)

var (
	mu     sync.RWMutex
	global = zap.NewNop()
)

// New builds a zap logger from configuration.
// Format "console" selects the development encoder; anything else produces JSON.
func New(cfg config.LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config

	switch cfg.Format {
	case "console":
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapCfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger, nil
}

// Init installs the process-wide logger. Passing nil restores the no-op logger.
func Init(logger *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		logger = zap.NewNop()
	}
	global = logger
}

// L returns the process-wide logger.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return global
}

// Sync flushes buffered log entries.
func Sync() error {
	return L().Sync()
}

// fields converts context maps into zap fields in a stable key order.
func fields(context ...map[string]interface{}) []zap.Field {
	if len(context) == 0 {
		return nil
	}

	merged := context[0]
	if len(context) > 1 {
		merged = make(map[string]interface{})
		for _, c := range context {
			for k, v := range c {
				merged[k] = v
			}
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		out = append(out, zap.Any(k, merged[k]))
	}
	return out
}

// Debug logs a debug message.
func Debug(message string, context ...map[string]interface{}) {
	L().Debug(message, fields(context...)...)
}

// Info logs an info message.
func Info(message string, context ...map[string]interface{}) {
	L().Info(message, fields(context...)...)
}

// Warn logs a warning message.
func Warn(message string, context ...map[string]interface{}) {
	L().Warn(message, fields(context...)...)
}

// Error logs an error message.
func Error(message string, err error, context ...map[string]interface{}) {
	fs := fields(context...)
	if err != nil {
		fs = append(fs, zap.Error(err))
	}
	L().Error(message, fs...)
}

// ErrorWithCode logs an error tagged with an application error code.
func ErrorWithCode(message, code string, err error, context ...map[string]interface{}) {
	fs := append(fields(context...), zap.String("error_code", code))
	if err != nil {
		fs = append(fs, zap.Error(err))
	}
	L().Error(message, fs...)
}
