// Package logging provides structured logging for VibePHP.
package logging

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logger *zap.Logger
	sugar  *zap.SugaredLogger
	once   sync.Once
	mu     sync.Mutex
)

// Options controls how the global logger is built.
type Options struct {
	// Environment selects the encoder: "production" gives JSON, anything else console.
	Environment string
	// File, when set, receives a copy of every entry through a rolling file sink.
	File string
	// Debug lowers the level to debug in production mode.
	Debug bool
}

// Init initializes the global logger from the environment. Safe to call multiple times.
func Init() {
	once.Do(func() {
		replace(build(Options{
			Environment: os.Getenv("ENVIRONMENT"),
			File:        os.Getenv("LOG_FILE"),
		}))
	})
}

// Configure rebuilds the global logger with explicit options. The previous logger is synced.
func Configure(opts Options) {
	old := L()
	replace(build(opts))
	_ = old.Sync()
}

func build(opts Options) *zap.Logger {
	var cfg zap.Config
	if opts.Environment == "production" {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		if opts.Debug {
			cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		}
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// Fallback to nop logger
		return zap.NewNop()
	}

	if opts.File == "" {
		return l
	}

	fileEncoder := zap.NewProductionEncoderConfig()
	fileEncoder.TimeKey = "ts"
	fileEncoder.EncodeTime = zapcore.ISO8601TimeEncoder
	sink := zapcore.AddSync(&lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    15, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	})
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(fileEncoder), sink, cfg.Level)

	return l.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, fileCore)
	}))
}

func replace(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
	sugar = l.Sugar()
}

// L returns the global structured logger
func L() *zap.Logger {
	Init()
	mu.Lock()
	defer mu.Unlock()
	return logger
}

// S returns the global sugared logger (printf-style)
func S() *zap.SugaredLogger {
	Init()
	mu.Lock()
	defer mu.Unlock()
	return sugar
}

// Named returns a child of the global logger scoped to a component.
func Named(component string) *zap.Logger {
	return L().Named(component)
}

// Sync flushes any buffered log entries. Call before app exit.
func Sync() {
	mu.Lock()
	l := logger
	mu.Unlock()
	if l != nil {
		_ = l.Sync()
	}
}

// WithContext returns a logger with additional structured fields
func WithContext(fields ...zap.Field) *zap.Logger {
	return L().With(fields...)
}
