// Package logging provides the structured logger used across boxdrive, built on zap.
// It supports configurable levels, JSON or console output, and named child loggers per component.
package logging

import (
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.RWMutex
	logger *zap.Logger
)

// Config holds logging configuration.
type Config struct {
	Level  string    // debug, info, warn, error
	Format string    // json, text
	Output io.Writer // defaults to stderr; stdout carries command output
}

func init() {
	// Usable before Init: quiet by default so library use stays silent.
	logger = zap.New(zapcore.NewCore(createEncoder("text"), zapcore.AddSync(os.Stderr), zapcore.WarnLevel))
}

// Init replaces the global logger according to cfg.
func Init(cfg *Config) error {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	core := zapcore.NewCore(createEncoder(cfg.Format), zapcore.AddSync(out), parseLevel(cfg.Level))

	mu.Lock()
	logger = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	mu.Unlock()

	// go-fuse reports through the standard library logger
	redirectStdLog()
	return nil
}

// stdLogWriter forwards standard library log output to zap at WARN level.
type stdLogWriter struct{}

func (w *stdLogWriter) Write(p []byte) (int, error) {
	msg := strings.TrimSuffix(string(p), "\n")
	L().Warn(msg, zap.String("source", "stdlib"))
	return len(p), nil
}

func redirectStdLog() {
	log.SetFlags(0)
	log.SetOutput(&stdLogWriter{})
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func createEncoder(format string) zapcore.Encoder {
	if strings.ToLower(format) == "json" {
		return zapcore.NewJSONEncoder(zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "component",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "message",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		})
	}

	return zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		TimeKey:        "T",
		LevelKey:       "L",
		NameKey:        "N",
		CallerKey:      "C",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "M",
		StacktraceKey:  "S",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05"),
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	})
}

// Sync flushes any buffered log entries.
func Sync() error {
	return L().Sync()
}

// L returns the underlying zap.Logger.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Named returns a child logger tagged with a component name.
func Named(component string) *zap.Logger {
	return L().WithOptions(zap.AddCallerSkip(-1)).Named(component)
}

// =============================================================================
// Structured logging functions
// =============================================================================

func Debug(msg string, fields ...zap.Field) {
	L().Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	L().Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	L().Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	L().Error(msg, fields...)
}

// Fatal logs at FatalLevel, then calls os.Exit(1).
func Fatal(msg string, fields ...zap.Field) {
	L().Fatal(msg, fields...)
}

// =============================================================================
// Field helpers
// =============================================================================

func String(key, value string) zap.Field {
	return zap.String(key, value)
}

func Strings(key string, values []string) zap.Field {
	return zap.Strings(key, values)
}

func Int(key string, value int) zap.Field {
	return zap.Int(key, value)
}

func Int64(key string, value int64) zap.Field {
	return zap.Int64(key, value)
}

func Bool(key string, value bool) zap.Field {
	return zap.Bool(key, value)
}

// Err creates an error field with key "error".
func Err(err error) zap.Field {
	return zap.Error(err)
}

func Duration(key string, value time.Duration) zap.Field {
	return zap.Duration(key, value)
}
