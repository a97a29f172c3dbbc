package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kyleking/fedquery/internal/config"
)

// LogLevel represents the severity level of a log message
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

const (
	logDirPerm  = 0755
	logFilePerm = 0644
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case DebugLevel:
		return slog.LevelDebug
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger provides structured logging on top of a slog handler
type Logger struct {
	level  LogLevel
	slog   *slog.Logger
	closer io.Closer
}

var (
	globalLogger *Logger
	globalMu     sync.RWMutex
)

// InitializeLogger replaces the process logger with one built from cfg
func InitializeLogger(cfg config.LoggingConfig) error {
	logger, err := NewLogger(cfg)
	if err != nil {
		return err
	}

	globalMu.Lock()
	previous := globalLogger
	globalLogger = logger
	globalMu.Unlock()

	if previous != nil {
		_ = previous.Close()
	}

	return nil
}

// NewLogger creates a new logger with the given configuration
func NewLogger(cfg config.LoggingConfig) (*Logger, error) {
	var (
		output io.Writer
		closer io.Closer
	)

	switch strings.ToLower(cfg.Output) {
	case "stdout":
		output = os.Stdout
	case "stderr", "":
		output = os.Stderr
	case "file":
		if cfg.File == "" {
			return nil, errors.New("log file path is required when output is 'file'")
		}

		if err := os.MkdirAll(filepath.Dir(cfg.File), logDirPerm); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePerm)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}

		output = file
		closer = file
	default:
		return nil, fmt.Errorf("invalid log output: %s", cfg.Output)
	}

	logger := NewWriterLogger(output, parseLogLevel(cfg.Level), cfg.Format, cfg.AddSource)
	logger.closer = closer

	return logger, nil
}

// NewWriterLogger builds a logger writing to w in text or json format
func NewWriterLogger(w io.Writer, level LogLevel, format string, addSource bool) *Logger {
	opts := &slog.HandlerOptions{
		Level:     level.slogLevel(),
		AddSource: addSource || level == DebugLevel,
	}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{level: level, slog: slog.New(handler)}
}

// Discard returns a logger that drops everything
func Discard() *Logger {
	return NewWriterLogger(io.Discard, ErrorLevel, "text", false)
}

// parseLogLevel parses a string log level into LogLevel
func parseLogLevel(level string) LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Slog exposes the underlying slog logger
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Enabled reports whether messages at level would be written
func (l *Logger) Enabled(level LogLevel) bool {
	return level >= l.level
}

// WithField adds a field to the logger context
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{level: l.level, slog: l.slog.With(key, value), closer: l.closer}
}

// WithFields adds multiple fields to the logger context
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}

	return &Logger{level: l.level, slog: l.slog.With(args...), closer: l.closer}
}

// WithError adds an error to the logger context
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}

	return l.WithField("error", err.Error())
}

func (l *Logger) log(level LogLevel, message string) {
	l.slog.Log(context.Background(), level.slogLevel(), message)
}

// Debug logs a debug message
func (l *Logger) Debug(message string) {
	l.log(DebugLevel, message)
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	if l.Enabled(DebugLevel) {
		l.log(DebugLevel, fmt.Sprintf(format, args...))
	}
}

// Info logs an info message
func (l *Logger) Info(message string) {
	l.log(InfoLevel, message)
}

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(InfoLevel, fmt.Sprintf(format, args...))
}

// Warn logs a warning message
func (l *Logger) Warn(message string) {
	l.log(WarnLevel, message)
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(WarnLevel, fmt.Sprintf(format, args...))
}

// Error logs an error message
func (l *Logger) Error(message string) {
	l.log(ErrorLevel, message)
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(ErrorLevel, fmt.Sprintf(format, args...))
}

// ErrorWithErr logs an error message with an associated error
func (l *Logger) ErrorWithErr(message string, err error) {
	l.WithError(err).Error(message)
}

// Close closes the log file, if any
func (l *Logger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}

	return nil
}

// GetLogger returns the process logger, falling back to stderr at info level
func GetLogger() *Logger {
	globalMu.RLock()
	logger := globalLogger
	globalMu.RUnlock()

	if logger == nil {
		SetupFallbackLogger()
		return GetLogger()
	}

	return logger
}

// SetupFallbackLogger sets up a basic logger for cases where configuration fails
func SetupFallbackLogger() {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalLogger == nil {
		globalLogger = NewWriterLogger(os.Stderr, InfoLevel, "text", false)
	}
}

// WithField adds a field to the process logger context
func WithField(key string, value interface{}) *Logger {
	return GetLogger().WithField(key, value)
}

// WithFields adds multiple fields to the process logger context
func WithFields(fields map[string]interface{}) *Logger {
	return GetLogger().WithFields(fields)
}

// WithError adds an error to the process logger context
func WithError(err error) *Logger {
	return GetLogger().WithError(err)
}

// Debugf logs a formatted debug message using the process logger
func Debugf(format string, args ...interface{}) {
	GetLogger().Debugf(format, args...)
}

// Infof logs a formatted info message using the process logger
func Infof(format string, args ...interface{}) {
	GetLogger().Infof(format, args...)
}

// Warnf logs a formatted warning message using the process logger
func Warnf(format string, args ...interface{}) {
	GetLogger().Warnf(format, args...)
}

// Errorf logs a formatted error message using the process logger
func Errorf(format string, args ...interface{}) {
	GetLogger().Errorf(format, args...)
}

// LoggerMiddleware wraps fn with start/finish logging and timing
func LoggerMiddleware(logger *Logger, operation string, fn func() error) error {
	if logger == nil {
		logger = GetLogger()
	}

	logger = logger.WithField("operation", operation)
	logger.Debug("Starting operation")

	start := time.Now()
	err := fn()
	duration := time.Since(start)

	if err != nil {
		logger.WithField("duration", duration).ErrorWithErr("Operation failed", err)
	} else {
		logger.WithField("duration", duration).Debug("Operation completed successfully")
	}

	return err
}
