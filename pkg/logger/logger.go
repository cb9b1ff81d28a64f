// Package logger provides structured logging with rotation support.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	instance *Logger
	once     sync.Once
)

// Logger wraps zap logger with additional functionality.
type Logger struct {
	zapLogger *zap.Logger
	sugar     *zap.SugaredLogger
	logFile   *os.File
	logPath   string
	level     zapcore.Level
}

// Config holds logger configuration.
type Config struct {
	LogPath    string // Path to log file
	Level      string // Log level: debug, info, warn, error
	MaxSize    int64  // Max size in bytes before rotation (default 10MB)
	MaxBackups int    // Max number of backup files to keep
	Console    bool   // Also output to console
}

// GetInstance returns the process logger. It discards everything until
// Initialize is called.
func GetInstance() *Logger {
	once.Do(func() {
		instance = NewNop()
	})
	return instance
}

// NewNop returns a logger that discards all output.
func NewNop() *Logger {
	z := zap.NewNop()
	return &Logger{zapLogger: z, sugar: z.Sugar()}
}

// New wraps an existing zap logger.
func New(z *zap.Logger) *Logger {
	return &Logger{zapLogger: z, sugar: z.Sugar()}
}

// ParseLevel maps a config level name to a zap level, defaulting to info.
func ParseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	}
	return zapcore.InfoLevel
}

// Initialize sets up the logger with the given configuration.
func (l *Logger) Initialize(config Config) error {
	if config.MaxSize == 0 {
		config.MaxSize = 10 * 1024 * 1024
	}
	if config.MaxBackups == 0 {
		config.MaxBackups = 5
	}

	l.level = ParseLevel(config.Level)

	if config.LogPath != "" {
		dir := filepath.Dir(config.LogPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}

		file, err := os.OpenFile(config.LogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		l.logFile = file
		l.logPath = config.LogPath

		if err := l.Rotate(config.MaxSize, config.MaxBackups); err != nil {
			return fmt.Errorf("rotate log: %w", err)
		}
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var cores []zapcore.Core

	// File core (JSON)
	if l.logFile != nil {
		fileEncoder := zapcore.NewJSONEncoder(encoderConfig)
		cores = append(cores, zapcore.NewCore(fileEncoder, zapcore.AddSync(l.logFile), l.level))
	}

	// Console core
	if config.Console {
		consoleEncoder := zapcore.NewConsoleEncoder(encoderConfig)
		cores = append(cores, zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stdout), l.level))
	}

	core := zapcore.NewTee(cores...)
	l.zapLogger = zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	l.sugar = l.zapLogger.Sugar()

	return nil
}

// Close closes the logger and flushes any buffered data.
func (l *Logger) Close() error {
	if l.zapLogger != nil {
		_ = l.zapLogger.Sync()
	}
	if l.logFile != nil {
		return l.logFile.Close()
	}
	return nil
}

// Named returns a child logger tagged with the component name.
func (l *Logger) Named(component string) *Logger {
	if l == nil || l.zapLogger == nil {
		return NewNop()
	}
	z := l.zapLogger.Named(component)
	return &Logger{zapLogger: z, sugar: z.Sugar(), level: l.level}
}

// With returns a child logger carrying fields on every entry.
func (l *Logger) With(fields ...zap.Field) *Logger {
	if l == nil || l.zapLogger == nil {
		return NewNop()
	}
	z := l.zapLogger.With(fields...)
	return &Logger{zapLogger: z, sugar: z.Sugar(), level: l.level}
}

// Zap exposes the underlying zap logger.
func (l *Logger) Zap() *zap.Logger {
	if l == nil || l.zapLogger == nil {
		return zap.NewNop()
	}
	return l.zapLogger
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...zap.Field) {
	if l != nil && l.zapLogger != nil {
		l.zapLogger.Debug(msg, fields...)
	}
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...zap.Field) {
	if l != nil && l.zapLogger != nil {
		l.zapLogger.Info(msg, fields...)
	}
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...zap.Field) {
	if l != nil && l.zapLogger != nil {
		l.zapLogger.Warn(msg, fields...)
	}
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...zap.Field) {
	if l != nil && l.zapLogger != nil {
		l.zapLogger.Error(msg, fields...)
	}
}

// Debugf logs a formatted debug message.
func (l *Logger) Debugf(template string, args ...interface{}) {
	if l != nil && l.sugar != nil {
		l.sugar.Debugf(template, args...)
	}
}

// Infof logs a formatted info message.
func (l *Logger) Infof(template string, args ...interface{}) {
	if l != nil && l.sugar != nil {
		l.sugar.Infof(template, args...)
	}
}

// Warnf logs a formatted warning message.
func (l *Logger) Warnf(template string, args ...interface{}) {
	if l != nil && l.sugar != nil {
		l.sugar.Warnf(template, args...)
	}
}

// Errorf logs a formatted error message.
func (l *Logger) Errorf(template string, args ...interface{}) {
	if l != nil && l.sugar != nil {
		l.sugar.Errorf(template, args...)
	}
}

// LogTransfer logs the outcome of one pane-to-pane file transfer.
func (l *Logger) LogTransfer(taskID, sourceSide, targetSide, sourcePath, targetPath string, size int64, duration time.Duration, err error) {
	fields := []zap.Field{
		zap.String("task_id", taskID),
		zap.String("source_side", sourceSide),
		zap.String("target_side", targetSide),
		zap.String("source_path", sourcePath),
		zap.String("target_path", targetPath),
		zap.Int64("size_bytes", size),
		zap.Duration("duration", duration),
	}

	if err != nil {
		fields = append(fields, zap.Error(err))
		l.Error("transfer failed", fields...)
		return
	}
	if secs := duration.Seconds(); secs > 0 {
		fields = append(fields, zap.String("speed", humanize.Bytes(uint64(float64(size)/secs))+"/s"))
	}
	l.Info("transfer completed", fields...)
}

// LogConnection logs a connection event for one pane.
func (l *Logger) LogConnection(side, protocol, host string, connected bool, err error) {
	fields := []zap.Field{
		zap.String("side", side),
		zap.String("protocol", protocol),
		zap.String("host", host),
		zap.Bool("connected", connected),
	}

	if err != nil {
		fields = append(fields, zap.Error(err))
		l.Error("connection failed", fields...)
	} else if connected {
		l.Info("connected", fields...)
	} else {
		l.Info("disconnected", fields...)
	}
}

// Rotate rotates the log file if it exceeds max size.
func (l *Logger) Rotate(maxSize int64, maxBackups int) error {
	if l.logFile == nil || l.logPath == "" {
		return nil
	}

	info, err := l.logFile.Stat()
	if err != nil {
		return err
	}

	if info.Size() < maxSize {
		return nil
	}

	l.logFile.Close()

	for i := maxBackups - 1; i > 0; i-- {
		oldPath := fmt.Sprintf("%s.%d", l.logPath, i)
		newPath := fmt.Sprintf("%s.%d", l.logPath, i+1)
		_ = os.Rename(oldPath, newPath)
	}

	_ = os.Rename(l.logPath, l.logPath+".1")

	l.logFile, err = os.OpenFile(l.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	return err
}
