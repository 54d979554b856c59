// Package logger provides standardized logging utilities for the allocator
package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/xyproto/env/v2"
)

// Global logger instance
var defaultLogger *slog.Logger

// LogLevel represents the logging level
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Environment variables read by FromEnv
const (
	EnvLevel  = "REGCOLOR_LOG_LEVEL"
	EnvFormat = "REGCOLOR_LOG_FORMAT"
	EnvFile   = "REGCOLOR_LOG_FILE"
	EnvDir    = "REGCOLOR_LOG_DIR"
)

// Config holds logger configuration
type Config struct {
	Level     LogLevel
	Format    string // "text" or "json"
	Output    io.Writer
	AddSource bool
	LogFile   string
}

// DefaultConfig returns the default logger configuration
func DefaultConfig() Config {
	return Config{
		Level:     LevelInfo,
		Format:    "text",
		Output:    os.Stderr,
		AddSource: false,
	}
}

// FromEnv returns the default configuration overridden by REGCOLOR_LOG_*
func FromEnv() Config {
	cfg := DefaultConfig()
	cfg.Level = ParseLevel(env.Str(EnvLevel, "info"))
	cfg.Format = env.Str(EnvFormat, cfg.Format)
	cfg.LogFile = env.Str(EnvFile)
	return cfg
}

// InitFromEnv initializes production logging into REGCOLOR_LOG_DIR when it
// is set, and the FromEnv configuration otherwise
func InitFromEnv() error {
	if dir := env.Str(EnvDir); dir != "" {
		return InitProd(dir)
	}
	return Init(FromEnv())
}

// ParseLevel maps a level name to a LogLevel, defaulting to info
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Init initializes the global logger with the given configuration
func Init(cfg Config) error {
	var handler slog.Handler

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.LogFile != "" {
		file, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return err
		}
		output = file
	}

	opts := &slog.HandlerOptions{
		Level:     toSlogLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)

	return nil
}

// InitDev initializes logging for development (debug level, text format)
func InitDev() {
	_ = Init(Config{
		Level:     LevelDebug,
		Format:    "text",
		Output:    os.Stderr,
		AddSource: true,
	})
}

// InitProd initializes logging for production (info level, json format)
func InitProd(logDir string) error {
	logPath := filepath.Join(logDir, "regcolor.log")
	return Init(Config{
		Level:     LevelInfo,
		Format:    "json",
		LogFile:   logPath,
		AddSource: false,
	})
}

func toSlogLevel(level LogLevel) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Debug logs a debug message
func Debug(msg string, args ...any) {
	if defaultLogger != nil {
		defaultLogger.Debug(msg, args...)
	}
}

// Info logs an info message
func Info(msg string, args ...any) {
	if defaultLogger != nil {
		defaultLogger.Info(msg, args...)
	}
}

// Warn logs a warning message
func Warn(msg string, args ...any) {
	if defaultLogger != nil {
		defaultLogger.Warn(msg, args...)
	}
}

// Error logs an error message
func Error(msg string, args ...any) {
	if defaultLogger != nil {
		defaultLogger.Error(msg, args...)
	}
}

// With returns a new logger with the given attributes
func With(args ...any) *slog.Logger {
	if defaultLogger != nil {
		return defaultLogger.With(args...)
	}
	return slog.Default().With(args...)
}

// Allocator-specific logging helpers

// LogPass logs the graph size of one finished allocation pass
func LogPass(fn string, pass, nodes, moves int) {
	Debug("Allocation pass finished",
		"function", fn,
		"pass", pass,
		"nodes", nodes,
		"moves", moves)
}

// LogSpill logs the registers that did not receive a color in a pass
func LogSpill(fn string, pass int, spilled []string) {
	Debug("Allocation pass spilled", "function", fn, "pass", pass, "spilled", spilled)
}

// LogAllocated logs convergence of a function's allocation
func LogAllocated(fn string, passes, slots int) {
	Info("Register allocation converged", "function", fn, "passes", passes, "slots", slots)
}

// LogAllocFailed logs an allocation failure attributable to fn
func LogAllocFailed(fn string, err error) {
	Error("Register allocation failed", "function", fn, "error", err)
}
