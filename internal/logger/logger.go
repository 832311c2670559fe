// Package logger builds the process logger: coloured pterm output on a
// terminal, JSON otherwise, plus an optional rotating log file.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pterm/pterm"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
}

const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// New returns the logger and a cleanup function that closes the log file.
func New(cfg Config) (*slog.Logger, func(), error) {
	return newWithWriter(cfg, os.Stderr, ShouldUseColors())
}

func newWithWriter(cfg Config, w io.Writer, colors bool) (*slog.Logger, func(), error) {
	level := ParseLevel(cfg.Level)
	terminal := terminalHandler(w, level, colors)

	if cfg.File == "" {
		return slog.New(terminal), func() {}, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   true,
	}
	file := slog.NewJSONHandler(rotator, &slog.HandlerOptions{Level: level})

	cleanup := func() { _ = rotator.Close() }
	return slog.New(&multiHandler{terminal: terminal, file: file}), cleanup, nil
}

func terminalHandler(w io.Writer, level slog.Level, colors bool) slog.Handler {
	if colors {
		plogger := pterm.DefaultLogger.
			WithLevel(ptermLevel(level)).
			WithWriter(w).
			WithFormatter(pterm.LogFormatterColorful)
		return pterm.NewSlogHandler(plogger)
	}
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
}

// ShouldUseColors honours NO_COLOR and FORCE_COLOR, then falls back to
// whether stderr is a terminal.
func ShouldUseColors() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if force := os.Getenv("FORCE_COLOR"); force != "" {
		return force != "0"
	}
	return term.IsTerminal(int(os.Stderr.Fd()))
}

type multiHandler struct {
	terminal slog.Handler
	file     slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.terminal.Enabled(ctx, level) || h.file.Enabled(ctx, level)
}

func (h *multiHandler) Handle(ctx context.Context, record slog.Record) error {
	if h.terminal.Enabled(ctx, record.Level) {
		if err := h.terminal.Handle(ctx, record.Clone()); err != nil {
			return err
		}
	}
	if h.file.Enabled(ctx, record.Level) {
		return h.file.Handle(ctx, record)
	}
	return nil
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &multiHandler{terminal: h.terminal.WithAttrs(attrs), file: h.file.WithAttrs(attrs)}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	return &multiHandler{terminal: h.terminal.WithGroup(name), file: h.file.WithGroup(name)}
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn, "warning":
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func ptermLevel(level slog.Level) pterm.LogLevel {
	switch level {
	case slog.LevelDebug:
		return pterm.LogLevelDebug
	case slog.LevelWarn:
		return pterm.LogLevelWarn
	case slog.LevelError:
		return pterm.LogLevelError
	default:
		return pterm.LogLevelInfo
	}
}
