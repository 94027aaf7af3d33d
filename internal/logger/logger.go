// Package logger builds the process-wide slog.Logger.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/LeventeLantos/daily-messaging/internal/config"
)

// New returns a logger writing to stdout, and to a rotating file as well when
// cfg.File is set. The returned closer releases the file.
func New(cfg config.LogConfig) (*slog.Logger, io.Closer, error) {
	return build(cfg, os.Stdout)
}

func build(cfg config.LogConfig, stdout io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	w := stdout
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		rotating := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    100,
			MaxBackups: 7,
			MaxAge:     30,
			Compress:   true,
		}
		w = io.MultiWriter(stdout, rotating)
		closer = rotating
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(h), closer, nil
}

func parseLevel(raw string) (slog.Level, error) {
	var l slog.Level
	if raw == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(raw)); err != nil {
		return l, fmt.Errorf("invalid log level %q: %w", raw, err)
	}
	return l, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
