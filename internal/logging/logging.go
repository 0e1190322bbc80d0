// Package logging owns the slog handler lifecycle. The handler can be
// reconfigured at runtime (level changes are instant, format or output
// changes rebuild it) so config hot-reload works without restarting.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config describes the desired logging configuration.
type Config struct {
	Level          string `yaml:"level" json:"level"`
	Format         string `yaml:"format" json:"format"`
	FilePath       string `yaml:"file_path" json:"file_path,omitempty"`
	FileMaxSizeMB  int    `yaml:"file_max_size_mb" json:"file_max_size_mb,omitempty"`
	FileMaxFiles   int    `yaml:"file_max_files" json:"file_max_files,omitempty"`
	FileMaxAgeDays int    `yaml:"file_max_age_days" json:"file_max_age_days,omitempty"`
}

// swappableHandler is a thread-safe slog.Handler whose inner handler can be
// replaced atomically while loggers derived from it stay valid.
type swappableHandler struct {
	inner atomic.Pointer[slog.Handler]
}

func newSwappableHandler(h slog.Handler) *swappableHandler {
	s := &swappableHandler{}
	s.inner.Store(&h)
	return s
}

func (s *swappableHandler) swap(h slog.Handler) { s.inner.Store(&h) }

func (s *swappableHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return (*s.inner.Load()).Enabled(ctx, level)
}

func (s *swappableHandler) Handle(ctx context.Context, r slog.Record) error {
	return (*s.inner.Load()).Handle(ctx, r)
}

func (s *swappableHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return newSwappableHandler((*s.inner.Load()).WithAttrs(attrs))
}

func (s *swappableHandler) WithGroup(name string) slog.Handler {
	return newSwappableHandler((*s.inner.Load()).WithGroup(name))
}

// Manager owns the logger and supports runtime reconfiguration.
type Manager struct {
	levelVar *slog.LevelVar
	handler  *swappableHandler
	config   Config
	mu       sync.Mutex
	closer   io.Closer // lumberjack writer, if any
}

// NewManager builds a Manager and a ready-to-use logger from cfg.
func NewManager(cfg Config) (*Manager, *slog.Logger) {
	lvl := &slog.LevelVar{}
	lvl.Set(parseLevel(cfg.Level))

	writer, closer := buildWriter(cfg)
	handler := newSwappableHandler(buildHandler(writer, lvl, cfg.Format))

	m := &Manager{
		levelVar: lvl,
		handler:  handler,
		config:   cfg,
		closer:   closer,
	}
	return m, slog.New(handler)
}

// Reconfigure applies a new configuration. Level-only changes take effect
// through the LevelVar; anything else swaps in a rebuilt handler.
func (m *Manager) Reconfigure(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.levelVar.Set(parseLevel(cfg.Level))

	needSwap := cfg.Format != m.config.Format ||
		cfg.FilePath != m.config.FilePath ||
		cfg.FileMaxSizeMB != m.config.FileMaxSizeMB ||
		cfg.FileMaxFiles != m.config.FileMaxFiles ||
		cfg.FileMaxAgeDays != m.config.FileMaxAgeDays

	if needSwap {
		if m.closer != nil {
			m.closer.Close() //nolint:errcheck
			m.closer = nil
		}
		writer, closer := buildWriter(cfg)
		m.handler.swap(buildHandler(writer, m.levelVar, cfg.Format))
		m.closer = closer
	}

	m.config = cfg
}

// Config returns the current configuration snapshot.
func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

// Close releases the log file writer, if one is open.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closer != nil {
		err := m.closer.Close()
		m.closer = nil
		return err
	}
	return nil
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ValidLevel reports whether s is a recognized log level.
func ValidLevel(s string) bool {
	switch s {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

// ValidFormat reports whether s is a recognized log format.
func ValidFormat(s string) bool {
	return s == "text" || s == "json"
}

// buildWriter creates the log output writer. With a file path configured the
// writer tees to stdout and a lumberjack-rotated file.
func buildWriter(cfg Config) (io.Writer, io.Closer) {
	if cfg.FilePath == "" {
		return os.Stdout, nil
	}

	maxSize := cfg.FileMaxSizeMB
	if maxSize <= 0 {
		maxSize = 100
	}
	maxFiles := cfg.FileMaxFiles
	if maxFiles <= 0 {
		maxFiles = 3
	}
	maxAge := cfg.FileMaxAgeDays
	if maxAge <= 0 {
		maxAge = 30
	}

	lj := &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    maxSize,
		MaxBackups: maxFiles,
		MaxAge:     maxAge,
	}
	return io.MultiWriter(os.Stdout, lj), lj
}

func buildHandler(w io.Writer, leveler slog.Leveler, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: leveler}
	if format == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// String returns a human-readable summary of the config.
func (c Config) String() string {
	s := fmt.Sprintf("level=%s format=%s", c.Level, c.Format)
	if c.FilePath != "" {
		s += fmt.Sprintf(" file=%s", c.FilePath)
	}
	return s
}
