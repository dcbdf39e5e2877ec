// Package logging hands out per-module slog loggers whose levels can be
// changed at runtime.
//
// Every logger carries a module attribute. Records go to stdout (text or json)
// and, when the process runs under systemd, to the journal as well.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Config selects the global level, the output format and per-module overrides.
type Config struct {
	Level   string            `yaml:"level" toml:"level"`
	Format  string            `yaml:"format" toml:"format"`
	Modules map[string]string `yaml:"modules" toml:"modules"`
}

var (
	mu          sync.RWMutex
	cfg         = Config{Level: "info", Format: "text"}
	output      io.Writer = os.Stdout
	loggers     = make(map[string]*slog.Logger)
	levels      = make(map[string]*slog.LevelVar)
	globalLevel = &slog.LevelVar{}
)

// Initialize applies cfg to the default logger and to every module logger
// created so far.
func Initialize(c Config) {
	mu.Lock()
	defer mu.Unlock()

	cfg = c
	globalLevel.Set(levelOr(c.Level, slog.LevelInfo))

	for module, lv := range levels {
		lv.Set(moduleLevel(module))
		loggers[module] = slog.New(newHandler(c.Format, lv)).With("module", module)
	}
	slog.SetDefault(slog.New(newHandler(c.Format, globalLevel)))
}

// SetOutput redirects stdout logging, mainly for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
	for module, lv := range levels {
		loggers[module] = slog.New(newHandler(cfg.Format, lv)).With("module", module)
	}
}

// GetLogger returns the logger for module, creating it on first use.
func GetLogger(module string) *slog.Logger {
	mu.RLock()
	if l, ok := loggers[module]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[module]; ok {
		return l
	}

	lv := &slog.LevelVar{}
	lv.Set(moduleLevel(module))
	l := slog.New(newHandler(cfg.Format, lv)).With("module", module)
	loggers[module] = l
	levels[module] = lv
	return l
}

// SetLevel changes a module's level at runtime. An empty module changes the
// global level and every module without an override.
func SetLevel(module, level string) bool {
	parsed, ok := parseLevel(level)
	if !ok {
		return false
	}

	mu.Lock()
	defer mu.Unlock()
	if module == "" {
		cfg.Level = level
		globalLevel.Set(parsed)
		for m, lv := range levels {
			if _, override := cfg.Modules[m]; !override {
				lv.Set(parsed)
			}
		}
		return true
	}

	if cfg.Modules == nil {
		cfg.Modules = make(map[string]string)
	}
	cfg.Modules[module] = level
	if lv, exists := levels[module]; exists {
		lv.Set(parsed)
	}
	return true
}

// moduleLevel must be called with mu held.
func moduleLevel(module string) slog.Level {
	level := levelOr(cfg.Level, slog.LevelInfo)
	if s, ok := cfg.Modules[module]; ok {
		level = levelOr(s, level)
	}
	return level
}

// newHandler must be called with mu held.
func newHandler(format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(output, opts)
	} else {
		h = slog.NewTextHandler(output, opts)
	}
	if JournalAvailable() {
		return newMultiHandler(h, newJournalHandler(level))
	}
	return h
}

func levelOr(s string, fallback slog.Level) slog.Level {
	if l, ok := parseLevel(s); ok {
		return l
	}
	return fallback
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return 0, false
}
