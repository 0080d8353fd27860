// Package log configures the process-wide zerolog logger and hands out
// component scoped children.
package log

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu   sync.RWMutex
	root = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()
)

// Init replaces the root logger. level is a zerolog level name ("debug",
// "info", ...); an empty level means info.
func Init(level string, json bool) error {
	return InitWriter(level, json, os.Stderr)
}

func InitWriter(level string, json bool, out io.Writer) error {
	lvl := zerolog.InfoLevel
	if level != "" {
		parsed, err := zerolog.ParseLevel(level)
		if err != nil {
			return err
		}
		lvl = parsed
	}

	var w io.Writer = out
	if !json {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	mu.Lock()
	root = zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	mu.Unlock()
	return nil
}

func WithComponent(name string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root.With().Str("component", name).Logger()
}

// Nop is used by tests that do not care about output.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
