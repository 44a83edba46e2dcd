// Package logging owns the process-wide structured logger. Every record
// carries service=flightsink; packages tag theirs with Component.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
)

const (
	service = "flightsink"

	envLevel = "FLIGHTSINK_LOG_LEVEL"
	envJSON  = "FLIGHTSINK_LOG_JSON"
)

type Options struct {
	Level string // debug|info|warn|error, or an offset such as "info+2"
	JSON  bool
	// Output defaults to stderr; stdout is left to the debug sinks.
	Output io.Writer
}

var current atomic.Pointer[slog.Logger]

func init() { current.Store(New(Options{})) }

// New builds a logger without installing it.
func New(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	ho := &slog.HandlerOptions{Level: parseLevel(opts.Level)}
	var h slog.Handler = slog.NewTextHandler(out, ho)
	if opts.JSON {
		h = slog.NewJSONHandler(out, ho)
	}
	return slog.New(h).With("service", service)
}

func Configure(opts Options) { Set(New(opts)) }

// Set replaces the process-wide logger. Tests use it to capture output.
func Set(l *slog.Logger) {
	if l != nil {
		current.Store(l)
	}
}

func L() *slog.Logger { return current.Load() }

// Component returns the current logger tagged with component=name.
func Component(name string) *slog.Logger { return L().With("component", name) }

// InitFromEnv reads FLIGHTSINK_LOG_LEVEL and FLIGHTSINK_LOG_JSON.
func InitFromEnv() {
	asJSON, _ := strconv.ParseBool(strings.TrimSpace(os.Getenv(envJSON)))
	Configure(Options{Level: os.Getenv(envLevel), JSON: asJSON})
}

// parseLevel falls back to info on anything slog does not recognise.
func parseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
