// Package logging provides the per-component slog loggers used across
// cideldill. Every core package logs through New instead of the bare
// log package so output carries a consistent "component" attribute.
package logging

import (
	"log/slog"
	"os"
	"sync"
)

var (
	mu     sync.Mutex
	level  = new(slog.LevelVar)
	handle slog.Handler
)

func init() {
	level.Set(slog.LevelInfo)
	handle = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
}

// SetLevel adjusts the minimum level for all loggers returned by New.
func SetLevel(l slog.Level) {
	mu.Lock()
	defer mu.Unlock()
	level.Set(l)
}

// New returns a logger tagged with the given component name, e.g.
// logging.New("breakpoint") logs with component=breakpoint on every record.
func New(component string) *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return slog.New(handle).With("component", component)
}
