// Package dblog provides the structured logger every component accepts,
// grounded on the teacher's *slog.Logger-as-dependency convention
// (cmd/bd/daemon_event_loop.go's checkDaemonHealth/getRemoteSyncInterval
// in the reference corpus, which take log *slog.Logger as a parameter
// rather than reading a package-global).
package dblog

import (
	"log/slog"
	"os"
)

// New builds the engine's default logger: JSON-structured, level
// configurable, writing to w (os.Stderr when w is nil).
func New(w *os.File, level slog.Level) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// Component returns a logger scoped to a named engine component (e.g.
// "wal", "vacuum", "entity"), so every log line from that subsystem carries
// a consistent "component" field.
func Component(log *slog.Logger, name string) *slog.Logger {
	if log == nil {
		log = slog.Default()
	}
	return log.With(slog.String("component", name))
}

// Namespace further scopes a component logger to a single namespace, the
// unit most operations are keyed by (spec §3, EntityId "ns/local").
func Namespace(log *slog.Logger, ns string) *slog.Logger {
	if log == nil {
		log = slog.Default()
	}
	return log.With(slog.String("ns", ns))
}
