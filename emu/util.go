package emu

import (
	"context"
	"log/slog"
)

// LevelTrace is the log level of emulator traces.
const LevelTrace slog.Level = slog.LevelInfo + 1

// Trace logs at LevelTrace.
func Trace(msg string, args ...any) {
	slog.Log(context.Background(), LevelTrace, msg, args...)
}
