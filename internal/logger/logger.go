// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package logger provides the process-wide structured logger and the
// printf-style helpers used for command progress output.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	mu      sync.RWMutex
	current = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	out     io.Writer = os.Stdout
	exit              = os.Exit
)

// Parse a level name. Unknown names map to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Initialize the global logger with level, format (text or json) and destination.
// Progress output from LogPrintf goes to the same writer.
func Init(level, format string, w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	mu.Lock()
	current = slog.New(h)
	out = w
	mu.Unlock()
	slog.SetDefault(current)
}

// Global structured logger
func L() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// Logger annotated with the given key/value tags, e.g. a frame's Tags()
func With(tags ...any) *slog.Logger {
	return L().With(tags...)
}

// Print progress output
func LogPrintf(format string, args ...interface{}) {
	mu.RLock()
	w := out
	mu.RUnlock()
	fmt.Fprintf(w, format, args...)
}

// Print progress output, then exit with an error code
func LogFatalf(format string, args ...interface{}) {
	LogPrintf(format, args...)
	exit(1)
}

// Print an error, then exit with an error code
func LogFatal(err error) {
	LogFatalf("Error: %s\n", err)
}
