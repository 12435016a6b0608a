// Copyright 2026 The Statfeed Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// NewLogger creates the structured logger for a command. Format "auto"
// uses slog.TextHandler when stderr is a terminal and slog.JSONHandler
// when it is piped or redirected (systemd, CI, log shippers); "text"
// and "json" force one or the other. Level is debug, info, warn or
// error.
//
// Callers scope the logger with command context via With():
//
//	logger = logger.With("command", "daemon", "workflow", w.Name)
func NewLogger(level, format string) (*slog.Logger, error) {
	return newLogger(os.Stderr, term.IsTerminal(int(os.Stderr.Fd())), level, format)
}

func newLogger(w io.Writer, terminal bool, level, format string) (*slog.Logger, error) {
	var logLevel slog.Level
	if level == "" {
		level = "info"
	}
	if err := logLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	options := &slog.HandlerOptions{Level: logLevel}

	switch format {
	case "", "auto":
		if terminal {
			return slog.New(slog.NewTextHandler(w, options)), nil
		}
		return slog.New(slog.NewJSONHandler(w, options)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, options)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, options)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q (want auto, text or json)", format)
	}
}
