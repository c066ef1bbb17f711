package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"galaxyprops/internal/config"
)

func newLogger(w io.Writer, lc config.LoggingConfig) (*slog.Logger, error) {
	level := slog.LevelInfo
	if lc.Level != "" {
		if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(lc.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("log format must be text or json, got %q", lc.Format)
}
