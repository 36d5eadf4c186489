// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging builds the zerolog logger shared by memchat components.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/jeranaias/memchat/internal/config"
)

// Stderr selects standard error instead of a log file.
const Stderr = "stderr"

// New creates a logger configured from cfg. It returns the writer backing
// the logger so callers can close a rotated file on exit.
//
// Output goes to cfg.File (default ~/.memchat/memchat.log), rotated by
// lumberjack, or to standard error when cfg.File is "stderr".
func New(cfg config.LogConfig) (zerolog.Logger, io.Closer, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var (
		out    io.Writer
		closer io.Closer = nopCloser{}
	)
	switch cfg.File {
	case Stderr:
		out = os.Stderr
	default:
		path := cfg.File
		if path == "" {
			path = config.DefaultLogPath()
		}
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return zerolog.Nop(), nil, err
		}
		rotator := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    cfg.MaxSizeMB,
			MaxAge:     cfg.MaxAgeDays,
			MaxBackups: cfg.MaxBackups,
			Compress:   cfg.Compress,
		}
		out = rotator
		closer = rotator
	}

	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: cfg.File != Stderr}
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Logger()
	return logger, closer, nil
}

// TraceDuration logs start and end of an operation at TRACE level.
//
//	defer logging.TraceDuration(logger, "session.Submit")()
func TraceDuration(logger zerolog.Logger, name string) func() {
	start := time.Now()
	logger.Trace().Str("method", name).Msg("start")
	return func() {
		logger.Trace().Str("method", name).Dur("duration", time.Since(start)).Msg("finish")
	}
}

// Redact hides all but the edges of a secret.
func Redact(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "..." + s[len(s)-2:]
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
