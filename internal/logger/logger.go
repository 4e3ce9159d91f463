// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger provides the leveled, structured logger used across the
// filesystem core: a package-level default logger built from a format
// (text or json) and a level, with optional rotation when a log file
// path is configured.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Severity defines a TRACE/DEBUG/INFO/WARNING/ERROR scale: TRACE is an
// extra level below slog's Debug, and the other four are slog's own
// Debug/Info/Warn/Error.
const (
	LevelTrace   = slog.Level(-8)
	LevelDebug   = slog.LevelDebug
	LevelInfo    = slog.LevelInfo
	LevelWarning = slog.LevelWarn
	LevelError   = slog.LevelError
)

var severityNames = map[slog.Level]string{
	LevelTrace:   "TRACE",
	LevelDebug:   "DEBUG",
	LevelInfo:    "INFO",
	LevelWarning: "WARNING",
	LevelError:   "ERROR",
}

// Format selects the slog handler used by the default logger.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Config configures the package-level default logger.
type Config struct {
	Format Format
	Level  slog.Level

	// FilePath, when non-empty, routes logs through a rotating file
	// writer instead of stderr.
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var (
	mu            sync.Mutex
	defaultLogger = slog.New(newHandler(os.Stderr, FormatText, LevelInfo))
)

func severityReplacer(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		level, ok := a.Value.Any().(slog.Level)
		if !ok {
			return a
		}
		if name, ok := severityNames[level]; ok {
			a.Key = "severity"
			a.Value = slog.StringValue(name)
		}
	}
	return a
}

func newHandler(w io.Writer, format Format, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: severityReplacer,
	}
	if format == FormatJSON {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// Init installs a new default logger built from cfg. It is safe to call
// more than once (e.g. after config reload).
func Init(cfg Config) {
	mu.Lock()
	defer mu.Unlock()

	var w io.Writer = os.Stderr
	if cfg.FilePath != "" {
		w = &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    firstNonZero(cfg.MaxSizeMB, 100),
			MaxBackups: cfg.MaxBackups,
			MaxAge:     firstNonZero(cfg.MaxAgeDays, 28),
			Compress:   true,
		}
	}

	defaultLogger = slog.New(newHandler(w, cfg.Format, cfg.Level))
}

func firstNonZero(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func logf(ctx context.Context, level slog.Level, format string, args ...any) {
	mu.Lock()
	l := defaultLogger
	mu.Unlock()
	if !l.Enabled(ctx, level) {
		return
	}
	l.Log(ctx, level, fmt.Sprintf(format, args...))
}

// Tracef logs at TRACE, the finest level — per-block and per-buffer
// events that would otherwise drown out everything else.
func Tracef(format string, args ...any) { logf(context.Background(), LevelTrace, format, args...) }

// Debugf logs at DEBUG — transaction lifecycle, cache hit/miss.
func Debugf(format string, args ...any) { logf(context.Background(), LevelDebug, format, args...) }

// Infof logs at INFO — mount, recovery, commit summaries.
func Infof(format string, args ...any) { logf(context.Background(), LevelInfo, format, args...) }

// Warningf logs at WARNING — recoverable but noteworthy conditions.
func Warningf(format string, args ...any) {
	logf(context.Background(), LevelWarning, format, args...)
}

// Errorf logs at ERROR — surfaced failures and the message attached to a
// fatal abort just before the process dies.
func Errorf(format string, args ...any) { logf(context.Background(), LevelError, format, args...) }
