// Package logging sets up the zerolog root logger: console writer,
// optional file sink, level from config.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"deliverybot/internal/config"
)

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// New builds the root logger. The returned closer owns the file sink
// (nil closer when no file is configured).
//
// The configured level is applied as the global level floor rather than
// on the root logger itself, so SetLevel can move it at runtime for
// every derived component logger at once.
func New(cfg config.LoggingConfig) (zerolog.Logger, io.Closer, error) {
	zerolog.TimeFieldFormat = timeFormat
	zerolog.ErrorFieldName = "err"
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level, zerolog.InfoLevel))

	var closer io.Closer
	writers := make([]io.Writer, 0, 2)
	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: timeFormat})
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = "./deliverybot.log"
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("open log file %q: %w", path, err)
		}
		closer = f
		writers = append(writers, zerolog.SyncWriter(f))
	}
	if len(writers) == 0 {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: timeFormat})
	}

	root := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().Timestamp().Logger()
	return root, closer, nil
}

// SetLevel re-applies the minimum level at runtime. Config hot-reload
// uses this; it affects every logger derived from the root.
func SetLevel(s string) {
	zerolog.SetGlobalLevel(ParseLevel(s, zerolog.InfoLevel))
}

// ParseLevel maps a config string to a zerolog level, case-insensitive.
func ParseLevel(s string, def zerolog.Level) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return def
	}
}
