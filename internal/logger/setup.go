package logger

import (
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"

	"github.com/drunlade/go-xyterm/internal/config"
)

// Setup builds the process logger from configs. Interactive sessions own
// stdout, so a quiet logger discards everything.
func Setup(configs []config.LoggerConfig, quiet bool) *slog.Logger {
	if quiet {
		return slog.New(slog.DiscardHandler)
	}

	var handlers []slog.Handler

	for _, cfg := range configs {
		level := parseLogLevel(cfg.Level)

		hideTime := cfg.HideTime
		replaceAttr := func(groups []string, a slog.Attr) slog.Attr {
			if hideTime && a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		}

		timeFormat := time.TimeOnly
		if cfg.TimeFormat != "" {
			timeFormat = cfg.TimeFormat
		}

		terminal := func(f *os.File) slog.Handler {
			return tint.NewHandler(f, &tint.Options{
				NoColor:     !isatty.IsTerminal(f.Fd()),
				Level:       level,
				AddSource:   cfg.Source,
				ReplaceAttr: replaceAttr,
				TimeFormat:  timeFormat,
			})
		}
		if cfg.Stdout {
			handlers = append(handlers, terminal(os.Stdout))
		}
		if cfg.Stderr {
			handlers = append(handlers, terminal(os.Stderr))
		}

		if cfg.File != "" {
			dir := filepath.Dir(cfg.File)
			if err := os.MkdirAll(dir, 0755); err != nil {
				log.Printf("Failed to create log directory %s: %v", dir, err)
				continue
			}

			file, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				log.Printf("Failed to open log file %s: %v", cfg.File, err)
				continue
			}

			handlers = append(handlers, tint.NewHandler(file, &tint.Options{
				NoColor:     true,
				Level:       level,
				AddSource:   cfg.Source,
				ReplaceAttr: replaceAttr,
				TimeFormat:  timeFormat,
			}))
		}
	}

	var logger *slog.Logger
	switch len(handlers) {
	case 0:
		logger = slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelWarn}))
	case 1:
		logger = slog.New(handlers[0])
	default:
		logger = slog.New(NewFanout(handlers...))
	}

	slog.SetDefault(logger)
	return logger
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
