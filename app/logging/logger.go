// Package logging builds the service's zerolog logger from configuration
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/amirphl/astro-dispatch/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// New returns the root logger and the closer for any file sink.
// It also installs the logger as zerolog's global logger.
func New(cfg config.LoggingConfig) (zerolog.Logger, io.Closer) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.ErrorFieldName = "err"

	var (
		writers []io.Writer
		closer  io.Closer = nopCloser{}
	)

	output := strings.ToLower(cfg.Output)
	if output == "stdout" || output == "both" || cfg.FilePath == "" {
		writers = append(writers, stdoutWriter(cfg.Format))
	}
	if (output == "file" || output == "both") && cfg.FilePath != "" {
		_ = os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755)
		file := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		writers = append(writers, file)
		closer = file
	}

	var w io.Writer = writers[0]
	if len(writers) > 1 {
		w = zerolog.MultiLevelWriter(writers...)
	}

	ctx := zerolog.New(w).Level(ParseLevel(cfg.Level)).With().Timestamp()
	if cfg.EnableCaller {
		ctx = ctx.Caller()
	}
	logger := ctx.Logger()
	log.Logger = logger

	return logger, closer
}

// Component returns a child logger tagged with the component name
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// ParseLevel maps a config level to zerolog, defaulting to info
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

func stdoutWriter(format string) io.Writer {
	if strings.EqualFold(format, "text") {
		return zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: consoleTimeFormat}
	}
	return os.Stdout
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
