// Package logging builds the process logger: JSON or console output on stdout,
// optionally mirrored to a rotating file.
package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	DefaultMaxSizeMB  = 50
	DefaultMaxBackups = 5
	DefaultMaxAgeDays = 30
)

// Options controls logger construction.
type Options struct {
	Level   string
	Console bool
	File    string
}

// New returns a configured logger and installs it as the zerolog global logger.
// If the log file directory cannot be created the logger falls back to stdout only.
func New(opts Options) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseLevel(opts.Level))

	var stdout io.Writer = os.Stdout
	if opts.Console {
		stdout = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "2006-01-02 15:04:05"}
	}

	logger := zerolog.New(stdout).With().Timestamp().Logger()

	if opts.File != "" {
		if err := ensureLogDir(opts.File); err != nil {
			logger.Error().Err(err).Str("path", opts.File).Msg("failed to prepare log directory; logging to stdout only")
		} else {
			fileWriter := &lumberjack.Logger{
				Filename:   opts.File,
				MaxSize:    DefaultMaxSizeMB,
				MaxBackups: DefaultMaxBackups,
				MaxAge:     DefaultMaxAgeDays,
				Compress:   true,
			}
			logger = zerolog.New(zerolog.MultiLevelWriter(stdout, fileWriter)).With().Timestamp().Logger()
		}
	}

	log.Logger = logger
	return logger
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch level {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func ensureLogDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
