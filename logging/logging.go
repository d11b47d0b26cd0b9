package logging

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"path/filepath"

	"github.com/jacobmichels/Section-Sense-Go/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New builds the process logger from cfg, writing to console and, when cfg.File is set, to a rotated file.
// It becomes the global zerolog logger and the output of the standard log package.
// The returned closer releases the log file.
func New(cfg config.Log, console io.Writer) (zerolog.Logger, io.Closer, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("failed to parse log level: %w", err)
	}

	if console == nil {
		console = os.Stderr
	}

	writers := []io.Writer{consoleWriter(cfg.Format, console, false)}

	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		file := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			LocalTime:  true,
		}
		writers = append(writers, consoleWriter(cfg.Format, file, true))
		closer = file
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Logger()

	zerolog.SetGlobalLevel(level)
	log.Logger = logger

	stdlog.SetOutput(logger)
	stdlog.SetFlags(0)

	return logger, closer, nil
}

func consoleWriter(format string, out io.Writer, noColor bool) io.Writer {
	if format == "json" {
		return out
	}
	return zerolog.ConsoleWriter{Out: out, NoColor: noColor, TimeFormat: "2006-01-02 15:04:05"}
}

type nopCloser struct{}

func (nopCloser) Close() error {
	return nil
}
