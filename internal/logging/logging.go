package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config describes logger runtime configuration.
type Config struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	TimeFormat string `mapstructure:"time_format"`
	Caller     bool   `mapstructure:"caller"`
	// Output is stdout or stderr. CLI reports go to stdout, so stderr keeps them clean.
	Output string `mapstructure:"output"`
}

// Base fields attached to every line.
type Base struct {
	App         string
	Environment string
}

// NewLogger constructs a zerolog logger from config.
func NewLogger(cfg Config, base Base) zerolog.Logger {
	out := io.Writer(os.Stdout)
	if strings.EqualFold(cfg.Output, "stderr") {
		out = os.Stderr
	}
	return newLogger(cfg, base, out)
}

func newLogger(cfg Config, base Base, out io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	}
	zerolog.DurationFieldUnit = time.Millisecond

	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level)); err == nil && cfg.Level != "" {
		level = parsed
	}

	builder := zerolog.New(logWriter(cfg, out)).Level(level).With().Timestamp()
	if base.App != "" {
		builder = builder.Str("app", base.App)
	}
	if base.Environment != "" {
		builder = builder.Str("env", base.Environment)
	}
	if cfg.Caller {
		builder = builder.Caller()
	}
	return builder.Logger()
}

func logWriter(cfg Config, out io.Writer) io.Writer {
	if strings.EqualFold(cfg.Format, "console") {
		return zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: zerolog.TimeFieldFormat,
		}
	}
	return out
}
