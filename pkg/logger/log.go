// Package logger configures the process-wide phuslu/log logger and hands
// out per-component loggers derived from it.
package logger

import (
	"io"
	"os"
	"time"

	"webkernel/pkg/config"

	"github.com/phuslu/log"
)

// NOTE: use example: log = logger.NewLoggerWithContext("kernel")

// parseLogLevel converts string log level to log.Level
func parseLogLevel(levelStr string) log.Level {
	switch levelStr {
	case "trace":
		return log.TraceLevel
	case "debug":
		return log.DebugLevel
	case "info":
		return log.InfoLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	case "fatal":
		return log.FatalLevel
	default:
		return log.InfoLevel
	}
}

// parseTimeLocation parses time location string
func parseTimeLocation(location string) *time.Location {
	switch location {
	case "", "Local":
		return time.Local
	case "UTC":
		return time.UTC
	default:
		if loc, err := time.LoadLocation(location); err == nil {
			return loc
		}
		return time.Local
	}
}

// mapTimeFormat maps string time format to log.TimeFormat
func mapTimeFormat(format string) string {
	switch format {
	case "Unix":
		return log.TimeFormatUnix
	case "UnixMs":
		return log.TimeFormatUnixMs
	default:
		return format
	}
}

// createWriter builds the writer described by cfg.
func createWriter(cfg config.LoggingConfig) log.Writer {
	if cfg.File != "" {
		return &log.FileWriter{
			Filename:     cfg.File,
			FileMode:     0644,
			MaxSize:      10 * 1024 * 1024,
			MaxBackups:   7,
			EnsureFolder: true,
		}
	}

	var base io.Writer = os.Stderr
	if cfg.Writer == "stdout" {
		base = os.Stdout
	}

	switch cfg.Format {
	case "json":
		return &log.IOWriter{Writer: base}
	case "logfmt":
		return &log.ConsoleWriter{
			Formatter:      log.LogfmtFormatter{TimeField: "time"}.Formatter,
			EndWithMessage: true,
			Writer:         base,
		}
	default:
		return &log.ConsoleWriter{
			ColorOutput:    true,
			QuoteString:    true,
			EndWithMessage: true,
			Writer:         base,
		}
	}
}

// Configure installs the global DefaultLogger from cfg.
func Configure(cfg config.LoggingConfig) {
	log.DefaultLogger = log.Logger{
		Level:        parseLogLevel(cfg.Level),
		Caller:       cfg.Caller,
		TimeField:    cfg.TimeField,
		TimeFormat:   mapTimeFormat(cfg.TimeFormat),
		TimeLocation: parseTimeLocation(cfg.TimeLocation),
		Writer:       createWriter(cfg),
	}
}

// Discard silences the global logger. Tests use it.
func Discard() {
	log.DefaultLogger = log.Logger{
		Level:  log.PanicLevel,
		Writer: &log.IOWriter{Writer: io.Discard},
	}
}

// NewLoggerWithContext creates a new logger by copying the global DefaultLogger
// and adding component-specific context.
func NewLoggerWithContext(component string) log.Logger {
	bl := &log.DefaultLogger
	return log.Logger{
		Level:        bl.Level,
		Caller:       0,
		TimeField:    bl.TimeField,
		TimeFormat:   bl.TimeFormat,
		TimeLocation: bl.TimeLocation,
		Writer:       bl.Writer,
		Context:      log.NewContext(bl.Context).Str("component", component).Value(),
	}
}

// With returns a copy of l with an extra string field in its context.
func With(l log.Logger, key, value string) log.Logger {
	l.Context = log.NewContext(l.Context).Str(key, value).Value()
	return l
}
