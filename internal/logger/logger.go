// Package logger provides loomd's structured logging setup. Grounded on
// the teacher's internal/logger.Init (stdout+file multi-writer, shortened
// time format), extended with per-component child loggers since this
// daemon runs several concurrent subsystems (broker, shared document
// authority, syntax manager, transport) that the teacher's single global
// logger never had to distinguish between.
package logger

import (
	"io"
	"log/slog"
	"os"
)

var Log *slog.Logger

// Init initializes the global logger.
func Init(level string, logFile string) error {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	var writers []io.Writer
	writers = append(writers, os.Stdout)

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return err
		}
		writers = append(writers, f)
	}

	multiWriter := io.MultiWriter(writers...)

	handler := slog.NewTextHandler(multiWriter, &slog.HandlerOptions{
		Level: logLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.String("time", a.Value.Time().Format("15:04:05"))
			}
			return a
		},
	})

	Log = slog.New(handler)
	slog.SetDefault(Log)

	return nil
}

// Component returns a child logger tagged with component=name, for the
// daemon's concurrently-running subsystems (e.g. "broker", "shareddoc",
// "syntax", "transport") to attach to every line without repeating it at
// every call site.
func Component(name string) *slog.Logger {
	if Log == nil {
		return slog.Default().With("component", name)
	}
	return Log.With("component", name)
}

// Debug logs at debug level on the global logger.
func Debug(msg string, args ...any) { Log.Debug(msg, args...) }

// Info logs at info level on the global logger.
func Info(msg string, args ...any) { Log.Info(msg, args...) }

// Warn logs at warn level on the global logger.
func Warn(msg string, args ...any) { Log.Warn(msg, args...) }

// Error logs at error level on the global logger.
func Error(msg string, args ...any) { Log.Error(msg, args...) }
