package logging

import (
	"log/slog"
	"os"
)

var Logger *slog.Logger

var level = new(slog.LevelVar) // dynamic level if we ever want to adjust it

// Init builds the process logger from LOG_FORMAT / LOG_LEVEL.
func Init() {
	if os.Getenv("LOG_LEVEL") == "debug" {
		level.Set(slog.LevelDebug)
	}

	var handler slog.Handler
	if os.Getenv("LOG_FORMAT") == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}

	Logger = slog.New(handler)
	Info = Logger.Info
	Error = Logger.Error
	Warn = Logger.Warn
	Debug = Logger.Debug
}

func init() { Init() }

// Shortcut helpers (optional)
var (
	Info  = Logger.Info
	Error = Logger.Error
	Warn  = Logger.Warn
	Debug = Logger.Debug
)

func Fatal(msg string, args ...any) {
	Logger.Error(msg, args...)
	os.Exit(1)
}
