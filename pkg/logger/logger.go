// Package logger wraps charmbracelet/log with the package-level call style
// used across this codebase: logger.Info(msg, key, value, ...), logger.With
// (key, value, ...) for a scoped sub-logger.
package logger

import (
	"os"

	"github.com/charmbracelet/log"
)

var def = log.NewWithOptions(os.Stderr, log.Options{
	ReportTimestamp: true,
	Level:           log.InfoLevel,
})

// SetLevel adjusts the default logger's verbosity.
func SetLevel(level log.Level) {
	def.SetLevel(level)
}

// With returns a sub-logger with the given key/value pairs attached to
// every subsequent message.
func With(keyvals ...any) *log.Logger {
	return def.With(keyvals...)
}

func Debug(msg string, keyvals ...any) {
	def.Debug(msg, keyvals...)
}

func Info(msg string, keyvals ...any) {
	def.Info(msg, keyvals...)
}

func Warn(msg string, keyvals ...any) {
	def.Warn(msg, keyvals...)
}

func Error(msg string, keyvals ...any) {
	def.Error(msg, keyvals...)
}
