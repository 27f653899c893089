// Package ulogger defines the logging interface used throughout the token
// cache and its zerolog backed implementation.
package ulogger

import (
	"os"

	"github.com/bsv-blockchain/tokencache/settings"
	"golang.org/x/term"
)

// Log levels returned by Logger.LogLevel.
const (
	LevelDebug = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

type Logger interface {
	LogLevel() int
	SetLogLevel(level string)
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
	New(service string, options ...Option) Logger
	Duplicate(options ...Option) Logger
}

// New returns a zerolog logger, or a silent one for the "test" logger type.
func New(service string, options ...Option) Logger {
	opts := DefaultOptions()
	for _, o := range options {
		o(opts)
	}

	if opts.loggerType == "test" {
		return TestLogger{}
	}

	return NewZeroLogger(service, options...)
}

// InitLogger builds the process logger from settings. Console output is only
// pretty printed when PRETTY_LOGS is set and stdout is a terminal, so that
// logs collected from a container stay line delimited JSON.
func InitLogger(service string, tSettings *settings.Settings) Logger {
	pretty := tSettings.PrettyLogs && term.IsTerminal(int(os.Stdout.Fd()))

	return New(service, WithLevel(tSettings.LogLevel), WithPretty(pretty))
}
