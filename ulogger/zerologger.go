package ulogger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

const callerWidth = 32

var levelsByName = map[string]zerolog.Level{
	"DEBUG": zerolog.DebugLevel,
	"INFO":  zerolog.InfoLevel,
	"WARN":  zerolog.WarnLevel,
	"ERROR": zerolog.ErrorLevel,
	"FATAL": zerolog.FatalLevel,
}

var levelNumbers = map[zerolog.Level]int{
	zerolog.DebugLevel: LevelDebug,
	zerolog.InfoLevel:  LevelInfo,
	zerolog.WarnLevel:  LevelWarn,
	zerolog.ErrorLevel: LevelError,
	zerolog.FatalLevel: LevelFatal,
}

// ANSI colours of the level column, matching gocore's console output.
var levelColors = map[string]int{
	"debug": 34,
	"info":  32,
	"warn":  33,
	"error": 31,
	"fatal": 31,
	"panic": 31,
}

const (
	colorBold    = 1
	colorDefault = 37
)

// ZLoggerWrapper implements Logger on top of a zerolog.Logger. Every line
// carries the service name, either as a JSON field or as a console column.
type ZLoggerWrapper struct {
	zerolog.Logger
	service string
	w       io.Writer
	pretty  bool
}

func NewZeroLogger(service string, options ...Option) *ZLoggerWrapper {
	if service == "" {
		service = "tokencache"
	}

	opts := DefaultOptions()
	for _, o := range options {
		o(opts)
	}

	ctx := zerolog.New(opts.writer).With()
	if opts.pretty {
		ctx = zerolog.New(consoleWriter(opts.writer, service)).With()
	} else {
		ctx = ctx.Str("service", service)
	}

	z := &ZLoggerWrapper{
		Logger:  ctx.CallerWithSkipFrameCount(zerolog.CallerSkipFrameCount + 1).Timestamp().Logger(),
		service: service,
		w:       opts.writer,
		pretty:  opts.pretty,
	}

	z.SetLogLevel(opts.logLevel)

	return z
}

// consoleWriter lays a line out as "time | LEVEL | service | message" with
// the caller shortened to a fixed width column.
func consoleWriter(writer io.Writer, service string) zerolog.ConsoleWriter {
	color := false
	if f, ok := writer.(*os.File); ok {
		color = term.IsTerminal(int(f.Fd())) && os.Getenv("NO_COLOR") == ""
	}

	paint := func(s string, code int) string {
		if !color {
			return s
		}

		return fmt.Sprintf("\x1b[%dm%s\x1b[0m", code, s)
	}

	return zerolog.ConsoleWriter{
		Out:        writer,
		NoColor:    !color,
		TimeFormat: time.RFC3339,
		FormatTimestamp: func(i interface{}) string {
			s, _ := i.(string)
			ts, _ := time.Parse(time.RFC3339, s)

			return ts.Format("15:04:05")
		},
		FormatLevel: func(i interface{}) string {
			name, _ := i.(string)

			code, found := levelColors[name]
			if !found {
				code = colorDefault
			}

			return "| " + paint(strings.ToUpper(fmt.Sprintf("%-6s", name)), code) + "|"
		},
		FormatMessage: func(i interface{}) string {
			return fmt.Sprintf("| %-10s| %s", service, i)
		},
		FormatFieldName: func(i interface{}) string {
			return fmt.Sprintf("%s:", i)
		},
		FormatCaller: func(i interface{}) string {
			caller, _ := i.(string)
			if caller == "" {
				return caller
			}

			return paint(fmt.Sprintf("%-*s", callerWidth, shortCaller(caller, callerWidth)), colorBold)
		},
	}
}

// shortCaller keeps as many trailing path elements of caller as fit in width.
func shortCaller(caller string, width int) string {
	if cwd, err := os.Getwd(); err == nil {
		if rel, err := filepath.Rel(cwd, caller); err == nil {
			caller = rel
		}
	}

	parts := strings.Split(filepath.ToSlash(caller), "/")
	short := parts[len(parts)-1]

	for i := len(parts) - 2; i >= 0 && len(short)+len(parts[i])+1 <= width; i-- {
		short = parts[i] + "/" + short
	}

	return short
}

func (z *ZLoggerWrapper) New(service string, options ...Option) Logger {
	opts := []Option{
		WithWriter(z.w),
		WithLevel(z.Logger.GetLevel().String()),
		WithPretty(z.pretty),
	}

	return NewZeroLogger(service, append(opts, options...)...)
}

// Duplicate returns a logger for the same service with options applied on
// top of this logger's settings.
func (z *ZLoggerWrapper) Duplicate(options ...Option) Logger {
	return z.New(z.service, options...)
}

// SetLogLevel accepts DEBUG, INFO, WARN, ERROR or FATAL in any case; anything
// else means INFO.
func (z *ZLoggerWrapper) SetLogLevel(logLevel string) {
	level, found := levelsByName[strings.ToUpper(logLevel)]
	if !found {
		level = zerolog.InfoLevel
	}

	z.Logger = z.Logger.Level(level)
}

func (z *ZLoggerWrapper) LogLevel() int {
	if level, found := levelNumbers[z.Logger.GetLevel()]; found {
		return level
	}

	return LevelInfo
}

func (z *ZLoggerWrapper) Debugf(format string, args ...interface{}) {
	z.Logger.Debug().Msgf(format, args...)
}

func (z *ZLoggerWrapper) Infof(format string, args ...interface{}) {
	z.Logger.Info().Msgf(format, args...)
}

func (z *ZLoggerWrapper) Warnf(format string, args ...interface{}) {
	z.Logger.Warn().Msgf(format, args...)
}

func (z *ZLoggerWrapper) Errorf(format string, args ...interface{}) {
	z.Logger.Error().Msgf(format, args...)
}

func (z *ZLoggerWrapper) Fatalf(format string, args ...interface{}) {
	z.Logger.Fatal().Msgf(format, args...)
}
