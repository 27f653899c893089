package ulogger

import (
	"fmt"
	"sync"
	"testing"
)

// VerboseTestLogger forwards every line to t.Logf and remembers the warnings
// and errors so tests can assert on feed consistency reports.
type VerboseTestLogger struct {
	t        *testing.T
	mu       sync.Mutex
	warnings []string
	errors   []string
}

func NewVerboseTestLogger(t *testing.T) *VerboseTestLogger {
	return &VerboseTestLogger{t: t}
}

func (l *VerboseTestLogger) log(level string, keep *[]string, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)

	l.mu.Lock()
	if keep != nil {
		*keep = append(*keep, msg)
	}
	l.mu.Unlock()

	l.t.Helper()
	l.t.Logf("[%s] %s", level, msg)
}

func (l *VerboseTestLogger) LogLevel() int { return LevelDebug }

func (l *VerboseTestLogger) SetLogLevel(_ string) {}

func (l *VerboseTestLogger) New(string, ...Option) Logger { return l }

func (l *VerboseTestLogger) Duplicate(...Option) Logger { return l }

func (l *VerboseTestLogger) Debugf(format string, args ...interface{}) {
	l.log("DEBUG", nil, format, args...)
}

func (l *VerboseTestLogger) Infof(format string, args ...interface{}) {
	l.log("INFO", nil, format, args...)
}

func (l *VerboseTestLogger) Warnf(format string, args ...interface{}) {
	l.log("WARN", &l.warnings, format, args...)
}

func (l *VerboseTestLogger) Errorf(format string, args ...interface{}) {
	l.log("ERROR", &l.errors, format, args...)
}

func (l *VerboseTestLogger) Fatalf(format string, args ...interface{}) {
	l.t.Fatalf("[FATAL] "+format, args...)
}

// Warnings returns a copy of the warnings logged so far.
func (l *VerboseTestLogger) Warnings() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]string(nil), l.warnings...)
}

// Errors returns a copy of the errors logged so far.
func (l *VerboseTestLogger) Errors() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]string(nil), l.errors...)
}
