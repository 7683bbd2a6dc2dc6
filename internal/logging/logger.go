// logger.go - Structured logging for the ledger daemon and wallet.
//
// Every record goes to the console and, when configured, to a JSON log file. Records at WARN and
// above are also copied to a separate audit file.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options selects the log sinks.
type Options struct {
	Level     string
	File      string
	AuditFile string
	Console   io.Writer // defaults to stdout
	NoColor   bool
}

// Logger wraps the zerolog logger together with the files it owns.
type Logger struct {
	zerolog.Logger
	closers []io.Closer
}

// New creates a logger from opts.
func New(opts Options) (*Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	console := opts.Console
	if console == nil {
		console = os.Stdout
	}
	writers := []io.Writer{zerolog.ConsoleWriter{Out: console, TimeFormat: time.DateTime, NoColor: opts.NoColor}}
	l := &Logger{}

	// Setup file logging if specified
	if opts.File != "" {
		file, err := openAppend(opts.File)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.closers = append(l.closers, file)
		writers = append(writers, file)
	}

	// Setup audit logging if specified
	if opts.AuditFile != "" {
		file, err := openAppend(opts.AuditFile)
		if err != nil {
			l.Close()
			return nil, fmt.Errorf("failed to open audit file: %w", err)
		}
		l.closers = append(l.closers, file)
		writers = append(writers, &auditWriter{w: file, min: zerolog.WarnLevel})
	}

	l.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(level).With().Timestamp().Logger()
	return l, nil
}

// ParseLevel accepts the usual level names; empty means info.
func ParseLevel(s string) (zerolog.Level, error) {
	if s == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

// Close closes the log files.
func (l *Logger) Close() error {
	var first error
	for _, c := range l.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	l.closers = nil
	return first
}

// Component returns a child logger tagged with the component name.
func Component(log zerolog.Logger, name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

// Audit records an audit event. Audit events are logged at WARN so they reach the audit file.
func Audit(log zerolog.Logger, event string, details map[string]interface{}) {
	log.Warn().Str("audit", event).Fields(details).Msg("audit event")
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
}

// auditWriter only passes records at or above min.
type auditWriter struct {
	w   io.Writer
	min zerolog.Level
}

func (a *auditWriter) Write(p []byte) (int, error) {
	return len(p), nil
}

func (a *auditWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < a.min {
		return len(p), nil
	}
	return a.w.Write(p)
}
