// Package logging builds the zerolog loggers used across the node: console and file output,
// plus an audit file that only receives warnings and above.
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	gnarklogger "github.com/consensys/gnark/logger"
	"github.com/rs/zerolog"
)

// Options configures New.
type Options struct {
	Level     string    // debug, info, warn, error; anything else means info
	File      string    // optional log file, appended to
	AuditFile string    // optional audit file, warn and above only
	Console   io.Writer // human-readable output; nil disables it
	Gnark     bool      // route gnark's own logging through this logger
}

// Logger wraps a zerolog.Logger together with the files it writes to.
type Logger struct {
	zerolog.Logger
	audit zerolog.Logger
	files []*os.File
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || l == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return l
}

// New creates a new logger instance
func New(opts Options) (*Logger, error) {
	l := &Logger{audit: zerolog.Nop()}
	var writers []io.Writer

	if opts.Console != nil {
		writers = append(writers, zerolog.ConsoleWriter{Out: opts.Console, TimeFormat: time.TimeOnly})
	}
	if opts.File != "" {
		f, err := openAppend(opts.File)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.files = append(l.files, f)
		writers = append(writers, f)
	}
	if opts.AuditFile != "" {
		f, err := openAppend(opts.AuditFile)
		if err != nil {
			l.Close()
			return nil, fmt.Errorf("failed to open audit file: %w", err)
		}
		l.files = append(l.files, f)
		writers = append(writers, &auditWriter{w: f})
		l.audit = zerolog.New(f).With().Timestamp().Str("log", "audit").Logger()
	}

	var out io.Writer = io.Discard
	if len(writers) > 0 {
		out = zerolog.MultiLevelWriter(writers...)
	}
	l.Logger = zerolog.New(out).Level(ParseLevel(opts.Level)).With().Timestamp().Logger()

	if opts.Gnark {
		gnarklogger.Set(l.Logger.With().Str("component", "gnark").Logger())
	} else {
		gnarklogger.Disable()
	}
	return l, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop(), audit: zerolog.Nop()}
}

// Audit records an audit event regardless of the configured level.
func (l *Logger) Audit(event string, details map[string]any) {
	l.audit.Log().Str("event", event).Fields(details).Msg("audit")
}

// Component returns a child logger tagged with a component name.
func (l *Logger) Component(name string) zerolog.Logger {
	return l.Logger.With().Str("component", name).Logger()
}

// Close closes the logger and its files
func (l *Logger) Close() error {
	var errs []error
	for _, f := range l.files {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	l.files = nil
	return errors.Join(errs...)
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// auditWriter forwards only warn-and-above events.
type auditWriter struct {
	w io.Writer
}

func (a *auditWriter) Write(p []byte) (int, error) {
	return len(p), nil
}

func (a *auditWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < zerolog.WarnLevel || level == zerolog.NoLevel {
		return len(p), nil
	}
	return a.w.Write(p)
}
