// Package logger provides the structured logging interface used across the
// server and client, backed by zerolog, with optional daily-rotated log files.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Field is a key-value pair attached to a log entry.
type Field struct {
	Key   string
	Value any
}

// Logger writes leveled, structured log entries. Implementations must be safe
// for concurrent use.
type Logger interface {
	// Debug logs msg at debug level with optional structured fields.
	//
	// Parameters:
	//   - msg: The log message
	//   - fields: Optional key-value pairs to include in the entry
	Debug(msg string, fields ...Field)

	// Info logs msg at info level with optional structured fields.
	//
	// Parameters:
	//   - msg: The log message
	//   - fields: Optional key-value pairs to include in the entry
	Info(msg string, fields ...Field)

	// Warn logs msg at warn level with optional structured fields.
	//
	// Parameters:
	//   - msg: The log message
	//   - fields: Optional key-value pairs to include in the entry
	Warn(msg string, fields ...Field)

	// Error logs msg at error level with optional structured fields.
	//
	// Parameters:
	//   - msg: The log message
	//   - fields: Optional key-value pairs to include in the entry
	Error(msg string, fields ...Field)

	// With returns a Logger that adds fields to every entry. The receiver is
	// not modified.
	//
	// Parameters:
	//   - fields: Key-value pairs to attach to the derived logger
	//
	// Returns:
	//   - A new Logger carrying the fields
	With(fields ...Field) Logger

	// Close releases the log file, if the logger owns one. Safe to call more
	// than once.
	//
	// Returns:
	//   - An error if closing the file fails
	Close() error
}

type zerologLogger struct {
	logger   zerolog.Logger
	file     *DailyFileWriter
	ownsFile bool
}

// New builds a Logger writing JSON entries to w. Every entry carries the
// service name and a timestamp; entries below level are dropped.
//
// Parameters:
//   - w: Destination for log entries (os.Stdout in the binaries)
//   - serviceName: Value of the "service" field on every entry
//   - level: Minimum level to log
//
// Returns:
//   - A Logger writing to w
func New(w io.Writer, serviceName string, level zerolog.Level) Logger {
	return &zerologLogger{
		logger: zerolog.New(w).With().Str("service", serviceName).Timestamp().Logger().Level(level),
	}
}

// NewWithFile builds a Logger that writes to stdout and to a daily-rotated file
// {serviceName}_{date}.log under logDir. The directory is created if missing.
//
// Parameters:
//   - serviceName: Value of the "service" field and prefix of the file names
//   - logDir: Directory for log files
//   - level: Minimum level to log
//
// Returns:
//   - A Logger writing to stdout and the rotating file
//   - An error if the directory or the first file could not be created
func NewWithFile(serviceName, logDir string, level zerolog.Level) (Logger, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	fw, err := NewDailyFileWriter(serviceName, logDir)
	if err != nil {
		return nil, err
	}

	l := New(io.MultiWriter(os.Stdout, fw), serviceName, level).(*zerologLogger)
	l.file = fw
	l.ownsFile = true
	l.Debug("writing log file", Field{Key: "path", Value: fw.CurrentLogFile()})
	return l, nil
}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return &zerologLogger{logger: zerolog.Nop()}
}

// ParseLevel maps a level name ("debug", "info", "warn", "error") to a
// zerolog level. The match is case-insensitive.
func ParseLevel(name string) (zerolog.Level, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("parse log level %q: %w", name, err)
	}
	if lvl == zerolog.NoLevel {
		return zerolog.InfoLevel, nil
	}

	return lvl, nil
}

func (z *zerologLogger) Debug(msg string, fields ...Field) {
	z.logger.Debug().Fields(toMap(fields)).Msg(msg)
}

func (z *zerologLogger) Info(msg string, fields ...Field) {
	z.logger.Info().Fields(toMap(fields)).Msg(msg)
}

func (z *zerologLogger) Warn(msg string, fields ...Field) {
	z.logger.Warn().Fields(toMap(fields)).Msg(msg)
}

func (z *zerologLogger) Error(msg string, fields ...Field) {
	z.logger.Error().Fields(toMap(fields)).Msg(msg)
}

func (z *zerologLogger) With(fields ...Field) Logger {
	return &zerologLogger{
		logger: z.logger.With().Fields(toMap(fields)).Logger(),
		file:   z.file,
	}
}

func (z *zerologLogger) Close() error {
	if z.ownsFile && z.file != nil {
		return z.file.Close()
	}

	return nil
}

func toMap(fields []Field) map[string]any {
	if len(fields) == 0 {
		return nil
	}

	m := make(map[string]any, len(fields))
	for _, f := range fields {
		m[f.Key] = f.Value
	}

	return m
}
