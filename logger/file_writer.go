package logger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var errWriterClosed = errors.New("log writer is closed")

// DailyFileWriter is an io.Writer appending to {service}_{date}.log in dir.
// A new file is opened on the first write of each day. Safe for concurrent use.
type DailyFileWriter struct {
	service string
	dir     string
	now     func() time.Time

	mu     sync.Mutex
	file   *os.File
	date   string
	closed bool
}

// NewDailyFileWriter opens today's log file in logDir. The directory must
// already exist.
//
// Parameters:
//   - service: Prefix of the log file names
//   - logDir: Directory holding the log files
//
// Returns:
//   - The writer, or an error if today's file could not be opened
func NewDailyFileWriter(service, logDir string) (*DailyFileWriter, error) {
	w := &DailyFileWriter{service: service, dir: logDir, now: time.Now}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.openLocked(w.now().Format(time.DateOnly)); err != nil {
		return nil, err
	}

	return w, nil
}

// Write appends p to the current day's file, switching files when the date
// has changed since the previous write.
func (w *DailyFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, errWriterClosed
	}

	if date := w.now().Format(time.DateOnly); date != w.date {
		if err := w.openLocked(date); err != nil {
			return 0, fmt.Errorf("rotate log file: %w", err)
		}
	}

	return w.file.Write(p)
}

// CurrentLogFile returns the path being written to, or "" once closed.
func (w *DailyFileWriter) CurrentLogFile() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return ""
	}

	return w.path(w.date)
}

// Close closes the current file. Later writes fail; repeated calls return nil.
func (w *DailyFileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	if w.file == nil {
		return nil
	}

	err := w.file.Close()
	w.file = nil
	return err
}

// openLocked swaps in the file for date; caller holds w.mu.
func (w *DailyFileWriter) openLocked(date string) error {
	name := w.path(date)
	f, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file %s: %w", name, err)
	}

	if w.file != nil {
		_ = w.file.Close()
	}

	w.file = f
	w.date = date
	return nil
}

func (w *DailyFileWriter) path(date string) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s_%s.log", w.service, date))
}
