package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// Logger provides leveled logging (info/warning/error) to stdout/stderr and optional files.
type Logger struct {
	infoLog    *log.Logger
	warningLog *log.Logger
	errorLog   *log.Logger
	files      []*os.File
	mu         sync.Mutex
}

// New creates a Logger writing info and warnings to out and errors to errOut.
func New(out, errOut io.Writer) *Logger {
	l := &Logger{}
	l.setupLoggers(out, out, errOut)
	return l
}

// NewWithDir creates a Logger that also appends each level to a file in dir.
func NewWithDir(dir string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	l := &Logger{}
	var writers [3]io.Writer
	for i, name := range []string{"info.log", "warning.log", "error.log"} {
		f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			l.Close()
			return nil, fmt.Errorf("failed to open log file %s: %w", name, err)
		}
		l.files = append(l.files, f)
		writers[i] = f
	}

	l.setupLoggers(
		io.MultiWriter(os.Stdout, writers[0]),
		io.MultiWriter(os.Stdout, writers[1]),
		io.MultiWriter(os.Stderr, writers[2]),
	)
	return l, nil
}

// Discard returns a Logger that drops everything.
func Discard() *Logger {
	return New(io.Discard, io.Discard)
}

func (l *Logger) setupLoggers(info, warning, errOut io.Writer) {
	l.infoLog = log.New(info, "INFO    ", log.Ldate|log.Ltime)
	l.warningLog = log.New(warning, "WARNING ", log.Ldate|log.Ltime)
	l.errorLog = log.New(errOut, "ERROR   ", log.Ldate|log.Ltime)
}

// Info writes a formatted info-level log entry.
func (l *Logger) Info(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infoLog.Printf(format, v...)
}

// Warning writes a formatted warning-level log entry.
func (l *Logger) Warning(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warningLog.Printf(format, v...)
}

// Error writes a formatted error-level log entry.
func (l *Logger) Error(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errorLog.Printf(format, v...)
}

// Close releases any log files.
func (l *Logger) Close() error {
	var firstErr error
	for _, f := range l.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.files = nil
	return firstErr
}
