package logger

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// FileLogger appends log lines to a file. It is used by the daemon when
// SLOTPOST_LOG_FILE is set, alongside the console logger.
type FileLogger struct {
	*StandardLogger
	mu     sync.Mutex
	f      *os.File
	closed bool
}

// NewFileLogger opens (or creates) path for appending. Parent directories
// are created as needed.
func NewFileLogger(path string) (*FileLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return &FileLogger{
		StandardLogger: NewStandardLogger(log.New(f, "", log.LstdFlags)),
		f:              f,
	}, nil
}

// Close closes the underlying file. Subsequent calls return nil.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.f.Close()
}

var _ Logger = (*FileLogger)(nil)
