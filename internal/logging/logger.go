package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// ActivityLog represents a single activity record. The runtime writes one
// per module iteration (internal/module); Topic and Translated are not
// filled in by that caller.
type ActivityLog struct {
	Timestamp  time.Time `json:"timestamp"`
	Module     string    `json:"module"`
	RunMode    string    `json:"run_mode,omitempty"`
	Topic      string    `json:"topic,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	Translated bool      `json:"translated,omitempty"`
}

// Logger handles per-iteration activity logging.
type Logger struct {
	mu      sync.Mutex
	enabled bool
	file    *os.File
	console bool
}

var defaultLogger = &Logger{enabled: true, console: true}

// Default returns the default logger.
func Default() *Logger {
	return defaultLogger
}

// SetOutput sets the log output file.
func (l *Logger) SetOutput(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		l.file.Close()
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

// SetConsole enables/disables console output.
func (l *Logger) SetConsole(enabled bool) {
	l.mu.Lock()
	l.console = enabled
	l.mu.Unlock()
}

// Log writes an activity log entry.
func (l *Logger) Log(entry *ActivityLog) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}

	entry.Timestamp = time.Now()

	if l.console {
		status := "✓"
		if !entry.Success {
			status = "✗"
		}
		translated := ""
		if entry.Translated {
			translated = " [translated]"
		}
		fmt.Printf("[module] %s %s %s %dms%s\n",
			status, entry.Module, entry.Topic, entry.DurationMs, translated)
		if entry.Error != "" {
			fmt.Printf("[module]   error: %s\n", entry.Error)
		}
	}

	if l.file != nil {
		data, _ := json.Marshal(entry)
		l.file.Write(append(data, '\n'))
	}
}

// Close closes the log file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}
