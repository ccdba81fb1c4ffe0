package main

import (
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newLogger builds the process logger.  Console encoding is used because
// agent output lands in per-agent log files and is read by humans.
func newLogger(verbose bool) *zap.SugaredLogger {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		// Logger construction only fails on invalid config, which is
		// a programmer error here.
		panic(err)
	}
	return logger.Sugar()
}

// EventLog writes timestamped operator events (agent started, stopped,
// reset requested) to a file.  It is safe for concurrent use.  This is the
// audit trail, distinct from the process logger above.
type EventLog struct {
	filePath string
	mu       sync.Mutex
}

// NewEventLog creates an event log writing to filePath.
func NewEventLog(filePath string) *EventLog {
	return &EventLog{filePath: filePath}
}

// Log writes a single event with timestamp.  Errors are ignored but printed
// to standard error; losing an audit line must never fail an operation.
func (el *EventLog) Log(format string, args ...any) {
	if el == nil {
		return
	}
	el.mu.Lock()
	defer el.mu.Unlock()
	msg := fmt.Sprintf(format, args...)
	ts := time.Now().Format(time.RFC3339)
	line := fmt.Sprintf("%s - %s\n", ts, msg)
	f, err := os.OpenFile(el.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "event log error: %v\n", err)
		return
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		fmt.Fprintf(os.Stderr, "event log write error: %v\n", err)
	}
}
