package logger

import (
	"log"
	"os"
	"strings"
)

// Logger is a minimal leveled logger shared by the server and the worker.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

type implLogger struct {
	logger *log.Logger
	level  int
}

var levels = map[string]int{
	"debug": 0,
	"info":  1,
	"warn":  2,
	"error": 3,
}

// New creates a Logger writing to stdout at the given level.
// Unknown levels default to info.
func New(level string) Logger {
	lv, ok := levels[strings.ToLower(level)]
	if !ok {
		lv = 1
	}
	return &implLogger{
		logger: log.New(os.Stdout, "", log.LstdFlags),
		level:  lv,
	}
}

func (l *implLogger) logf(level int, prefix, msg string, args ...interface{}) {
	if level < l.level {
		return
	}
	l.logger.Printf(prefix+msg, args...)
}

func (l *implLogger) Debug(msg string, args ...interface{}) { l.logf(0, "[DEBUG] ", msg, args...) }
func (l *implLogger) Info(msg string, args ...interface{})  { l.logf(1, "[INFO] ", msg, args...) }
func (l *implLogger) Warn(msg string, args ...interface{})  { l.logf(2, "[WARN] ", msg, args...) }
func (l *implLogger) Error(msg string, args ...interface{}) { l.logf(3, "[ERROR] ", msg, args...) }
