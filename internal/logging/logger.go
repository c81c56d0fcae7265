// Package logging provides the minimal printf-style logging contract shared
// by every service in the backend, plus trace-id helpers for request
// correlation.
package logging

import (
	"fmt"
	"log"
	"os"
	"reflect"
	"strings"
)

// Logger defines a minimal, printf-style logging contract.
//
// Services depend on this interface so they can be composed and tested
// without a concrete sink.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Level controls which records a component logger emits.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a config string to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards all output.
func Nop() Logger {
	return nopLogger{}
}

// IsNil reports whether logger is nil or wraps a nil pointer receiver.
func IsNil(logger Logger) bool {
	if logger == nil {
		return true
	}
	val := reflect.ValueOf(logger)
	switch val.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func:
		return val.IsNil()
	default:
		return false
	}
}

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger Logger) Logger {
	if IsNil(logger) {
		return Nop()
	}
	return logger
}

type componentLogger struct {
	component string
	level     Level
	out       *log.Logger
}

var defaultOut = log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)

// NewComponentLogger returns the default application logger scoped to a
// component, writing to stderr at info level.
func NewComponentLogger(component string) Logger {
	return NewComponentLoggerAt(component, LevelInfo)
}

// NewComponentLoggerAt returns a component logger with an explicit threshold.
func NewComponentLoggerAt(component string, level Level) Logger {
	return &componentLogger{component: component, level: level, out: defaultOut}
}

func (l *componentLogger) emit(level Level, tag, format string, args ...any) {
	if level < l.level {
		return
	}
	l.out.Printf("[%s] [%s] %s", tag, l.component, fmt.Sprintf(format, args...))
}

func (l *componentLogger) Debug(format string, args ...any) {
	l.emit(LevelDebug, "DEBUG", format, args...)
}

func (l *componentLogger) Info(format string, args ...any) {
	l.emit(LevelInfo, "INFO", format, args...)
}

func (l *componentLogger) Warn(format string, args ...any) {
	l.emit(LevelWarn, "WARN", format, args...)
}

func (l *componentLogger) Error(format string, args ...any) {
	l.emit(LevelError, "ERROR", format, args...)
}

type multiLogger struct {
	loggers []Logger
}

// Multi returns a logger fan-out that calls every non-nil logger in order.
func Multi(loggers ...Logger) Logger {
	flattened := make([]Logger, 0, len(loggers))
	for _, logger := range loggers {
		if IsNil(logger) {
			continue
		}
		if ml, ok := logger.(*multiLogger); ok {
			flattened = append(flattened, ml.loggers...)
			continue
		}
		flattened = append(flattened, logger)
	}
	if len(flattened) == 0 {
		return Nop()
	}
	if len(flattened) == 1 {
		return flattened[0]
	}
	return &multiLogger{loggers: flattened}
}

func (l *multiLogger) Debug(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Debug(format, args...)
	}
}

func (l *multiLogger) Info(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Info(format, args...)
	}
}

func (l *multiLogger) Warn(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Warn(format, args...)
	}
}

func (l *multiLogger) Error(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Error(format, args...)
	}
}
