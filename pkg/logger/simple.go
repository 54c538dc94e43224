package logger

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
)

// LogLevel orders severities for filtering.
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// SimpleLogger is a stdlib-backed Logger, the gateway's default concrete
// implementation when no richer logger (e.g. a zap adapter) is supplied.
type SimpleLogger struct {
	level     LogLevel
	component string
	base      map[string]interface{}
}

// NewSimpleLogger builds a SimpleLogger at the level named by LOG_LEVEL
// (default info).
func NewSimpleLogger() *SimpleLogger {
	return &SimpleLogger{level: levelFromString(GetLogLevel())}
}

// NewDefaultLogger returns the package default Logger implementation.
func NewDefaultLogger() Logger {
	return NewSimpleLogger()
}

func levelFromString(level string) LogLevel {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DebugLevel
	case "WARN", "WARNING":
		return WarnLevel
	case "ERROR":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// GetLogLevel reads the LOG_LEVEL environment variable, defaulting to INFO.
func GetLogLevel() string {
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		return level
	}
	return "INFO"
}

func (l *SimpleLogger) Debug(msg string, fields map[string]interface{}) {
	if l.level <= DebugLevel {
		l.log("DEBUG", msg, fields)
	}
}

func (l *SimpleLogger) Info(msg string, fields map[string]interface{}) {
	if l.level <= InfoLevel {
		l.log("INFO", msg, fields)
	}
}

func (l *SimpleLogger) Warn(msg string, fields map[string]interface{}) {
	if l.level <= WarnLevel {
		l.log("WARN", msg, fields)
	}
}

func (l *SimpleLogger) Error(msg string, fields map[string]interface{}) {
	if l.level <= ErrorLevel {
		l.log("ERROR", msg, fields)
	}
}

// WithComponent returns a child logger tagging every line with component.
func (l *SimpleLogger) WithComponent(component string) Logger {
	return &SimpleLogger{level: l.level, component: component, base: l.base}
}

func (l *SimpleLogger) log(level, msg string, fields map[string]interface{}) {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", level))
	if l.component != "" {
		parts = append(parts, fmt.Sprintf("component=%s", l.component))
	}
	parts = append(parts, msg)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}

	log.Println(strings.Join(parts, " "))
}

var _ ComponentAwareLogger = (*SimpleLogger)(nil)
