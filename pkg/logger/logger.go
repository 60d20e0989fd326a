package logger

import (
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var (
	mu   sync.RWMutex
	base = newBase(os.Stderr)
)

func newBase(w io.Writer) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		Level:           log.InfoLevel,
	})
}

// SetLevel adjusts the minimum level emitted by every component logger.
func SetLevel(level LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	base.SetLevel(toCharm(level))
}

// ParseLevel maps a config string onto a LogLevel; unknown values yield INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// SetOutput redirects log output, used by tests and the JSON mode of serve.
func SetOutput(w io.Writer, json bool) {
	mu.Lock()
	defer mu.Unlock()
	level := base.GetLevel()
	base = newBase(w)
	base.SetLevel(level)
	if json {
		base.SetFormatter(log.JSONFormatter)
	}
}

func toCharm(level LogLevel) log.Level {
	switch level {
	case DEBUG:
		return log.DebugLevel
	case WARN:
		return log.WarnLevel
	case ERROR:
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

func emit(level LogLevel, component, msg string, fields map[string]interface{}) {
	mu.RLock()
	l := base
	mu.RUnlock()

	kv := make([]interface{}, 0, 2+len(fields)*2)
	if component != "" {
		kv = append(kv, "component", component)
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		kv = append(kv, k, fields[k])
	}

	switch level {
	case DEBUG:
		l.Debug(msg, kv...)
	case WARN:
		l.Warn(msg, kv...)
	case ERROR:
		l.Error(msg, kv...)
	default:
		l.Info(msg, kv...)
	}
}

func Debug(msg string)                                        { emit(DEBUG, "", msg, nil) }
func Info(msg string)                                         { emit(INFO, "", msg, nil) }
func Warn(msg string)                                         { emit(WARN, "", msg, nil) }
func Error(msg string)                                        { emit(ERROR, "", msg, nil) }
func DebugC(component, msg string)                            { emit(DEBUG, component, msg, nil) }
func InfoC(component, msg string)                             { emit(INFO, component, msg, nil) }
func WarnC(component, msg string)                             { emit(WARN, component, msg, nil) }
func ErrorC(component, msg string)                            { emit(ERROR, component, msg, nil) }
func DebugCF(component, msg string, f map[string]interface{}) { emit(DEBUG, component, msg, f) }
func InfoCF(component, msg string, f map[string]interface{})  { emit(INFO, component, msg, f) }
func WarnCF(component, msg string, f map[string]interface{})  { emit(WARN, component, msg, f) }
func ErrorCF(component, msg string, f map[string]interface{}) { emit(ERROR, component, msg, f) }
