package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LogLevel represents the logging level
type LogLevel int32

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a config string ("debug", "info", "warn", "error") into a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG, nil
	case "", "info":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	case "fatal":
		return FATAL, nil
	default:
		return INFO, fmt.Errorf("unknown log level %q", s)
	}
}

// defaultLevel is the level given to loggers created by NewLogger.
var defaultLevel atomic.Int32

func init() {
	defaultLevel.Store(int32(INFO))
}

// SetDefaultLevel changes the level of loggers created from now on.
// Loggers that already exist keep their level.
func SetDefaultLevel(level LogLevel) {
	defaultLevel.Store(int32(level))
}

// Logger represents a logger with configurable log level
type Logger struct {
	level  atomic.Int32
	mu     sync.RWMutex
	prefix string
	logger *log.Logger
}

// NewLogger creates a new Logger instance with the default level
func NewLogger(prefix string) *Logger {
	l := &Logger{
		prefix: prefix,
		logger: log.New(os.Stdout, "", 0),
	}
	l.level.Store(defaultLevel.Load())
	return l
}

// SetLevel sets the logging level
func (l *Logger) SetLevel(level LogLevel) {
	l.level.Store(int32(level))
}

// GetLevel returns the current logging level
func (l *Logger) GetLevel() LogLevel {
	return LogLevel(l.level.Load())
}

// SetPrefix replaces the component prefix printed with each line
func (l *Logger) SetPrefix(prefix string) {
	l.mu.Lock()
	l.prefix = prefix
	l.mu.Unlock()
}

// GetPrefix returns the component prefix
func (l *Logger) GetPrefix() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.prefix
}

// SetOutput redirects the logger, mostly for tests
func (l *Logger) SetOutput(w io.Writer) {
	l.logger.SetOutput(w)
}

// log is the internal logging method
func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	if level < l.GetLevel() {
		return
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	prefix := fmt.Sprintf("[%s] [%s] [%s] ", timestamp, level.String(), l.GetPrefix())

	message := fmt.Sprintf(format, args...)
	l.logger.Print(prefix + message)

	if level == FATAL {
		l.logger.Print(string(debug.Stack()))
		os.Exit(1)
	}
}

// Debugf logs a debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log(DEBUG, format, args...)
}

// Infof logs an info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(INFO, format, args...)
}

// Warnf logs a warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(WARN, format, args...)
}

// Errorf logs an error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(ERROR, format, args...)
}

// Fatalf logs a fatal message and exits the program
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.log(FATAL, format, args...)
}
