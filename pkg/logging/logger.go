package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level represents log level
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	FATAL
)

func (l Level) String() string {
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

// Fields carries structured context for one entry
type Fields map[string]interface{}

// sink is the destination shared by a logger and everything derived from it
type sink struct {
	mu   sync.Mutex
	out  io.Writer
	file *os.File
}

// Logger is a leveled logger safe for use by many workers at once.
// Loggers derived with WithField share the parent's sink, so a rotation
// or SetOutput reaches all of them.
type Logger struct {
	level      Level
	jsonFormat bool
	fields     Fields
	component  string
	sink       *sink
}

// NewLogger creates a logger writing to stdout
func NewLogger(level Level, jsonFormat bool) *Logger {
	return &Logger{
		level:      level,
		jsonFormat: jsonFormat,
		fields:     make(Fields),
		sink:       &sink{out: os.Stdout},
	}
}

// Discard returns a logger that drops everything, for tests
func Discard() *Logger {
	l := NewLogger(FATAL+1, false)
	l.sink.out = io.Discard
	return l
}

// NewFileLogger creates a logger that writes to <base>/<component>.log and
// stdout. base is /var/log/transcoder, or ./logs when that is not writable.
func NewFileLogger(component string, level Level, jsonFormat bool) (*Logger, error) {
	logPath := GetLogPath(component)
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", filepath.Dir(logPath), err)
	}

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", logPath, err)
	}

	logger := NewLogger(level, jsonFormat)
	logger.sink.out = io.MultiWriter(logFile, os.Stdout)
	logger.sink.file = logFile
	logger.component = component

	logger.Info(fmt.Sprintf("Logger initialized: %s -> %s", component, logPath))
	return logger, nil
}

// SetOutput sets the output writer
func (l *Logger) SetOutput(w io.Writer) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.out = w
}

// Level returns the minimum level that is written
func (l *Logger) Level() Level {
	return l.level
}

// LogEntry represents a structured log entry
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Fields    Fields `json:"fields,omitempty"`
}

func (l *Logger) log(level Level, message string, fields Fields) {
	if level < l.level {
		return
	}

	merged := make(Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}

	l.sink.mu.Lock()
	out := l.sink.out
	if l.jsonFormat {
		entry := LogEntry{
			Timestamp: time.Now().Format(time.RFC3339),
			Level:     level.String(),
			Message:   message,
			Fields:    merged,
		}
		data, err := json.Marshal(entry)
		if err != nil {
			log.Printf("Failed to marshal log entry: %v", err)
		} else {
			fmt.Fprintln(out, string(data))
		}
	} else {
		timestamp := time.Now().Format("2006-01-02 15:04:05")
		fmt.Fprintf(out, "[%s] %s: %s", timestamp, level.String(), message)
		if len(merged) > 0 {
			fmt.Fprintf(out, " %v", map[string]interface{}(merged))
		}
		fmt.Fprintln(out)
	}
	l.sink.mu.Unlock()

	if level == FATAL {
		os.Exit(1)
	}
}

func first(fields []Fields) Fields {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}

// Debug logs a debug message
func (l *Logger) Debug(message string, fields ...Fields) { l.log(DEBUG, message, first(fields)) }

// Info logs an info message
func (l *Logger) Info(message string, fields ...Fields) { l.log(INFO, message, first(fields)) }

// Warn logs a warning message
func (l *Logger) Warn(message string, fields ...Fields) { l.log(WARN, message, first(fields)) }

// Error logs an error message
func (l *Logger) Error(message string, fields ...Fields) { l.log(ERROR, message, first(fields)) }

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(message string, fields ...Fields) { l.log(FATAL, message, first(fields)) }

// WithField adds a field to the logger context
func (l *Logger) WithField(key string, value interface{}) *Logger {
	newFields := make(Fields, len(l.fields)+1)
	for k, v := range l.fields {
		newFields[k] = v
	}
	newFields[key] = value
	return &Logger{
		level:      l.level,
		jsonFormat: l.jsonFormat,
		fields:     newFields,
		component:  l.component,
		sink:       l.sink,
	}
}

// ParseLevel parses a log level string
func ParseLevel(level string) Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

// Close closes the log file if opened
func (l *Logger) Close() error {
	l.sink.mu.Lock()
	file := l.sink.file
	l.sink.mu.Unlock()
	if file == nil {
		return nil
	}
	l.Info("Logger closing")

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.file = nil
	l.sink.out = os.Stdout
	return file.Close()
}

// RotateIfNeeded rotates the log file once it exceeds maxSize bytes
func (l *Logger) RotateIfNeeded(maxSize int64) error {
	rotated, backupPath, err := l.sink.rotate(maxSize)
	if err != nil || !rotated {
		return err
	}
	l.Info(fmt.Sprintf("Log rotated: %s -> %s", l.sink.name(), backupPath))
	return nil
}

func (s *sink) name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return ""
	}
	return s.file.Name()
}

func (s *sink) rotate(maxSize int64) (bool, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return false, "", nil
	}

	info, err := s.file.Stat()
	if err != nil {
		return false, "", err
	}
	if info.Size() <= maxSize {
		return false, "", nil
	}

	oldPath := s.file.Name()
	s.file.Close()
	backupPath := oldPath + "." + time.Now().Format("20060102-150405")
	if err := os.Rename(oldPath, backupPath); err != nil {
		return false, "", err
	}
	newFile, err := os.OpenFile(oldPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		s.file = nil
		s.out = os.Stdout
		return false, "", err
	}
	s.file = newFile
	s.out = io.MultiWriter(newFile, os.Stdout)
	return true, backupPath, nil
}

func isWritable(path string) bool {
	if err := os.MkdirAll(path, 0755); err != nil {
		return false
	}
	testFile := filepath.Join(path, ".write_test")
	f, err := os.Create(testFile)
	if err != nil {
		return false
	}
	f.Close()
	os.Remove(testFile)
	return true
}

// GetLogPath returns the log path used for a component
func GetLogPath(component string) string {
	baseDir := "/var/log/transcoder"
	if !isWritable(baseDir) {
		baseDir = "./logs"
	}
	return filepath.Join(baseDir, component+".log")
}
