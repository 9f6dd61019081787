package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

func (l Level) String() string {
	if l < LevelDebug || l > LevelError {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel maps a case-insensitive level name to a Level.
func ParseLevel(name string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", name)
}

// Fields is a bag of structured values attached to an entry.
type Fields map[string]interface{}

// LogEntry is one JSON line.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Fields    Fields `json:"fields,omitempty"`
}

// sink is shared by a logger and every child derived from it, so SetLevel and
// SetOutput apply to the whole family and writes never interleave.
type sink struct {
	mu     sync.Mutex
	output io.Writer
	level  atomic.Int32
}

// Logger writes one JSON object per line.
type Logger struct {
	sink   *sink
	fields Fields
}

func New() *Logger {
	s := &sink{output: os.Stdout}
	s.level.Store(int32(LevelInfo))
	return &Logger{sink: s}
}

func (l *Logger) SetOutput(w io.Writer) *Logger {
	l.sink.mu.Lock()
	l.sink.output = w
	l.sink.mu.Unlock()
	return l
}

func (l *Logger) SetLevel(level Level) *Logger {
	l.sink.level.Store(int32(level))
	return l
}

func (l *Logger) Enabled(level Level) bool {
	return level >= Level(l.sink.level.Load())
}

func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(Fields{key: value})
}

// WithFields returns a child logger; the parent is left untouched.
func (l *Logger) WithFields(fields Fields) *Logger {
	merged := make(Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{sink: l.sink, fields: merged}
}

func (l *Logger) Debug(msg string, fields ...Fields) { l.log(LevelDebug, msg, fields) }
func (l *Logger) Info(msg string, fields ...Fields)  { l.log(LevelInfo, msg, fields) }
func (l *Logger) Warn(msg string, fields ...Fields)  { l.log(LevelWarn, msg, fields) }
func (l *Logger) Error(msg string, fields ...Fields) { l.log(LevelError, msg, fields) }

func (l *Logger) log(level Level, msg string, extra []Fields) {
	if !l.Enabled(level) {
		return
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level.String(),
		Message:   msg,
	}
	if n := len(l.fields) + countFields(extra); n > 0 {
		entry.Fields = make(Fields, n)
		for k, v := range l.fields {
			entry.Fields[k] = normalize(v)
		}
		for _, f := range extra {
			for k, v := range f {
				entry.Fields[k] = normalize(v)
			}
		}
	}

	line, err := json.Marshal(entry)
	if err != nil {
		line = []byte(fmt.Sprintf("%s %s %s marshal_error=%q", entry.Timestamp, entry.Level, msg, err.Error()))
	}
	line = append(line, '\n')

	l.sink.mu.Lock()
	_, _ = l.sink.output.Write(line)
	l.sink.mu.Unlock()
}

func countFields(extra []Fields) int {
	n := 0
	for _, f := range extra {
		n += len(f)
	}
	return n
}

// normalize renders errors as text; encoding/json emits {} for most of them.
func normalize(v interface{}) interface{} {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return v
}

// Default is the process logger used by the package-level helpers.
var Default = New()

func SetDefaultLevel(level Level) {
	Default.SetLevel(level)
}

func Debug(msg string, fields ...Fields) { Default.log(LevelDebug, msg, fields) }
func Info(msg string, fields ...Fields)  { Default.log(LevelInfo, msg, fields) }
func Warn(msg string, fields ...Fields)  { Default.log(LevelWarn, msg, fields) }
func Error(msg string, fields ...Fields) { Default.log(LevelError, msg, fields) }
