package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Sensor log levels as they appear in log lines.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelFault = "fault"
)

const lineTimeFormat = "2006-01-02 15:04:05"

// Logger tags every entry with a subsystem and category.
type Logger struct {
	subsystem string
	category  string
}

func New(subsystem, category string) *Logger {
	return &Logger{subsystem: subsystem, category: category}
}

func (l *Logger) zl() zerolog.Logger {
	return Base().With().Str("subsystem", l.subsystem).Str("category", l.category).Logger()
}

func (l *Logger) Debug(msg string) {
	z := l.zl()
	z.Debug().Msg(msg)
}

func (l *Logger) Info(msg string) {
	z := l.zl()
	z.Info().Msg(msg)
}

// Fault records a failure that dropped an event or operation.
func (l *Logger) Fault(msg string) {
	z := l.zl()
	z.Error().Msg(msg)
}

func (l *Logger) Debugf(format string, args ...any) {
	l.Debug(fmt.Sprintf(format, args...))
}

func (l *Logger) Infof(format string, args ...any) {
	l.Info(fmt.Sprintf(format, args...))
}

func (l *Logger) Faultf(format string, args ...any) {
	l.Fault(fmt.Sprintf(format, args...))
}

// FormatLine renders timestamp,level,subsystem,category,message. A message
// containing a comma is quoted, with inner double quotes turned into single quotes.
func FormatLine(ts time.Time, level, subsystem, category, message string) string {
	msg := strings.ReplaceAll(message, `"`, "'")
	if strings.Contains(message, ",") {
		msg = `"` + msg + `"`
	}
	return ts.Format(lineTimeFormat) + "," + level + "," + subsystem + "," + category + "," + msg
}

// LineWriter converts zerolog JSON events into sensor log lines.
type LineWriter struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

func NewLineWriter(out io.Writer) *LineWriter {
	return &LineWriter{out: out, now: time.Now}
}

type lineEvent struct {
	Time      string `json:"time"`
	Level     string `json:"level"`
	Subsystem string `json:"subsystem"`
	Category  string `json:"category"`
	Message   string `json:"message"`
}

func (w *LineWriter) Write(p []byte) (int, error) {
	var ev lineEvent
	if err := json.Unmarshal(p, &ev); err != nil {
		return 0, fmt.Errorf("log line decode: %w", err)
	}
	ts := w.now()
	if ev.Time != "" {
		if parsed, err := time.Parse(zerolog.TimeFieldFormat, ev.Time); err == nil {
			ts = parsed
		}
	}
	line := FormatLine(ts, ev.Level, ev.Subsystem, ev.Category, ev.Message) + "\n"

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := io.WriteString(w.out, line); err != nil {
		return 0, err
	}
	return len(p), nil
}
