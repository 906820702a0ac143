package log

import (
	"log/slog"
	"sync"
	"time"
)

// Level is a log severity.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	// FatalLevel only exists so configs can silence everything below it.
	FatalLevel
)

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case FatalLevel:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Fields holds the attributes of one entry by key.
type Fields map[string]interface{}

// ComponentKey carries the WithComponent tag.
const ComponentKey = "component"

// Entry is what a Formatter renders.
type Entry struct {
	Level     Level
	Message   string
	Fields    Fields
	Timestamp time.Time
	Caller    string
}

// Logger is the logging surface every flojobs component receives.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With returns a logger that adds fields to every entry.
	With(fields ...Field) Logger
	WithComponent(component string) Logger

	// SetLevel applies to every logger derived from the same root.
	SetLevel(level Level)
	GetLevel() Level
}

// Formatter renders an entry for the Output pipeline.
type Formatter interface {
	Format(entry *Entry) ([]byte, error)
}

// Output receives formatted entries.
type Output interface {
	Write(entry *Entry, formatted []byte) error
	Close() error
}

type LoggerOption func(*BaseLogger)

// BaseLogger is the Logger returned by NewLogger and ApplyConfig.
type BaseLogger struct {
	mu         *sync.RWMutex
	level      Level
	formatter  Formatter
	outputs    []Output
	handler    slog.Handler
	redact     []string
	sampleInit int
	sampleThen int
	root       *BaseLogger
	slogLogger *slog.Logger
}

// NewLogger defaults to InfoLevel, JSON formatting and stderr.
func NewLogger(options ...LoggerOption) Logger {
	logger := &BaseLogger{
		mu:        &sync.RWMutex{},
		level:     InfoLevel,
		formatter: &JSONFormatter{},
	}
	logger.root = logger
	for _, option := range options {
		option(logger)
	}
	if len(logger.outputs) == 0 {
		logger.outputs = append(logger.outputs, NewConsoleOutput())
	}

	h := newBridgeHandler(logger).
		withRedactions(logger.redact).
		withSampler(logger.sampleInit, logger.sampleThen)
	logger.slogLogger = slog.New(h)
	return logger
}

func WithLevel(level Level) LoggerOption {
	return func(l *BaseLogger) { l.level = level }
}

func WithFormatter(formatter Formatter) LoggerOption {
	return func(l *BaseLogger) { l.formatter = formatter }
}

func WithOutput(output Output) LoggerOption {
	return func(l *BaseLogger) { l.outputs = append(l.outputs, output) }
}

// WithHandler sends records to h (tint, slog.JSONHandler) instead of the
// Formatter and Output pipeline.
func WithHandler(h slog.Handler) LoggerOption {
	return func(l *BaseLogger) { l.handler = h }
}

// WithRedaction masks the values of keys as "[REDACTED]".
func WithRedaction(keys ...string) LoggerOption {
	return func(l *BaseLogger) { l.redact = append(l.redact, keys...) }
}

// WithSampling keeps the first initial entries of each message, then every
// thereafter-th. Fetch loops log the same line at poll rate.
func WithSampling(initial, thereafter int) LoggerOption {
	return func(l *BaseLogger) {
		l.sampleInit = initial
		l.sampleThen = thereafter
	}
}
