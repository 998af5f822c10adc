package logger

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger writes structured zerolog events. Warnings and errors are also
// handed to the optional collector for aggregation.
type Logger struct {
	zl        zerolog.Logger
	collector *LogCollector
}

type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json or console
	Output     string // stdout, stderr, or file path
	TimeFormat string
}

func New(cfg *Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	zerolog.SetGlobalLevel(level)

	var output io.Writer
	switch cfg.Output {
	case "", "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		file, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("could not open log file: %w", err)
		}
		output = file
	}

	if cfg.TimeFormat == "" {
		cfg.TimeFormat = time.RFC3339Nano
	}
	zerolog.TimeFieldFormat = cfg.TimeFormat
	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: cfg.TimeFormat}
	}

	zl := zerolog.New(output).With().Timestamp().CallerWithSkipFrameCount(4).Logger()
	return &Logger{zl: zl}, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// With returns a child logger that always carries the given fields.
func (l *Logger) With(fields ...Field) *Logger {
	ctx := l.zl.With()
	for _, f := range fields {
		ctx = ctx.Interface(f.Key, f.value())
	}
	return &Logger{zl: ctx.Logger(), collector: l.collector}
}

func (l *Logger) Debug(msg string, fields ...Field) { l.emit(l.zl.Debug(), "", msg, fields) }
func (l *Logger) Info(msg string, fields ...Field)  { l.emit(l.zl.Info(), "", msg, fields) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.emit(l.zl.Warn(), "warn", msg, fields) }
func (l *Logger) Error(msg string, fields ...Field) { l.emit(l.zl.Error(), "error", msg, fields) }

// emit writes the event; a non-empty collect level also records it in the
// collector. Call depth is fixed: caller -> level method -> emit.
func (l *Logger) emit(event *zerolog.Event, collect, msg string, fields []Field) {
	for _, f := range fields {
		f.addTo(event)
	}
	event.Msg(msg)

	if collect == "" || l.collector == nil {
		return
	}
	caller := "unknown"
	if _, file, line, ok := runtime.Caller(2); ok {
		if i := strings.LastIndex(file, "PickFlow/"); i >= 0 {
			file = file[i+len("PickFlow/"):]
		}
		caller = fmt.Sprintf("%s:%d", file, line)
	}
	m := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		m[f.Key] = f.value()
	}
	l.collector.AddLog(collect, msg, m, caller)
}

// AddCollector starts aggregating warnings and errors, replacing any
// previous collector.
func (l *Logger) AddCollector(config *CollectionConfig) {
	if l.collector != nil {
		l.collector.Close()
	}
	l.collector = NewLogCollector(config)
}

// RemoveCollector flushes and stops the collector.
func (l *Logger) RemoveCollector() {
	if l.collector != nil {
		l.collector.Close()
		l.collector = nil
	}
}

type fieldKind uint8

const (
	kindAny fieldKind = iota
	kindString
	kindInt
	kindInt64
	kindFloat
	kindBool
	kindError
)

// Field is one structured key/value attached to a log line.
type Field struct {
	Key  string
	kind fieldKind
	str  string
	num  int64
	flt  float64
	any  interface{}
}

func (f Field) addTo(e *zerolog.Event) {
	switch f.kind {
	case kindString:
		e.Str(f.Key, f.str)
	case kindInt:
		e.Int(f.Key, int(f.num))
	case kindInt64:
		e.Int64(f.Key, f.num)
	case kindFloat:
		e.Float64(f.Key, f.flt)
	case kindBool:
		e.Bool(f.Key, f.num != 0)
	case kindError:
		if err, _ := f.any.(error); err != nil {
			e.Str(f.Key, err.Error())
		}
	default:
		e.Interface(f.Key, f.any)
	}
}

// value is the JSON-friendly form used by With and the collector. Errors
// become their message.
func (f Field) value() interface{} {
	switch f.kind {
	case kindString:
		return f.str
	case kindInt:
		return int(f.num)
	case kindInt64:
		return f.num
	case kindFloat:
		return f.flt
	case kindBool:
		return f.num != 0
	case kindError:
		if err, _ := f.any.(error); err != nil {
			return err.Error()
		}
		return nil
	default:
		return f.any
	}
}

// GetKeyValue returns the key and the collector form of the value.
func (f Field) GetKeyValue() (string, interface{}) { return f.Key, f.value() }

func String(key, value string) Field  { return Field{Key: key, kind: kindString, str: value} }
func Int(key string, value int) Field { return Field{Key: key, kind: kindInt, num: int64(value)} }
func Int64(key string, value int64) Field {
	return Field{Key: key, kind: kindInt64, num: value}
}
func Float64(key string, value float64) Field { return Field{Key: key, kind: kindFloat, flt: value} }
func Error(err error) Field                   { return Field{Key: "error", kind: kindError, any: err} }
func Any(key string, value interface{}) Field { return Field{Key: key, any: value} }
func Ints(key string, value []int) Field      { return Any(key, value) }

func Bool(key string, v bool) Field {
	f := Field{Key: key, kind: kindBool}
	if v {
		f.num = 1
	}
	return f
}

// Duration logs milliseconds.
func Duration(key string, value time.Duration) Field {
	return Int64(key, value.Milliseconds())
}

func Strings(key string, value []string) Field {
	return String(key, strings.Join(value, ", "))
}

func Time(key string, value time.Time) Field {
	return String(key, value.Format(time.RFC3339))
}
