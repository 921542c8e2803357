package logging

import (
	"context"
	"io"
	"log/slog"
	"maps"
	"os"
	"sort"
)

// DefaultLogger writes structured records through a log/slog handler.
// Debug/Info go to the info writer, Warn and above to the error writer.
type DefaultLogger struct {
	out    *slog.Logger
	errOut *slog.Logger
	level  *slog.LevelVar
	fields Fields
}

// NewDefaultLogger creates a text logger writing to stdout and stderr.
func NewDefaultLogger() *DefaultLogger {
	return NewLogger(os.Stdout, os.Stderr, false)
}

// NewLogger creates a logger over the given writers. When jsonFormat is set
// records are emitted as JSON lines instead of logfmt-style text.
func NewLogger(out, errOut io.Writer, jsonFormat bool) *DefaultLogger {
	lv := new(slog.LevelVar)
	lv.Set(slog.LevelInfo)
	opts := &slog.HandlerOptions{Level: lv}

	mk := func(w io.Writer) *slog.Logger {
		if jsonFormat {
			return slog.New(slog.NewJSONHandler(w, opts))
		}
		return slog.New(slog.NewTextHandler(w, opts))
	}

	return &DefaultLogger{
		out:    mk(out),
		errOut: mk(errOut),
		level:  lv,
		fields: make(Fields),
	}
}

func toSlogLevel(level Level) slog.Level {
	switch level {
	case DebugLevel:
		return slog.LevelDebug
	case InfoLevel:
		return slog.LevelInfo
	case WarnLevel:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// attrs flattens preset and call fields into sorted slog attributes so output is stable.
func (d *DefaultLogger) attrs(err error, fields ...Fields) []any {
	all := make(Fields, len(d.fields))
	maps.Copy(all, d.fields)
	for _, f := range fields {
		maps.Copy(all, f)
	}

	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]any, 0, len(keys)+1)
	if err != nil {
		out = append(out, slog.String("error", err.Error()))
	}
	for _, k := range keys {
		out = append(out, slog.Any(k, all[k]))
	}
	return out
}

func (d *DefaultLogger) log(level Level, err error, msg string, fields ...Fields) {
	sl := toSlogLevel(level)
	target := d.out
	if level >= WarnLevel {
		target = d.errOut
	}
	if !target.Enabled(context.Background(), sl) {
		return
	}
	target.Log(context.Background(), sl, msg, d.attrs(err, fields...)...)
	if level == FatalLevel {
		os.Exit(1)
	}
}

func (d *DefaultLogger) Debug(msg string, fields ...Fields) {
	d.log(DebugLevel, nil, msg, fields...)
}

func (d *DefaultLogger) Info(msg string, fields ...Fields) {
	d.log(InfoLevel, nil, msg, fields...)
}

func (d *DefaultLogger) Warn(msg string, fields ...Fields) {
	d.log(WarnLevel, nil, msg, fields...)
}

func (d *DefaultLogger) Error(err error, msg string, fields ...Fields) {
	d.log(ErrorLevel, err, msg, fields...)
}

func (d *DefaultLogger) Fatal(err error, msg string, fields ...Fields) {
	d.log(FatalLevel, err, msg, fields...)
}

func (d *DefaultLogger) WithFields(fields Fields) Logger {
	newFields := make(Fields, len(d.fields)+len(fields))
	maps.Copy(newFields, d.fields)
	maps.Copy(newFields, fields)

	return &DefaultLogger{
		out:    d.out,
		errOut: d.errOut,
		level:  d.level,
		fields: newFields,
	}
}

func (d *DefaultLogger) WithContext(ctx context.Context) Logger {
	if fields, ok := fieldsFromContext(ctx); ok {
		return d.WithFields(fields)
	}
	return d
}

// SetLevel changes the level for this logger and every logger derived from it.
func (d *DefaultLogger) SetLevel(level Level) {
	d.level.Set(toSlogLevel(level))
}

// NoOpLogger discards everything. Tests install it to keep output quiet.
type NoOpLogger struct{}

func (n *NoOpLogger) Debug(msg string, fields ...Fields)            {}
func (n *NoOpLogger) Info(msg string, fields ...Fields)             {}
func (n *NoOpLogger) Warn(msg string, fields ...Fields)             {}
func (n *NoOpLogger) Error(err error, msg string, fields ...Fields) {}
func (n *NoOpLogger) Fatal(err error, msg string, fields ...Fields) {}
func (n *NoOpLogger) WithFields(fields Fields) Logger               { return n }
func (n *NoOpLogger) WithContext(ctx context.Context) Logger        { return n }
func (n *NoOpLogger) SetLevel(level Level)                          {}
