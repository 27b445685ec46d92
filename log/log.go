// Package log provides the structured, leveled logger used across the
// shred ingestion core: a small Logger wrapper around log/slog with a
// terminal-aware handler rather than a bespoke formatting layer.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Mode selects where log output is written. It mirrors the core's
// log_mode configuration key; the core never reads that key itself
// (configuration loading is out of scope) — the embedding application
// calls SetupHandler with the resolved mode.
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeConsole  Mode = "console"
	ModeFile     Mode = "file"
	ModeBoth     Mode = "both"
)

// Logger is a named, structured logger. Components obtain one via New
// so that every log line is attributable to the component that emitted
// it.
type Logger struct {
	base *slog.Logger
	name string
}

var root = &Logger{base: slog.New(slog.NewTextHandler(io.Discard, nil))}

// SetupHandler installs the process-wide root handler. It is the single
// seam the out-of-scope CLI/config layer is expected to call during
// bring-up; nothing inside the core calls it itself.
func SetupHandler(mode Mode, filePath string) {
	var handlers []slog.Handler
	lvl := slog.LevelInfo

	if mode == ModeConsole || mode == ModeBoth {
		w := io.Writer(os.Stdout)
		var h slog.Handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})
		if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
			w = colorable.NewColorable(f)
			h = &levelColorHandler{Handler: slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})}
		}
		handlers = append(handlers, h)
	}
	if mode == ModeFile || mode == ModeBoth {
		lj := &lumberjack.Logger{
			Filename:   filePath,
			MaxSize:    100, // megabytes
			MaxBackups: 7,
			MaxAge:     14, // days
			Compress:   true,
		}
		handlers = append(handlers, slog.NewJSONHandler(lj, &slog.HandlerOptions{Level: lvl}))
	}

	switch len(handlers) {
	case 0:
		root.base = slog.New(slog.NewTextHandler(io.Discard, nil))
	case 1:
		root.base = slog.New(handlers[0])
	default:
		root.base = slog.New(&fanoutHandler{handlers: handlers})
	}
}

// New returns a named sub-logger. Pairs of key/value fields may be
// attached the same way slog.Logger.With works.
func New(component string, args ...any) *Logger {
	base := root.base
	if len(args) > 0 {
		base = base.With(args...)
	}
	return &Logger{base: base.With("component", component), name: component}
}

func (l *Logger) with(level slog.Level, msg string, args []any) {
	if !l.base.Enabled(context.Background(), level) {
		return
	}
	var pcs [1]uintptr
	if level >= slog.LevelError {
		frame := stack.Caller(2)
		args = append(args, "at", frame.String())
	}
	_ = pcs
	l.base.Log(context.Background(), level, msg, args...)
}

func (l *Logger) Trace(msg string, args ...any) { l.with(slog.LevelDebug-4, msg, args) }
func (l *Logger) Debug(msg string, args ...any) { l.with(slog.LevelDebug, msg, args) }
func (l *Logger) Info(msg string, args ...any)  { l.with(slog.LevelInfo, msg, args) }
func (l *Logger) Warn(msg string, args ...any)  { l.with(slog.LevelWarn, msg, args) }
func (l *Logger) Error(msg string, args ...any) { l.with(slog.LevelError, msg, args) }

// With returns a derived logger carrying additional structured fields,
// e.g. the (slot, fec_set_index) key of the unit being processed. A nil
// Logger, which components treat as "no logging", derives nil.
func (l *Logger) With(args ...any) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{base: l.base.With(args...), name: l.name}
}

// fanoutHandler duplicates records to every wrapped handler; used for
// log_mode=both.
type fanoutHandler struct {
	handlers []slog.Handler
}

func (f *fanoutHandler) Enabled(ctx context.Context, lvl slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, lvl) {
			return true
		}
	}
	return false
}

func (f *fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, h := range f.handlers {
		if err := h.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &fanoutHandler{handlers: next}
}

func (f *fanoutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithGroup(name)
	}
	return &fanoutHandler{handlers: next}
}

// levelColorHandler colors a record's message by level before
// delegating to the wrapped handler, so a console session can spot an
// Error line among a scroll of Info/Debug ones without reading the
// level field itself.
type levelColorHandler struct {
	slog.Handler
}

var (
	colorError = color.New(color.FgRed, color.Bold)
	colorWarn  = color.New(color.FgYellow)
	colorInfo  = color.New(color.FgGreen)
	colorDebug = color.New(color.FgCyan)
)

func (h *levelColorHandler) Handle(ctx context.Context, r slog.Record) error {
	var c *color.Color
	switch {
	case r.Level >= slog.LevelError:
		c = colorError
	case r.Level >= slog.LevelWarn:
		c = colorWarn
	case r.Level >= slog.LevelInfo:
		c = colorInfo
	default:
		c = colorDebug
	}
	r.Message = c.Sprint(r.Message)
	return h.Handler.Handle(ctx, r)
}

func (h *levelColorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelColorHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *levelColorHandler) WithGroup(name string) slog.Handler {
	return &levelColorHandler{Handler: h.Handler.WithGroup(name)}
}

// Since formats a duration the way timing samples are logged at trace
// level in the receive path.
func Since(t time.Time) time.Duration { return time.Since(t) }
