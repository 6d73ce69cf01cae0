// Package logging provides categorised structured logging for the reader
// stack, plus opt-in Sentry error capture.
//
// Records go to stderr through log/slog: a text handler when stderr is a
// terminal, JSON otherwise. Every record carries its category and the
// calling location.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/go-stack/stack"
	"github.com/mattn/go-isatty"
)

// Category groups log records by subsystem.
type Category string

const (
	CatApp    Category = "app"
	CatReader Category = "reader"
	CatUSB    Category = "usb"
	CatRelay  Category = "relay"
)

var (
	level  = new(slog.LevelVar)
	logger atomic.Pointer[slog.Logger]
)

func init() {
	level.Set(slog.LevelInfo)
	SetOutput(os.Stderr)
}

// SetOutput redirects all records to w. Terminals get the text format,
// anything else JSON lines.
func SetOutput(w io.Writer) {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	logger.Store(slog.New(h))
}

// SetLevel sets the minimum level that is emitted.
func SetLevel(l slog.Level) {
	level.Set(l)
}

// ParseLevel accepts debug, info, warn and error, case insensitive.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("log level %q: %w", s, err)
	}
	return l, nil
}

func Debug(cat Category, msg string, fields map[string]any) {
	emit(slog.LevelDebug, cat, msg, fields)
}

func Info(cat Category, msg string, fields map[string]any) {
	emit(slog.LevelInfo, cat, msg, fields)
}

func Warn(cat Category, msg string, fields map[string]any) {
	emit(slog.LevelWarn, cat, msg, fields)
}

func Error(cat Category, msg string, fields map[string]any) {
	emit(slog.LevelError, cat, msg, fields)
}

func emit(l slog.Level, cat Category, msg string, fields map[string]any) {
	lg := logger.Load()
	if !lg.Enabled(context.Background(), l) {
		return
	}

	attrs := make([]slog.Attr, 0, len(fields)+2)
	attrs = append(attrs,
		slog.String("cat", string(cat)),
		slog.String("caller", fmt.Sprintf("%+v", stack.Caller(2))),
	)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, fields[k]))
	}

	lg.LogAttrs(context.Background(), l, msg, attrs...)
}
