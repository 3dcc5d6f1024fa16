package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

// TextHandler implements slog.Handler with optionally colored text output.
type TextHandler struct {
	opts     *slog.HandlerOptions
	w        io.Writer
	mu       *sync.Mutex
	attrs    []slog.Attr
	useColor bool
}

// NewTextHandler creates a new TextHandler.
func NewTextHandler(w io.Writer, opts *slog.HandlerOptions, useColor bool) *TextHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &TextHandler{
		opts:     opts,
		w:        w,
		mu:       &sync.Mutex{},
		useColor: useColor,
	}
}

// Enabled reports whether the handler handles records at the given level.
func (h *TextHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

// Handle formats and writes a log record.
func (h *TextHandler) Handle(_ context.Context, r slog.Record) error {
	// Build the line in a local buffer; only the write itself is locked.
	var buf []byte
	buf = fmt.Appendf(buf, "[%s] [%s] %s",
		r.Time.Format("2006-01-02 15:04:05"), h.formatLevel(r.Level), r.Message)

	for _, attr := range h.attrs {
		buf = h.appendAttr(buf, attr)
	}
	r.Attrs(func(a slog.Attr) bool {
		buf = h.appendAttr(buf, a)
		return true
	})

	buf = append(buf, '\n')

	h.mu.Lock()
	_, err := h.w.Write(buf)
	h.mu.Unlock()
	return err
}

func (h *TextHandler) formatLevel(level slog.Level) string {
	var levelStr, color string
	switch {
	case level < slog.LevelInfo:
		levelStr, color = "DEBUG", colorGray
	case level < slog.LevelWarn:
		levelStr, color = "INFO", colorGreen
	case level < slog.LevelError:
		levelStr, color = "WARN", colorYellow
	default:
		levelStr, color = "ERROR", colorRed
	}

	if h.useColor {
		return color + levelStr + colorReset
	}
	return levelStr
}

func (h *TextHandler) appendAttr(buf []byte, a slog.Attr) []byte {
	if a.Equal(slog.Attr{}) {
		return buf
	}
	a.Value = a.Value.Resolve()

	val := formatValue(a.Value)
	if h.useColor {
		return fmt.Appendf(buf, " %s%s%s=%s", colorCyan, a.Key, colorReset, val)
	}
	return fmt.Appendf(buf, " %s=%s", a.Key, val)
}

func formatValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return fmt.Sprintf("%d", v.Int64())
	case slog.KindUint64:
		return fmt.Sprintf("%d", v.Uint64())
	case slog.KindFloat64:
		return fmt.Sprintf("%.3f", v.Float64())
	case slog.KindBool:
		return fmt.Sprintf("%t", v.Bool())
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	case slog.KindAny:
		return fmt.Sprintf("%v", v.Any())
	default:
		return v.String()
	}
}

// WithAttrs returns a new handler with additional attrs.
func (h *TextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TextHandler{
		opts:     h.opts,
		w:        h.w,
		mu:       h.mu, // share mutex with parent
		attrs:    append(append([]slog.Attr{}, h.attrs...), attrs...),
		useColor: h.useColor,
	}
}

// WithGroup returns the handler unchanged; the pipeline logs flat keys.
func (h *TextHandler) WithGroup(name string) slog.Handler {
	return h
}
