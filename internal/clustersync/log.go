package clustersync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// LineWriter is the single-method logging sink the spec names in §6: one
// line per event, every line prefixed "# ". Implementations are typically a
// thin wrapper around a file or the product's shared logging sink.
type LineWriter interface {
	WriteLog(line string)
}

// lineWriterHandler adapts a LineWriter into an slog.Handler so the engine
// can use structured log/slog calls (log.Info("...", "repo", id)) while
// still satisfying the spec's one-line "# "-prefixed wire contract.
type lineWriterHandler struct {
	w     LineWriter
	level slog.Leveler
	attrs []slog.Attr
	group string
}

// NewLineWriterLogger builds an *slog.Logger that emits one "# "-prefixed
// line per record to w.
func NewLineWriterLogger(w LineWriter, level slog.Leveler) *slog.Logger {
	if level == nil {
		level = slog.LevelInfo
	}
	return slog.New(&lineWriterHandler{w: w, level: level})
}

func (h *lineWriterHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *lineWriterHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString("# ")
	b.WriteString(r.Time.Format("2006-01-02T15:04:05.000Z07:00"))
	b.WriteString(" ")
	b.WriteString(r.Level.String())
	b.WriteString(" ")
	if h.group != "" {
		b.WriteString(h.group)
		b.WriteString(": ")
	}
	b.WriteString(r.Message)
	for _, a := range h.attrs {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
		return true
	})
	h.w.WriteLog(b.String())
	return nil
}

func (h *lineWriterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &next
}

func (h *lineWriterHandler) WithGroup(name string) slog.Handler {
	next := *h
	if next.group == "" {
		next.group = name
	} else {
		next.group = next.group + "." + name
	}
	return &next
}
