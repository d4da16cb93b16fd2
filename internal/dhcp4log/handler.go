// Package dhcp4log implements a [slog.Handler] that formats records as
// bracketed legacy-style lines and ships them through a bounded channel to
// a dedicated file-writer goroutine, so that a slow or stalled disk applies
// backpressure to logging callers instead of ever dropping a record.
package dhcp4log

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// channelCapacity is the bound on buffered, not-yet-written log lines.
const channelCapacity = 100

// timeFormat is the wire format of a record's timestamp.
const timeFormat = "2006-01-02 15:04:05"

// Handler is a [slog.Handler] that never blocks on formatting, only on a
// full channel.
type Handler struct {
	lines chan []byte
	level slog.Leveler
	attrs []slog.Attr
	group string
}

// var check
var _ slog.Handler = (*Handler)(nil)

// NewHandler creates a Handler and starts its writer goroutine, which
// copies every formatted line to w until ctx is done, draining the channel
// before returning.  level gates which records are accepted; a nil level
// defaults to [slog.LevelInfo].
func NewHandler(ctx context.Context, w io.Writer, level slog.Leveler) (h *Handler) {
	if level == nil {
		level = slog.LevelInfo
	}

	h = &Handler{lines: make(chan []byte, channelCapacity), level: level}

	go h.run(ctx, w)

	return h
}

// run drains h.lines into w until ctx is done, then drains whatever
// remains before returning.
func (h *Handler) run(ctx context.Context, w io.Writer) {
	for {
		select {
		case line, ok := <-h.lines:
			if !ok {
				return
			}

			_, _ = w.Write(line)
		case <-ctx.Done():
			h.drain(w)

			return
		}
	}
}

// drain writes every line already queued, without blocking for more.
func (h *Handler) drain(w io.Writer) {
	for {
		select {
		case line := <-h.lines:
			_, _ = w.Write(line)
		default:
			return
		}
	}
}

// Enabled implements the [slog.Handler] interface for *Handler.
func (h *Handler) Enabled(_ context.Context, level slog.Level) (ok bool) {
	return level >= h.level.Level()
}

// Handle implements the [slog.Handler] interface for *Handler.  It formats
// r and sends it on the channel, blocking if the channel is full.
func (h *Handler) Handle(ctx context.Context, r slog.Record) (err error) {
	var buf bytes.Buffer

	buf.WriteByte('[')
	buf.WriteString(r.Time.UTC().Format(timeFormat))
	buf.WriteString("] [")
	buf.WriteString(strings.ToUpper(r.Level.String()))
	buf.WriteString("] ")

	if h.group != "" {
		buf.WriteString(h.group)
		buf.WriteByte(':')
		buf.WriteByte(' ')
	}

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		writeAttr(&buf, a)
	}

	r.Attrs(func(a slog.Attr) (ok bool) {
		writeAttr(&buf, a)

		return true
	})

	buf.WriteByte('\n')

	select {
	case h.lines <- buf.Bytes():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// writeAttr appends a `key=value` suffix for a.
func writeAttr(buf *bytes.Buffer, a slog.Attr) {
	if a.Equal(slog.Attr{}) {
		return
	}

	fmt.Fprintf(buf, " %s=%v", a.Key, a.Value.Any())
}

// WithAttrs implements the [slog.Handler] interface for *Handler.
func (h *Handler) WithAttrs(attrs []slog.Attr) (out slog.Handler) {
	if len(attrs) == 0 {
		return h
	}

	next := *h
	next.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)

	return &next
}

// WithGroup implements the [slog.Handler] interface for *Handler.
func (h *Handler) WithGroup(name string) (out slog.Handler) {
	if name == "" {
		return h
	}

	next := *h
	if next.group == "" {
		next.group = name
	} else {
		next.group = next.group + "." + name
	}

	return &next
}

// openFileWriter is a small [io.Writer] adapter kept separate from
// [Handler] so tests can substitute an in-memory buffer; production
// callers open the configured log file and pass its *os.File here.
type openFileWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// Write implements the [io.Writer] interface for *openFileWriter.
func (o *openFileWriter) Write(p []byte) (n int, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.w.Write(p)
}

// SyncWriter wraps w with a mutex, for safe concurrent use as the
// destination of a single [Handler]'s writer goroutine alongside any other
// direct writer of the same file.
func SyncWriter(w io.Writer) (out io.Writer) {
	return &openFileWriter{w: w}
}
