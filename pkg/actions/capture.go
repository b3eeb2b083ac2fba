package actions

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/dukex/flowrule/pkg/models"
	"github.com/jonboulle/clockwork"
)

// logBuffer collects the records of one execution. Once sealed it drops records,
// so a handler still running after a timeout cannot touch the saved execution.
type logBuffer struct {
	mu     sync.Mutex
	clock  clockwork.Clock
	logs   []models.ActionLog
	sealed bool
}

func (b *logBuffer) add(entry models.ActionLog) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sealed {
		return
	}

	b.logs = append(b.logs, entry)
}

func (b *logBuffer) seal() []models.ActionLog {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sealed = true

	out := make([]models.ActionLog, len(b.logs))
	copy(out, b.logs)

	return out
}

// captureHandler records every log line into a logBuffer and forwards it to next.
type captureHandler struct {
	buf   *logBuffer
	next  slog.Handler
	attrs []slog.Attr
}

func newCaptureLogger(logger *slog.Logger, buf *logBuffer) *slog.Logger {
	return slog.New(&captureHandler{buf: buf, next: logger.Handler()})
}

func (h *captureHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelDebug
}

func (h *captureHandler) Handle(ctx context.Context, record slog.Record) error {
	data := map[string]any{}

	for _, attr := range h.attrs {
		data[attr.Key] = attr.Value.Resolve().Any()
	}

	record.Attrs(func(attr slog.Attr) bool {
		data[attr.Key] = attr.Value.Resolve().Any()

		return true
	})

	if len(data) == 0 {
		data = nil
	}

	h.buf.add(models.ActionLog{
		Timestamp: h.buf.clock.Now().UTC(),
		Level:     strings.ToLower(record.Level.String()),
		Message:   record.Message,
		Data:      data,
	})

	if h.next.Enabled(ctx, record.Level) {
		return h.next.Handle(ctx, record)
	}

	return nil
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)

	return &captureHandler{buf: h.buf, next: h.next.WithAttrs(attrs), attrs: merged}
}

func (h *captureHandler) WithGroup(name string) slog.Handler {
	return &captureHandler{buf: h.buf, next: h.next.WithGroup(name), attrs: h.attrs}
}
