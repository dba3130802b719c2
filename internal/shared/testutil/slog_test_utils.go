package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

// LogRecord is one captured log record, flattened for assertions. Attribute
// keys carry group prefixes joined with dots, so a record logged under
// WithGroup("paths") as slog.String("data", x) appears as "paths.data".
type LogRecord struct {
	Time    time.Time
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// recordSink is the shared capture target. Handler clones produced by
// WithAttrs and WithGroup all append here, so records logged through derived
// loggers stay visible to the test.
type recordSink struct {
	mu      sync.Mutex
	records []LogRecord
	t       *testing.T
}

// BufferedSlogHandler captures log records for test assertions. Unlike a
// bytes.Buffer over a JSON handler, it keeps records structured so tests can
// assert on individual attributes without re-parsing output.
type BufferedSlogHandler struct {
	sink   *recordSink
	groups []string
	attrs  []slog.Attr
}

// NewBufferedSlogHandler creates a capture handler. The testing.T is optional;
// when set, records are echoed to the test log for debugging.
func NewBufferedSlogHandler(t *testing.T) *BufferedSlogHandler {
	return &BufferedSlogHandler{sink: &recordSink{t: t}}
}

// NewTestLogger returns a logger wired to a fresh capture handler.
func NewTestLogger(t *testing.T) (*slog.Logger, *BufferedSlogHandler) {
	h := NewBufferedSlogHandler(t)
	return slog.New(h), h
}

// Enabled implements slog.Handler. Tests capture every level.
func (h *BufferedSlogHandler) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

// Handle implements slog.Handler.
func (h *BufferedSlogHandler) Handle(_ context.Context, r slog.Record) error {
	attrs := make(map[string]any, r.NumAttrs()+len(h.attrs))
	for _, a := range h.attrs {
		flattenAttr(attrs, nil, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		flattenAttr(attrs, h.groups, a)
		return true
	})

	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()

	h.sink.records = append(h.sink.records, LogRecord{
		Time:    r.Time,
		Level:   r.Level,
		Message: r.Message,
		Attrs:   attrs,
	})
	if h.sink.t != nil {
		h.sink.t.Logf("[%s] %s %v", r.Level, r.Message, attrs)
	}
	return nil
}

// flattenAttr records an attribute under its group-qualified key, expanding
// slog.Group values recursively.
func flattenAttr(dst map[string]any, groups []string, a slog.Attr) {
	key := a.Key
	if len(groups) > 0 {
		key = strings.Join(groups, ".") + "." + a.Key
	}
	if a.Value.Kind() == slog.KindGroup {
		nested := append(append([]string{}, groups...), a.Key)
		for _, ga := range a.Value.Group() {
			flattenAttr(dst, nested, ga)
		}
		return
	}
	dst[key] = a.Value.Resolve().Any()
}

// WithAttrs implements slog.Handler. The clone shares the capture sink; attr
// keys are qualified with the group prefix active at the time of the call.
func (h *BufferedSlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	qualified := make([]slog.Attr, 0, len(attrs))
	for _, a := range attrs {
		qualified = append(qualified, slog.Attr{Key: h.qualify(a.Key), Value: a.Value})
	}
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), qualified...)
	return &clone
}

// WithGroup implements slog.Handler. The clone shares the capture sink.
func (h *BufferedSlogHandler) WithGroup(name string) slog.Handler {
	clone := *h
	clone.groups = append(append([]string{}, h.groups...), name)
	return &clone
}

func (h *BufferedSlogHandler) qualify(key string) string {
	if len(h.groups) == 0 {
		return key
	}
	return strings.Join(h.groups, ".") + "." + key
}

// Records returns a copy of all captured records.
func (h *BufferedSlogHandler) Records() []LogRecord {
	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	out := make([]LogRecord, len(h.sink.records))
	copy(out, h.sink.records)
	return out
}

// RecordsAtLevel returns captured records filtered by level.
func (h *BufferedSlogHandler) RecordsAtLevel(level slog.Level) []LogRecord {
	var out []LogRecord
	for _, r := range h.Records() {
		if r.Level == level {
			out = append(out, r)
		}
	}
	return out
}

// ContainsMessage reports whether any record's message contains the substring.
func (h *BufferedSlogHandler) ContainsMessage(message string) bool {
	for _, r := range h.Records() {
		if strings.Contains(r.Message, message) {
			return true
		}
	}
	return false
}

// ContainsAttr reports whether any record carries the attribute value.
func (h *BufferedSlogHandler) ContainsAttr(key string, value any) bool {
	for _, r := range h.Records() {
		if v, ok := r.Attrs[key]; ok && v == value {
			return true
		}
	}
	return false
}

// LeakedSecret scans every captured message and attribute value for the given
// secret substring. License tests use it to prove plaintext keys and shared
// secrets never reach the logs. An empty secret never matches.
func (h *BufferedSlogHandler) LeakedSecret(secret string) bool {
	if secret == "" {
		return false
	}
	for _, r := range h.Records() {
		if strings.Contains(r.Message, secret) {
			return true
		}
		for k, v := range r.Attrs {
			if strings.Contains(k, secret) || strings.Contains(fmt.Sprint(v), secret) {
				return true
			}
		}
	}
	return false
}

// Clear drops all captured records.
func (h *BufferedSlogHandler) Clear() {
	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	h.sink.records = h.sink.records[:0]
}

// Count returns the number of captured records.
func (h *BufferedSlogHandler) Count() int {
	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	return len(h.sink.records)
}

// AssertLogContains fails the test unless a record at the given level
// contains the message substring.
func AssertLogContains(t *testing.T, handler *BufferedSlogHandler, level slog.Level, message string) {
	t.Helper()
	records := handler.RecordsAtLevel(level)
	for _, r := range records {
		if strings.Contains(r.Message, message) {
			return
		}
	}
	t.Errorf("expected log message not found at level %s: %q", level, message)
	for _, r := range records {
		t.Logf("  captured: %s", r.Message)
	}
}

// AssertNoSecretLeaked fails the test if the secret appears anywhere in the
// captured output. The failure message echoes only the non-sensitive suffix.
func AssertNoSecretLeaked(t *testing.T, handler *BufferedSlogHandler, secret string) {
	t.Helper()
	if handler.LeakedSecret(secret) {
		t.Errorf("secret material leaked into logs (len=%d, suffix=%q)", len(secret), secret[max(0, len(secret)-4):])
	}
}

// AssertNoErrors fails the test if any error-level records were captured.
func AssertNoErrors(t *testing.T, handler *BufferedSlogHandler) {
	t.Helper()
	for _, r := range handler.RecordsAtLevel(slog.LevelError) {
		t.Errorf("unexpected error log: %s %v", r.Message, r.Attrs)
	}
}
