package bridgez

import (
	"context"
	"sync"
	"time"
)

// bundleKeyType is a private type for context keys to avoid collisions.
type bundleKeyType string

const (
	bundleKey bundleKeyType = "bridgez"
)

// contextBundle holds both tracer and span to reduce context allocations.
type contextBundle struct {
	tracer *Tracer
	span   *ActiveSpan
}

// Span represents a single unit of work in a trace.
// Spans are NOT thread-safe - do not modify from multiple goroutines.
//
//nolint:govet // Field alignment optimized for JSON serialization order
type Span struct {
	Fields    map[Field]any `json:"fields,omitempty"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time,omitempty"`
	Duration  time.Duration `json:"duration"`
	TraceID   string        `json:"trace_id"`
	SpanID    uint64        `json:"span_id"`
	ParentID  uint64        `json:"parent_id,omitempty"`
	Name      string        `json:"name"`
}

// ActiveSpan wraps a Span with thread-safe field operations, lifecycle
// management, and per-span extension storage. Extension values are owned
// by the span and disappear with it.
// Safe for concurrent use by multiple goroutines.
type ActiveSpan struct {
	span   *Span
	tracer *Tracer
	ext    map[any]any
	mu     sync.Mutex // Protects span fields and extension storage.
}

// SetField adds a single key-value pair to the span and notifies layers
// of the change. No-op if the span is already finished.
func (a *ActiveSpan) SetField(key Field, value any) {
	a.RecordFields(map[Field]any{key: value})
}

// RecordFields adds a batch of fields to the span and notifies layers
// with exactly the changed fields. No-op if the span is already finished
// or the batch is empty.
func (a *ActiveSpan) RecordFields(fields map[Field]any) {
	if len(fields) == 0 {
		return
	}

	a.mu.Lock()
	// Don't modify finished spans.
	if !a.span.EndTime.IsZero() {
		a.mu.Unlock()
		return
	}

	if a.span.Fields == nil {
		a.span.Fields = make(map[Field]any, len(fields))
	}
	delta := make(map[Field]any, len(fields))
	for k, v := range fields {
		a.span.Fields[k] = v
		delta[k] = v
	}
	a.mu.Unlock()

	// Hooks fire outside the span lock so handlers may call back into
	// this span or start children without deadlocking.
	a.tracer.fireRecord(a, delta)
}

// Field retrieves a field value by key.
// Thread-safe for concurrent access.
func (a *ActiveSpan) Field(key Field) (any, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.span.Fields == nil {
		return nil, false
	}
	value, ok := a.span.Fields[key]
	return value, ok
}

// Fields returns a copy of the span's current field set.
func (a *ActiveSpan) Fields() map[Field]any {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[Field]any, len(a.span.Fields))
	for k, v := range a.span.Fields {
		out[k] = v
	}
	return out
}

// Finish completes the span and notifies layers via OnClose.
// Safe to call multiple times - subsequent calls are no-ops, so layers
// observe at most one close per span.
func (a *ActiveSpan) Finish() {
	a.mu.Lock()
	// Prevent double-finishing.
	if !a.span.EndTime.IsZero() {
		a.mu.Unlock()
		return
	}

	a.span.EndTime = a.tracer.clock.Now()
	a.span.Duration = a.span.EndTime.Sub(a.span.StartTime)
	a.mu.Unlock()

	a.tracer.fireClose(a)
}

// Finished reports whether the span has completed.
func (a *ActiveSpan) Finished() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.span.EndTime.IsZero()
}

// TraceID returns the trace ID of this span.
func (a *ActiveSpan) TraceID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.span.TraceID
}

// SpanID returns the unique, monotonically assigned ID of this span.
func (a *ActiveSpan) SpanID() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.span.SpanID
}

// ParentID returns the span ID of this span's parent, or zero for roots.
func (a *ActiveSpan) ParentID() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.span.ParentID
}

// Name returns the span's operation name.
func (a *ActiveSpan) Name() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.span.Name
}

// AttachExtension stores an auxiliary value on the span under key,
// failing if the key is already present. Returns true if stored.
// Extension values live exactly as long as the span.
func (a *ActiveSpan) AttachExtension(key, value any) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.ext[key]; exists {
		return false
	}
	if a.ext == nil {
		a.ext = make(map[any]any, 1)
	}
	a.ext[key] = value
	return true
}

// Extension retrieves an auxiliary value by key.
func (a *ActiveSpan) Extension(key any) (any, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	value, ok := a.ext[key]
	return value, ok
}

// UpdateExtension replaces an existing auxiliary value, failing if the
// key is absent. Returns true if replaced.
func (a *ActiveSpan) UpdateExtension(key, value any) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.ext[key]; !exists {
		return false
	}
	a.ext[key] = value
	return true
}

// RemoveExtension deletes and returns an auxiliary value by key.
func (a *ActiveSpan) RemoveExtension(key any) (any, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	value, ok := a.ext[key]
	if ok {
		delete(a.ext, key)
	}
	return value, ok
}

// Context creates a new context with this span embedded.
// The returned context can be used to start child spans.
func (a *ActiveSpan) Context(parent context.Context) context.Context {
	bundle := &contextBundle{tracer: a.tracer, span: a}
	return context.WithValue(parent, bundleKey, bundle)
}

// SpanFromContext extracts the current span from a context.
// Returns nil if no span is present.
func SpanFromContext(ctx context.Context) *ActiveSpan {
	if ctx == nil {
		return nil
	}

	if bundle, ok := ctx.Value(bundleKey).(*contextBundle); ok {
		return bundle.span
	}

	return nil
}
