package bridgez

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/clockz"
)

type layerEntry struct {
	layer Layer
	id    uint64
}

// Tracer manages span lifecycle and delivers the four hooks to
// registered layers. Safe for concurrent use by multiple goroutines.
//
// Hook delivery is synchronous: StartSpan invokes every layer's
// OnNewSpan before the span is returned to the caller, which guarantees
// that no record, event, or close hook for a span can be observed before
// its new-span hook has completed. The tracer performs no buffering and
// introduces no scheduling of its own; every hook runs to completion on
// the goroutine that triggered it.
//
//nolint:govet // Field order optimized for functionality over memory
type Tracer struct {
	layers      []layerEntry
	panicHook   func(layerID uint64, r interface{})
	traceIDPool *IDPool
	clock       clockz.Clock
	layersLock  sync.RWMutex
	idPoolOnce  sync.Once
	nextLayerID atomic.Uint64
	nextSpanID  atomic.Uint64
}

// NewTracer creates a new tracer.
// Uses the real clock for production behavior.
func NewTracer() *Tracer {
	return &Tracer{
		layers: make([]layerEntry, 0),
		clock:  clockz.RealClock,
	}
}

// WithClock returns a new tracer with the specified clock.
// Enables clock injection for deterministic testing.
func (*Tracer) WithClock(clock clockz.Clock) *Tracer {
	return &Tracer{
		layers: make([]layerEntry, 0),
		clock:  clock,
	}
}

// ensureIDPool initializes the trace ID pool if not already created.
func (t *Tracer) ensureIDPool() {
	t.idPoolOnce.Do(func() {
		// Pool size based on number of CPUs for optimal contention balance.
		poolSize := runtime.NumCPU() * 100

		t.traceIDPool = NewIDPool(poolSize, func() string {
			bytes := make([]byte, 16)
			if _, err := rand.Read(bytes); err != nil {
				// Fallback to time-based ID if crypto/rand fails.
				return hex.EncodeToString([]byte(t.clock.Now().Format(time.RFC3339Nano)))
			}
			return hex.EncodeToString(bytes)
		})
	})
}

// RegisterLayer registers a layer to receive span lifecycle hooks.
// Register layers before any instrumented code runs; spans started
// earlier never reach a later-registered layer's OnNewSpan, so their
// record and close hooks would arrive without context.
func (t *Tracer) RegisterLayer(layer Layer) uint64 {
	if layer == nil {
		return 0
	}

	id := t.nextLayerID.Add(1)

	t.layersLock.Lock()
	defer t.layersLock.Unlock()

	t.layers = append(t.layers, layerEntry{id: id, layer: layer})

	return id
}

// RemoveLayer removes a layer by ID.
func (t *Tracer) RemoveLayer(id uint64) {
	t.layersLock.Lock()
	defer t.layersLock.Unlock()

	// Preserve order
	for i, l := range t.layers {
		if l.id == id {
			copy(t.layers[i:], t.layers[i+1:])
			t.layers = t.layers[:len(t.layers)-1]
			return
		}
	}
}

// HasLayers reports whether any layer is currently registered.
func (t *Tracer) HasLayers() bool {
	t.layersLock.RLock()
	defer t.layersLock.RUnlock()
	return len(t.layers) > 0
}

// SetPanicHook sets a function to be called when a layer panics.
// A panicking layer never unwinds into instrumented code.
func (t *Tracer) SetPanicHook(hook func(layerID uint64, r interface{})) {
	t.panicHook = hook
}

// StartSpan creates a new span and returns it wrapped in an ActiveSpan.
// If the context contains an existing span, the new span will be its child.
// Every registered layer observes OnNewSpan before StartSpan returns.
func (t *Tracer) StartSpan(ctx context.Context, operation Key) (context.Context, *ActiveSpan) {
	return t.StartSpanWith(ctx, operation, nil)
}

// StartSpanWith creates a new span with an initial field set. The fields
// are part of the span's creation attributes delivered to OnNewSpan.
func (t *Tracer) StartSpanWith(ctx context.Context, operation Key, fields map[Field]any) (context.Context, *ActiveSpan) {
	// Handle nil context by creating a new one.
	if ctx == nil {
		ctx = context.Background()
	}

	span := &Span{
		SpanID:    t.nextSpanID.Add(1),
		Name:      string(operation),
		StartTime: t.clock.Now(),
	}

	// Link to parent span if present.
	if parent := SpanFromContext(ctx); parent != nil {
		span.TraceID = parent.TraceID()
		span.ParentID = parent.SpanID()
	} else {
		t.ensureIDPool()
		span.TraceID = t.traceIDPool.Get()
	}

	if len(fields) > 0 {
		span.Fields = make(map[Field]any, len(fields))
		for k, v := range fields {
			span.Fields[k] = v
		}
	}

	active := &ActiveSpan{span: span, tracer: t}

	// Create new context with bundled tracer and span (single allocation optimization).
	bundle := &contextBundle{tracer: t, span: active}
	newCtx := context.WithValue(ctx, bundleKey, bundle)

	attrs := make(map[Field]any, len(fields)+1)
	attrs["name"] = span.Name
	for k, v := range fields {
		attrs[k] = v
	}

	t.eachLayer(func(entry layerEntry) {
		entry.layer.OnNewSpan(active, attrs)
	})

	return newCtx, active
}

// Event fires an ephemeral event against the innermost open span in ctx.
// If no span is open (or the context's span already finished), layers
// receive a nil span. Events carry no identity and no persistent state.
func (t *Tracer) Event(ctx context.Context, fields map[Field]any) {
	span := SpanFromContext(ctx)
	if span != nil && span.Finished() {
		span = nil
	}

	t.eachLayer(func(entry layerEntry) {
		entry.layer.OnEvent(span, fields)
	})
}

// fireRecord delivers a record hook for the given span.
func (t *Tracer) fireRecord(span *ActiveSpan, delta map[Field]any) {
	t.eachLayer(func(entry layerEntry) {
		entry.layer.OnRecord(span, delta)
	})
}

// fireClose delivers the close hook for the given span.
func (t *Tracer) fireClose(span *ActiveSpan) {
	t.eachLayer(func(entry layerEntry) {
		entry.layer.OnClose(span)
	})
}

// eachLayer calls fn for every registered layer with panic isolation.
func (t *Tracer) eachLayer(fn func(layerEntry)) {
	t.layersLock.RLock()
	if len(t.layers) == 0 {
		t.layersLock.RUnlock()
		return
	}

	layers := make([]layerEntry, len(t.layers))
	copy(layers, t.layers)
	t.layersLock.RUnlock()

	for _, entry := range layers {
		t.safeCall(entry, fn)
	}
}

func (t *Tracer) safeCall(entry layerEntry, fn func(layerEntry)) {
	defer func() {
		if r := recover(); r != nil {
			if t.panicHook != nil {
				t.panicHook(entry.id, r)
			}
		}
	}()
	fn(entry)
}

// Close shuts down the tracer gracefully and cleans up resources.
// This should be called when the tracer is no longer needed.
func (t *Tracer) Close() {
	// Stop new hook deliveries.
	t.layersLock.Lock()
	t.layers = nil
	t.layersLock.Unlock()

	if t.traceIDPool != nil {
		t.traceIDPool.Close()
	}
}
