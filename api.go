// Package bridgez forwards span lifecycle hooks to a foreign callback
// handler across a type-erased boundary.
//
// bridgez sits between an in-process tracing framework and a single
// caller-supplied handler object that cannot share types with the
// instrumented code. Every hook payload crosses the boundary as a string;
// the handler may attach one opaque state value per span, and that value
// is threaded back through every later callback for the same span.
//
// Core Components:.
//   - Tracer: Manages span lifecycle and fires layer hooks.
//   - Span: Represents a single unit of work.
//   - ActiveSpan: Thread-safe wrapper for ongoing spans.
//   - Bridge: Forwards the four hooks to the foreign handler.
//   - FailureCollector: Buffers handler failures for export.
//
// Basic Usage:.
//
//	tracer := bridgez.NewTracer()
//	defer tracer.Close()
//
//	bridge := bridgez.New(myHandler)
//	tracer.RegisterLayer(bridge)
//
//	// Start a new span.
//	ctx, span := tracer.StartSpan(ctx, "operation-name")
//	defer span.Finish()
//
//	// Amend fields after creation.
//	span.SetField("user.id", "123")
//
//	// Fire an event against the innermost open span.
//	tracer.Event(ctx, map[bridgez.Field]any{"level": "info"})
//
// The handler is duck-typed: each of the four operations is optional and
// is bound once at construction. See New for the recognized signatures.
//
// Thread Safety:.
//
// Tracer is safe for concurrent use by multiple goroutines.
// ActiveSpan field and extension operations are safe for concurrent use.
// Hooks are delivered synchronously on the calling goroutine; a handler
// may start new spans from inside a callback (re-entrant calls are legal).
//
// Spans themselves are NOT thread-safe - do not modify the same.
// Span struct from multiple goroutines simultaneously.
//
// Context Propagation:.
//
// Spans are automatically linked via context.Context. Child spans
// inherit their parent's TraceID and reference the parent's SpanID.
package bridgez

// Key represents a span operation name.
type Key = string

// Field represents a span or event field name.
type Field = string

// Layer receives span lifecycle hooks from a Tracer. Exactly these four
// notifications are delivered; no other lifecycle point exists.
//
// For a single span, OnNewSpan strictly precedes any OnRecord or OnClose
// for that span, and OnClose fires at most once per span. Hooks for
// unrelated spans may interleave arbitrarily across goroutines.
type Layer interface {
	// OnNewSpan fires when a span is created. attrs holds the span name
	// under "name" plus any fields set at creation.
	OnNewSpan(span *ActiveSpan, attrs map[Field]any)

	// OnRecord fires when fields are added to an existing span. values
	// holds only the changed fields.
	OnRecord(span *ActiveSpan, values map[Field]any)

	// OnEvent fires for an ephemeral event. span is the innermost open
	// span in the firing context, or nil if none is open.
	OnEvent(span *ActiveSpan, fields map[Field]any)

	// OnClose fires when a span finishes. Terminal for that span.
	OnClose(span *ActiveSpan)
}
