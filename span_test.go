package bridgez

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

func TestActiveSpanSetField(t *testing.T) {
	tracer := NewTracer()
	defer tracer.Close()

	_, span := tracer.StartSpan(context.Background(), "test")

	span.SetField("key1", "value1")
	span.SetField("key2", 42)

	fields := span.Fields()
	if len(fields) != 2 {
		t.Errorf("Expected 2 fields, got %d", len(fields))
	}

	if fields["key1"] != "value1" {
		t.Errorf("Expected field key1=value1, got %v", fields["key1"])
	}

	if fields["key2"] != 42 {
		t.Errorf("Expected field key2=42, got %v", fields["key2"])
	}
}

func TestActiveSpanField(t *testing.T) {
	tracer := NewTracer()
	defer tracer.Close()

	_, span := tracer.StartSpanWith(context.Background(), "test", map[Field]any{"existing": "value"})

	// Test existing field.
	value, ok := span.Field("existing")
	if !ok {
		t.Error("Expected to find existing field")
	}
	if value != "value" {
		t.Errorf("Expected 'value', got %v", value)
	}

	// Test non-existing field.
	_, ok = span.Field("missing")
	if ok {
		t.Error("Expected not to find missing field")
	}
}

func TestActiveSpanFieldNilMap(t *testing.T) {
	tracer := NewTracer()
	defer tracer.Close()

	// No initial fields - underlying map is nil.
	_, span := tracer.StartSpan(context.Background(), "test")

	if _, ok := span.Field("any"); ok {
		t.Error("Expected not to find any field when map is nil")
	}
}

func TestConcurrentFieldSetting(t *testing.T) {
	tracer := NewTracer()
	defer tracer.Close()

	_, span := tracer.StartSpan(context.Background(), "test")

	var wg sync.WaitGroup
	numGoroutines := 10
	fieldsPerGoroutine := 10

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(routineID int) {
			defer wg.Done()
			for j := 0; j < fieldsPerGoroutine; j++ {
				key := fmt.Sprintf("key-%d-%d", routineID, j)
				span.SetField(key, j)
			}
		}(i)
	}

	wg.Wait()

	fields := span.Fields()
	expected := numGoroutines * fieldsPerGoroutine
	if len(fields) != expected {
		t.Errorf("Expected %d fields, got %d", expected, len(fields))
	}
}

func TestActiveSpanFinishIdempotent(t *testing.T) {
	tracer := NewTracer()
	defer tracer.Close()

	closes := 0
	tracer.RegisterLayer(&funcLayer{
		onClose: func(*ActiveSpan) { closes++ },
	})

	_, span := tracer.StartSpan(context.Background(), "test")

	span.Finish()
	span.Finish()
	span.Finish()

	if closes != 1 {
		t.Errorf("Expected exactly 1 close hook, got %d", closes)
	}

	if !span.Finished() {
		t.Error("Expected span to report finished")
	}
}

func TestActiveSpanNoFieldsAfterFinish(t *testing.T) {
	tracer := NewTracer()
	defer tracer.Close()

	records := 0
	tracer.RegisterLayer(&funcLayer{
		onRecord: func(*ActiveSpan, map[Field]any) { records++ },
	})

	_, span := tracer.StartSpan(context.Background(), "test")
	span.Finish()

	span.SetField("late", "value")

	if records != 0 {
		t.Errorf("Expected no record hooks after finish, got %d", records)
	}

	if _, ok := span.Field("late"); ok {
		t.Error("Expected finished span to reject field writes")
	}
}

func TestExtensionLifecycle(t *testing.T) {
	tracer := NewTracer()
	defer tracer.Close()

	_, span := tracer.StartSpan(context.Background(), "test")

	type extKey struct{}

	// Attach succeeds once.
	if !span.AttachExtension(extKey{}, "payload") {
		t.Error("Expected first attach to succeed")
	}
	if span.AttachExtension(extKey{}, "other") {
		t.Error("Expected second attach to fail")
	}

	value, ok := span.Extension(extKey{})
	if !ok || value != "payload" {
		t.Errorf("Expected 'payload', got %v (ok=%v)", value, ok)
	}

	// Update requires presence.
	if !span.UpdateExtension(extKey{}, "updated") {
		t.Error("Expected update of present key to succeed")
	}
	value, _ = span.Extension(extKey{})
	if value != "updated" {
		t.Errorf("Expected 'updated', got %v", value)
	}

	// Remove returns the value and empties the slot.
	value, ok = span.RemoveExtension(extKey{})
	if !ok || value != "updated" {
		t.Errorf("Expected removed 'updated', got %v (ok=%v)", value, ok)
	}
	if _, ok = span.Extension(extKey{}); ok {
		t.Error("Expected extension to be gone after removal")
	}
	if span.UpdateExtension(extKey{}, "zombie") {
		t.Error("Expected update of absent key to fail")
	}
}

func TestSpanFromContext(t *testing.T) {
	tracer := NewTracer()
	defer tracer.Close()

	ctx, span := tracer.StartSpan(context.Background(), "test")

	if got := SpanFromContext(ctx); got != span {
		t.Error("Expected span to be propagated in context")
	}

	if got := SpanFromContext(context.Background()); got != nil {
		t.Error("Expected nil span from empty context")
	}

	if got := SpanFromContext(nil); got != nil { //nolint:staticcheck // Explicitly testing nil context.
		t.Error("Expected nil span from nil context")
	}
}

func TestActiveSpanContext(t *testing.T) {
	tracer := NewTracer()
	defer tracer.Close()

	_, span := tracer.StartSpan(context.Background(), "test")

	ctx := span.Context(context.Background())
	if got := SpanFromContext(ctx); got != span {
		t.Error("Expected Context to embed the span")
	}
}

// funcLayer adapts plain functions into a Layer for tests.
type funcLayer struct {
	onNewSpan func(*ActiveSpan, map[Field]any)
	onRecord  func(*ActiveSpan, map[Field]any)
	onEvent   func(*ActiveSpan, map[Field]any)
	onClose   func(*ActiveSpan)
}

func (f *funcLayer) OnNewSpan(span *ActiveSpan, attrs map[Field]any) {
	if f.onNewSpan != nil {
		f.onNewSpan(span, attrs)
	}
}

func (f *funcLayer) OnRecord(span *ActiveSpan, values map[Field]any) {
	if f.onRecord != nil {
		f.onRecord(span, values)
	}
}

func (f *funcLayer) OnEvent(span *ActiveSpan, fields map[Field]any) {
	if f.onEvent != nil {
		f.onEvent(span, fields)
	}
}

func (f *funcLayer) OnClose(span *ActiveSpan) {
	if f.onClose != nil {
		f.onClose(span)
	}
}
