package bridgez

import (
	"fmt"
	"reflect"
	"sync"
)

// Names of the four recognized handler operations.
const (
	opNewSpan = "OnNewSpan"
	opRecord  = "OnRecord"
	opEvent   = "OnEvent"
	opClose   = "OnClose"
)

// HandlerFailure reports that the foreign handler panicked during a
// call. The failure is recovered at the boundary - it never unwinds
// into the tracer's call stack - and the triggering hook completes as a
// no-op, leaving any span state untouched.
type HandlerFailure struct {
	Op      string
	SpanID  string
	Message string
}

func (e *HandlerFailure) Error() string {
	if e.SpanID != "" {
		return fmt.Sprintf("handler %s failed for span %s: %s", e.Op, e.SpanID, e.Message)
	}
	return fmt.Sprintf("handler %s failed: %s", e.Op, e.Message)
}

// foreignHandler owns the single handler object supplied at bridge
// construction and its resolved operation bindings. The handler is
// duck-typed: each operation is optional, looked up by name once, and
// bound only if its signature matches. A bound call acquires the
// optional runtime lock for exactly the duration of that call.
type foreignHandler struct {
	onNewSpan func(attrs, id string) any
	onRecord  func(id, values string, state any) any
	onEvent   func(event string, state any)
	onClose   func(id string, state any)
	lock      sync.Locker
	rejected  []string
}

// bindHandler resolves the recognized operations off handler.
// Methods that exist under a recognized name but with an unsupported
// signature are recorded in rejected so the bridge can surface them.
func bindHandler(handler any, lock sync.Locker) *foreignHandler {
	f := &foreignHandler{lock: lock}
	if handler == nil {
		return f
	}

	v := reflect.ValueOf(handler)

	if m := v.MethodByName(opNewSpan); m.IsValid() {
		if fn, ok := m.Interface().(func(string, string) any); ok {
			f.onNewSpan = fn
		} else {
			f.rejected = append(f.rejected, opNewSpan)
		}
	}
	if m := v.MethodByName(opRecord); m.IsValid() {
		if fn, ok := m.Interface().(func(string, string, any) any); ok {
			f.onRecord = fn
		} else {
			f.rejected = append(f.rejected, opRecord)
		}
	}
	if m := v.MethodByName(opEvent); m.IsValid() {
		if fn, ok := m.Interface().(func(string, any)); ok {
			f.onEvent = fn
		} else {
			f.rejected = append(f.rejected, opEvent)
		}
	}
	if m := v.MethodByName(opClose); m.IsValid() {
		if fn, ok := m.Interface().(func(string, any)); ok {
			f.onClose = fn
		} else {
			f.rejected = append(f.rejected, opClose)
		}
	}

	return f
}

// callNewSpan invokes OnNewSpan and returns the handler's new state.
func (f *foreignHandler) callNewSpan(attrs, id string) (state any, err error) {
	defer f.recoverFailure(opNewSpan, id, &err)
	f.acquire()
	defer f.release()
	return f.onNewSpan(attrs, id), nil
}

// callRecord invokes OnRecord and returns the handler's updated state.
func (f *foreignHandler) callRecord(id, values string, state any) (next any, err error) {
	defer f.recoverFailure(opRecord, id, &err)
	f.acquire()
	defer f.release()
	return f.onRecord(id, values, state), nil
}

// callEvent invokes OnEvent. No return value is consumed.
func (f *foreignHandler) callEvent(event string, state any) (err error) {
	defer f.recoverFailure(opEvent, "", &err)
	f.acquire()
	defer f.release()
	f.onEvent(event, state)
	return nil
}

// callClose invokes OnClose. No return value is consumed.
func (f *foreignHandler) callClose(id string, state any) (err error) {
	defer f.recoverFailure(opClose, id, &err)
	f.acquire()
	defer f.release()
	f.onClose(id, state)
	return nil
}

// acquire takes the runtime lock, if any, for the duration of one call.
// The lock is never held across bridge-side work: serialization and
// state cell access happen before acquire and after release.
func (f *foreignHandler) acquire() {
	if f.lock != nil {
		f.lock.Lock()
	}
}

func (f *foreignHandler) release() {
	if f.lock != nil {
		f.lock.Unlock()
	}
}

// recoverFailure converts a handler panic into a HandlerFailure.
// Registered before the lock's deferred release, so on the panic path
// the lock is already dropped when the failure is materialized.
func (f *foreignHandler) recoverFailure(op, spanID string, err *error) {
	if r := recover(); r != nil {
		*err = &HandlerFailure{Op: op, SpanID: spanID, Message: fmt.Sprint(r)}
	}
}
