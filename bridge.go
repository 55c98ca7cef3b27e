package bridgez

import (
	"errors"
	"log/slog"
	"sync"
)

// stateKeyType is the private extension key for the per-span state cell.
type stateKeyType struct{}

var stateKey stateKeyType

// ErrMissingState reports a record hook firing for a span whose state
// cell does not exist. The tracer guarantees OnNewSpan completes before
// any OnRecord for the same span, so a missing cell on record means that
// ordering contract was violated (or the handler's OnNewSpan previously
// failed); the hook is abandoned and never retried.
var ErrMissingState = errors.New("span state cell missing")

// MissingState is passed to the handler's OnClose in place of span state
// when the state cell no longer exists - a double close, or a span whose
// OnNewSpan failed and left no cell behind. Close is always observable
// to the handler, so a missing cell substitutes this sentinel rather
// than suppressing the call.
var MissingState = missingState{}

type missingState struct{}

func (missingState) String() string { return "<missing state>" }

// Option configures a Bridge.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported - callers use the With* functions.
type resolvedOptions struct {
	serializer Serializer
	logger     *slog.Logger
	callLock   sync.Locker
	failures   *FailureCollector
}

// WithSerializer replaces the default JSON serializer.
func WithSerializer(s Serializer) Option {
	return func(o *resolvedOptions) { o.serializer = s }
}

// WithLogger sets the structured logger for handler failures and
// contract violations. If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithCallLock supplies a lock acquired around each foreign call, for
// handlers backed by runtimes that require serialized entry (a global
// interpreter lock analogue). The lock is held only for the duration of
// a single call. It must be reentrant-safe if the handler starts spans
// or records fields from inside a callback; no lock is taken by default.
func WithCallLock(lock sync.Locker) Option {
	return func(o *resolvedOptions) { o.callLock = lock }
}

// WithFailureCollector collects every HandlerFailure for later export
// by the embedding application, in addition to logging.
func WithFailureCollector(c *FailureCollector) Option {
	return func(o *resolvedOptions) { o.failures = c }
}

// Bridge forwards the four span lifecycle hooks to a single duck-typed
// handler object, serializing every payload to a string and threading
// one opaque state value per span through the handler's callbacks.
//
// The handler's OnNewSpan return value becomes the span's state; each
// OnRecord receives the current state and its return value replaces it;
// OnEvent reads the innermost open span's state; OnClose consumes the
// state and retires the cell. The state value is never interpreted.
//
// Handler panics are recovered at the boundary and reported through the
// configured logger and failure collector; the span lifecycle continues
// and instrumented code is never affected. Construct once per handler
// and register with a Tracer before instrumented code runs.
type Bridge struct {
	handler  *foreignHandler
	ser      Serializer
	log      *slog.Logger
	failures *FailureCollector
}

// New creates a Bridge bound to handler. The binding is resolved once
// and never reattached.
//
// The handler is duck-typed; each operation is optional:
//
//	OnNewSpan(attrs, id string) any
//	OnRecord(id, values string, state any) any
//	OnEvent(event string, state any)
//	OnClose(id string, state any)
//
// Hooks whose operation is absent are skipped entirely. A method found
// under a recognized name with a different signature is not bound, and
// is logged at Warn at construction.
func New(handler any, opts ...Option) *Bridge {
	resolved := resolvedOptions{
		serializer: JSONSerializer{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&resolved)
	}

	b := &Bridge{
		handler:  bindHandler(handler, resolved.callLock),
		ser:      resolved.serializer,
		log:      resolved.logger,
		failures: resolved.failures,
	}

	for _, op := range b.handler.rejected {
		b.log.Warn("handler operation has unsupported signature, skipped",
			"op", op)
	}

	return b
}

// OnNewSpan implements Layer. The handler's return value is stored in a
// freshly created state cell on the span; the cell must not already
// exist. On handler failure no cell is created and the span continues
// without state (its close will observe MissingState).
func (b *Bridge) OnNewSpan(span *ActiveSpan, attrs map[Field]any) {
	if b.handler.onNewSpan == nil {
		return
	}

	id := b.ser.RenderSpanID(span.SpanID())
	state, err := b.handler.callNewSpan(b.ser.RenderFields(attrs), id)
	if err != nil {
		b.reportFailure(err)
		return
	}

	if !span.AttachExtension(stateKey, state) {
		// First-write invariant: a span's cell is populated exactly once.
		b.log.Error("state cell already populated at span creation",
			"span_id", span.SpanID())
	}
}

// OnRecord implements Layer. The handler receives the span's current
// state and its return value overwrites the cell. A missing cell is a
// contract violation: the hook is reported and abandoned without
// invoking the handler. On handler failure the cell keeps its pre-call
// value - no partial update.
func (b *Bridge) OnRecord(span *ActiveSpan, values map[Field]any) {
	if b.handler.onRecord == nil {
		return
	}

	state, ok := span.Extension(stateKey)
	if !ok {
		b.log.Error("record hook without state cell",
			"span_id", span.SpanID(),
			"err", ErrMissingState)
		return
	}

	id := b.ser.RenderSpanID(span.SpanID())
	next, err := b.handler.callRecord(id, b.ser.RenderFields(values), state)
	if err != nil {
		b.reportFailure(err)
		return
	}

	span.UpdateExtension(stateKey, next)
}

// OnEvent implements Layer. Events carry no persistent state: the
// handler reads the innermost open span's current state (nil when no
// span is open) and nothing is written back.
func (b *Bridge) OnEvent(span *ActiveSpan, fields map[Field]any) {
	if b.handler.onEvent == nil {
		return
	}

	var state any
	if span != nil {
		state, _ = span.Extension(stateKey)
	}

	if err := b.handler.callEvent(b.ser.RenderFields(fields), state); err != nil {
		b.reportFailure(err)
	}
}

// OnClose implements Layer. The state cell is removed before the call;
// after this hook it no longer exists. If the cell is already absent
// the handler still observes the close, with MissingState in place of
// the retired value.
func (b *Bridge) OnClose(span *ActiveSpan) {
	if b.handler.onClose == nil {
		return
	}

	state, ok := span.RemoveExtension(stateKey)
	if !ok {
		state = MissingState
	}

	id := b.ser.RenderSpanID(span.SpanID())
	if err := b.handler.callClose(id, state); err != nil {
		b.reportFailure(err)
	}
}

// reportFailure surfaces a recovered handler failure on the diagnostic
// channel. Failures are never retried - hooks are one-shot
// notifications and a retry would duplicate observed events.
func (b *Bridge) reportFailure(err error) {
	var failure *HandlerFailure
	if !errors.As(err, &failure) {
		b.log.Error("handler call failed", "err", err)
		return
	}

	b.log.Error("handler call failed",
		"op", failure.Op,
		"span_id", failure.SpanID,
		"message", failure.Message)

	if b.failures != nil {
		b.failures.Collect(failure)
	}
}
