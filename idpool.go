package bridgez

import (
	"sync/atomic"
)

// IDPool pre-generates trace IDs in the background to keep crypto/rand
// off the span creation path. Span IDs themselves are monotonic
// counters and never come from a pool.
type IDPool struct {
	factory func() string
	ids     chan string
	stopCh  chan struct{}
	closed  atomic.Bool
}

// NewIDPool creates a pool holding up to capacity pre-generated IDs.
func NewIDPool(capacity int, factory func() string) *IDPool {
	p := &IDPool{
		ids:     make(chan string, capacity),
		factory: factory,
		stopCh:  make(chan struct{}),
	}
	go p.refill()
	return p
}

// Get returns a pooled ID, or generates one directly when the pool is
// drained (burst load, or after Close).
func (p *IDPool) Get() string {
	select {
	case id := <-p.ids:
		return id
	default:
		return p.factory()
	}
}

// refill keeps the buffer topped up until the pool is closed.
func (p *IDPool) refill() {
	for {
		select {
		case p.ids <- p.factory():
		case <-p.stopCh:
			return
		}
	}
}

// Close stops the refill goroutine. Safe to call more than once; Get
// keeps working via the factory fallback.
func (p *IDPool) Close() {
	if !p.closed.Swap(true) {
		close(p.stopCh)
	}
}
