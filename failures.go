package bridgez

import (
	"sync"
	"sync/atomic"
	"time"
)

// FailureCollector buffers recovered handler failures for batch export
// by the embedding application.
// Safe for concurrent use by multiple goroutines.
//
// Collection is decoupled from hook delivery: Collect never blocks the
// hook path. If the internal channel fills, failures are dropped and
// counted rather than stalling instrumented code.
//
//nolint:govet // Field alignment optimized for readability over memory efficiency
type FailureCollector struct {
	failures     []HandlerFailure
	failuresCh   chan HandlerFailure
	stopCh       chan struct{}
	done         chan struct{}
	droppedCount atomic.Int64
	name         string
	mu           sync.Mutex
	closed       atomic.Bool
	syncMode     bool // Bypass channel for synchronous collection.
}

// NewFailureCollector creates a collector with the specified name and
// buffer size.
func NewFailureCollector(name string, bufferSize int) *FailureCollector {
	c := &FailureCollector{
		name:       name,
		failures:   make([]HandlerFailure, 0, 8), // Start with small capacity.
		failuresCh: make(chan HandlerFailure, bufferSize),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	go c.start()
	return c
}

// start runs the collector's main loop, receiving failures from the channel.
func (c *FailureCollector) start() {
	defer close(c.done)

	for {
		select {
		case <-c.stopCh:
			// Drain remaining failures before shutdown.
			for {
				select {
				case failure := <-c.failuresCh:
					c.buffer(failure)
				default:
					return // Clean shutdown.
				}
			}
		case failure := <-c.failuresCh:
			c.buffer(failure)
		}
	}
}

// Close shuts down the collector gracefully. Failures collected after
// Close are dropped.
func (c *FailureCollector) Close() {
	if c.closed.Swap(true) {
		return
	}
	close(c.stopCh)
	select {
	case <-c.done:
		// Clean shutdown completed.
	case <-time.After(100 * time.Millisecond):
		// Timeout - give up waiting, the drain loop exits on its own.
	}
}

// Collect attempts to buffer a failure with backpressure protection.
// If the internal channel is full, the failure is dropped and the drop
// counter is incremented. In sync mode, failures are collected directly
// for deterministic testing.
func (c *FailureCollector) Collect(failure *HandlerFailure) {
	// Nil check to prevent panic in calling goroutine.
	if failure == nil {
		c.droppedCount.Add(1)
		return
	}

	if c.syncMode {
		// Direct synchronous collection for tests.
		if c.closed.Load() {
			c.droppedCount.Add(1)
			return
		}
		c.buffer(*failure)
		return
	}

	select {
	case c.failuresCh <- *failure:
		// Successfully queued.
	default:
		// Channel full - drop to avoid blocking the hook path.
		c.droppedCount.Add(1)
	}
}

// buffer appends a failure to the internal buffer.
func (c *FailureCollector) buffer(failure HandlerFailure) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, failure)
}

// Export returns a copy of all buffered failures and clears the
// internal buffer. The returned slice is safe to modify.
func (c *FailureCollector) Export() []HandlerFailure {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.failures) == 0 {
		return nil
	}

	result := make([]HandlerFailure, len(c.failures))
	copy(result, c.failures)

	// Shrink only when the buffer is very oversized to avoid allocation churn.
	if cap(c.failures) > 256 && len(c.failures) < cap(c.failures)/8 {
		c.failures = make([]HandlerFailure, 0, 32)
	} else {
		c.failures = c.failures[:0] // Keep capacity, reset length.
	}

	return result
}

// Count returns the current number of buffered failures.
func (c *FailureCollector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.failures)
}

// DroppedCount returns the total number of failures dropped due to backpressure.
func (c *FailureCollector) DroppedCount() int64 {
	return c.droppedCount.Load()
}

// Name returns the name the collector was created with.
func (c *FailureCollector) Name() string {
	return c.name
}

// SetSyncMode enables synchronous collection for testing.
// When enabled, failures are collected directly without the channel,
// making tests deterministic by eliminating async behavior.
func (c *FailureCollector) SetSyncMode(sync bool) {
	c.syncMode = sync
}

// Reset clears all buffered failures and resets the drop counter.
func (c *FailureCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failures = c.failures[:0]
	c.droppedCount.Store(0)
}
