// Package queue provides a thread-safe ring buffer that decouples alert
// intake from persistence.
package queue

import (
	"errors"
	"sync"
	"time"

	"argus-vms/internal/schema"
)

var (
	ErrQueueFull   = errors.New("queue is full")
	ErrQueueEmpty  = errors.New("queue is empty")
	ErrQueueClosed = errors.New("queue is closed")
)

// RingBuffer is a fixed-capacity FIFO for alerts. A full buffer
// rejects new alerts rather than blocking intake, the drop shows up
// in Metrics.
type RingBuffer struct {
	mu   sync.Mutex
	cond *sync.Cond

	buffer []*schema.Alert
	size   int
	head   int
	tail   int
	count  int
	closed bool

	pushed  uint64
	popped  uint64
	dropped uint64
}

// NewRingBuffer creates a buffer with the given capacity. Non-positive
// sizes fall back to 10000.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 10000
	}
	rb := &RingBuffer{
		buffer: make([]*schema.Alert, size),
		size:   size,
	}
	rb.cond = sync.NewCond(&rb.mu)
	return rb
}

// Push appends an alert, returning ErrQueueFull at capacity.
func (rb *RingBuffer) Push(alert *schema.Alert) error {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.closed {
		return ErrQueueClosed
	}
	if rb.count == rb.size {
		rb.dropped++
		return ErrQueueFull
	}

	rb.buffer[rb.tail] = alert
	rb.tail = (rb.tail + 1) % rb.size
	rb.count++
	rb.pushed++

	rb.cond.Signal()
	return nil
}

// Pop removes the oldest alert without blocking.
func (rb *RingBuffer) Pop() (*schema.Alert, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.count == 0 {
		return nil, ErrQueueEmpty
	}
	return rb.popLocked(), nil
}

// PopBlocking waits for an alert, returning ErrQueueClosed once the
// buffer is closed and drained.
func (rb *RingBuffer) PopBlocking() (*schema.Alert, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	for rb.count == 0 && !rb.closed {
		rb.cond.Wait()
	}
	if rb.count == 0 {
		return nil, ErrQueueClosed
	}
	return rb.popLocked(), nil
}

// PopWithTimeout waits up to timeout for an alert, then returns
// ErrQueueEmpty.
func (rb *RingBuffer) PopWithTimeout(timeout time.Duration) (*schema.Alert, error) {
	deadline := time.Now().Add(timeout)

	// The timer wakes the cond so Wait cannot sleep past the deadline.
	timer := time.AfterFunc(timeout, func() {
		rb.mu.Lock()
		rb.cond.Broadcast()
		rb.mu.Unlock()
	})
	defer timer.Stop()

	rb.mu.Lock()
	defer rb.mu.Unlock()

	for rb.count == 0 && !rb.closed {
		if !time.Now().Before(deadline) {
			return nil, ErrQueueEmpty
		}
		rb.cond.Wait()
	}
	if rb.count == 0 {
		return nil, ErrQueueClosed
	}
	return rb.popLocked(), nil
}

// popLocked removes the head element. Caller holds the lock and has
// verified the buffer is non-empty.
func (rb *RingBuffer) popLocked() *schema.Alert {
	alert := rb.buffer[rb.head]
	rb.buffer[rb.head] = nil
	rb.head = (rb.head + 1) % rb.size
	rb.count--
	rb.popped++
	return alert
}

func (rb *RingBuffer) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count
}

func (rb *RingBuffer) Cap() int {
	return rb.size
}

func (rb *RingBuffer) IsEmpty() bool {
	return rb.Len() == 0
}

// Close wakes all waiting consumers. Queued alerts remain poppable.
func (rb *RingBuffer) Close() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.closed = true
	rb.cond.Broadcast()
}

// QueueMetrics is a snapshot of buffer counters.
type QueueMetrics struct {
	Pushed   uint64 `json:"pushed"`
	Popped   uint64 `json:"popped"`
	Dropped  uint64 `json:"dropped"`
	Depth    int    `json:"depth"`
	Capacity int    `json:"capacity"`
}

func (rb *RingBuffer) Metrics() QueueMetrics {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return QueueMetrics{
		Pushed:   rb.pushed,
		Popped:   rb.popped,
		Dropped:  rb.dropped,
		Depth:    rb.count,
		Capacity: rb.size,
	}
}
