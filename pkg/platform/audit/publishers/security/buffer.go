package security

import (
	"sync"

	audit "alma/pkg/platform/audit"
)

// ringBuffer is a bounded, thread-safe FIFO. When full the oldest event is
// overwritten and counted as dropped.
type ringBuffer struct {
	mu      sync.Mutex
	events  []audit.SecurityEvent
	head    int
	count   int
	dropped int64
}

func newRingBuffer(capacity int) *ringBuffer {
	if capacity <= 0 {
		capacity = 4096
	}
	return &ringBuffer{events: make([]audit.SecurityEvent, capacity)}
}

func (b *ringBuffer) push(event audit.SecurityEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	capacity := len(b.events)
	tail := (b.head + b.count) % capacity
	b.events[tail] = event
	if b.count == capacity {
		b.head = (b.head + 1) % capacity
		b.dropped++
		return
	}
	b.count++
}

func (b *ringBuffer) popBatch(n int) []audit.SecurityEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	n = min(n, b.count)
	if n == 0 {
		return nil
	}
	out := make([]audit.SecurityEvent, n)
	for i := range n {
		out[i] = b.events[(b.head+i)%len(b.events)]
	}
	b.head = (b.head + n) % len(b.events)
	b.count -= n
	return out
}

func (b *ringBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func (b *ringBuffer) droppedCount() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
