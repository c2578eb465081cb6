package stream

import (
	"sync"

	audit "ozhi/pkg/platform/audit"
)

// RingBuffer is a bounded, thread-safe buffer for records awaiting a healthy broker.
// When full, the oldest records are dropped to make room for new ones.
type RingBuffer struct {
	mu       sync.Mutex
	records  []audit.Record
	head     int // next write position
	tail     int // next read position
	count    int
	capacity int

	dropped int64
}

// NewRingBuffer creates a ring buffer with the given capacity.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	return &RingBuffer{
		records:  make([]audit.Record, capacity),
		capacity: capacity,
	}
}

// Enqueue adds a record, dropping the oldest if necessary. It reports whether a record
// was dropped.
func (b *RingBuffer) Enqueue(r audit.Record) (dropped bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count >= b.capacity {
		b.records[b.tail] = audit.Record{}
		b.tail = (b.tail + 1) % b.capacity
		b.count--
		b.dropped++
		dropped = true
	}

	b.records[b.head] = r
	b.head = (b.head + 1) % b.capacity
	b.count++
	return dropped
}

// DequeueBatch removes up to n records, oldest first.
func (b *RingBuffer) DequeueBatch(n int) []audit.Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 || n <= 0 {
		return nil
	}
	n = min(n, b.count)

	result := make([]audit.Record, n)
	for i := range n {
		result[i] = b.records[b.tail]
		b.records[b.tail] = audit.Record{}
		b.tail = (b.tail + 1) % b.capacity
	}
	b.count -= n

	return result
}

func (b *RingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Dropped returns the total number of dropped records.
func (b *RingBuffer) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
