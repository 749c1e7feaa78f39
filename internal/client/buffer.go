package client

import (
	"fmt"
	"sync"
	"time"

	"github.com/afroash/env-logger/internal/models"
)

// ReadingBuffer is a fixed-capacity FIFO ring of readings waiting for the
// uplink. When full it either overwrites the oldest entry or rejects the new
// one.
type ReadingBuffer struct {
	ring       []*models.Reading
	head       int // index of the oldest reading
	count      int
	dropOldest bool
	mutex      sync.RWMutex
	stats      BufferStats
}

// BufferStats tracks buffer usage statistics
type BufferStats struct {
	TotalPushed   int64     `json:"total_pushed"`
	TotalDropped  int64     `json:"total_dropped"`
	HighWaterMark int       `json:"high_water_mark"`
	LastPushTime  time.Time `json:"last_push_time"`
	LastDropTime  time.Time `json:"last_drop_time"`
}

// NewReadingBuffer creates a new reading buffer with given capacity
func NewReadingBuffer(capacity int, dropOldest bool) *ReadingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &ReadingBuffer{
		ring:       make([]*models.Reading, capacity),
		dropOldest: dropOldest,
	}
}

// Push adds a reading to the buffer
// Returns true if successful, false if dropped (when full and dropOldest=false)
func (rb *ReadingBuffer) Push(reading *models.Reading) bool {
	rb.mutex.Lock()
	defer rb.mutex.Unlock()

	now := time.Now()
	if rb.count == len(rb.ring) {
		rb.stats.TotalDropped++
		rb.stats.LastDropTime = now
		if !rb.dropOldest {
			return false
		}
		rb.ring[rb.head] = nil
		rb.head = (rb.head + 1) % len(rb.ring)
		rb.count--
	}

	rb.ring[(rb.head+rb.count)%len(rb.ring)] = reading
	rb.count++
	rb.stats.TotalPushed++
	rb.stats.LastPushTime = now
	if rb.count > rb.stats.HighWaterMark {
		rb.stats.HighWaterMark = rb.count
	}
	return true
}

// PopBatch removes and returns up to n readings, oldest first.
func (rb *ReadingBuffer) PopBatch(n int) []*models.Reading {
	rb.mutex.Lock()
	defer rb.mutex.Unlock()

	out := rb.peekLocked(n)
	rb.discardLocked(len(out))
	return out
}

// Peek returns up to n readings, oldest first, without removing them.
func (rb *ReadingBuffer) Peek(n int) []*models.Reading {
	rb.mutex.RLock()
	defer rb.mutex.RUnlock()
	return rb.peekLocked(n)
}

// Discard drops up to n of the oldest readings, typically after a Peek'd
// batch was delivered.
func (rb *ReadingBuffer) Discard(n int) {
	rb.mutex.Lock()
	defer rb.mutex.Unlock()
	rb.discardLocked(n)
}

func (rb *ReadingBuffer) peekLocked(n int) []*models.Reading {
	count := min(n, rb.count)
	if count <= 0 {
		return nil
	}
	out := make([]*models.Reading, count)
	for i := range out {
		out[i] = rb.ring[(rb.head+i)%len(rb.ring)]
	}
	return out
}

func (rb *ReadingBuffer) discardLocked(n int) {
	n = min(n, rb.count)
	for i := 0; i < n; i++ {
		rb.ring[rb.head] = nil
		rb.head = (rb.head + 1) % len(rb.ring)
	}
	rb.count -= max(n, 0)
}

// Size returns the current number of readings in the buffer
func (rb *ReadingBuffer) Size() int {
	rb.mutex.RLock()
	defer rb.mutex.RUnlock()
	return rb.count
}

// IsFull returns true if buffer is at capacity
func (rb *ReadingBuffer) IsFull() bool {
	rb.mutex.RLock()
	defer rb.mutex.RUnlock()
	return rb.count == len(rb.ring)
}

// IsEmpty returns true if buffer has no readings
func (rb *ReadingBuffer) IsEmpty() bool {
	rb.mutex.RLock()
	defer rb.mutex.RUnlock()
	return rb.count == 0
}

// Clear removes all readings and resets the counters.
func (rb *ReadingBuffer) Clear() {
	rb.mutex.Lock()
	defer rb.mutex.Unlock()
	clear(rb.ring)
	rb.head, rb.count = 0, 0
	rb.stats = BufferStats{}
}

// Capacity returns the maximum capacity of the buffer
func (rb *ReadingBuffer) Capacity() int {
	return len(rb.ring)
}

// Stats returns a copy of current buffer statistics
func (rb *ReadingBuffer) Stats() BufferStats {
	rb.mutex.RLock()
	defer rb.mutex.RUnlock()
	return rb.stats
}

// String returns a human-readable representation of buffer state
func (rb *ReadingBuffer) String() string {
	rb.mutex.RLock()
	defer rb.mutex.RUnlock()

	mode := "drop-newest"
	if rb.dropOldest {
		mode = "drop-oldest"
	}
	return fmt.Sprintf("Buffer[%d/%d, dropped: %d, mode: %s]",
		rb.count,
		len(rb.ring),
		rb.stats.TotalDropped,
		mode,
	)
}
