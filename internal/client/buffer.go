package client

import (
	"fmt"
	"sync"
	"time"

	"github.com/afroash/thermolog/internal/models"
)

// ReadingBuffer is a bounded FIFO of readings waiting to be streamed. It
// absorbs collector outages without blocking the sampling loop.
type ReadingBuffer struct {
	mu         sync.Mutex
	ring       []models.Reading
	head       int
	size       int
	dropOldest bool
	stats      BufferStats
}

// BufferStats tracks buffer usage
type BufferStats struct {
	TotalPushed   int64
	TotalDropped  int64
	HighWaterMark int
	LastDropTime  time.Time
}

// NewReadingBuffer creates a buffer holding at most capacity readings.
// When full, dropOldest evicts the oldest reading; otherwise the new one
// is rejected.
func NewReadingBuffer(capacity int, dropOldest bool) *ReadingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &ReadingBuffer{
		ring:       make([]models.Reading, capacity),
		dropOldest: dropOldest,
	}
}

// Push appends a reading. It returns false if the reading was rejected.
func (b *ReadingBuffer) Push(r models.Reading) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size == len(b.ring) {
		b.stats.TotalDropped++
		b.stats.LastDropTime = time.Now()
		if !b.dropOldest {
			return false
		}
		b.head = (b.head + 1) % len(b.ring)
		b.size--
	}

	b.ring[(b.head+b.size)%len(b.ring)] = r
	b.size++
	b.stats.TotalPushed++
	if b.size > b.stats.HighWaterMark {
		b.stats.HighWaterMark = b.size
	}
	return true
}

// PopBatch removes and returns up to n of the oldest readings
func (b *ReadingBuffer) PopBatch(n int) []models.Reading {
	b.mu.Lock()
	defer b.mu.Unlock()

	count := min(n, b.size)
	if count <= 0 {
		return nil
	}

	out := make([]models.Reading, count)
	for i := range out {
		out[i] = b.ring[(b.head+i)%len(b.ring)]
	}
	b.head = (b.head + count) % len(b.ring)
	b.size -= count
	return out
}

// Requeue puts a batch that failed to send back in front of the queue.
// The tail of the batch is dropped if it no longer fits.
func (b *ReadingBuffer) Requeue(batch []models.Reading) {
	b.mu.Lock()
	defer b.mu.Unlock()

	free := len(b.ring) - b.size
	if len(batch) > free {
		b.stats.TotalDropped += int64(len(batch) - free)
		b.stats.LastDropTime = time.Now()
		batch = batch[:free]
	}
	for i := len(batch) - 1; i >= 0; i-- {
		b.head = (b.head - 1 + len(b.ring)) % len(b.ring)
		b.ring[b.head] = batch[i]
		b.size++
	}
}

// Len returns the number of buffered readings
func (b *ReadingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Capacity returns the maximum number of buffered readings
func (b *ReadingBuffer) Capacity() int {
	return len(b.ring)
}

// Stats returns a snapshot of the buffer statistics
func (b *ReadingBuffer) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

func (b *ReadingBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	mode := "drop-newest"
	if b.dropOldest {
		mode = "drop-oldest"
	}
	return fmt.Sprintf("Buffer[%d/%d, dropped: %d, mode: %s]", b.size, len(b.ring), b.stats.TotalDropped, mode)
}
