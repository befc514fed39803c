// Package buffer provides a generic, thread-safe bounded ring buffer with
// overflow policies.
//
// The ring never blocks writers: when full it either evicts the oldest item
// (DropOldest, the default for live sensor streams) or rejects the newest
// (DropNewest). Readers poll with Read and park on Ready() between bursts.
//
//	buf, _ := buffer.NewCircularBuffer[*message.Message](1)
//	_ = buf.Write(m1)
//	_ = buf.Write(m2) // m1 evicted
//	m, _ := buf.Read() // m2
//
// Statistics are always collected; Prometheus metrics are optional via
// WithMetrics.
package buffer

// Buffer represents a bounded FIFO of items of type T.
type Buffer[T any] interface {
	// Write adds an item, applying the overflow policy when full. It only
	// fails once the buffer is closed.
	Write(item T) error

	// Read removes and returns the oldest item.
	Read() (T, bool)

	Size() int
	Capacity() int
	IsEmpty() bool

	// Clear discards every queued item and returns how many there were. The
	// drop callback is not called; the items were not evicted by overflow.
	Clear() int

	// Ready yields a token after writes. A token does not guarantee an item
	// is still queued by the time it is received; readers re-check with Read.
	Ready() <-chan struct{}

	Stats() *Statistics

	// Close rejects further writes and wakes readers parked on Ready.
	Close() error
}

// OverflowPolicy defines how the buffer behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest removes the oldest item to make room for new items.
	DropOldest OverflowPolicy = iota

	// DropNewest drops new items when the buffer is full.
	DropNewest
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// DropCallback is called, outside the buffer lock, with every dropped item.
type DropCallback[T any] func(item T)

// NewCircularBuffer creates a ring with the given capacity (minimum 1).
// It fails only when metrics registration fails.
func NewCircularBuffer[T any](capacity int, options ...Option[T]) (Buffer[T], error) {
	opts := applyOptions(options...)
	return newRing(capacity, opts)
}
