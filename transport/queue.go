package transport

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/flexrobotics/roboflex/errors"
	"github.com/flexrobotics/roboflex/pkg/buffer"
)

// Queue is a bounded FIFO for one consumer. Push never blocks: a full queue
// drops its oldest item. Relative order is kept and nothing is duplicated.
type Queue[T any] struct {
	name   string
	buf    buffer.Buffer[T]
	closed atomic.Bool

	logger   *slog.Logger
	dropLogs rate.Sometimes
}

// NewQueue creates a queue holding at most cfg.MaxQueued items. With a
// registry in cfg its statistics are exported under name.
func NewQueue[T any](name string, cfg Config) (*Queue[T], error) {
	cfg = cfg.Normalize()
	q := &Queue[T]{
		name:     name,
		logger:   cfg.Logger.With("queue", name),
		dropLogs: rate.Sometimes{First: 1, Interval: 5 * time.Second},
	}

	buf, err := buffer.NewCircularBuffer[T](cfg.MaxQueued,
		buffer.WithOverflowPolicy[T](buffer.DropOldest),
		buffer.WithMetrics[T](cfg.Registry, name),
		buffer.WithDropCallback[T](func(T) { q.logDrop() }),
	)
	if err != nil {
		return nil, errors.Wrap(err, "Queue", "NewQueue", "create buffer")
	}
	q.buf = buf
	return q, nil
}

func (q *Queue[T]) logDrop() {
	q.dropLogs.Do(func() {
		q.logger.Warn("queue full, dropping oldest", "dropped_total", q.buf.Stats().Drops())
	})
}

// Push appends item, evicting the oldest one when full. It fails only after
// Close.
func (q *Queue[T]) Push(item T) error {
	if q.closed.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Queue", "Push", "push to "+q.name)
	}
	return q.buf.Write(item)
}

// Pop removes the oldest item. It waits up to timeout for one to arrive and
// reports ok=false when none did; a timeout of zero or less does not wait.
// It returns ctx's error when ctx ends first, and ErrAlreadyStopped once the
// queue is closed and drained.
func (q *Queue[T]) Pop(ctx context.Context, timeout time.Duration) (item T, ok bool, err error) {
	if item, ok := q.buf.Read(); ok {
		return item, true, nil
	}
	if timeout <= 0 {
		return item, false, q.closedErr()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if err := q.closedErr(); err != nil {
			return item, false, err
		}
		select {
		case <-ctx.Done():
			return item, false, ctx.Err()
		case <-timer.C:
			return item, false, nil
		case <-q.buf.Ready():
		}
		if got, ok := q.buf.Read(); ok {
			return got, true, nil
		}
	}
}

func (q *Queue[T]) closedErr() error {
	if q.closed.Load() && q.buf.IsEmpty() {
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Queue", "Pop", "pop from "+q.name)
	}
	return nil
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int { return q.buf.Size() }

// Dropped returns how many items were evicted by overflow.
func (q *Queue[T]) Dropped() int64 { return q.buf.Stats().Drops() }

// Stats exposes the underlying buffer statistics.
func (q *Queue[T]) Stats() *buffer.Statistics { return q.buf.Stats() }

// Discard empties the queue and returns how many items it held. Use it when
// the consumer is gone and queued items will never be popped.
func (q *Queue[T]) Discard() int { return q.buf.Clear() }

// Close rejects further pushes and wakes a waiting Pop. Queued items can
// still be popped.
func (q *Queue[T]) Close() error {
	q.closed.Store(true)
	return q.buf.Close()
}
