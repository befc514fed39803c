package nodes

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flexrobotics/roboflex/errors"
	"github.com/flexrobotics/roboflex/graph"
)

// TriggerFunc runs once per period of a FrequencyGenerator. now is the
// time the iteration started.
type TriggerFunc func(ctx context.Context, now time.Time) error

// FrequencyGenerator triggers at a fixed rate on its own goroutine. Each
// iteration calls the trigger and sleeps for the rest of the period; an
// iteration that overruns the period starts the next one immediately, and
// missed periods are not caught up.
type FrequencyGenerator struct {
	*graph.Runnable

	period atomic.Int64

	mu      sync.Mutex
	trigger TriggerFunc
}

// NewFrequencyGenerator creates a generator running at hz. The default
// trigger signals an empty map.
func NewFrequencyGenerator(name string, hz float64, opts ...graph.Option) (*FrequencyGenerator, error) {
	period, err := periodOf(hz)
	if err != nil {
		return nil, err
	}
	fg := &FrequencyGenerator{}
	fg.period.Store(int64(period))
	fg.Runnable = graph.NewRunnable(name, fg.loop, opts...)
	fg.trigger = func(ctx context.Context, _ time.Time) error {
		return fg.Signal(ctx, map[string]any{})
	}
	return fg, nil
}

func periodOf(hz float64) (time.Duration, error) {
	if hz <= 0 || math.IsNaN(hz) || math.IsInf(hz, 0) {
		return 0, errors.WrapInvalid(fmt.Errorf("%w: frequency %v", errors.ErrInvalidValue, hz),
			"FrequencyGenerator", "periodOf", "validate frequency")
	}
	period := float64(time.Second) / hz
	if period >= math.MaxInt64 || period < 1 {
		return 0, errors.WrapInvalid(fmt.Errorf("%w: frequency %v has no representable period", errors.ErrInvalidValue, hz),
			"FrequencyGenerator", "periodOf", "validate frequency")
	}
	return time.Duration(period), nil
}

// OnTrigger replaces the per-period hook. Set it before Start.
func (fg *FrequencyGenerator) OnTrigger(fn TriggerFunc) {
	fg.mu.Lock()
	defer fg.mu.Unlock()
	fg.trigger = fn
}

// SetFrequency changes the rate. It takes effect from the next period and
// may be called while running.
func (fg *FrequencyGenerator) SetFrequency(hz float64) error {
	period, err := periodOf(hz)
	if err != nil {
		return err
	}
	fg.period.Store(int64(period))
	return nil
}

// Frequency returns the current rate in hertz.
func (fg *FrequencyGenerator) Frequency() float64 {
	return float64(time.Second) / float64(fg.period.Load())
}

func (fg *FrequencyGenerator) loop(ctx context.Context) error {
	fg.mu.Lock()
	trigger := fg.trigger
	fg.mu.Unlock()

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		start := time.Now()
		if err := trigger(ctx, start); err != nil {
			// A failing downstream must not stop the clock.
			fg.Logger().Warn("trigger failed", "error", err)
			fg.Tracker().Error(err)
		} else {
			fg.Tracker().Processed()
		}

		wait := time.Duration(fg.period.Load()) - time.Since(start)
		if wait < 0 {
			wait = 0
		}
		timer.Reset(wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}
