package graph

import (
	"context"
	stderrors "errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/flexrobotics/roboflex/errors"
	"github.com/flexrobotics/roboflex/health"
)

// State is the lifecycle state of a Runnable.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// RunFunc is the body of a Runnable. It must return promptly once ctx is
// cancelled.
type RunFunc func(ctx context.Context) error

// Runnable is a node that owns one goroutine running its loop. Embed it by
// pointer in node types that produce messages on their own schedule.
type Runnable struct {
	*Base

	loop    RunFunc
	tracker *health.Tracker

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// NewRunnable creates an idle runnable node.
func NewRunnable(name string, loop RunFunc, opts ...Option) *Runnable {
	return &Runnable{
		Base:    newBase("runnable", name, opts...),
		loop:    loop,
		tracker: health.NewTracker(name),
	}
}

// Start launches the loop on a new goroutine. It fails with a LifecycleError
// wrapping ErrAlreadyStarted while the loop is running. A stopped runnable
// may be started again.
func (r *Runnable) Start(ctx context.Context) error {
	done, ctx, err := r.begin(ctx)
	if err != nil {
		return err
	}
	go r.run(ctx, done)
	return nil
}

// Run executes the loop on the calling goroutine and returns its error.
func (r *Runnable) Run(ctx context.Context) error {
	done, ctx, err := r.begin(ctx)
	if err != nil {
		return err
	}
	r.run(ctx, done)
	return r.Err()
}

func (r *Runnable) begin(parent context.Context) (chan struct{}, context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateRunning {
		return nil, nil, &errors.LifecycleError{Node: r.name, State: r.state.String(), Err: errors.ErrAlreadyStarted}
	}

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done
	r.err = nil
	r.tracker.Reset()
	r.setStateLocked(StateRunning)
	r.logger.Debug("started")
	return done, ctx, nil
}

func (r *Runnable) run(ctx context.Context, done chan struct{}) {
	var err error
	defer func() {
		if p := recover(); p != nil {
			err = errors.WrapFatal(fmt.Errorf("panic: %v", p), "Runnable", "run", "run loop")
			r.logger.Error("loop panicked", "panic", p, "stack", string(debug.Stack()))
		}
		r.finish(done, err)
	}()
	err = r.loop(ctx)
}

func (r *Runnable) finish(done chan struct{}, err error) {
	if stderrors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		r.logger.Error("loop failed", "error", err)
		r.tracker.Error(err)
	}

	r.mu.Lock()
	if r.done == done {
		r.err = err
		r.setStateLocked(StateStopped)
		r.cancel()
	}
	r.mu.Unlock()
	close(done)
	r.logger.Debug("stopped")
}

// Stop cancels the loop and blocks until its goroutine has exited. Stopping
// an idle or stopped runnable does nothing. Stop must not be called from the
// loop itself.
func (r *Runnable) Stop() error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	if done == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// Wait blocks until the current run ends and returns its error.
func (r *Runnable) Wait() error {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done != nil {
		<-done
	}
	return r.Err()
}

// State returns the lifecycle state.
func (r *Runnable) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Err returns the error the last run ended with, if any.
func (r *Runnable) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Tracker exposes the health tracker so node types can record activity and
// failures of their own.
func (r *Runnable) Tracker() *health.Tracker { return r.tracker }

// Health reports the runnable's state and recorded errors.
func (r *Runnable) Health() health.Status {
	return r.tracker.Status(r.State() == StateRunning)
}

func (r *Runnable) setStateLocked(s State) {
	r.state = s
	r.coreMetrics().RecordNodeState(r.name, int(s))
}
