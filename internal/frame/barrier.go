// Package frame implements the two-semaphore frame barrier described
// in spec.md §3/§4.B: the lockstep coordination primitive between the
// scheduler process and its N subprocess workers.
package frame

import (
	"time"

	"go.uber.org/zap"

	"github.com/tanged123/hermes/internal/xerror"
)

// Barrier coordinates N worker processes through one frame at a time.
// The scheduler side calls SignalStep/WaitAllDone; the worker side
// calls WaitStep/SignalDone. No other callers are permitted, per
// spec.md §5.
type Barrier struct {
	log  *zap.SugaredLogger
	name string
	n    int
	step semaphore
	done semaphore
}

// semaphore abstracts the OS-specific counting semaphore; see
// sem_unix.go for the SysV-backed implementation.
type semaphore interface {
	Release(count int) error
	Acquire(timeout time.Duration) error
	Close() error
}

// Option configures a Barrier constructor.
type Option func(*Barrier)

// WithLog sets the logger used by the barrier.
func WithLog(log *zap.SugaredLogger) Option {
	return func(b *Barrier) { b.log = log }
}

func newBarrier(name string, n int, options ...Option) *Barrier {
	b := &Barrier{
		log:  zap.NewNop().Sugar(),
		name: name,
		n:    n,
	}
	for _, o := range options {
		o(b)
	}
	return b
}

// Name returns the base name this barrier was created/attached under.
func (b *Barrier) Name() string { return b.name }

// Count returns N, the number of worker processes this barrier
// synchronizes.
func (b *Barrier) Count() int { return b.n }

// Create creates both semaphores, named "<base>_step" and
// "<base>_done", both initialized to 0.
func Create(name string, n int, options ...Option) (*Barrier, error) {
	b := newBarrier(name, n, options...)

	step, err := createSemaphore(name + "_step")
	if err != nil {
		return nil, xerror.NewResourceError("create barrier step semaphore", err)
	}
	done, err := createSemaphore(name + "_done")
	if err != nil {
		step.Close()
		_ = unlinkSemaphore(name + "_step")
		return nil, xerror.NewResourceError("create barrier done semaphore", err)
	}

	b.step = step
	b.done = done

	b.log.Infow("created frame barrier", zap.String("name", name), zap.Int("workers", n))
	return b, nil
}

// Attach opens an existing barrier by name.
func Attach(name string, n int, options ...Option) (*Barrier, error) {
	b := newBarrier(name, n, options...)

	step, err := attachSemaphore(name + "_step")
	if err != nil {
		return nil, xerror.NewResourceError("attach barrier step semaphore", err)
	}
	done, err := attachSemaphore(name + "_done")
	if err != nil {
		step.Close()
		return nil, xerror.NewResourceError("attach barrier done semaphore", err)
	}

	b.step = step
	b.done = done
	return b, nil
}

// SignalStep releases the step semaphore exactly N times, waking all
// workers. Scheduler side.
func (b *Barrier) SignalStep() error {
	if err := b.step.Release(b.n); err != nil {
		return xerror.NewResourceError("signal step", err)
	}
	return nil
}

// WaitStep blocks until the scheduler signals a step, or the timeout
// elapses. Worker side.
func (b *Barrier) WaitStep(timeout time.Duration) error {
	return b.step.Acquire(timeout)
}

// SignalDone releases one unit of the done semaphore. Worker side.
func (b *Barrier) SignalDone() error {
	if err := b.done.Release(1); err != nil {
		return xerror.NewResourceError("signal done", err)
	}
	return nil
}

// WaitAllDone acquires N units of the done semaphore, one per worker,
// applying timeout to each unit individually. Scheduler side. Returns
// a FrameTimeout if any unit is not acquired in time.
func (b *Barrier) WaitAllDone(frame uint64, timeout time.Duration) error {
	for i := 0; i < b.n; i++ {
		if err := b.done.Acquire(timeout); err != nil {
			return xerror.NewFrameTimeout(frame, "worker completion")
		}
	}
	return nil
}

// Close releases local semaphore handles without destroying them.
func (b *Barrier) Close() error {
	var err error
	if b.step != nil {
		err = b.step.Close()
	}
	if b.done != nil {
		if derr := b.done.Close(); err == nil {
			err = derr
		}
	}
	return err
}

// Destroy unlinks both semaphores. Should only be called by the
// creator after every holder has Close()d.
func (b *Barrier) Destroy() error {
	closeErr := b.Close()
	stepErr := unlinkSemaphore(b.name + "_step")
	doneErr := unlinkSemaphore(b.name + "_done")
	if closeErr != nil {
		return closeErr
	}
	if stepErr != nil {
		return stepErr
	}
	return doneErr
}
