// Package procmgr implements the process manager described in
// spec.md §4.E: the owner of the backplane segment, the frame barrier,
// and every configured module record, coordinating them through
// step_all and update_time.
package procmgr

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tanged123/hermes/internal/backplane"
	"github.com/tanged123/hermes/internal/frame"
	"github.com/tanged123/hermes/internal/module"
	sig "github.com/tanged123/hermes/internal/signal"
)

// ModuleSpec describes one module record to instantiate, already
// resolved from configuration: exactly one of Impl (IN_PROCESS) or
// Spawn (SUBPROCESS_*) is meaningful, selected by Kind.
type ModuleSpec struct {
	Name    string
	Kind    module.Kind
	Signals []sig.Descriptor
	Spawn   module.SpawnSpec
	Impl    module.InProcessImpl
}

// Substep is a per-module per-major-frame stepping instruction passed
// to StepAll: how many times to call Step this major frame, and the dt
// to pass each time. The scheduler's own barrier path calls StepAll
// with no substeps.
type Substep struct {
	Count     int
	DtSeconds float64
}

// Manager owns the backplane segment, the frame barrier, and every
// module record for one simulation run. Lifetime matches the run: a
// Manager is created once per `hermes run` invocation.
type Manager struct {
	log *zap.SugaredLogger

	maxSegmentSize int64

	bp      *backplane.Segment
	barrier *frame.Barrier
	modules []*module.Module
}

// Option configures a Manager constructor.
type Option func(*Manager)

// WithLog sets the logger used by the manager and everything it
// creates.
func WithLog(log *zap.SugaredLogger) Option {
	return func(m *Manager) { m.log = log }
}

// WithMaxSegmentSize caps the computed backplane layout size, per the
// optional max_segment_size configuration option.
func WithMaxSegmentSize(maxBytes int64) Option {
	return func(m *Manager) { m.maxSegmentSize = maxBytes }
}

// New derives the segment and barrier names from token, creates the
// backplane over the union of every spec's declared signals, creates
// the barrier sized to the count of subprocess modules (skipped
// entirely when that count is zero), and instantiates one module
// record per spec in declared order. Any failure during this sequence
// unwinds every resource created so far, aggregating teardown errors
// with multierr so a failing Destroy never hides the error that
// triggered it.
func New(token string, specs []ModuleSpec, options ...Option) (*Manager, error) {
	m := &Manager{log: zap.NewNop().Sugar()}
	for _, o := range options {
		o(m)
	}

	shmName := token
	barrierName := token + "_barrier"

	var allSignals []sig.Descriptor
	for _, s := range specs {
		allSignals = append(allSignals, s.Signals...)
	}

	bpOptions := []backplane.Option{backplane.WithLog(m.log)}
	if m.maxSegmentSize > 0 {
		bpOptions = append(bpOptions, backplane.WithMaxSize(m.maxSegmentSize))
	}
	bp, err := backplane.Create(shmName, allSignals, bpOptions...)
	if err != nil {
		return nil, err
	}

	subprocessCount := 0
	for _, s := range specs {
		if s.Kind != module.KindInProcess {
			subprocessCount++
		}
	}

	var barrier *frame.Barrier
	if subprocessCount > 0 {
		barrier, err = frame.Create(barrierName, subprocessCount, frame.WithLog(m.log))
		if err != nil {
			if destroyErr := bp.Destroy(); destroyErr != nil {
				err = multierr.Append(err, destroyErr)
			}
			return nil, err
		}
	}

	modules := make([]*module.Module, 0, len(specs))
	for _, s := range specs {
		switch s.Kind {
		case module.KindInProcess:
			modules = append(modules, module.NewInProcess(s.Name, s.Impl))
		default:
			spawn := s.Spawn
			spawn.ModuleName = s.Name
			spawn.ShmName = shmName
			spawn.BarrierName = barrierName
			modules = append(modules, module.NewSubprocess(s.Name, s.Kind, spawn))
		}
	}

	m.bp = bp
	m.barrier = barrier
	m.modules = modules

	m.log.Infow("created process manager",
		zap.String("token", token),
		zap.Int("modules", len(modules)),
		zap.Int("subprocess_workers", subprocessCount),
	)
	return m, nil
}

// Backplane returns the segment this manager owns.
func (m *Manager) Backplane() *backplane.Segment { return m.bp }

// Modules returns every module record in declared order.
func (m *Manager) Modules() []*module.Module { return m.modules }

// LoadAll spawns every subprocess module and leaves in-process modules
// untouched (they are already constructed). Subprocess spawns run
// concurrently via errgroup, since each is an independent fork/exec
// with no ordering dependency on its siblings. On any failure, every
// module already loaded is terminated before the error is returned.
func (m *Manager) LoadAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, mod := range m.modules {
		mod := mod
		g.Go(func() error {
			if err := mod.Load(); err != nil {
				return fmt.Errorf("load module %s: %w", mod.Name, err)
			}
			if mod.Kind != module.KindInProcess {
				if err := mod.AwaitReady(ctx); err != nil {
					return fmt.Errorf("await ready module %s: %w", mod.Name, err)
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		var unwindErr error
		for _, mod := range m.modules {
			if terr := mod.Terminate(); terr != nil {
				unwindErr = multierr.Append(unwindErr, terr)
			}
		}
		if unwindErr != nil {
			err = multierr.Append(err, unwindErr)
		}
		return err
	}

	m.log.Info("loaded all modules")
	return nil
}

// StageAll transitions every module record to STAGED, in declared
// order.
func (m *Manager) StageAll() error {
	for _, mod := range m.modules {
		if err := mod.Stage(); err != nil {
			return fmt.Errorf("stage module %s: %w", mod.Name, err)
		}
	}
	return nil
}

// StepAll executes one step_all sequence per spec.md §4.E:
//  1. transition every subprocess module to RUNNING (idempotent)
//  2. signal_step
//  3. wait_all_done(timeout), fatal FrameTimeout on failure
//  4. step every in-process module, in declared schedule order, the
//     number of times given by substeps[name].Count, passing
//     substeps[name].DtSeconds each call
//
// A module with no entry in substeps is stepped once with dt=0,
// matching a module the scheduler has not scheduled at all for this
// frame.
func (m *Manager) StepAll(frameNum uint64, timeout time.Duration, substeps map[string]Substep) error {
	for _, mod := range m.modules {
		if mod.Kind != module.KindInProcess {
			if err := mod.MarkRunning(); err != nil {
				return fmt.Errorf("mark running module %s: %w", mod.Name, err)
			}
		}
	}

	if m.barrier != nil {
		if err := m.barrier.SignalStep(); err != nil {
			return err
		}
		if err := m.barrier.WaitAllDone(frameNum, timeout); err != nil {
			return err
		}
	}

	for _, mod := range m.modules {
		if mod.Kind != module.KindInProcess {
			continue
		}
		if err := mod.MarkRunning(); err != nil {
			return fmt.Errorf("mark running module %s: %w", mod.Name, err)
		}
		sub, ok := substeps[mod.Name]
		if !ok {
			sub = Substep{Count: 1}
		}
		for i := 0; i < sub.Count; i++ {
			if err := mod.Step(sub.DtSeconds); err != nil {
				return fmt.Errorf("step module %s: %w", mod.Name, err)
			}
		}
	}

	return nil
}

// UpdateTime writes frame and time_ns to the backplane header in a
// single logical action, per spec.md §4.E.
func (m *Manager) UpdateTime(frameNum, timeNs uint64) {
	m.bp.UpdateTime(frameNum, timeNs)
}

// TerminateAll sends the graceful-then-forced termination sequence to
// every module, aggregating every failure with multierr rather than
// stopping at the first.
func (m *Manager) TerminateAll() error {
	var err error
	for _, mod := range m.modules {
		if terr := mod.Terminate(); terr != nil {
			err = multierr.Append(err, terr)
		}
	}
	return err
}

// Close releases the barrier and backplane resources this manager
// owns. Should only be called after every module is DONE or ERROR, per
// spec.md §4.D. Aggregates both failures if both occur.
func (m *Manager) Close() error {
	var err error
	if m.barrier != nil {
		if derr := m.barrier.Destroy(); derr != nil {
			err = multierr.Append(err, derr)
		}
	}
	if m.bp != nil {
		if derr := m.bp.Destroy(); derr != nil {
			err = multierr.Append(err, derr)
		}
	}
	return err
}
