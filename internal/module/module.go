// Package module implements the module record and lifecycle state
// machine described in spec.md §3/§4.D: the tagged variant between
// subprocess and in-process modules, each exposing stage/step/reset.
package module

import (
	"context"
	"fmt"
	"sync"

	"github.com/tanged123/hermes/internal/backplane"
	sig "github.com/tanged123/hermes/internal/signal"
)

// Kind discriminates the three ways a module can be realized, per
// spec.md §4.D's re-architecture guidance: a tagged variant rather
// than runtime-polymorphic dynamic dispatch.
type Kind int

const (
	KindSubprocessExec Kind = iota
	KindSubprocessScript
	KindInProcess
)

func (k Kind) String() string {
	switch k {
	case KindSubprocessExec:
		return "subprocess_exec"
	case KindSubprocessScript:
		return "subprocess_script"
	case KindInProcess:
		return "in_process"
	default:
		return "unknown"
	}
}

// State is a lifecycle state of a module record.
type State int

const (
	StateInit State = iota
	StateStaged
	StateRunning
	StateDone
	StateError
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateStaged:
		return "STAGED"
	case StateRunning:
		return "RUNNING"
	case StateDone:
		return "DONE"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// InProcessImpl is the interface an in-process module implementation
// must satisfy. It holds a reference to the backplane it was
// constructed with.
type InProcessImpl interface {
	Stage() error
	Step(dtSeconds float64) error
	Reset() error
}

// InProcessFactory constructs an in-process implementation given its
// declared name, the backplane it will read/write, and its declared
// signals. Factories are looked up by a string identifier from a
// compile-time registry (see Registry), never by dynamic import,
// per spec.md §9.
type InProcessFactory func(name string, bp *backplane.Segment, signals []sig.Descriptor) (InProcessImpl, error)

// Module is a record tracking one configured module's kind, lifecycle
// state, and (depending on kind) its process handle or in-process
// implementation.
type Module struct {
	mu sync.Mutex

	Name string
	Kind Kind

	state State
	err   error

	// Subprocess-kind fields.
	proc *subprocess

	// In-process-kind fields.
	impl InProcessImpl
}

// NewSubprocess builds a module record of kind KindSubprocessExec or
// KindSubprocessScript. The process is not spawned until Load is
// called.
func NewSubprocess(name string, kind Kind, spawn SpawnSpec) *Module {
	return &Module{
		Name:  name,
		Kind:  kind,
		state: StateInit,
		proc:  newSubprocess(spawn),
	}
}

// NewInProcess builds a module record of kind KindInProcess wrapping
// an already-constructed implementation.
func NewInProcess(name string, impl InProcessImpl) *Module {
	return &Module{
		Name:  name,
		Kind:  KindInProcess,
		state: StateInit,
		impl:  impl,
	}
}

// State returns the module's current lifecycle state.
func (m *Module) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err returns the error that drove this module into StateError, if any.
func (m *Module) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *Module) fail(err error) error {
	m.mu.Lock()
	m.state = StateError
	m.err = err
	m.mu.Unlock()
	return err
}

// Load performs kind-specific startup: spawning the subprocess for
// SUBPROCESS_* kinds, or a no-op for IN_PROCESS (which is already
// constructed). Transitions INIT -> STAGED is performed by a
// subsequent call to Stage.
func (m *Module) Load() error {
	if m.Kind == KindInProcess {
		return nil
	}
	if err := m.proc.spawn(); err != nil {
		return m.fail(fmt.Errorf("load module %s: %w", m.Name, err))
	}
	return nil
}

// Stage transitions the module into STAGED. For in-process modules,
// this calls the implementation's Stage(); for subprocess modules, the
// process is expected to perform its own staging after attaching to
// the backplane and barrier, so this only records the state change.
func (m *Module) Stage() error {
	m.mu.Lock()
	if m.state != StateInit && m.state != StateStaged && m.state != StateRunning {
		m.mu.Unlock()
		return fmt.Errorf("stage module %s: invalid state %s", m.Name, m.state)
	}
	m.mu.Unlock()

	if m.Kind == KindInProcess {
		if err := m.impl.Stage(); err != nil {
			return m.fail(fmt.Errorf("stage module %s: %w", m.Name, err))
		}
	}

	m.mu.Lock()
	m.state = StateStaged
	m.mu.Unlock()
	return nil
}

// MarkRunning transitions STAGED -> RUNNING. Idempotent if already
// RUNNING.
func (m *Module) MarkRunning() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateRunning:
		return nil
	case StateStaged:
		m.state = StateRunning
		return nil
	default:
		return fmt.Errorf("mark running module %s: invalid state %s", m.Name, m.state)
	}
}

// Step advances an in-process module by dtSeconds. Calling Step on a
// subprocess module is a programming error: subprocess stepping goes
// through the frame barrier, not this call.
func (m *Module) Step(dtSeconds float64) error {
	if m.Kind != KindInProcess {
		return fmt.Errorf("step module %s: not an in-process module", m.Name)
	}
	if err := m.impl.Step(dtSeconds); err != nil {
		return m.fail(fmt.Errorf("step module %s: %w", m.Name, err))
	}
	return nil
}

// Reset transitions any non-terminal state back to STAGED without
// recreating the module.
func (m *Module) Reset() error {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()

	if state == StateError || state == StateDone {
		return fmt.Errorf("reset module %s: cannot reset from %s", m.Name, state)
	}

	if m.Kind == KindInProcess {
		if err := m.impl.Reset(); err != nil {
			return m.fail(fmt.Errorf("reset module %s: %w", m.Name, err))
		}
	}

	m.mu.Lock()
	m.state = StateStaged
	m.mu.Unlock()
	return nil
}

// Terminate stops a subprocess module (graceful-then-forced) or is a
// no-op for in-process modules, then transitions to DONE.
func (m *Module) Terminate() error {
	if m.Kind != KindInProcess {
		if err := m.proc.terminate(); err != nil {
			return m.fail(fmt.Errorf("terminate module %s: %w", m.Name, err))
		}
	}

	m.mu.Lock()
	m.state = StateDone
	m.mu.Unlock()
	return nil
}

// AwaitReady retries checking that a just-spawned subprocess module's
// process is still alive, absorbing the startup race between exec and
// the worker attaching to the backplane/barrier. No-op for in-process
// modules.
func (m *Module) AwaitReady(ctx context.Context) error {
	if m.Kind == KindInProcess {
		return nil
	}
	if err := m.proc.awaitReady(ctx); err != nil {
		return m.fail(fmt.Errorf("await ready module %s: %w", m.Name, err))
	}
	return nil
}

// Alive reports whether a subprocess module's process is still
// running. Always true for in-process modules.
func (m *Module) Alive() bool {
	if m.Kind == KindInProcess {
		return true
	}
	return m.proc.alive()
}
