package module

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/tanged123/hermes/internal/xerror"
)

// SpawnSpec is everything a subprocess module needs to start, per the
// ABI in spec.md §6: argv, and the MODULE_NAME/SHM_NAME/BARRIER_NAME
// environment variables.
type SpawnSpec struct {
	// Executable is either the module's own executable
	// (SUBPROCESS_EXEC) or the language-neutral interpreter
	// (SUBPROCESS_SCRIPT).
	Executable string
	// ScriptPath is set only for SUBPROCESS_SCRIPT, appended to argv
	// after Executable.
	ScriptPath string
	// ConfigPath is the optional per-module config path, appended
	// last to argv.
	ConfigPath string

	ModuleName  string
	ShmName     string
	BarrierName string

	// GracefulTimeout bounds how long Terminate waits after sending
	// the graceful stop signal before killing forcibly. Defaults to
	// 5s if zero, per spec.md §4.D.
	GracefulTimeout time.Duration
}

type subprocess struct {
	mu      sync.Mutex
	spec    SpawnSpec
	cmd     *exec.Cmd
	started bool
}

func newSubprocess(spec SpawnSpec) *subprocess {
	if spec.GracefulTimeout <= 0 {
		spec.GracefulTimeout = 5 * time.Second
	}
	return &subprocess{spec: spec}
}

func (p *subprocess) argv() []string {
	args := []string{p.spec.Executable}
	if p.spec.ScriptPath != "" {
		args = append(args, p.spec.ScriptPath)
	}
	args = append(args, p.spec.ShmName)
	if p.spec.ConfigPath != "" {
		args = append(args, p.spec.ConfigPath)
	}
	return args
}

func (p *subprocess) spawn() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return fmt.Errorf("already spawned")
	}

	argv := p.argv()
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(),
		"MODULE_NAME="+p.spec.ModuleName,
		"SHM_NAME="+p.spec.ShmName,
		"BARRIER_NAME="+p.spec.BarrierName,
	)
	// Stdio is detached per spec.md §4.D.
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn %s: %w", argv[0], err)
	}

	p.cmd = cmd
	p.started = true
	return nil
}

func (p *subprocess) alive() bool {
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return false
	}
	return cmd.Process.Signal(syscall.Signal(0)) == nil
}

// awaitReady retries checking that a just-spawned process is still
// alive, using bounded exponential backoff. This turns a common
// fast-fail-then-recover startup race (the worker attaching to a
// backplane segment created moments earlier) into either a clean
// success or a ResourceError, rather than a false-negative on the
// first check.
func (p *subprocess) awaitReady(ctx context.Context) error {
	op := func() (struct{}, error) {
		if p.alive() {
			return struct{}{}, nil
		}
		return struct{}{}, fmt.Errorf("module process %s exited during startup", p.spec.ModuleName)
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(2*time.Second),
	)
	if err != nil {
		return xerror.NewResourceError("module "+p.spec.ModuleName+" startup", err)
	}
	return nil
}

func (p *subprocess) terminate() error {
	p.mu.Lock()
	cmd := p.cmd
	graceful := p.spec.GracefulTimeout
	p.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	_ = cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-done:
		return nil
	case <-time.After(graceful):
	}

	_ = cmd.Process.Kill()
	<-done
	return nil
}
