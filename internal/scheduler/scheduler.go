// Package scheduler implements the multi-rate scheduler described in
// spec.md §4.F: integer-nanosecond time, per-major-frame sequencing of
// update_time/route/step, and the REALTIME/AFAP/SINGLE_FRAME execution
// modes.
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tanged123/hermes/internal/module"
	"github.com/tanged123/hermes/internal/procmgr"
	"github.com/tanged123/hermes/internal/router"
	"github.com/tanged123/hermes/internal/xerror"
)

// Mode selects the scheduler's pacing policy.
type Mode int

const (
	ModeRealtime Mode = iota
	ModeAFAP
	ModeSingleFrame
)

// ParseMode parses the mode strings accepted in configuration.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "realtime":
		return ModeRealtime, nil
	case "afap":
		return ModeAFAP, nil
	case "single_frame":
		return ModeSingleFrame, nil
	default:
		return 0, xerror.NewConfigError("unknown execution mode %q", s)
	}
}

// afapYieldInterval is K from spec.md §4.F's AFAP mode: the loop
// yields cooperatively every K frames to keep the control server
// responsive.
const afapYieldInterval = 100

// FrameCallback is invoked after every major frame. A non-nil error
// propagates out of Run and terminates the loop with running=false.
type FrameCallback func(frame uint64, timeSeconds float64) error

// Scheduler drives one process manager and (optionally) one router
// through the major-frame sequence, applying the configured execution
// mode's pacing.
type Scheduler struct {
	log *zap.SugaredLogger

	mgr    *procmgr.Manager
	router *router.Router

	majorDtNs uint64
	schedule  []ResolvedEntry
	mods      map[string]*module.Module

	mode        Mode
	endTimeNs   uint64
	frameTimeout time.Duration

	mu      sync.Mutex
	frame   uint64
	timeNs  uint64
	running bool
	paused  bool
	stopped bool
}

// Option configures a Scheduler constructor.
type Option func(*Scheduler)

// WithLog sets the logger used by the scheduler.
func WithLog(log *zap.SugaredLogger) Option {
	return func(s *Scheduler) { s.log = log }
}

// WithRouter attaches a router to run before module stepping each
// major frame.
func WithRouter(r *router.Router) Option {
	return func(s *Scheduler) { s.router = r }
}

// WithEndTime sets the simulation end time in nanoseconds; Run exits
// once time_ns >= end_time_ns. Zero means "no configured end" (Run
// only exits via Stop or SINGLE_FRAME's external stepping).
func WithEndTime(endTimeNs uint64) Option {
	return func(s *Scheduler) { s.endTimeNs = endTimeNs }
}

// WithFrameTimeout sets the timeout passed to the process manager's
// barrier wait when the schedule is empty (pure subprocess path).
// Defaults to 5s.
func WithFrameTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.frameTimeout = d }
}

// WithMode sets the execution mode. Defaults to ModeRealtime.
func WithMode(m Mode) Option {
	return func(s *Scheduler) { s.mode = m }
}

// New builds a Scheduler over mgr, with the given major tick duration
// and resolved per-module schedule. Modules referenced by schedule
// entries must be present in mgr.Modules(); unknown names are a
// ConfigError.
func New(mgr *procmgr.Manager, majorDtNs uint64, schedule []ResolvedEntry, options ...Option) (*Scheduler, error) {
	s := &Scheduler{
		log:          zap.NewNop().Sugar(),
		mgr:          mgr,
		majorDtNs:    majorDtNs,
		schedule:     schedule,
		frameTimeout: 5 * time.Second,
	}
	for _, o := range options {
		o(s)
	}

	mods := make(map[string]*module.Module, len(mgr.Modules()))
	for _, m := range mgr.Modules() {
		mods[m.Name] = m
	}
	for _, e := range schedule {
		if _, ok := mods[e.Name]; !ok {
			return nil, xerror.NewConfigError("schedule: unknown module %s", e.Name)
		}
	}
	s.mods = mods

	return s, nil
}

// Frame returns the current frame counter.
func (s *Scheduler) Frame() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}

// TimeNs returns the current simulation time in nanoseconds.
func (s *Scheduler) TimeNs() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeNs
}

// TimeSeconds returns the current simulation time in seconds.
func (s *Scheduler) TimeSeconds() float64 {
	return float64(s.TimeNs()) / 1e9
}

// Paused reports whether the scheduler is currently paused.
func (s *Scheduler) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Pause sets the paused flag. Take effect at the top of the next loop
// iteration.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

// Resume clears the paused flag.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
}

// Stop requests the run loop to exit at the top of its next iteration.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

// Reset sets frame=0, time_ns=0, updates the backplane header, and
// leaves modules and wiring untouched, per spec.md §4.F.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	s.frame = 0
	s.timeNs = 0
	s.mu.Unlock()
	s.mgr.UpdateTime(0, 0)
}

// Step repeats the per-major-frame sequence n times. n <= 0 is
// rejected.
func (s *Scheduler) Step(n int) error {
	if n <= 0 {
		return fmt.Errorf("scheduler: step count must be positive, got %d", n)
	}
	for i := 0; i < n; i++ {
		if err := s.stepOnce(); err != nil {
			return err
		}
	}
	return nil
}

// stepOnce executes steps 1-4 of spec.md §4.F's per-major-frame
// sequence.
func (s *Scheduler) stepOnce() error {
	s.mu.Lock()
	frame := s.frame
	timeNs := s.timeNs
	s.mu.Unlock()

	s.mgr.UpdateTime(frame, timeNs)

	if s.router != nil {
		if err := s.router.Route(); err != nil {
			return err
		}
	}

	if len(s.schedule) > 0 {
		for _, e := range s.schedule {
			mod := s.mods[e.Name]
			for i := 0; i < e.Substeps; i++ {
				if err := mod.Step(e.DtSeconds); err != nil {
					return err
				}
			}
		}
	} else {
		if err := s.mgr.StepAll(frame, s.frameTimeout, nil); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.frame++
	s.timeNs = s.frame * s.majorDtNs
	s.mu.Unlock()
	return nil
}

// Run executes the run loop until Stop() is called or time_ns reaches
// end_time_ns (when configured), invoking callback after every major
// frame. callback errors propagate and terminate the loop with
// running=false, matching spec.md §9's "explicit result types at every
// suspension point" re-architecture guidance. In SINGLE_FRAME mode Run
// returns nil at once without stepping; Step is then the only way to
// advance time.
func (s *Scheduler) Run(callback FrameCallback) error {
	s.mu.Lock()
	s.running = true
	s.stopped = false
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	wallStart := time.Now()
	var pausedSince time.Time
	framesSinceYield := 0

	for {
		s.mu.Lock()
		stopped := s.stopped
		paused := s.paused
		timeNs := s.timeNs
		endTimeNs := s.endTimeNs
		s.mu.Unlock()

		if stopped {
			return nil
		}
		if endTimeNs > 0 && timeNs >= endTimeNs {
			return nil
		}
		if s.mode == ModeSingleFrame {
			return nil
		}

		if paused {
			if pausedSince.IsZero() {
				pausedSince = time.Now()
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}
		if !pausedSince.IsZero() {
			wallStart = wallStart.Add(time.Since(pausedSince))
			pausedSince = time.Time{}
		}

		if err := s.stepOnce(); err != nil {
			return err
		}

		s.mu.Lock()
		frame := s.frame
		timeNs = s.timeNs
		s.mu.Unlock()

		if callback != nil {
			if err := callback(frame, float64(timeNs)/1e9); err != nil {
				return err
			}
		}

		switch s.mode {
		case ModeRealtime:
			target := wallStart.Add(time.Duration(timeNs))
			if d := time.Until(target); d > 0 {
				time.Sleep(d)
			}
		case ModeAFAP:
			framesSinceYield++
			if framesSinceYield >= afapYieldInterval {
				framesSinceYield = 0
				time.Sleep(0)
			}
		}
	}
}

// SetMode sets the execution mode. Intended to be called before Run.
func (s *Scheduler) SetMode(m Mode) { s.mode = m }

// Mode returns the configured execution mode.
func (s *Scheduler) Mode() Mode { return s.mode }
