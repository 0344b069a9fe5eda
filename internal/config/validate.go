package config

import (
	"github.com/tanged123/hermes/internal/scheduler"
	sig "github.com/tanged123/hermes/internal/signal"
	"github.com/tanged123/hermes/internal/xerror"
)

// Validate runs every rule in spec.md §7's ConfigError bullet: unknown
// module referenced by a wire or schedule entry, missing required
// field per module kind, non-integer substep ratio beyond the 1e-6
// tolerance, duplicate signal name.
func (c *Config) Validate() error {
	if err := c.validateModules(); err != nil {
		return err
	}
	if err := c.validateWiring(); err != nil {
		return err
	}
	if err := c.validateExecution(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateModules() error {
	seen := make(map[string]struct{})

	for name, m := range c.Modules {
		switch m.Kind {
		case "subprocess_exec":
			if m.Executable == "" {
				return xerror.NewConfigError("module %s: kind subprocess_exec requires executable", name)
			}
		case "subprocess_script":
			if m.Executable == "" || m.Script == "" {
				return xerror.NewConfigError("module %s: kind subprocess_script requires executable and script", name)
			}
		case "in_process":
			if m.InprocID == "" {
				return xerror.NewConfigError("module %s: kind in_process requires inproc_id", name)
			}
		default:
			return xerror.NewConfigError("module %s: unknown kind %q", name, m.Kind)
		}

		for _, s := range m.Signals {
			kind, err := sig.ParseKind(s.Type)
			if err != nil {
				return xerror.NewConfigError("module %s: signal %s: %v", name, s.Name, err)
			}
			_ = kind
			qualified := sig.Qualify(name, s.Name)
			if _, dup := seen[qualified]; dup {
				return xerror.NewConfigError("duplicate signal name %s", qualified)
			}
			seen[qualified] = struct{}{}
		}
	}
	return nil
}

func (c *Config) validateWiring() error {
	known := c.knownQualifiedSignals()
	for _, w := range c.Wiring {
		if _, ok := known[w.Src]; !ok {
			return xerror.NewConfigError("wiring: unknown source signal %s", w.Src)
		}
		if _, ok := known[w.Dst]; !ok {
			return xerror.NewConfigError("wiring: unknown destination signal %s", w.Dst)
		}
	}
	return nil
}

func (c *Config) validateExecution() error {
	switch c.Execution.Mode {
	case "realtime", "afap", "single_frame":
	default:
		return xerror.NewConfigError("execution: unknown mode %q", c.Execution.Mode)
	}

	for _, e := range c.Execution.Schedule {
		if _, ok := c.Modules[e.Name]; !ok {
			return xerror.NewConfigError("schedule: unknown module %s", e.Name)
		}
	}

	entries := make([]scheduler.RawScheduleEntry, 0, len(c.Execution.Schedule))
	for _, e := range c.Execution.Schedule {
		entries = append(entries, scheduler.RawScheduleEntry{Name: e.Name, RateHz: e.RateHz})
	}

	majorRateHz, err := scheduler.MajorRateHz(entries, c.Execution.RateHz)
	if err != nil {
		return xerror.NewConfigError("execution: rate_hz must be positive")
	}

	if _, err := scheduler.Resolve(entries, majorRateHz); err != nil {
		return err
	}

	return nil
}

func (c *Config) knownQualifiedSignals() map[string]struct{} {
	known := make(map[string]struct{})
	for name, m := range c.Modules {
		for _, s := range m.Signals {
			known[sig.Qualify(name, s.Name)] = struct{}{}
		}
	}
	return known
}
