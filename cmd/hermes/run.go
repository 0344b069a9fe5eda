package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tanged123/hermes/internal/config"
	"github.com/tanged123/hermes/internal/control"
	"github.com/tanged123/hermes/internal/module"
	"github.com/tanged123/hermes/internal/procmgr"
	"github.com/tanged123/hermes/internal/router"
	"github.com/tanged123/hermes/internal/scheduler"
	sig "github.com/tanged123/hermes/internal/signal"
	"github.com/tanged123/hermes/pkg/logging"
	"github.com/tanged123/hermes/pkg/xcmd"
)

type runFlags struct {
	verbose  bool
	quiet    bool
	noServer bool
	port     int
}

func newRunCmd() *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run <config>",
		Short: "Run a simulation from a configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runSimulation(args[0], flags)
		},
	}
	cmd.Flags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable debug logging")
	cmd.Flags().BoolVarP(&flags.quiet, "quiet", "q", false, "Only log warnings and errors")
	cmd.Flags().BoolVar(&flags.noServer, "no-server", false, "Disable the control/telemetry server")
	cmd.Flags().IntVar(&flags.port, "port", 0, "Override the configured control server port (0 keeps the config value)")
	return cmd
}

func runSimulation(configPath string, flags *runFlags) error {
	level := zap.InfoLevel
	if flags.verbose {
		level = zap.DebugLevel
	}
	if flags.quiet {
		level = zap.WarnLevel
	}
	log, _, err := logging.Init(&logging.Config{Level: level})
	if err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	defer log.Sync()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if flags.port != 0 {
		cfg.Server.Port = flags.port
	}

	registry := module.NewRegistry()

	token := fmt.Sprintf("hermes_%d", os.Getpid())
	specs, err := buildModuleSpecs(cfg, registry)
	if err != nil {
		return fmt.Errorf("build module specs: %w", err)
	}

	mgr, err := procmgr.New(token, specs,
		procmgr.WithLog(log),
		procmgr.WithMaxSegmentSize(int64(cfg.Execution.MaxSegmentSize.Bytes())),
	)
	if err != nil {
		return fmt.Errorf("create process manager: %w", err)
	}
	defer mgr.Close()

	ctx := context.Background()
	if err := mgr.LoadAll(ctx); err != nil {
		return fmt.Errorf("load modules: %w", err)
	}
	if err := mgr.StageAll(); err != nil {
		return fmt.Errorf("stage modules: %w", err)
	}

	rtr, err := router.New(mgr.Backplane(), buildWires(cfg), router.WithLog(log))
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}

	majorRateHz, err := scheduler.MajorRateHz(buildRawSchedule(cfg), cfg.Execution.RateHz)
	if err != nil {
		return fmt.Errorf("resolve major rate: %w", err)
	}
	resolved, err := scheduler.Resolve(buildRawSchedule(cfg), majorRateHz)
	if err != nil {
		return fmt.Errorf("resolve schedule: %w", err)
	}

	mode, err := scheduler.ParseMode(cfg.Execution.Mode)
	if err != nil {
		return fmt.Errorf("parse execution mode: %w", err)
	}

	schedOpts := []scheduler.Option{
		scheduler.WithLog(log),
		scheduler.WithRouter(rtr),
		scheduler.WithMode(mode),
	}
	if cfg.Execution.EndTime != nil {
		endTimeNs := uint64(*cfg.Execution.EndTime * 1e9)
		schedOpts = append(schedOpts, scheduler.WithEndTime(endTimeNs))
	}

	sched, err := scheduler.New(mgr, scheduler.MajorDtNs(majorRateHz), resolved, schedOpts...)
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	wg, ctx := errgroup.WithContext(ctx)

	var server *control.Server
	if cfg.Server.Enabled && !flags.noServer {
		types := make(map[string]string)
		for name, mc := range cfg.Modules {
			for _, s := range mc.Signals {
				types[sig.Qualify(name, s.Name)] = s.Type
			}
		}
		schema := control.BuildSchema(mgr.Backplane().SignalNames(), types)
		server = control.NewServer(mgr.Backplane(), schema, control.WithLog(log), control.WithScheduler(sched))

		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := server.StartBackground(ctx, addr); err != nil {
			return fmt.Errorf("start control server: %w", err)
		}
		defer server.Stop()

		telemetryHz := cfg.Server.TelemetryHz
		wg.Go(func() error {
			if err := server.StartTelemetryLoop(ctx, telemetryHz); err != nil {
				log.Warnw("telemetry loop exited", "err", err)
			}
			return nil
		})
	}

	wg.Go(func() error {
		return sched.Run(func(frame uint64, timeSeconds float64) error {
			return nil
		})
	})
	wg.Go(func() error {
		err := xcmd.WaitInterrupted(ctx)
		log.Infow("caught signal", "err", err)
		sched.Stop()
		return err
	})

	if err := wg.Wait(); err != nil {
		return err
	}
	return mgr.TerminateAll()
}

func buildModuleSpecs(cfg *config.Config, registry *module.Registry) ([]procmgr.ModuleSpec, error) {
	names := make([]string, 0, len(cfg.Modules))
	for name := range cfg.Modules {
		names = append(names, name)
	}
	sort.Strings(names)

	specs := make([]procmgr.ModuleSpec, 0, len(cfg.Modules))
	for _, name := range names {
		mc := cfg.Modules[name]
		signals := make([]sig.Descriptor, 0, len(mc.Signals))
		for _, s := range mc.Signals {
			kind, err := sig.ParseKind(s.Type)
			if err != nil {
				return nil, fmt.Errorf("module %s: %w", name, err)
			}
			var flags sig.Flags
			if s.Writable {
				flags |= sig.FlagWritable
			}
			if s.Published {
				flags |= sig.FlagPublished
			}
			signals = append(signals, sig.Descriptor{
				Module: name,
				Local:  s.Name,
				Kind:   kind,
				Unit:   s.Unit,
				Flags:  flags,
			})
		}

		switch mc.Kind {
		case "subprocess_exec", "subprocess_script":
			kind := module.KindSubprocessExec
			if mc.Kind == "subprocess_script" {
				kind = module.KindSubprocessScript
			}
			specs = append(specs, procmgr.ModuleSpec{
				Name:    name,
				Kind:    kind,
				Signals: signals,
				Spawn: module.SpawnSpec{
					Executable: mc.Executable,
					ScriptPath: mc.Script,
					ConfigPath: mc.ConfigPath,
					ModuleName: name,
				},
			})
		case "in_process":
			// The stock binary never pre-registers any factory (module
			// registration happens at compile time, per spec.md §9): a
			// config naming an in-process module here is only runnable
			// from a custom entrypoint that builds its own Registry and
			// calls procmgr directly, since the backplane the factory
			// needs does not exist until procmgr.New runs.
			if _, ok := registry.Lookup(mc.InprocID); !ok {
				return nil, fmt.Errorf("module %s: in-process id %q requires a custom entrypoint registering it before building module specs", name, mc.InprocID)
			}
		default:
			return nil, fmt.Errorf("module %s: unknown kind %q", name, mc.Kind)
		}
	}
	return specs, nil
}

func buildWires(cfg *config.Config) []router.Wire {
	wires := make([]router.Wire, 0, len(cfg.Wiring))
	for _, w := range cfg.Wiring {
		wires = append(wires, router.Wire{Src: w.Src, Dst: w.Dst, Gain: w.Gain, Offset: w.Offset})
	}
	return wires
}

func buildRawSchedule(cfg *config.Config) []scheduler.RawScheduleEntry {
	entries := make([]scheduler.RawScheduleEntry, 0, len(cfg.Execution.Schedule))
	for _, s := range cfg.Execution.Schedule {
		entries = append(entries, scheduler.RawScheduleEntry{Name: s.Name, RateHz: s.RateHz})
	}
	return entries
}
