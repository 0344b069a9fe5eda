package scheduler

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanged123/hermes/internal/module"
	"github.com/tanged123/hermes/internal/procmgr"
	"github.com/tanged123/hermes/internal/router"
	sig "github.com/tanged123/hermes/internal/signal"
)

func uniqueToken(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("/hermes_scheduler_test_%s_%d", t.Name(), os.Getpid())
}

// countingImpl is a minimal in-process module used by S1: it ignores
// its inputs and just counts steps.
type countingImpl struct {
	steps int
}

func (c *countingImpl) Stage() error         { return nil }
func (c *countingImpl) Step(dt float64) error { c.steps++; return nil }
func (c *countingImpl) Reset() error          { c.steps = 0; return nil }

func Test_S1_SingleModuleZeroWires(t *testing.T) {
	impl := &countingImpl{}
	specs := []procmgr.ModuleSpec{
		{
			Name: "m",
			Kind: module.KindInProcess,
			Impl: impl,
			Signals: []sig.Descriptor{
				{Module: "m", Local: "a"},
			},
		},
	}

	mgr, err := procmgr.New(uniqueToken(t), specs)
	require.NoError(t, err)
	defer mgr.Close()
	require.NoError(t, mgr.LoadAll(context.Background()))
	require.NoError(t, mgr.StageAll())

	majorRateHz := 100.0
	majorDtNs := MajorDtNs(majorRateHz)
	resolved, err := Resolve([]RawScheduleEntry{{Name: "m", RateHz: majorRateHz}}, majorRateHz)
	require.NoError(t, err)

	sched, err := New(mgr, majorDtNs, resolved, WithEndTime(uint64(0.05e9)))
	require.NoError(t, err)
	sched.SetMode(ModeSingleFrame)

	// S1 drives end_time via repeated Step(1) since SINGLE_FRAME never
	// auto-advances.
	for sched.TimeNs() < uint64(0.05e9) {
		require.NoError(t, sched.Step(1))
	}

	assert.Equal(t, uint64(5), sched.Frame())
	assert.Equal(t, uint64(50_000_000), sched.TimeNs())
	assert.Equal(t, 5, impl.steps)
}

func Test_S2_WireWithGainAndOffset(t *testing.T) {
	impl := &countingImpl{}
	specs := []procmgr.ModuleSpec{
		{
			Name: "inputs",
			Kind: module.KindInProcess,
			Impl: &countingImpl{},
			Signals: []sig.Descriptor{
				{Module: "inputs", Local: "cmd", Flags: sig.FlagWritable},
			},
		},
		{
			Name: "phys",
			Kind: module.KindInProcess,
			Impl: impl,
			Signals: []sig.Descriptor{
				{Module: "phys", Local: "input", Flags: sig.FlagWritable},
			},
		},
	}

	mgr, err := procmgr.New(uniqueToken(t), specs)
	require.NoError(t, err)
	defer mgr.Close()
	require.NoError(t, mgr.LoadAll(context.Background()))
	require.NoError(t, mgr.StageAll())

	r, err := router.New(mgr.Backplane(), []router.Wire{
		{Src: "inputs.cmd", Dst: "phys.input", Gain: 2, Offset: 10},
	})
	require.NoError(t, err)

	require.NoError(t, mgr.Backplane().SetSignal("inputs.cmd", 5))

	resolved, err := Resolve([]RawScheduleEntry{{Name: "inputs"}, {Name: "phys"}}, 100)
	require.NoError(t, err)

	sched, err := New(mgr, MajorDtNs(100), resolved, WithRouter(r))
	require.NoError(t, err)
	sched.SetMode(ModeSingleFrame)

	require.NoError(t, sched.Step(1))

	got, err := mgr.Backplane().GetSignal("phys.input")
	require.NoError(t, err)
	assert.Equal(t, 20.0, got)
}

// mockPhysics implements the documented S3 mock physics:
// state += input*dt; output = input*2 + state.
type mockPhysics struct {
	bp    interface {
		GetSignal(string) (float64, error)
		SetSignal(string, float64) error
	}
	state float64
}

func (m *mockPhysics) Stage() error { return nil }
func (m *mockPhysics) Step(dt float64) error {
	input, err := m.bp.GetSignal("physics.input")
	if err != nil {
		return err
	}
	m.state += input * dt
	return m.bp.SetSignal("physics.output", input*2+m.state)
}
func (m *mockPhysics) Reset() error { m.state = 0; return nil }

func Test_S3_MultiRate(t *testing.T) {
	phys := &mockPhysics{}
	specs := []procmgr.ModuleSpec{
		{
			Name: "inputs",
			Kind: module.KindInProcess,
			Impl: &countingImpl{},
			Signals: []sig.Descriptor{
				{Module: "inputs", Local: "cmd", Flags: sig.FlagWritable},
			},
		},
		{
			Name: "physics",
			Kind: module.KindInProcess,
			Impl: phys,
			Signals: []sig.Descriptor{
				{Module: "physics", Local: "input", Flags: sig.FlagWritable},
				{Module: "physics", Local: "output"},
			},
		},
	}

	mgr, err := procmgr.New(uniqueToken(t), specs)
	require.NoError(t, err)
	defer mgr.Close()
	phys.bp = mgr.Backplane()

	require.NoError(t, mgr.LoadAll(context.Background()))
	require.NoError(t, mgr.StageAll())

	r, err := router.New(mgr.Backplane(), []router.Wire{
		{Src: "inputs.cmd", Dst: "physics.input"},
	})
	require.NoError(t, err)
	require.NoError(t, mgr.Backplane().SetSignal("inputs.cmd", 1.0))

	majorRateHz := 200.0
	resolved, err := Resolve([]RawScheduleEntry{
		{Name: "inputs", RateHz: majorRateHz},
		{Name: "physics", RateHz: 1000},
	}, majorRateHz)
	require.NoError(t, err)
	assert.Equal(t, 5, resolved[1].Substeps)

	sched, err := New(mgr, MajorDtNs(majorRateHz), resolved, WithRouter(r))
	require.NoError(t, err)
	sched.SetMode(ModeSingleFrame)

	require.NoError(t, sched.Step(1))

	assert.InDelta(t, 0.005, phys.state, 1e-9)
	output, err := mgr.Backplane().GetSignal("physics.output")
	require.NoError(t, err)
	assert.InDelta(t, 2.005, output, 1e-9)
	assert.InDelta(t, 0.005, sched.TimeSeconds(), 1e-9)
}

func Test_ResetZeroesFrameAndTime(t *testing.T) {
	impl := &countingImpl{}
	specs := []procmgr.ModuleSpec{
		{Name: "m", Kind: module.KindInProcess, Impl: impl},
	}

	mgr, err := procmgr.New(uniqueToken(t), specs)
	require.NoError(t, err)
	defer mgr.Close()
	require.NoError(t, mgr.LoadAll(context.Background()))
	require.NoError(t, mgr.StageAll())

	resolved, err := Resolve([]RawScheduleEntry{{Name: "m"}}, 100)
	require.NoError(t, err)
	sched, err := New(mgr, MajorDtNs(100), resolved)
	require.NoError(t, err)
	sched.SetMode(ModeSingleFrame)

	require.NoError(t, sched.Step(3))
	assert.Equal(t, uint64(3), sched.Frame())

	sched.Reset()
	assert.Equal(t, uint64(0), sched.Frame())
	assert.Equal(t, uint64(0), sched.TimeNs())
}

func Test_StepRejectsNonPositiveCount(t *testing.T) {
	impl := &countingImpl{}
	specs := []procmgr.ModuleSpec{
		{Name: "m", Kind: module.KindInProcess, Impl: impl},
	}
	mgr, err := procmgr.New(uniqueToken(t), specs)
	require.NoError(t, err)
	defer mgr.Close()

	resolved, err := Resolve([]RawScheduleEntry{{Name: "m"}}, 100)
	require.NoError(t, err)
	sched, err := New(mgr, MajorDtNs(100), resolved)
	require.NoError(t, err)

	assert.Error(t, sched.Step(0))
	assert.Error(t, sched.Step(-1))
}

func Test_AFAPRunRespectsEndTime(t *testing.T) {
	impl := &countingImpl{}
	specs := []procmgr.ModuleSpec{
		{Name: "m", Kind: module.KindInProcess, Impl: impl},
	}
	mgr, err := procmgr.New(uniqueToken(t), specs)
	require.NoError(t, err)
	defer mgr.Close()
	require.NoError(t, mgr.LoadAll(context.Background()))
	require.NoError(t, mgr.StageAll())

	majorRateHz := 1000.0
	resolved, err := Resolve([]RawScheduleEntry{{Name: "m", RateHz: majorRateHz}}, majorRateHz)
	require.NoError(t, err)

	sched, err := New(mgr, MajorDtNs(majorRateHz), resolved, WithEndTime(uint64(0.01e9)))
	require.NoError(t, err)
	sched.SetMode(ModeAFAP)

	var frames []uint64
	err = sched.Run(func(frame uint64, timeSeconds float64) error {
		frames = append(frames, frame)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(10), sched.Frame())
	assert.Len(t, frames, 10)
}
