package procmgr

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanged123/hermes/internal/module"
	sig "github.com/tanged123/hermes/internal/signal"
)

type fakePhysics struct {
	staged  bool
	stepped int
	dts     []float64
}

func (f *fakePhysics) Stage() error { f.staged = true; return nil }
func (f *fakePhysics) Step(dt float64) error {
	f.stepped++
	f.dts = append(f.dts, dt)
	return nil
}
func (f *fakePhysics) Reset() error { f.stepped = 0; f.dts = nil; return nil }

func uniqueToken(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("/hermes_procmgr_test_%s_%d", t.Name(), os.Getpid())
}

func Test_NewCreatesBackplaneWithoutBarrierForInProcessOnly(t *testing.T) {
	impl := &fakePhysics{}
	specs := []ModuleSpec{
		{
			Name: "phys",
			Kind: module.KindInProcess,
			Impl: impl,
			Signals: []sig.Descriptor{
				{Module: "phys", Local: "out", Flags: sig.FlagWritable},
			},
		},
	}

	m, err := New(uniqueToken(t), specs)
	require.NoError(t, err)
	defer m.Close()

	assert.Nil(t, m.barrier)
	assert.Len(t, m.Modules(), 1)
}

func Test_LoadStageStepAllForInProcessModule(t *testing.T) {
	impl := &fakePhysics{}
	specs := []ModuleSpec{
		{
			Name: "phys",
			Kind: module.KindInProcess,
			Impl: impl,
			Signals: []sig.Descriptor{
				{Module: "phys", Local: "out", Flags: sig.FlagWritable},
			},
		},
	}

	m, err := New(uniqueToken(t), specs)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.LoadAll(context.Background()))
	require.NoError(t, m.StageAll())
	assert.True(t, impl.staged)

	err = m.StepAll(0, time.Second, map[string]Substep{
		"phys": {Count: 4, DtSeconds: 0.0025},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, impl.stepped)
	assert.Equal(t, []float64{0.0025, 0.0025, 0.0025, 0.0025}, impl.dts)
}

func Test_StepAllDefaultsToSingleStepWhenUnscheduled(t *testing.T) {
	impl := &fakePhysics{}
	specs := []ModuleSpec{
		{Name: "phys", Kind: module.KindInProcess, Impl: impl},
	}

	m, err := New(uniqueToken(t), specs)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.LoadAll(context.Background()))
	require.NoError(t, m.StageAll())

	require.NoError(t, m.StepAll(0, time.Second, nil))
	assert.Equal(t, 1, impl.stepped)
}

func Test_UpdateTimeWritesBackplaneHeader(t *testing.T) {
	specs := []ModuleSpec{
		{Name: "phys", Kind: module.KindInProcess, Impl: &fakePhysics{}},
	}

	m, err := New(uniqueToken(t), specs)
	require.NoError(t, err)
	defer m.Close()

	m.UpdateTime(7, 123456)
	assert.Equal(t, uint64(7), m.Backplane().Frame())
	assert.Equal(t, uint64(123456), m.Backplane().TimeNs())
}

func Test_TerminateAllMarksModulesDone(t *testing.T) {
	specs := []ModuleSpec{
		{Name: "phys", Kind: module.KindInProcess, Impl: &fakePhysics{}},
	}

	m, err := New(uniqueToken(t), specs)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.TerminateAll())
	assert.Equal(t, module.StateDone, m.Modules()[0].State())
}
