package module

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanged123/hermes/internal/backplane"
	sig "github.com/tanged123/hermes/internal/signal"
)

type fakeImpl struct {
	staged  bool
	stepped int
	resets  int
	failOn  string
}

func (f *fakeImpl) Stage() error {
	if f.failOn == "stage" {
		return errors.New("boom")
	}
	f.staged = true
	return nil
}

func (f *fakeImpl) Step(dt float64) error {
	if f.failOn == "step" {
		return errors.New("boom")
	}
	f.stepped++
	return nil
}

func (f *fakeImpl) Reset() error {
	if f.failOn == "reset" {
		return errors.New("boom")
	}
	f.resets++
	return nil
}

func Test_InProcessLifecycleHappyPath(t *testing.T) {
	impl := &fakeImpl{}
	m := NewInProcess("phys", impl)

	assert.Equal(t, StateInit, m.State())

	require.NoError(t, m.Load())
	require.NoError(t, m.Stage())
	assert.Equal(t, StateStaged, m.State())
	assert.True(t, impl.staged)

	require.NoError(t, m.MarkRunning())
	assert.Equal(t, StateRunning, m.State())

	require.NoError(t, m.Step(0.01))
	require.NoError(t, m.Step(0.01))
	assert.Equal(t, 2, impl.stepped)

	require.NoError(t, m.Reset())
	assert.Equal(t, StateStaged, m.State())
	assert.Equal(t, 1, impl.resets)

	require.NoError(t, m.Terminate())
	assert.Equal(t, StateDone, m.State())
}

func Test_StageFailureEntersErrorState(t *testing.T) {
	impl := &fakeImpl{failOn: "stage"}
	m := NewInProcess("phys", impl)

	err := m.Stage()
	require.Error(t, err)
	assert.Equal(t, StateError, m.State())
	assert.Error(t, m.Err())
}

func Test_StepOnSubprocessModuleRejected(t *testing.T) {
	m := NewSubprocess("worker", KindSubprocessExec, SpawnSpec{
		Executable:  "/bin/true",
		ModuleName:  "worker",
		ShmName:     "/hermes_test",
		BarrierName: "/hermes_test_barrier",
	})

	err := m.Step(0.01)
	assert.Error(t, err)
}

func Test_ResetFromErrorIsRejected(t *testing.T) {
	impl := &fakeImpl{failOn: "stage"}
	m := NewInProcess("phys", impl)
	require.Error(t, m.Stage())

	err := m.Reset()
	assert.Error(t, err)
}

func Test_RegistryRejectsUnknownID(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Lookup("does-not-exist")
	assert.False(t, ok)
}

func Test_RegistryRoundTrip(t *testing.T) {
	r := NewRegistry()
	r.Register("mock_physics", func(name string, bp *backplane.Segment, signals []sig.Descriptor) (InProcessImpl, error) {
		return &fakeImpl{}, nil
	})

	_, ok := r.Lookup("mock_physics")
	assert.True(t, ok)
	assert.Equal(t, []string{"mock_physics"}, r.Known())
}

func Test_RegisterDuplicatePanics(t *testing.T) {
	r := NewRegistry()
	factory := func(name string, bp *backplane.Segment, signals []sig.Descriptor) (InProcessImpl, error) {
		return &fakeImpl{}, nil
	}

	assert.Panics(t, func() {
		r.Register("dup", factory)
		r.Register("dup", factory)
	})
}
