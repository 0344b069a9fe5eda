package backplane

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sig "github.com/tanged123/hermes/internal/signal"
)

func uniqueName(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("/hermes_test_%s_%d", t.Name(), os.Getpid())
}

func testSignals() []sig.Descriptor {
	return []sig.Descriptor{
		{Module: "a", Local: "x", Flags: sig.FlagWritable},
		{Module: "a", Local: "y"},
		{Module: "b", Local: "z", Flags: sig.FlagPublished},
	}
}

func Test_CreateAndAttachRoundTrip(t *testing.T) {
	name := uniqueName(t)
	seg, err := Create(name, testSignals())
	require.NoError(t, err)
	defer seg.Destroy()

	assert.Equal(t, []string{"a.x", "a.y", "b.z"}, seg.SignalNames())

	other, err := Attach(name)
	require.NoError(t, err)
	defer other.Detach()

	assert.Equal(t, seg.SignalNames(), other.SignalNames())
}

func Test_CreateFailsOnDuplicateName(t *testing.T) {
	name := uniqueName(t)
	signals := []sig.Descriptor{
		{Module: "a", Local: "x"},
		{Module: "a", Local: "x"},
	}

	_, err := Create(name, signals)
	require.Error(t, err)
}

func Test_GetSetSignalRoundTrip(t *testing.T) {
	name := uniqueName(t)
	seg, err := Create(name, testSignals())
	require.NoError(t, err)
	defer seg.Destroy()

	values := []float64{0, 1, -1, 3.5, 1e300, -1e-300}
	for _, v := range values {
		require.NoError(t, seg.SetSignal("a.x", v))
		got, err := seg.GetSignal("a.x")
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func Test_GetSignalNotFound(t *testing.T) {
	name := uniqueName(t)
	seg, err := Create(name, testSignals())
	require.NoError(t, err)
	defer seg.Destroy()

	_, err = seg.GetSignal("does.not.exist")
	require.Error(t, err)
}

func Test_FrameAndTimeRoundTrip(t *testing.T) {
	name := uniqueName(t)
	seg, err := Create(name, testSignals())
	require.NoError(t, err)
	defer seg.Destroy()

	seg.SetFrame(42)
	assert.Equal(t, uint64(42), seg.Frame())

	seg.SetTimeNs(1_500_000_000)
	assert.Equal(t, uint64(1_500_000_000), seg.TimeNs())
	assert.InDelta(t, 1.5, seg.Time(), 1e-12)

	seg.SetTime(2.25)
	assert.Equal(t, uint64(2_250_000_000), seg.TimeNs())
}

func Test_UpdateTimeWritesBothFields(t *testing.T) {
	name := uniqueName(t)
	seg, err := Create(name, testSignals())
	require.NoError(t, err)
	defer seg.Destroy()

	seg.UpdateTime(7, 70_000_000)
	assert.Equal(t, uint64(7), seg.Frame())
	assert.Equal(t, uint64(70_000_000), seg.TimeNs())
}

func Test_AttachRejectsUnknownSegment(t *testing.T) {
	_, err := Attach(uniqueName(t) + "_missing")
	require.Error(t, err)
}

func Test_DestroyIsIdempotent(t *testing.T) {
	name := uniqueName(t)
	seg, err := Create(name, testSignals())
	require.NoError(t, err)

	require.NoError(t, seg.Destroy())
	require.NoError(t, seg.Destroy())
}

func Test_ValuesSurviveAcrossAttach(t *testing.T) {
	name := uniqueName(t)
	seg, err := Create(name, testSignals())
	require.NoError(t, err)
	defer seg.Destroy()

	require.NoError(t, seg.SetSignal("b.z", 123.5))
	seg.UpdateTime(3, 30_000_000)

	other, err := Attach(name)
	require.NoError(t, err)
	defer other.Detach()

	got, err := other.GetSignal("b.z")
	require.NoError(t, err)
	assert.Equal(t, 123.5, got)
	assert.Equal(t, uint64(3), other.Frame())
}
