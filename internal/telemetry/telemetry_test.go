package telemetry

import (
	"fmt"
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanged123/hermes/internal/backplane"
	sig "github.com/tanged123/hermes/internal/signal"
)

func newTestSegment(t *testing.T) *backplane.Segment {
	t.Helper()
	name := fmt.Sprintf("/hermes_telemetry_test_%s_%d", t.Name(), os.Getpid())
	seg, err := backplane.Create(name, []sig.Descriptor{
		{Module: "a", Local: "x"},
		{Module: "a", Local: "y"},
		{Module: "b", Local: "z"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { seg.Destroy() })
	return seg
}

func Test_EncodeDecodeRoundTrip(t *testing.T) {
	seg := newTestSegment(t)
	require.NoError(t, seg.SetSignal("a.x", 1.5))
	require.NoError(t, seg.SetSignal("a.y", -2.25))
	seg.UpdateTime(7, 70_000_000)

	enc := NewEncoder([]string{"a.x", "a.y"})
	buf, err := enc.Encode(seg)
	require.NoError(t, err)
	assert.Equal(t, HeaderSize+16, len(buf))

	got, err := Decode(buf)
	require.NoError(t, err)

	want := Frame{FrameNum: 7, TimeSeconds: 0.07, Values: []float64{1.5, -2.25}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("decoded frame mismatch (-want +got):\n%s", diff)
	}
}

func Test_EncodeOrdersValuesBySubscription(t *testing.T) {
	seg := newTestSegment(t)
	require.NoError(t, seg.SetSignal("a.x", 1))
	require.NoError(t, seg.SetSignal("a.y", 2))
	require.NoError(t, seg.SetSignal("b.z", 3))

	enc := NewEncoder([]string{"b.z", "a.x", "a.y"})
	buf, err := enc.Encode(seg)
	require.NoError(t, err)

	got, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 1, 2}, got.Values)
}

func Test_DecodeRejectsBadMagic(t *testing.T) {
	buf := make([]byte, HeaderSize)
	_, err := Decode(buf)
	assert.Error(t, err)
}

func Test_DecodeRejectsTruncatedFrame(t *testing.T) {
	seg := newTestSegment(t)
	enc := NewEncoder([]string{"a.x", "a.y"})
	buf, err := enc.Encode(seg)
	require.NoError(t, err)

	_, err = Decode(buf[:len(buf)-4])
	assert.Error(t, err)
}

func Test_EncodeFailsOnUnknownSignal(t *testing.T) {
	seg := newTestSegment(t)
	enc := NewEncoder([]string{"nope.missing"})
	_, err := enc.Encode(seg)
	assert.Error(t, err)
}
