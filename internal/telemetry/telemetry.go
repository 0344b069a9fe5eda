// Package telemetry implements the binary telemetry frame encoder and
// decoder described in spec.md §4.H: a 24-byte header followed by one
// f64 per subscribed signal, all little-endian.
package telemetry

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/tanged123/hermes/internal/backplane"
)

// Magic identifies a telemetry frame ("HERT").
const Magic uint32 = 0x48455254

// HeaderSize is the fixed size of a telemetry frame header in bytes.
const HeaderSize = 24

// Frame is a decoded telemetry payload.
type Frame struct {
	FrameNum    uint64
	TimeSeconds float64
	Values      []float64
}

// Encoder holds an immutable ordered subscription list for one client
// and produces telemetry frames from a backplane snapshot. Encode
// takes no internal mutable state beyond the subscription list, so its
// output is a pure function of backplane state at the instant of the
// call, per spec.md §4.H's determinism requirement.
type Encoder struct {
	signals []string
}

// NewEncoder builds an Encoder over the given ordered, already
// de-duplicated signal list.
func NewEncoder(signals []string) *Encoder {
	out := make([]string, len(signals))
	copy(out, signals)
	return &Encoder{signals: out}
}

// Signals returns the encoder's subscription list.
func (e *Encoder) Signals() []string {
	out := make([]string, len(e.signals))
	copy(out, e.signals)
	return out
}

// Encode reads the backplane's current header and subscribed signal
// values and composes a binary telemetry frame.
func (e *Encoder) Encode(bp *backplane.Segment) ([]byte, error) {
	values := make([]float64, len(e.signals))
	for i, name := range e.signals {
		v, err := bp.GetSignal(name)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}

	buf := make([]byte, HeaderSize+8*len(values))
	binary.LittleEndian.PutUint32(buf[0:4], Magic)
	binary.LittleEndian.PutUint64(buf[4:12], bp.Frame())
	binary.LittleEndian.PutUint64(buf[12:20], math.Float64bits(bp.Time()))
	binary.LittleEndian.PutUint32(buf[20:24], uint32(len(values)))
	for i, v := range values {
		off := HeaderSize + 8*i
		binary.LittleEndian.PutUint64(buf[off:off+8], math.Float64bits(v))
	}
	return buf, nil
}

// Decode is the inverse of Encode. It validates magic and that the
// buffer is at least HeaderSize + count*8 bytes.
func Decode(buf []byte) (Frame, error) {
	if len(buf) < HeaderSize {
		return Frame{}, fmt.Errorf("telemetry: frame too short (%d bytes)", len(buf))
	}
	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != Magic {
		return Frame{}, fmt.Errorf("telemetry: bad magic %#x", magic)
	}
	frameNum := binary.LittleEndian.Uint64(buf[4:12])
	timeSeconds := math.Float64frombits(binary.LittleEndian.Uint64(buf[12:20]))
	count := binary.LittleEndian.Uint32(buf[20:24])

	want := HeaderSize + int(count)*8
	if len(buf) < want {
		return Frame{}, fmt.Errorf("telemetry: frame truncated, want %d bytes got %d", want, len(buf))
	}

	values := make([]float64, count)
	for i := range values {
		off := HeaderSize + 8*i
		values[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[off : off+8]))
	}

	return Frame{FrameNum: frameNum, TimeSeconds: timeSeconds, Values: values}, nil
}
