// Package backplane implements the memory-mapped signal backplane
// described in spec.md §3/§4.A: a fixed-layout shared-memory segment
// carrying a header, a signal directory, a string table, and a packed
// data region of 8-byte signal values.
package backplane

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/tanged123/hermes/internal/xerror"
	sig "github.com/tanged123/hermes/internal/signal"
)

// Segment is a handle to an attached or newly created backplane
// segment. All exported methods are safe for concurrent use by
// multiple goroutines within this process; cross-process coordination
// of writes is the caller's responsibility (spec.md §5).
type Segment struct {
	log     *zap.SugaredLogger
	name    string
	mem     mmapping
	maxSize int64

	mu      sync.RWMutex
	layout  *layout
	offsets map[string]int
}

// mmapping abstracts the OS-specific memory mapping so Segment's logic
// is platform independent; see mmap_unix.go for the real backend.
type mmapping interface {
	Bytes() []byte
	Close() error
	Unlink() error
}

// Option configures a Segment constructor.
type Option func(*Segment)

// WithLog sets the logger used by the segment.
func WithLog(log *zap.SugaredLogger) Option {
	return func(s *Segment) { s.log = log }
}

// WithMaxSize rejects Create if the computed layout size would exceed
// maxBytes. Zero (the default) means no cap. Ignored by Attach, since
// an existing segment's size was already validated at creation.
func WithMaxSize(maxBytes int64) Option {
	return func(s *Segment) { s.maxSize = maxBytes }
}

func newSegment(name string, options ...Option) *Segment {
	s := &Segment{
		log:  zap.NewNop().Sugar(),
		name: name,
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// Name returns the platform-unique segment name this handle was opened
// with.
func (s *Segment) Name() string { return s.name }

// Create atomically creates the segment and initializes header
// (frame=0, time_ns=0), directory, string table, and zeroed data
// region. Fails if the name already exists, or if any two signals
// share a qualified name.
func Create(name string, signals []sig.Descriptor, options ...Option) (*Segment, error) {
	s := newSegment(name, options...)

	lay, err := buildLayout(signals)
	if err != nil {
		return nil, xerror.NewConfigError("backplane: %v", err)
	}
	if len(signals) > math.MaxUint32 {
		return nil, xerror.NewConfigError("backplane: too many signals")
	}
	if s.maxSize > 0 && int64(lay.totalSize) > s.maxSize {
		return nil, xerror.NewResourceError("backplane segment size check",
			fmt.Errorf("layout size %d exceeds max_segment_size %d", lay.totalSize, s.maxSize))
	}

	mem, err := createMapping(name, lay.totalSize)
	if err != nil {
		return nil, xerror.NewResourceError("create shared memory segment", err)
	}

	buf := mem.Bytes()
	encodeHeader(buf, header{
		Magic:       Magic,
		Version:     Version,
		Frame:       0,
		TimeNs:      0,
		SignalCount: uint32(len(signals)),
	})

	for i := range signals {
		entryOff := HeaderSize + i*DirEntrySize
		binary.LittleEndian.PutUint32(buf[entryOff:entryOff+4], lay.nameOffsets[i])
		binary.LittleEndian.PutUint32(buf[entryOff+4:entryOff+8], lay.dataOffsets[i])
		for j := 8; j < DirEntrySize; j++ {
			buf[entryOff+j] = 0
		}
	}

	stringTableOff := HeaderSize + len(signals)*DirEntrySize
	copy(buf[stringTableOff:], lay.stringTable)

	for i := lay.dataOffset; i < lay.totalSize; i++ {
		buf[i] = 0
	}

	s.mem = mem
	s.layout = lay
	s.offsets = lay.offsetMap()

	s.log.Infow("created backplane segment",
		zap.String("name", name),
		zap.Int("signals", len(signals)),
		zap.Int("size", lay.totalSize),
	)

	return s, nil
}

// Attach opens an existing segment, validating magic and version, and
// reconstructs the signal->data_offset map by walking the directory and
// string table.
func Attach(name string, options ...Option) (*Segment, error) {
	s := newSegment(name, options...)

	mem, err := attachMapping(name)
	if err != nil {
		return nil, xerror.NewResourceError("attach shared memory segment", err)
	}

	buf := mem.Bytes()
	if len(buf) < HeaderSize {
		mem.Close()
		return nil, xerror.NewResourceError("attach shared memory segment", fmt.Errorf("segment too small"))
	}

	h := decodeHeader(buf)
	if h.Magic != Magic {
		mem.Close()
		return nil, xerror.NewResourceError("attach shared memory segment",
			fmt.Errorf("bad magic %#x", h.Magic))
	}
	if h.Version != Version {
		mem.Close()
		return nil, xerror.NewResourceError("attach shared memory segment",
			fmt.Errorf("unsupported version %d (want %d)", h.Version, Version))
	}

	signalCount := int(h.SignalCount)
	dirEnd := HeaderSize + signalCount*DirEntrySize
	if dirEnd > len(buf) {
		mem.Close()
		return nil, xerror.NewResourceError("attach shared memory segment", fmt.Errorf("directory truncated"))
	}

	type entry struct {
		nameOff uint32
		dataOff uint32
	}
	entries := make([]entry, signalCount)
	for i := 0; i < signalCount; i++ {
		off := HeaderSize + i*DirEntrySize
		entries[i] = entry{
			nameOff: binary.LittleEndian.Uint32(buf[off : off+4]),
			dataOff: binary.LittleEndian.Uint32(buf[off+4 : off+8]),
		}
	}

	stringTableStart := dirEnd
	offsets := make(map[string]int, signalCount)
	maxStringEnd := stringTableStart
	names := make([]string, signalCount)

	for i, e := range entries {
		start := stringTableStart + int(e.nameOff)
		if start > len(buf) {
			mem.Close()
			return nil, xerror.NewResourceError("attach shared memory segment", fmt.Errorf("name offset out of range"))
		}
		end := start
		for end < len(buf) && buf[end] != 0 {
			end++
		}
		if end >= len(buf) {
			mem.Close()
			return nil, xerror.NewResourceError("attach shared memory segment", fmt.Errorf("unterminated signal name"))
		}
		names[i] = string(buf[start:end])
		if end+1 > maxStringEnd {
			maxStringEnd = end + 1
		}
	}

	dataOffset := alignUp(maxStringEnd, DataAlignment)
	for i, e := range entries {
		if int(e.dataOff)%8 != 0 {
			mem.Close()
			return nil, xerror.NewResourceError("attach shared memory segment", fmt.Errorf("misaligned data offset"))
		}
		abs := dataOffset + int(e.dataOff)
		if abs+8 > len(buf) {
			mem.Close()
			return nil, xerror.NewResourceError("attach shared memory segment", fmt.Errorf("data offset out of range"))
		}
		offsets[names[i]] = abs
	}

	s.mem = mem
	s.offsets = offsets
	s.layout = &layout{
		qualified:  names,
		dataOffset: dataOffset,
		totalSize:  len(buf),
	}

	s.log.Infow("attached backplane segment",
		zap.String("name", name),
		zap.Int("signals", signalCount),
	)

	return s, nil
}

// SignalNames returns the qualified signal names in insertion order.
func (s *Segment) SignalNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.layout.qualified))
	copy(out, s.layout.qualified)
	return out
}

// Offset returns the byte offset of a qualified signal's value within
// the segment's data region, for diagnostic display.
func (s *Segment) Offset(name string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	off, ok := s.offsets[name]
	if !ok {
		return 0, false
	}
	return off - s.layout.dataOffset, true
}

// GetSignal reads the current value of a qualified signal name.
func (s *Segment) GetSignal(name string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	off, ok := s.offsets[name]
	if !ok {
		return 0, xerror.NewSignalNotFound(name)
	}
	bits := binary.LittleEndian.Uint64(s.mem.Bytes()[off : off+8])
	return math.Float64frombits(bits), nil
}

// SetSignal writes a value to a qualified signal name.
func (s *Segment) SetSignal(name string, value float64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	off, ok := s.offsets[name]
	if !ok {
		return xerror.NewSignalNotFound(name)
	}
	binary.LittleEndian.PutUint64(s.mem.Bytes()[off:off+8], math.Float64bits(value))
	return nil
}

// Frame returns the current frame counter from the header.
func (s *Segment) Frame() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return binary.LittleEndian.Uint64(s.mem.Bytes()[8:16])
}

// SetFrame writes the frame counter in the header.
func (s *Segment) SetFrame(frame uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	binary.LittleEndian.PutUint64(s.mem.Bytes()[8:16], frame)
}

// TimeNs returns the current simulation time in nanoseconds.
func (s *Segment) TimeNs() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return binary.LittleEndian.Uint64(s.mem.Bytes()[16:24])
}

// SetTimeNs writes the simulation time in nanoseconds. This is the
// authoritative time representation; SetTime is a convenience that
// converts through it.
func (s *Segment) SetTimeNs(ns uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	binary.LittleEndian.PutUint64(s.mem.Bytes()[16:24], ns)
}

// Time returns the current simulation time in seconds, converted from
// the authoritative nanosecond representation.
func (s *Segment) Time() float64 {
	return float64(s.TimeNs()) / 1e9
}

// SetTime is a convenience wrapper around SetTimeNs that converts from
// seconds.
func (s *Segment) SetTime(seconds float64) {
	s.SetTimeNs(uint64(math.Round(seconds * 1e9)))
}

// UpdateTime writes both frame and time_ns in a single logical action
// (two sequential 8-byte writes). Consumers tolerate the brief
// inconsistency between the two writes because both fields are
// monotone, per spec.md §4.E.
func (s *Segment) UpdateTime(frame, timeNs uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buf := s.mem.Bytes()
	binary.LittleEndian.PutUint64(buf[8:16], frame)
	binary.LittleEndian.PutUint64(buf[16:24], timeNs)
}

// Detach releases the local mapping without unlinking the segment.
func (s *Segment) Detach() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mem == nil {
		return nil
	}
	err := s.mem.Close()
	s.mem = nil
	return err
}

// Destroy unmaps and unlinks the segment. Idempotent; should only be
// called by the creator after all other holders have detached.
func (s *Segment) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mem == nil {
		return nil
	}
	closeErr := s.mem.Close()
	unlinkErr := s.mem.Unlink()
	s.mem = nil
	if closeErr != nil {
		return closeErr
	}
	return unlinkErr
}
