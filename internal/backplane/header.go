package backplane

import "encoding/binary"

const (
	// Magic is the header magic number, ASCII "HERM".
	Magic uint32 = 0x4845524D
	// Version is the only layout version this package understands.
	// Cross-version attach is rejected.
	Version uint32 = 3

	// HeaderSize is the fixed size in bytes of the segment header.
	HeaderSize = 64
	// headerFieldsSize is the size of the magic/version/frame/time_ns/
	// signal_count fields actually written; the remainder of HeaderSize
	// is reserved and left zeroed.
	headerFieldsSize = 4 + 4 + 8 + 8 + 4

	// DirEntrySize is the size in bytes of one signal directory entry:
	// name_offset (u32) + data_offset (u32) + 8 bytes padding.
	DirEntrySize = 16

	// DataAlignment is the alignment, in bytes, of the data region.
	DataAlignment = 64
)

// header mirrors the fixed 64-byte segment header described in
// spec.md §3: magic, version, frame, time_ns, signal_count, followed by
// reserved padding up to HeaderSize.
type header struct {
	Magic       uint32
	Version     uint32
	Frame       uint64
	TimeNs      uint64
	SignalCount uint32
}

func encodeHeader(buf []byte, h header) {
	if len(buf) < HeaderSize {
		panic("backplane: header buffer too small")
	}
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint64(buf[8:16], h.Frame)
	binary.LittleEndian.PutUint64(buf[16:24], h.TimeNs)
	binary.LittleEndian.PutUint32(buf[24:28], h.SignalCount)
	for i := headerFieldsSize; i < HeaderSize; i++ {
		buf[i] = 0
	}
}

func decodeHeader(buf []byte) header {
	return header{
		Magic:       binary.LittleEndian.Uint32(buf[0:4]),
		Version:     binary.LittleEndian.Uint32(buf[4:8]),
		Frame:       binary.LittleEndian.Uint64(buf[8:16]),
		TimeNs:      binary.LittleEndian.Uint64(buf[16:24]),
		SignalCount: binary.LittleEndian.Uint32(buf[24:28]),
	}
}

func alignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}
