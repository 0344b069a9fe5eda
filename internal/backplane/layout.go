package backplane

import (
	"fmt"

	sig "github.com/tanged123/hermes/internal/signal"
)

// layout describes the computed byte offsets of a backplane segment for
// a fixed, ordered set of signals. It is immutable once computed: only
// the header's frame/time_ns and the data region's values may change
// after creation, per spec.md §3.
type layout struct {
	signals     []sig.Descriptor
	qualified   []string
	nameOffsets []uint32 // into the string table, one per signal
	dataOffsets []uint32 // into the data region, one per signal
	stringTable []byte
	dataOffset  int // absolute offset of the data region within the segment
	totalSize   int
}

// buildLayout computes the directory/string-table/data-region layout
// for signals in insertion order. Duplicate qualified names are
// rejected.
func buildLayout(signals []sig.Descriptor) (*layout, error) {
	seen := make(map[string]struct{}, len(signals))
	qualified := make([]string, len(signals))
	nameOffsets := make([]uint32, len(signals))
	dataOffsets := make([]uint32, len(signals))

	var strTable []byte
	for i, s := range signals {
		q := s.Qualified()
		if _, dup := seen[q]; dup {
			return nil, fmt.Errorf("duplicate signal name %q", q)
		}
		seen[q] = struct{}{}
		qualified[i] = q

		nameOffsets[i] = uint32(len(strTable))
		strTable = append(strTable, []byte(q)...)
		strTable = append(strTable, 0)

		dataOffsets[i] = uint32(i * 8)
	}

	headerAndMeta := HeaderSize + len(signals)*DirEntrySize + len(strTable)
	dataOffset := alignUp(headerAndMeta, DataAlignment)
	totalSize := dataOffset + len(signals)*8

	return &layout{
		signals:     signals,
		qualified:   qualified,
		nameOffsets: nameOffsets,
		dataOffsets: dataOffsets,
		stringTable: strTable,
		dataOffset:  dataOffset,
		totalSize:   totalSize,
	}, nil
}

// offsetMap builds the qualified-name -> absolute segment offset map
// used for O(1) get/set lookups.
func (l *layout) offsetMap() map[string]int {
	out := make(map[string]int, len(l.qualified))
	for i, q := range l.qualified {
		out[q] = l.dataOffset + int(l.dataOffsets[i])
	}
	return out
}
