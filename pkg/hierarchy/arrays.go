package hierarchy

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/sanonone/scalenav/pkg/core/graph"
)

var errTruncated = errors.New("truncated nested array")

// encodeNested flattens scale -> landmark -> id lists into length-prefixed
// little-endian arrays: a uint64 count per level followed by uint32 ids.
func encodeNested(levels []graph.LandmarkMap) []byte {
	size := 8
	for _, lm := range levels {
		size += 8
		for _, ids := range lm {
			size += 8 + 4*len(ids)
		}
	}
	buf := make([]byte, 0, size)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(levels)))
	for _, lm := range levels {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(len(lm)))
		for _, ids := range lm {
			buf = binary.LittleEndian.AppendUint64(buf, uint64(len(ids)))
			for _, id := range ids {
				buf = binary.LittleEndian.AppendUint32(buf, id)
			}
		}
	}
	return buf
}

// decodeNested reverses encodeNested. Empty lists decode as non-nil empty
// slices so that a decoded structure compares equal to a freshly built one
// after normalisation with canonicalNested.
func decodeNested(buf []byte) ([]graph.LandmarkMap, error) {
	r := reader{buf: buf}
	numLevels, err := r.count(8)
	if err != nil {
		return nil, err
	}
	levels := make([]graph.LandmarkMap, numLevels)
	for l := range levels {
		n, err := r.count(8)
		if err != nil {
			return nil, fmt.Errorf("level %d: %w", l, err)
		}
		lm := make(graph.LandmarkMap, n)
		for i := range lm {
			k, err := r.count(4)
			if err != nil {
				return nil, fmt.Errorf("level %d entry %d: %w", l, i, err)
			}
			ids := make([]uint32, k)
			for j := range ids {
				ids[j] = binary.LittleEndian.Uint32(r.buf[r.off:])
				r.off += 4
			}
			lm[i] = ids
		}
		levels[l] = lm
	}
	if r.off != len(buf) {
		return nil, fmt.Errorf("%d trailing bytes", len(buf)-r.off)
	}
	return levels, nil
}

// canonicalNested replaces nil lists with empty ones.
func canonicalNested(levels []graph.LandmarkMap) {
	for _, lm := range levels {
		for i := range lm {
			if lm[i] == nil {
				lm[i] = []uint32{}
			}
		}
	}
}

type reader struct {
	buf []byte
	off int
}

// count reads a uint64 length and checks that elemSize*length bytes remain.
func (r *reader) count(elemSize int) (int, error) {
	if len(r.buf)-r.off < 8 {
		return 0, errTruncated
	}
	n := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	if n > uint64(len(r.buf)-r.off)/uint64(elemSize) {
		return 0, errTruncated
	}
	return int(n), nil
}
