package selection

import (
	"sync"

	"github.com/sanonone/scalenav/pkg/core/graph"
)

// Side identifies one end of a link.
type Side int

const (
	// Embedding selections are positions in the active embedding.
	Embedding Side = iota
	// Data selections are data point ids.
	Data
)

func (s Side) other() Side { return 1 - s }

func (s Side) String() string {
	if s == Data {
		return "data"
	}
	return "embedding"
}

// Maps links embedding positions with data points.
type Maps struct {
	LocalToBottom graph.LandmarkMap
	BottomToLocal graph.LandmarkMapSingle
}

// Apply expands embedding positions into data ids, sorted and unique.
func Apply(m graph.LandmarkMap, positions []uint32) []uint32 {
	var out []uint32
	for _, p := range positions {
		if int(p) < len(m) {
			out = append(out, m[p]...)
		}
	}
	return graph.SortUnique(out)
}

// ApplySingle maps data ids onto embedding positions, skipping unmapped
// points. The result is sorted and unique.
func ApplySingle(m graph.LandmarkMapSingle, ids []uint32) []uint32 {
	var out []uint32
	for _, id := range ids {
		if int(id) >= len(m) || m[id] == graph.Unmapped {
			continue
		}
		out = append(out, m[id])
	}
	return graph.SortUnique(out)
}

// Sink receives a selection for one side.
type Sink func(target Side, ids []uint32)

// Linker mirrors a selection made on one side onto the other. Setting the
// mirrored selection makes the target side report it back; that echo is
// swallowed by the target's gate. Without a sink nothing echoes, so the
// gates stay idle and the caller applies the mirrored ids itself.
type Linker struct {
	mu    sync.RWMutex
	maps  Maps
	gates [2]Gate
	sink  Sink
}

// NewLinker returns a linker delivering mirrored selections to sink, which
// may be nil.
func NewLinker(sink Sink) *Linker {
	return &Linker{sink: sink}
}

// SetMaps installs the maps of a new embedding and drops pending echoes.
func (l *Linker) SetMaps(m Maps) {
	l.mu.Lock()
	l.maps = m
	l.mu.Unlock()
	l.gates[Embedding].Reset()
	l.gates[Data].Reset()
}

func (l *Linker) Maps() Maps {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.maps
}

// Propagate handles a selection reported by side from and returns the ids it
// mirrors onto the other side. ok is false when the selection is the echo of
// an earlier propagation.
func (l *Linker) Propagate(from Side, ids []uint32) (mirrored []uint32, ok bool) {
	if !l.gates[from].Pass() {
		return nil, false
	}

	l.mu.RLock()
	var mapped []uint32
	if from == Embedding {
		mapped = Apply(l.maps.LocalToBottom, ids)
	} else {
		mapped = ApplySingle(l.maps.BottomToLocal, ids)
	}
	l.mu.RUnlock()

	if l.sink != nil {
		target := from.other()
		l.gates[target].Arm(1)
		l.sink(target, mapped)
	}
	return mapped, true
}

// Gate exposes the gate guarding side.
func (l *Linker) Gate(side Side) *Gate { return &l.gates[side] }
