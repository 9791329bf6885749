// Package hierarchytest provides a small deterministic hierarchy for tests.
//
// The fixture has 1000 data points laid out on a 40x25 image, point id
// y*Width+x. Scale 1 groups points in runs of ten (landmark j represents
// points 10j..10j+9), scale 2 groups scale-1 landmarks in runs of ten
// (landmark k represents points 100k..100k+99). Every area-of-influence
// entry has weight 1 and transition graphs are chains.
package hierarchytest

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/sanonone/scalenav/pkg/core/graph"
	"github.com/sanonone/scalenav/pkg/hierarchy"
)

const (
	Width     = 40
	Height    = 25
	NumPoints = Width * Height
	Group     = 10
	NumScales = 3
)

// Hierarchy returns a fresh copy of the fixture with numScales scales (at most 3).
func Hierarchy(numScales int) *hierarchy.Hierarchy {
	h := &hierarchy.Hierarchy{}
	for level := 0; level < numScales && level < NumScales; level++ {
		h.Scales = append(h.Scales, scale(level))
	}
	return h
}

func scale(level int) hierarchy.Scale {
	size := NumPoints
	for i := 0; i < level; i++ {
		size /= Group
	}
	s := hierarchy.Scale{
		LandmarkToOriginal: make([]uint32, size),
		Transition:         chain(size),
	}
	if level == 0 {
		for i := range s.LandmarkToOriginal {
			s.LandmarkToOriginal[i] = uint32(i)
		}
		return s
	}

	stride := 1
	for i := 0; i < level; i++ {
		stride *= Group
	}
	s.LandmarkToPrevious = make([]uint32, size)
	for j := 0; j < size; j++ {
		s.LandmarkToOriginal[j] = uint32(j * stride)
		s.LandmarkToPrevious[j] = uint32(j * Group)
	}
	prev := size * Group
	s.AreaOfInfluence = make(graph.Sparse, prev)
	for i := 0; i < prev; i++ {
		s.AreaOfInfluence[i] = graph.Row{{To: uint32(i / Group), Weight: 1}}
	}
	return s
}

// chain connects every vertex with its neighbours in id order.
func chain(n int) graph.Sparse {
	g := graph.NewSparse(n)
	for i := 0; i < n; i++ {
		if i > 0 {
			g[i] = append(g[i], graph.Edge{To: uint32(i - 1), Weight: 0.5})
		}
		if i+1 < n {
			g[i] = append(g[i], graph.Edge{To: uint32(i + 1), Weight: 0.5})
		}
	}
	return g
}

// Dataset returns 2-dimensional data: the pixel coordinates of every point.
func Dataset(name string) hierarchy.Dataset {
	values := make([]float32, 0, NumPoints*2)
	for id := 0; id < NumPoints; id++ {
		values = append(values, float32(id%Width), float32(id/Width))
	}
	return hierarchy.Dataset{Name: name, Values: values, NumPoints: NumPoints, NumDims: 2}
}

// Range returns the ids lo..hi-1.
func Range(lo, hi int) []uint32 {
	ids := make([]uint32, 0, hi-lo)
	for i := lo; i < hi; i++ {
		ids = append(ids, uint32(i))
	}
	return ids
}

// Builder hands out the fixture one scale at a time and counts its calls.
type Builder struct {
	Initializations atomic.Int32
	Additions       atomic.Int32
}

func (b *Builder) Initialize(ctx context.Context, data []float32, numPoints, numDims int, params hierarchy.Params) (*hierarchy.Hierarchy, error) {
	if numPoints != NumPoints {
		return nil, fmt.Errorf("fixture builder expects %d points, got %d", NumPoints, numPoints)
	}
	b.Initializations.Add(1)
	return Hierarchy(1), nil
}

func (b *Builder) AddScale(ctx context.Context, h *hierarchy.Hierarchy, params hierarchy.Params) error {
	level := h.NumScales()
	if level >= NumScales {
		return fmt.Errorf("fixture has only %d scales", NumScales)
	}
	b.Additions.Add(1)
	h.Scales = append(h.Scales, scale(level))
	return nil
}
