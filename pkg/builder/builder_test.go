package builder_test

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/sanonone/scalenav/pkg/builder"
	"github.com/sanonone/scalenav/pkg/core/graph"
	"github.com/sanonone/scalenav/pkg/hierarchy"
)

// grid returns the 2-dimensional coordinates of a w x h lattice.
func grid(w, h int) []float32 {
	data := make([]float32, 0, 2*w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			data = append(data, float32(x), float32(y))
		}
	}
	return data
}

func params(library string) hierarchy.Params {
	p := hierarchy.DefaultParams()
	p.KnnLibrary = library
	p.NumNeighbors = 10
	return p
}

func build(t *testing.T, p hierarchy.Params, scales int) *hierarchy.Hierarchy {
	t.Helper()
	ctx := context.Background()
	b := builder.New(builder.Options{Parallelism: hierarchy.Parallel})
	h, err := b.Initialize(ctx, grid(20, 10), 200, 2, p)
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	for h.NumScales() < scales {
		if err := b.AddScale(ctx, h, p); err != nil {
			t.Fatalf("AddScale failed: %v", err)
		}
	}
	if err := h.Validate(); err != nil {
		t.Fatalf("Invalid hierarchy: %v", err)
	}
	return h
}

func checkStochastic(t *testing.T, name string, g graph.Sparse) {
	t.Helper()
	for i, row := range g {
		if len(row) == 0 {
			continue
		}
		if s := row.Sum(); math.Abs(s-1) > 1e-4 {
			t.Errorf("%s: row %d sums to %v", name, i, s)
		}
	}
}

func TestReferenceBuilder(t *testing.T) {
	for _, lib := range []string{hierarchy.KnnExact, hierarchy.KnnHNSW} {
		t.Run(lib, func(t *testing.T) {
			h := build(t, params(lib), 3)

			sizes := []int{h.Scales[0].Size(), h.Scales[1].Size(), h.Scales[2].Size()}
			if !reflect.DeepEqual(sizes, []int{200, 20, 2}) {
				t.Fatalf("Unexpected scale sizes %v", sizes)
			}
			for level, s := range h.Scales {
				checkStochastic(t, "transition", s.Transition)
				if level > 0 {
					checkStochastic(t, "area of influence", s.AreaOfInfluence)
				}
				for i, row := range s.Transition {
					for _, e := range row {
						if level > 0 && e.To == uint32(i) {
							t.Errorf("Scale %d: self loop on %d", level, i)
						}
					}
				}
			}

			s1 := h.Scales[1]
			for local, prev := range s1.LandmarkToPrevious {
				row := s1.AreaOfInfluence[prev]
				if len(row) != 1 || row[0].To != uint32(local) || row[0].Weight != 1 {
					t.Errorf("Landmark %d should only influence itself, got %v", local, row)
				}
				if s1.LandmarkToOriginal[local] != prev {
					t.Errorf("Scale 1 landmark %d: original %d != previous %d", local, s1.LandmarkToOriginal[local], prev)
				}
			}
		})
	}
}

func TestReferenceBuilderDeterministic(t *testing.T) {
	p := params(hierarchy.KnnExact)
	a := build(t, p, 3)
	b := build(t, p, 3)
	if !reflect.DeepEqual(a, b) {
		t.Error("Two builds with identical input differ")
	}
}

func TestReferenceBuilderHalfPrecision(t *testing.T) {
	p := params(hierarchy.KnnExact)
	p.MemoryPreserving = true
	half := build(t, p, 1)
	full := build(t, params(hierarchy.KnnExact), 1)

	// Lattice coordinates are exact in half precision.
	if !reflect.DeepEqual(half.Scales[0].Transition, full.Scales[0].Transition) {
		t.Error("Half-precision neighbourhood graph differs on exactly representable data")
	}
}

func TestReferenceBuilderErrors(t *testing.T) {
	b := builder.New(builder.Options{})
	if _, err := b.Initialize(context.Background(), []float32{1, 2, 3}, 2, 2, params(hierarchy.KnnExact)); err == nil {
		t.Error("Expected shape error")
	}
	if err := b.AddScale(context.Background(), &hierarchy.Hierarchy{}, params(hierarchy.KnnExact)); !errors.Is(err, hierarchy.ErrNotBuilt) {
		t.Errorf("Expected ErrNotBuilt, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.Initialize(ctx, grid(20, 10), 200, 2, params(hierarchy.KnnExact)); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestStoreWithReferenceBuilder(t *testing.T) {
	p := params(hierarchy.KnnHNSW)
	p.NumScales = 2
	s := hierarchy.NewStore(hierarchy.StoreOptions{
		CacheDir: t.TempDir(),
		Builder:  builder.New(builder.Options{}),
		Params:   p,
	})
	data := hierarchy.Dataset{Name: "lattice", Values: grid(20, 10), NumPoints: 200, NumDims: 2}
	if err := s.Build(context.Background(), data); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if s.NumScales() != 2 || s.Scale(1).Size() != 20 {
		t.Fatalf("Unexpected hierarchy: %d scales", s.NumScales())
	}
	if len(s.TopDown(1)) != 20 || len(s.BottomUp(1)) != 200 {
		t.Errorf("Influence maps have wrong shape: %d top-down, %d bottom-up", len(s.TopDown(1)), len(s.BottomUp(1)))
	}
}
