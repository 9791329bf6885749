package continuity

import (
	"math"
	"math/rand"
	"testing"

	"github.com/sanonone/scalenav/pkg/core/graph"
	"github.com/sanonone/scalenav/pkg/hierarchy/hierarchytest"
)

func TestExtentsAndScaling(t *testing.T) {
	coords := []float32{-1, 2, 3, -4, 0.5, 0}
	ext := ComputeExtents(coords)
	want := Extents{XMin: -1, XMax: 3, YMin: -4, YMax: 2}
	if ext != want {
		t.Fatalf("expected %v, got %v", want, ext)
	}
	if ComputeExtents(nil) != (Extents{}) {
		t.Error("empty embedding should have zero extents")
	}

	ref := Extents{XMin: -4, XMax: 4, YMin: -6, YMax: 6}
	f := ScalingFactors(ref, ext, 2)
	if f.X != 4 || f.Y != 4 {
		t.Errorf("expected factors (4, 4), got %+v", f)
	}
	if f := ScalingFactors(ref, Extents{}, 1); f.X != 0.1 || f.Y != 0.1 {
		t.Errorf("flat embedding should fall back to 0.1, got %+v", f)
	}

	scaled, sext := Rescale(coords, Factors{X: 2, Y: 3}, ext)
	for i := 0; i < len(coords); i += 2 {
		if scaled[i] != coords[i]*2 || scaled[i+1] != coords[i+1]*3 {
			t.Errorf("point %d not rescaled: %v", i/2, scaled[i:i+2])
		}
	}
	if sext != (Extents{XMin: -2, XMax: 6, YMin: -12, YMax: 6}) {
		t.Errorf("unexpected rescaled extents %v", sext)
	}
}

func TestReinitialize(t *testing.T) {
	scale := hierarchytest.Hierarchy(2).Scales[1]
	neighbors := graph.TopNeighbors(scale.Transition, 4)
	neighbors[9] = []uint32{0, 1, 5, 2, 3}
	layout := Layout{LandmarkToOriginal: scale.LandmarkToOriginal, Neighbors: neighbors}

	oldIDs := []uint32{0, 1, 2, 3}
	old := RecomputeIDMap(scale.LandmarkToOriginal, oldIDs)
	if len(old) != 4 || old[20] != (IDEntry{LocalID: 2, Pos: 2}) {
		t.Fatalf("unexpected id map %v", old)
	}

	prev, ext := Rescale([]float32{0, 0, 3, 0, 0, 6, -3, -6}, Factors{X: 1.5, Y: 0.5}, Extents{XMin: -3, XMax: 3, YMin: -6, YMax: 6})

	ids := []uint32{2, 3, 4, 9}
	coords, tags := Reinitialize(layout, prev, old, ext, ids, rand.New(rand.NewSource(1)))
	if len(coords) != 2*len(ids) || len(tags) != len(ids) {
		t.Fatalf("expected %d coordinates and %d tags, got %d and %d", 2*len(ids), len(ids), len(coords), len(tags))
	}

	// Reused positions are copied bit for bit.
	if coords[0] != prev[4] || coords[1] != prev[5] || coords[2] != prev[6] || coords[3] != prev[7] {
		t.Errorf("previous positions not reused: %v", coords[:4])
	}
	if tags[0] != PreviousPos || tags[1] != PreviousPos {
		t.Errorf("expected previous provenance, got %v %v", tags[0], tags[1])
	}

	// Landmark 4 only knows neighbour 3 and is placed at random.
	if tags[2] != RandomPos {
		t.Errorf("expected random provenance for landmark 4, got %v", tags[2])
	}
	radius := float64(max(ext.XMax, -ext.XMin, ext.YMax, -ext.YMin))
	if r := math.Hypot(float64(coords[4]), float64(coords[5])); r > radius*1.0001 {
		t.Errorf("random point outside disk: r=%f radius=%f", r, radius)
	}

	// Landmark 9 interpolates the first three known neighbours 0, 1, 2.
	if tags[3] != InterpolatedPos {
		t.Fatalf("expected interpolated provenance, got %v", tags[3])
	}
	wantX := (prev[0] + prev[2] + prev[4]) / 3
	wantY := (prev[1] + prev[3] + prev[5]) / 3
	if coords[6] != wantX || coords[7] != wantY {
		t.Errorf("expected centroid (%f, %f), got (%f, %f)", wantX, wantY, coords[6], coords[7])
	}

	c := CountProvenance(tags)
	if c.Previous+c.Interpolated+c.Random != len(ids) || c.Previous != 2 || c.Interpolated != 1 || c.Random != 1 {
		t.Errorf("unexpected counts %+v", c)
	}
}

func TestReinitializeEmptyPrevious(t *testing.T) {
	scale := hierarchytest.Hierarchy(1).Scales[0]
	layout := Layout{LandmarkToOriginal: scale.LandmarkToOriginal, Neighbors: graph.TopNeighbors(scale.Transition, 3)}
	coords, tags := Reinitialize(layout, nil, IDMap{}, Extents{XMin: -1, XMax: 1, YMin: -1, YMax: 1}, hierarchytest.Range(0, 50), rand.New(rand.NewSource(7)))
	if len(coords) != 100 {
		t.Fatalf("expected 100 coordinates, got %d", len(coords))
	}
	if c := CountProvenance(tags); c.Random != 50 {
		t.Errorf("expected all random, got %+v", c)
	}
}

func TestDataMaps(t *testing.T) {
	scale := hierarchytest.Hierarchy(3).Scales[2]
	m := RecomputeIDMap(scale.LandmarkToOriginal, []uint32{4, 7})
	localToBottom, bottomToLocal := m.DataMaps(hierarchytest.NumPoints)
	if len(localToBottom) != 2 || localToBottom[0][0] != 400 || localToBottom[1][0] != 700 {
		t.Errorf("unexpected local-to-bottom map %v", localToBottom)
	}
	if bottomToLocal[700] != 1 || bottomToLocal[401] != graph.Unmapped {
		t.Errorf("unexpected bottom-to-local entries %d %d", bottomToLocal[700], bottomToLocal[401])
	}
}
