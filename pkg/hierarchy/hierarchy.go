// Package hierarchy owns the multiscale landmark hierarchy: the ordered scales
// with their transition graphs, the influence maps derived from them, the
// per-landmark transition neighbours, and the on-disk cache that stores all of
// it together with a fingerprint of the parameters it was built with.
package hierarchy

import (
	"fmt"

	"github.com/sanonone/scalenav/pkg/core/graph"
	"github.com/tidwall/btree"
)

// Scale is one level of the hierarchy. Level 0 holds one landmark per data point.
type Scale struct {
	// LandmarkToOriginal[local] is the data point id represented by the landmark.
	LandmarkToOriginal []uint32
	// LandmarkToPrevious[local] is the landmark's local id on the next finer scale.
	LandmarkToPrevious []uint32
	// Transition is the weighted transition graph over local landmark ids.
	Transition graph.Sparse
	// AreaOfInfluence[i] holds, for landmark i of the next finer scale, the
	// landmarks of this scale that influence it and by how much. Empty at level 0.
	AreaOfInfluence graph.Sparse
}

// Size returns the number of landmarks.
func (s *Scale) Size() int { return len(s.LandmarkToOriginal) }

// Hierarchy is the ordered sequence of scales, finest first.
type Hierarchy struct {
	Scales []Scale
}

func (h *Hierarchy) NumScales() int { return len(h.Scales) }

// TopScale returns the level of the coarsest scale.
func (h *Hierarchy) TopScale() int { return len(h.Scales) - 1 }

// NumPoints returns the number of data points (landmarks of scale 0).
func (h *Hierarchy) NumPoints() int {
	if len(h.Scales) == 0 {
		return 0
	}
	return h.Scales[0].Size()
}

// Validate checks the structural invariants of every scale.
func (h *Hierarchy) Validate() error {
	if len(h.Scales) == 0 {
		return fmt.Errorf("hierarchy has no scales")
	}
	numPoints := h.NumPoints()
	for i, id := range h.Scales[0].LandmarkToOriginal {
		if id != uint32(i) {
			return fmt.Errorf("scale 0: landmark %d maps to data point %d, expected identity", i, id)
		}
	}
	for level := range h.Scales {
		s := &h.Scales[level]
		if len(s.Transition) != s.Size() {
			return fmt.Errorf("scale %d: transition graph has %d rows for %d landmarks", level, len(s.Transition), s.Size())
		}
		for local, id := range s.LandmarkToOriginal {
			if int(id) >= numPoints {
				return fmt.Errorf("scale %d: landmark %d maps to invalid data point %d", level, local, id)
			}
		}
		if level == 0 {
			continue
		}
		prev := h.Scales[level-1].Size()
		if len(s.LandmarkToPrevious) != s.Size() {
			return fmt.Errorf("scale %d: %d previous-scale references for %d landmarks", level, len(s.LandmarkToPrevious), s.Size())
		}
		if len(s.AreaOfInfluence) != prev {
			return fmt.Errorf("scale %d: area of influence has %d rows, previous scale has %d landmarks", level, len(s.AreaOfInfluence), prev)
		}
	}
	return nil
}

// InfluenceOnDataPoint returns, for every scale, the landmarks influencing the
// data point dp with a weight above thresh. Rows are sorted by landmark id.
// Scale 0 always contains dp itself with weight 1.
func (h *Hierarchy) InfluenceOnDataPoint(dp uint32, thresh float32, normalized bool) []graph.Row {
	out := make([]graph.Row, len(h.Scales))
	if len(h.Scales) == 0 {
		return out
	}
	out[0] = graph.Row{{To: dp, Weight: 1}}

	for level := 1; level < len(h.Scales); level++ {
		aoi := h.Scales[level].AreaOfInfluence
		var acc btree.Map[uint32, float64]
		for _, finer := range out[level-1] {
			if int(finer.To) >= len(aoi) {
				continue
			}
			for _, e := range aoi[finer.To] {
				v, _ := acc.Get(e.To)
				acc.Set(e.To, v+float64(e.Weight)*float64(finer.Weight))
			}
		}

		var row graph.Row
		var sum float64
		acc.Scan(func(id uint32, w float64) bool {
			if w > float64(thresh) {
				row = append(row, graph.Edge{To: id, Weight: float32(w)})
				sum += w
			}
			return true
		})
		if normalized && sum > 0 {
			for k := range row {
				row[k].Weight = float32(float64(row[k].Weight) / sum)
			}
		}
		out[level] = row
	}
	return out
}

// InfluencingLandmarksInNextScale accumulates, for the landmarks ids of level,
// the influence exercised on them by the landmarks of level+1.
func (h *Hierarchy) InfluencingLandmarksInNextScale(level int, ids []uint32) graph.Row {
	next := level + 1
	if level < 0 || next >= len(h.Scales) {
		return nil
	}
	aoi := h.Scales[next].AreaOfInfluence
	var acc btree.Map[uint32, float64]
	for _, id := range ids {
		if int(id) >= len(aoi) {
			continue
		}
		for _, e := range aoi[id] {
			v, _ := acc.Get(e.To)
			acc.Set(e.To, v+float64(e.Weight))
		}
	}
	return rowFromAcc(&acc)
}

// InfluencedLandmarksInPreviousScale accumulates, for every landmark of
// level-1, the influence the landmarks ids of level exercise on it.
func (h *Hierarchy) InfluencedLandmarksInPreviousScale(level int, ids []uint32) graph.Row {
	if level <= 0 || level >= len(h.Scales) {
		return nil
	}
	selected := make(map[uint32]struct{}, len(ids))
	for _, id := range ids {
		selected[id] = struct{}{}
	}
	var acc btree.Map[uint32, float64]
	for finer, row := range h.Scales[level].AreaOfInfluence {
		var sum float64
		for _, e := range row {
			if _, ok := selected[e.To]; ok {
				sum += float64(e.Weight)
			}
		}
		if sum > 0 {
			acc.Set(uint32(finer), sum)
		}
	}
	return rowFromAcc(&acc)
}

func rowFromAcc(acc *btree.Map[uint32, float64]) graph.Row {
	row := make(graph.Row, 0, acc.Len())
	acc.Scan(func(id uint32, w float64) bool {
		row = append(row, graph.Edge{To: id, Weight: float32(w)})
		return true
	})
	return row
}

// idsAbove returns the ids of the row entries whose weight exceeds thresh.
func idsAbove(row graph.Row, thresh float32) []uint32 {
	ids := make([]uint32, 0, len(row))
	for _, e := range row {
		if e.Weight > thresh {
			ids = append(ids, e.To)
		}
	}
	return ids
}
