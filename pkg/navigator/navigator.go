// Package navigator decides which scale of the hierarchy represents a set of
// visible data points and which landmarks on that scale make up the view.
package navigator

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/sanonone/scalenav/pkg/core/graph"
)

// HeuristicInfluence selects bottom-up influence lookups instead of
// threshold-based propagation.
const HeuristicInfluence float32 = -1

var (
	ErrLevelOutOfRange = errors.New("scale level out of range")
	ErrNoHierarchy     = errors.New("hierarchy has no scales")
)

// Source is the read-only view of a hierarchy the navigator needs.
// *hierarchy.Store implements it.
type Source interface {
	NumScales() int
	TopScale() int
	NumPoints() int
	TopDown(level int) graph.LandmarkMap
	BottomUp(level int) graph.LandmarkMap
	LocalIDsInCoarserScale(level int, ids []uint32, thresh float32) []uint32
	LocalIDsInRefinedScale(level int, ids []uint32, thresh float32) []uint32
}

// Request describes one landmark selection.
type Request struct {
	// Visible holds the data point ids inside the region of interest.
	Visible []uint32
	Budget  Budget
	// InfluenceThreshold is HeuristicInfluence or a threshold for the
	// coarser-scale influence propagation.
	InfluenceThreshold float32
	Direction          Direction
	// FixedScale keeps CurrentLevel and only recomputes its landmarks.
	FixedScale   bool
	CurrentLevel int
}

// Result is the selected scale and the local ids of its landmarks, sorted.
// An empty landmark set is a valid result.
type Result struct {
	Level     int
	Landmarks []uint32
}

type Navigator struct {
	src Source
	log *slog.Logger
}

func New(src Source, logger *slog.Logger) *Navigator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Navigator{src: src, log: logger}
}

// Select runs the traversal requested by req.
func (n *Navigator) Select(req Request) (Result, error) {
	if n.src.NumScales() == 0 {
		return Result{}, ErrNoHierarchy
	}
	top := n.src.TopScale()

	if req.Direction != Auto {
		level := req.CurrentLevel
		if req.Direction == Up {
			level++
		} else {
			level--
		}
		if level < 0 || level > top {
			n.log.Warn("Requested scale level out of range, keeping current", "direction", req.Direction, "current", req.CurrentLevel, "top", top)
			return Result{}, fmt.Errorf("%w: %d not in [0, %d]", ErrLevelOutOfRange, level, top)
		}
		return Result{Level: level, Landmarks: n.CoarserHeuristic(level, req.Visible)}, nil
	}

	if req.FixedScale {
		level := req.CurrentLevel
		if level < 0 || level > top {
			clamped := min(max(level, 0), top)
			n.log.Warn("Fixed scale level out of range, clamping", "level", level, "clamped", clamped)
			level = clamped
		}
		w := n.newWalk(req.Visible, req.InfluenceThreshold)
		return Result{Level: level, Landmarks: w.at(level)}, nil
	}

	var res Result
	switch req.Budget.Mode {
	case ModeRange:
		res = n.selectRange(req.Visible, req.Budget, req.InfluenceThreshold)
	case ModeTopDown:
		res = n.SelectTopDown(req.Visible, req.Budget, req.InfluenceThreshold)
	default:
		res = n.selectTarget(req.Visible, req.Budget, req.InfluenceThreshold)
	}
	n.log.Info("Selected landmarks", "mode", req.Budget.Mode, "scale", res.Level, "landmarks", len(res.Landmarks), "visible", len(req.Visible))
	return res, nil
}

// selectRange climbs from the data scale until fewer than Max landmarks remain.
func (n *Navigator) selectRange(visible []uint32, b Budget, thresh float32) Result {
	numScales := n.src.NumScales()
	level := 0
	if len(visible) > b.Max && numScales > 1 {
		level = 1
	}
	if len(visible) >= n.src.NumPoints() {
		level = n.src.TopScale()
	}

	w := n.newWalk(visible, thresh)
	res := Result{Level: level}
	for ; level < numScales; level++ {
		res = Result{Level: level, Landmarks: w.at(level)}
		n.log.Debug("Range traversal step", "scale", level, "landmarks", len(res.Landmarks))
		if len(res.Landmarks) < b.Max {
			break
		}
	}
	return res
}

// selectTarget walks towards the scale whose landmark count is closest to
// Target. Only the final candidate and the one visited just before it are
// compared; on equal distance the final candidate wins.
func (n *Navigator) selectTarget(visible []uint32, b Budget, thresh float32) Result {
	top := n.src.TopScale()
	numPoints := n.src.NumPoints()
	target := b.Target
	numVisible := len(visible)

	level := 0
	if numVisible > 10*target && n.src.NumScales() > 1 {
		level = 1
	}
	if numVisible >= numPoints {
		level = top
	}
	down := b.Heuristic && float64(numVisible) > 0.125*float64(numPoints)
	if down {
		level = top
	}

	var prev *Result
	if !down && level > 0 {
		prev = &Result{Level: 0, Landmarks: graph.SortUnique(append([]uint32(nil), visible...))}
	}

	w := n.newWalk(visible, thresh)
	var cur Result
	for {
		cur = Result{Level: level, Landmarks: w.at(level)}
		size := len(cur.Landmarks)
		n.log.Debug("Target traversal step", "scale", level, "landmarks", size, "down", down)

		var stop bool
		if down {
			stop = size > target || numVisible >= numPoints || level == 0
		} else {
			stop = size <= target || level == top
		}
		if stop {
			break
		}
		c := cur
		prev = &c
		if down {
			level--
		} else {
			level++
		}
	}

	if prev == nil || (!down && cur.Level == 0) {
		return cur
	}
	if absDiff(len(prev.Landmarks), target) < absDiff(len(cur.Landmarks), target) {
		return *prev
	}
	return cur
}

// SelectTopDown descends from the top scale. With the heuristic flag it
// stops on the first scale whose count lies within [Min, Max]. A scale that
// exceeds Max falls back to the coarser scale visited before it, unless it is
// the top scale.
func (n *Navigator) SelectTopDown(visible []uint32, b Budget, thresh float32) Result {
	top := n.src.TopScale()
	w := n.newWalk(visible, thresh)

	var prev Result
	for level := top; level >= 0; level-- {
		cur := Result{Level: level, Landmarks: w.at(level)}
		n.log.Debug("Top-down traversal step", "scale", level, "landmarks", len(cur.Landmarks))

		if b.Heuristic && b.WithinRange(len(cur.Landmarks)) {
			return cur
		}
		if len(cur.Landmarks) > b.Max {
			if level != top {
				return prev
			}
			return cur
		}
		prev = cur
	}
	return prev
}

// CoarserHeuristic maps data points to the landmarks of level that influence
// them the most. Ids outside the data set are ignored.
func (n *Navigator) CoarserHeuristic(level int, ids []uint32) []uint32 {
	bottomUp := n.src.BottomUp(level)
	out := make([]uint32, 0, len(ids))
	for _, id := range ids {
		if int(id) >= len(bottomUp) {
			continue
		}
		out = append(out, bottomUp[id]...)
	}
	return graph.SortUnique(out)
}

// CoarserThreshold propagates the data points ids from the data scale up to
// level, keeping at every step the landmarks whose accumulated influence
// exceeds thresh.
func (n *Navigator) CoarserThreshold(level int, ids []uint32, thresh float32) []uint32 {
	cur := graph.SortUnique(append([]uint32(nil), ids...))
	for l := 0; l < level; l++ {
		cur = n.src.LocalIDsInCoarserScale(l, cur, thresh)
	}
	return cur
}

// RefinedHeuristic expands the landmarks ids of level into the data points
// they represent and maps those onto level-1.
func (n *Navigator) RefinedHeuristic(level int, ids []uint32) ([]uint32, error) {
	if level <= 0 || level > n.src.TopScale() {
		return nil, fmt.Errorf("%w: no refined scale below %d", ErrLevelOutOfRange, level)
	}
	topDown := n.src.TopDown(level)
	var points []uint32
	for _, id := range ids {
		if int(id) < len(topDown) {
			points = append(points, topDown[id]...)
		}
	}
	return n.CoarserHeuristic(level-1, points), nil
}

// RefinedThreshold returns the landmarks of level-1 that ids influence by
// more than thresh.
func (n *Navigator) RefinedThreshold(level int, ids []uint32, thresh float32) ([]uint32, error) {
	if level <= 0 || level > n.src.TopScale() {
		return nil, fmt.Errorf("%w: no refined scale below %d", ErrLevelOutOfRange, level)
	}
	return n.src.LocalIDsInRefinedScale(level, ids, thresh), nil
}

// walk computes landmark sets for one traversal. Threshold propagation
// reuses the previous step when the traversal moves up by one scale and
// starts again from the data scale otherwise.
type walk struct {
	nav     *Navigator
	visible []uint32
	thresh  float32

	level int
	ids   []uint32
}

func (n *Navigator) newWalk(visible []uint32, thresh float32) *walk {
	return &walk{nav: n, visible: visible, thresh: thresh, level: -1}
}

func (w *walk) at(level int) []uint32 {
	if w.thresh == HeuristicInfluence {
		return w.nav.CoarserHeuristic(level, w.visible)
	}
	var ids []uint32
	if w.level >= 0 && level == w.level+1 {
		ids = w.nav.src.LocalIDsInCoarserScale(w.level, w.ids, w.thresh)
	} else {
		ids = w.nav.CoarserThreshold(level, w.visible, w.thresh)
	}
	w.level, w.ids = level, ids
	return ids
}

func absDiff(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}
