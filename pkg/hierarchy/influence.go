package hierarchy

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sync"

	"github.com/sanonone/scalenav/pkg/core/graph"
	"golang.org/x/sync/errgroup"
)

// Parallelism selects how data-parallel loops are executed.
type Parallelism string

const (
	Sequential Parallelism = "sequential"
	Parallel   Parallelism = "parallel"
)

const (
	influenceThreshold   = 0.01
	influenceRetries     = 3
	influenceRetryFactor = 0.1
	influenceChunkSize   = 1024
)

// InfluenceMaps associates landmarks and data points on every scale.
//
// TopDown[level][landmark] lists the data points on which the landmark has the
// largest influence. BottomUp[level][point] holds at most one landmark: the one
// with the largest influence on the point.
type InfluenceMaps struct {
	TopDown  []graph.LandmarkMap
	BottomUp []graph.LandmarkMap
}

// workers returns the number of goroutines used for a parallel loop.
func (p Parallelism) workers() int {
	if p == Parallel {
		return runtime.GOMAXPROCS(0)
	}
	return 1
}

// ComputeInfluence derives the influence maps of h. Points that have no
// influencing landmark on some scale after all retries are left unmapped on
// that scale and reported as errors in the log.
func ComputeInfluence(ctx context.Context, h *Hierarchy, parallelism Parallelism, logger *slog.Logger) (InfluenceMaps, error) {
	if logger == nil {
		logger = slog.Default()
	}
	numScales := h.NumScales()
	numPoints := h.NumPoints()

	maps := InfluenceMaps{
		TopDown:  make([]graph.LandmarkMap, numScales),
		BottomUp: make([]graph.LandmarkMap, numScales),
	}
	for level := 0; level < numScales; level++ {
		maps.TopDown[level] = make(graph.LandmarkMap, h.Scales[level].Size())
		maps.BottomUp[level] = make(graph.LandmarkMap, numPoints)
	}

	var topDownMu sync.Mutex
	var gaps sync.Map

	processPoint := func(i int) {
		id := uint32(i)
		influence := pointInfluence(h, id)

		// scale 0 points only influence themselves
		self := h.Scales[0].LandmarkToOriginal[i]
		maps.TopDown[0][i] = []uint32{self}
		maps.BottomUp[0][i] = []uint32{self}

		for level := 1; level < numScales; level++ {
			row := influence[level]
			if len(row) == 0 {
				gaps.Store(level, true)
				continue
			}
			best := row[0]
			for _, e := range row[1:] {
				if e.Weight > best.Weight {
					best = e
				}
			}
			maps.BottomUp[level][i] = []uint32{best.To}

			topDownMu.Lock()
			maps.TopDown[level][best.To] = append(maps.TopDown[level][best.To], id)
			topDownMu.Unlock()
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism.workers())
	for start := 0; start < numPoints; start += influenceChunkSize {
		start := start
		end := min(start+influenceChunkSize, numPoints)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for i := start; i < end; i++ {
				processPoint(i)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return InfluenceMaps{}, fmt.Errorf("influence computation interrupted: %w", err)
	}

	// Concurrent appends leave the lists in arbitrary order.
	for level := 1; level < numScales; level++ {
		for _, ids := range maps.TopDown[level] {
			slices.Sort(ids)
		}
	}

	for level := 1; level < numScales; level++ {
		if _, ok := gaps.Load(level); !ok {
			continue
		}
		unmapped := 0
		for _, lm := range maps.BottomUp[level] {
			if len(lm) == 0 {
				unmapped++
			}
		}
		logger.Error("Data points without influencing landmark after retries",
			"scale", level, "unmapped", unmapped, "points", numPoints)
	}
	return maps, nil
}

// pointInfluence queries the influence on a point, lowering the threshold when
// a coarser scale comes back empty.
func pointInfluence(h *Hierarchy, id uint32) []graph.Row {
	thresh := float32(influenceThreshold)
	influence := h.InfluenceOnDataPoint(id, thresh, false)
	for try := 0; try < influenceRetries; try++ {
		if !hasEmptyScale(influence) {
			break
		}
		thresh *= influenceRetryFactor
		influence = h.InfluenceOnDataPoint(id, thresh, false)
	}
	return influence
}

func hasEmptyScale(influence []graph.Row) bool {
	for level := 1; level < len(influence); level++ {
		if len(influence[level]) == 0 {
			return true
		}
	}
	return false
}

// ComputeTransitionNN computes the k heaviest transition neighbours of every
// landmark on every scale.
func ComputeTransitionNN(ctx context.Context, h *Hierarchy, k int, parallelism Parallelism) ([]graph.LandmarkMap, error) {
	out := make([]graph.LandmarkMap, h.NumScales())
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism.workers())
	for level := range h.Scales {
		level := level
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[level] = graph.TopNeighbors(h.Scales[level].Transition, k)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("transition neighbour computation interrupted: %w", err)
	}
	return out, nil
}
