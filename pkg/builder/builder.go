// Package builder is the reference hierarchy builder.
//
// The finest scale is the perplexity-calibrated transition graph of the
// k-nearest-neighbour graph of the data. Every coarser scale keeps the
// landmarks with the largest accumulated in-weight, links each finer landmark
// to the landmarks it reaches by bounded propagation (its area of influence)
// and derives its transition graph from the finer one through that area.
//
// Landmark selection is deterministic: the same data and parameters produce
// byte-identical hierarchies.
package builder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sanonone/scalenav/pkg/hierarchy"
)

type Options struct {
	Parallelism hierarchy.Parallelism
	Logger      *slog.Logger
}

// Reference implements hierarchy.Builder.
type Reference struct {
	opts Options
	log  *slog.Logger
}

var _ hierarchy.Builder = (*Reference)(nil)

func New(opts Options) *Reference {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Parallelism == "" {
		opts.Parallelism = hierarchy.Parallel
	}
	return &Reference{opts: opts, log: opts.Logger}
}

// Initialize builds the data scale.
func (b *Reference) Initialize(ctx context.Context, data []float32, numPoints, numDims int, params hierarchy.Params) (*hierarchy.Hierarchy, error) {
	if numPoints <= 0 || numDims <= 0 || len(data) != numPoints*numDims {
		return nil, fmt.Errorf("builder: %d values for shape %dx%d", len(data), numPoints, numDims)
	}
	start := time.Now()
	knn, err := nearestNeighbors(ctx, data, numPoints, numDims, params, workers(b.opts.Parallelism))
	if err != nil {
		return nil, fmt.Errorf("builder: neighbourhood graph: %w", err)
	}
	b.log.Info("Computed neighbourhood graph", "points", numPoints, "k", params.NumNeighbors, "library", params.KnnLibrary, "duration", time.Since(start))

	ids := make([]uint32, numPoints)
	for i := range ids {
		ids[i] = uint32(i)
	}
	return &hierarchy.Hierarchy{Scales: []hierarchy.Scale{{
		LandmarkToOriginal: ids,
		Transition:         calibrate(knn),
	}}}, nil
}

// AddScale appends the next coarser scale.
func (b *Reference) AddScale(ctx context.Context, h *hierarchy.Hierarchy, params hierarchy.Params) error {
	if h.NumScales() == 0 {
		return hierarchy.ErrNotBuilt
	}
	start := time.Now()
	prev := &h.Scales[h.TopScale()]

	chosen := selectLandmarks(prev.Transition, params.LandmarkPercentile)
	aoi, err := areaOfInfluence(ctx, prev.Transition, chosen, params.WalkLength, params.PruningThreshold, workers(b.opts.Parallelism))
	if err != nil {
		return err
	}
	transition, err := coarsen(ctx, prev.Transition, aoi, len(chosen), workers(b.opts.Parallelism))
	if err != nil {
		return err
	}

	s := hierarchy.Scale{
		LandmarkToOriginal: make([]uint32, len(chosen)),
		LandmarkToPrevious: chosen,
		Transition:         transition,
		AreaOfInfluence:    aoi,
	}
	for i, p := range chosen {
		s.LandmarkToOriginal[i] = prev.LandmarkToOriginal[p]
	}
	h.Scales = append(h.Scales, s)

	b.log.Info("Added scale", "scale", h.TopScale(), "landmarks", len(chosen), "edges", transition.NumEdges(), "duration", time.Since(start))
	return nil
}
