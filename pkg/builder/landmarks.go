package builder

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/sanonone/scalenav/pkg/core/graph"
	"gonum.org/v1/gonum/floats"
	"golang.org/x/sync/errgroup"
)

// selectLandmarks returns, in ascending order, the percentile share of the
// vertices of t with the largest in-weight. Ties go to the lower id.
func selectLandmarks(t graph.Sparse, percentile float32) []uint32 {
	n := len(t)
	if n == 0 {
		return nil
	}
	in := make([]float64, n)
	for _, row := range t {
		for _, e := range row {
			in[e.To] += float64(e.Weight)
		}
	}
	order := make([]uint32, n)
	for i := range order {
		order[i] = uint32(i)
	}
	sort.SliceStable(order, func(a, b int) bool { return in[order[a]] > in[order[b]] })

	count := int(math.Ceil(float64(n) * float64(percentile) / 100))
	count = min(max(count, 1), n)
	return graph.SortUnique(append([]uint32(nil), order[:count]...))
}

// areaOfInfluence propagates unit mass from every vertex of t for up to
// steps transitions. Mass reaching a landmark is absorbed and credited to it;
// mass below prune is dropped. Row i lists the landmark indices (positions in
// landmarks) influencing vertex i, normalised to sum 1.
func areaOfInfluence(ctx context.Context, t graph.Sparse, landmarks []uint32, steps int, prune float32, numWorkers int) (graph.Sparse, error) {
	local := make(map[uint32]uint32, len(landmarks))
	for i, l := range landmarks {
		local[l] = uint32(i)
	}

	out := graph.NewSparse(len(t))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(numWorkers)
	for start := 0; start < len(t); start += knnChunkSize {
		start, end := start, min(start+knnChunkSize, len(t))
		g.Go(func() error {
			for v := start; v < end; v++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				out[v] = propagate(t, uint32(v), local, steps, float64(prune))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("area of influence: %w", err)
	}
	return out, nil
}

func propagate(t graph.Sparse, start uint32, local map[uint32]uint32, steps int, prune float64) graph.Row {
	if l, ok := local[start]; ok {
		return graph.Row{{To: l, Weight: 1}}
	}
	absorbed := map[uint32]float32{}
	front := map[uint32]float64{start: 1}
	keys := make([]uint32, 0, 64)
	for step := 0; step < steps && len(front) > 0; step++ {
		// Visit the front in id order so that sums are reproducible.
		keys = keys[:0]
		for v := range front {
			keys = append(keys, v)
		}
		slices.Sort(keys)

		next := make(map[uint32]float64, len(front)*2)
		for _, v := range keys {
			mass := front[v]
			for _, e := range t[v] {
				m := mass * float64(e.Weight)
				if m < prune {
					continue
				}
				if l, ok := local[e.To]; ok {
					absorbed[l] += float32(m)
				} else {
					next[e.To] += m
				}
			}
		}
		front = next
	}
	row := graph.RowFromMap(absorbed)
	normalizeRow(row)
	return row
}

// coarsen computes the landmark transition graph AᵀTA without self loops,
// row-normalised.
func coarsen(ctx context.Context, t graph.Sparse, aoi graph.Sparse, numLandmarks int, numWorkers int) (graph.Sparse, error) {
	cols := make([]graph.Row, numLandmarks)
	for i, row := range aoi {
		for _, e := range row {
			cols[e.To] = append(cols[e.To], graph.Edge{To: uint32(i), Weight: e.Weight})
		}
	}

	out := graph.NewSparse(numLandmarks)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(numWorkers)
	for a := 0; a < numLandmarks; a++ {
		a := a
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			acc := map[uint32]float32{}
			for _, ia := range cols[a] {
				for _, ij := range t[ia.To] {
					w := ia.Weight * ij.Weight
					for _, jb := range aoi[ij.To] {
						if jb.To != uint32(a) {
							acc[jb.To] += w * jb.Weight
						}
					}
				}
			}
			row := graph.RowFromMap(acc)
			normalizeRow(row)
			out[a] = row
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("coarse transition graph: %w", err)
	}
	return out, nil
}

func normalizeRow(row graph.Row) {
	if len(row) == 0 {
		return
	}
	w := make([]float64, len(row))
	for i, e := range row {
		w[i] = float64(e.Weight)
	}
	sum := floats.Sum(w)
	if sum <= 0 {
		return
	}
	for i := range row {
		row[i].Weight = float32(w[i] / sum)
	}
}
