package builder

import (
	"context"
	"fmt"
	"runtime"
	"sort"

	"github.com/sanonone/scalenav/pkg/core/distance"
	"github.com/sanonone/scalenav/pkg/core/hnsw"
	"github.com/sanonone/scalenav/pkg/core/types"
	"github.com/sanonone/scalenav/pkg/hierarchy"
	"golang.org/x/sync/errgroup"
)

const knnChunkSize = 256

func workers(p hierarchy.Parallelism) int {
	if p == hierarchy.Parallel {
		return runtime.GOMAXPROCS(0)
	}
	return 1
}

// nearestNeighbors returns the k nearest other points of every point,
// closest first.
func nearestNeighbors(ctx context.Context, data []float32, n, d int, params hierarchy.Params, numWorkers int) ([]types.Neighborhood, error) {
	k := min(params.NumNeighbors, n-1)
	out := make([]types.Neighborhood, n)
	if k <= 0 {
		return out, nil
	}

	var query func(p int) ([]types.Candidate, error)
	switch params.KnnLibrary {
	case hierarchy.KnnExact:
		q, err := exactSearch(data, n, d, params)
		if err != nil {
			return nil, err
		}
		query = func(p int) ([]types.Candidate, error) { return q(p, k+1) }
	default:
		idx, err := buildIndex(ctx, data, n, d, params)
		if err != nil {
			return nil, err
		}
		ef := max(params.HnswEf, k+1)
		query = func(p int) ([]types.Candidate, error) {
			return idx.Search(data[p*d:(p+1)*d], k+1, ef)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(numWorkers)
	for start := 0; start < n; start += knnChunkSize {
		start, end := start, min(start+knnChunkSize, n)
		g.Go(func() error {
			for p := start; p < end; p++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				res, err := query(p)
				if err != nil {
					return fmt.Errorf("point %d: %w", p, err)
				}
				out[p] = neighborhood(uint32(p), res, k)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// neighborhood drops the query point itself and keeps k results.
func neighborhood(self uint32, res []types.Candidate, k int) types.Neighborhood {
	nb := types.Neighborhood{
		Ids:       make([]uint32, 0, k),
		Distances: make([]float32, 0, k),
	}
	for _, c := range res {
		if c.Id == self {
			continue
		}
		if len(nb.Ids) == k {
			break
		}
		nb.Ids = append(nb.Ids, c.Id)
		nb.Distances = append(nb.Distances, float32(c.Distance))
	}
	return nb
}

func precision(params hierarchy.Params) distance.PrecisionType {
	if params.MemoryPreserving {
		return distance.Float16
	}
	return distance.Float32
}

func buildIndex(ctx context.Context, data []float32, n, d int, params hierarchy.Params) (*hnsw.Index, error) {
	idx, err := hnsw.New(hnsw.Config{
		M:              params.HnswM,
		EfConstruction: params.HnswEf,
		Metric:         params.KnnMetric,
		Precision:      precision(params),
		Seed:           params.Seed,
	})
	if err != nil {
		return nil, err
	}
	for p := 0; p < n; p++ {
		if p%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if _, err := idx.Add(data[p*d : (p+1)*d]); err != nil {
			return nil, fmt.Errorf("indexing point %d: %w", p, err)
		}
	}
	return idx, nil
}

// exactSearch returns a brute-force query over a private copy of the data,
// normalised for the cosine metric and stored in half precision when
// memory preserving.
func exactSearch(data []float32, n, d int, params hierarchy.Params) (func(p, k int) ([]types.Candidate, error), error) {
	rows := make([][]float32, n)
	for p := range rows {
		rows[p] = append([]float32(nil), data[p*d:(p+1)*d]...)
		if params.KnnMetric == distance.Cosine {
			distance.Normalize(rows[p])
		}
	}

	var dist func(a, b int) (float64, error)
	if params.MemoryPreserving {
		fn, err := distance.GetFloat16Func(params.KnnMetric)
		if err != nil {
			return nil, err
		}
		half := make([][]uint16, n)
		for p := range rows {
			half[p] = distance.ToFloat16(rows[p])
		}
		rows = nil
		dist = func(a, b int) (float64, error) { return fn(half[a], half[b]) }
	} else {
		fn, err := distance.GetFloat32Func(params.KnnMetric)
		if err != nil {
			return nil, err
		}
		dist = func(a, b int) (float64, error) { return fn(rows[a], rows[b]) }
	}

	return func(p, k int) ([]types.Candidate, error) {
		all := make([]types.Candidate, 0, n)
		for q := 0; q < n; q++ {
			dd, err := dist(p, q)
			if err != nil {
				return nil, err
			}
			all = append(all, types.Candidate{Id: uint32(q), Distance: dd})
		}
		sort.Slice(all, func(a, b int) bool {
			if all[a].Distance != all[b].Distance {
				return all[a].Distance < all[b].Distance
			}
			return all[a].Id < all[b].Id
		})
		return all[:min(k, n)], nil
	}, nil
}
