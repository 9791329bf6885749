package builder

import (
	"math"

	"github.com/sanonone/scalenav/pkg/core/graph"
	"github.com/sanonone/scalenav/pkg/core/types"
	"gonum.org/v1/gonum/floats"
)

const (
	calibrationIterations = 200
	calibrationTolerance  = 1e-5
)

// calibrate turns neighbourhoods into a row-stochastic transition graph.
// Each row is a Gaussian over the neighbour distances whose bandwidth is
// chosen so that the row perplexity is k/3.
func calibrate(knn []types.Neighborhood) graph.Sparse {
	g := graph.NewSparse(len(knn))
	for p, nb := range knn {
		k := len(nb.Ids)
		if k == 0 {
			continue
		}
		w := make([]float64, k)
		perplexity := float64(k) / 3
		gaussianRow(nb.Distances, perplexity, w)

		row := make(map[uint32]float32, k)
		for i, id := range nb.Ids {
			if w[i] > 0 {
				row[id] += float32(w[i])
			}
		}
		g[p] = graph.RowFromMap(row)
	}
	return g
}

// gaussianRow fills w with normalised weights exp(-beta*d) for the beta whose
// entropy matches log(perplexity), found by bisection.
func gaussianRow(dist []float32, perplexity float64, w []float64) {
	target := math.Log(max(perplexity, 1))
	beta := 1.0
	lo, hi := math.Inf(-1), math.Inf(1)

	for range calibrationIterations {
		for i, d := range dist {
			w[i] = math.Exp(-beta * float64(d))
		}
		sum := floats.Sum(w)
		if sum == 0 {
			// Every weight underflowed, beta is far too large.
			hi = beta
			beta = lower(beta, lo)
			continue
		}
		h := 0.0
		for i, d := range dist {
			h += beta * float64(d) * w[i]
		}
		h = h/sum + math.Log(sum)
		floats.Scale(1/sum, w)

		diff := h - target
		if math.Abs(diff) < calibrationTolerance {
			return
		}
		if diff > 0 {
			lo = beta
			if math.IsInf(hi, 1) {
				beta *= 2
			} else {
				beta = (beta + hi) / 2
			}
		} else {
			hi = beta
			beta = lower(beta, lo)
		}
	}
	if floats.Sum(w) == 0 {
		for i := range w {
			w[i] = 1 / float64(len(w))
		}
	}
}

func lower(beta, lo float64) float64 {
	if math.IsInf(lo, -1) {
		return beta / 2
	}
	return (beta + lo) / 2
}
