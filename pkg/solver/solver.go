// Package solver runs the embedding optimizer that turns a transition graph
// and initial coordinates into a 2-D embedding.
package solver

import (
	"context"
	"errors"
	"math"
	"math/rand"

	"github.com/sanonone/scalenav/pkg/core/graph"
)

// Dims is the dimensionality of every embedding.
const Dims = 2

var ErrInvalidJob = errors.New("invalid solver job")

// Job is one optimization request.
type Job struct {
	Graph graph.Sparse
	// Init holds NumPoints interleaved x,y coordinates.
	Init       []float32
	NumPoints  int
	Iterations int
}

func (j Job) validate() error {
	if j.NumPoints != len(j.Graph) || len(j.Init) != Dims*j.NumPoints {
		return ErrInvalidJob
	}
	return nil
}

// Snapshot is a copy of the coordinates after Iteration iterations.
type Snapshot struct {
	Iteration int
	Coords    []float32
	NumPoints int
	Dims      int
}

// Solver optimizes an embedding. Run blocks until the job is done or ctx is
// cancelled, which it checks once per iteration; cancellation is not an
// error. emit is called from the Run goroutine and must not retain Coords.
type Solver interface {
	Run(ctx context.Context, job Job, emit func(Snapshot)) error
}

// GradientDescent is a small neighbour-embedding optimizer: every edge pulls
// its endpoints together with a Student-t kernel and a few randomly sampled
// pairs per point push apart.
type GradientDescent struct {
	LearningRate    float32
	NegativeSamples int
	Repulsion       float32
	SnapshotEvery   int
	Seed            int64
}

func NewGradientDescent(seed int64) *GradientDescent {
	return &GradientDescent{
		LearningRate:    0.5,
		NegativeSamples: 5,
		Repulsion:       1,
		SnapshotEvery:   10,
		Seed:            seed,
	}
}

func (s *GradientDescent) Run(ctx context.Context, job Job, emit func(Snapshot)) error {
	if err := job.validate(); err != nil {
		return err
	}
	n := job.NumPoints
	y := append([]float32(nil), job.Init...)
	grad := make([]float32, len(y))
	rng := rand.New(rand.NewSource(s.Seed))
	every := max(s.SnapshotEvery, 1)

	for it := 1; it <= job.Iterations; it++ {
		if ctx.Err() != nil {
			return nil
		}
		clear(grad)
		for i, row := range job.Graph {
			for _, e := range row {
				dx := y[2*e.To] - y[2*i]
				dy := y[2*e.To+1] - y[2*i+1]
				q := 1 / (1 + dx*dx + dy*dy)
				grad[2*i] += e.Weight * q * dx
				grad[2*i+1] += e.Weight * q * dy
			}
			if n < 2 {
				continue
			}
			for k := 0; k < s.NegativeSamples; k++ {
				j := rng.Intn(n)
				if j == i {
					continue
				}
				dx := y[2*i] - y[2*j]
				dy := y[2*i+1] - y[2*j+1]
				q := 1 / (1 + dx*dx + dy*dy)
				grad[2*i] += s.Repulsion * q * q * dx
				grad[2*i+1] += s.Repulsion * q * q * dy
			}
		}
		for k := range y {
			step := s.LearningRate * grad[k]
			if math.IsNaN(float64(step)) {
				continue
			}
			y[k] += step
		}

		if it%every == 0 || it == job.Iterations {
			emit(Snapshot{Iteration: it, Coords: append([]float32(nil), y...), NumPoints: n, Dims: Dims})
		}
	}
	return nil
}
