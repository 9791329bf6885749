package solver

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sanonone/scalenav/pkg/continuity"
	"github.com/sanonone/scalenav/pkg/core/graph"
)

func ringJob(n, iterations int) Job {
	rows := make([]map[uint32]float32, n)
	for i := range rows {
		rows[i] = map[uint32]float32{uint32((i + 1) % n): 1, uint32((i + n - 1) % n): 1}
	}
	rng := rand.New(rand.NewSource(3))
	init := make([]float32, 2*n)
	for i := range init {
		init[i] = rng.Float32() - 0.5
	}
	return Job{Graph: graph.FromMaps(rows), Init: init, NumPoints: n, Iterations: iterations}
}

func TestRunnerReferenceExtents(t *testing.T) {
	var mu sync.Mutex
	var snapshots, references int
	r := NewRunner(NewGradientDescent(1), RunnerConfig{
		ReferenceIteration: 250,
		OnSnapshot: func(s Snapshot, ext continuity.Extents) {
			mu.Lock()
			snapshots++
			mu.Unlock()
		},
		OnReferenceExtents: func(continuity.Extents) {
			mu.Lock()
			references++
			mu.Unlock()
		},
	})

	id, err := r.Start(ringJob(20, 300))
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if id == "" || r.RunID() != id {
		t.Errorf("Unexpected run id %q", id)
	}
	r.Wait()

	last := r.Last()
	if last.Iteration != 300 || len(last.Coords) != 40 {
		t.Fatalf("Expected final snapshot at 300 with 40 values, got %d with %d", last.Iteration, len(last.Coords))
	}
	for _, v := range last.Coords {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			t.Fatalf("Non-finite coordinate %v", v)
		}
	}

	if err := r.Continue(20); err != nil {
		t.Fatal(err)
	}
	r.Wait()
	if r.Last().Iteration != 320 {
		t.Errorf("Continue should resume numbering, got %d", r.Last().Iteration)
	}

	mu.Lock()
	defer mu.Unlock()
	if snapshots != 32 {
		t.Errorf("Expected 32 snapshots, got %d", snapshots)
	}
	if references != 1 {
		t.Errorf("Reference extents should be published once, got %d", references)
	}
}

// blockingSolver runs until cancelled and records overlapping runs.
type blockingSolver struct {
	active, maxActive atomic.Int32
	started           chan struct{}
}

func (s *blockingSolver) Run(ctx context.Context, job Job, emit func(Snapshot)) error {
	n := s.active.Add(1)
	for {
		m := s.maxActive.Load()
		if n <= m || s.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	s.started <- struct{}{}
	<-ctx.Done()
	s.active.Add(-1)
	return nil
}

func TestRunnerStopsBeforeStart(t *testing.T) {
	s := &blockingSolver{started: make(chan struct{}, 4)}
	r := NewRunner(s, RunnerConfig{})
	job := ringJob(5, 1000)

	for i := 0; i < 3; i++ {
		if _, err := r.Start(job); err != nil {
			t.Fatal(err)
		}
		select {
		case <-s.started:
		case <-time.After(5 * time.Second):
			t.Fatal("Timed out waiting for run to start")
		}
	}
	if !r.Running() {
		t.Error("Expected a running job")
	}
	r.Stop()
	if r.Running() || s.active.Load() != 0 {
		t.Error("Stop should end the run")
	}
	if s.maxActive.Load() != 1 {
		t.Errorf("Runs overlapped: %d concurrent", s.maxActive.Load())
	}
}

func TestRunnerErrors(t *testing.T) {
	r := NewRunner(NewGradientDescent(1), RunnerConfig{})
	if err := r.Continue(10); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Expected ErrNotStarted, got %v", err)
	}
	bad := ringJob(4, 10)
	bad.Init = bad.Init[:3]
	if _, err := r.Start(bad); !errors.Is(err, ErrInvalidJob) {
		t.Errorf("Expected ErrInvalidJob, got %v", err)
	}
}
