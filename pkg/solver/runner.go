package solver

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/sanonone/scalenav/pkg/continuity"
	"github.com/sanonone/scalenav/pkg/metrics"
)

// DefaultReferenceIteration is the iteration after which the extents of a
// run become the reference for later embeddings.
const DefaultReferenceIteration = 250

var ErrNotStarted = errors.New("solver has no job to continue")

type RunnerConfig struct {
	ReferenceIteration int
	Logger             *slog.Logger
	// OnSnapshot is called for every snapshot with its extents.
	OnSnapshot func(Snapshot, continuity.Extents)
	// OnReferenceExtents is called once per Start, on the first snapshot at
	// or past ReferenceIteration.
	//
	// Both callbacks run on the solver goroutine and must not call Start,
	// Continue or Stop.
	OnReferenceExtents func(continuity.Extents)
}

// Runner drives one Solver for one analysis. Starting a run always stops
// the previous one first, so two runs never write the same embedding.
type Runner struct {
	solver Solver
	cfg    RunnerConfig
	log    *slog.Logger

	// ctl serialises Start, Continue and Stop, and is held while waiting
	// for a run to end.
	ctl    sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	mu           sync.Mutex
	runID        string
	job          Job
	offset       int
	last         Snapshot
	refPublished bool
}

func NewRunner(s Solver, cfg RunnerConfig) *Runner {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ReferenceIteration <= 0 {
		cfg.ReferenceIteration = DefaultReferenceIteration
	}
	return &Runner{solver: s, cfg: cfg, log: cfg.Logger}
}

// Start stops any running job and optimizes job from its initial
// coordinates. It returns the id of the new run.
func (r *Runner) Start(job Job) (string, error) {
	if err := job.validate(); err != nil {
		return "", err
	}
	r.ctl.Lock()
	defer r.ctl.Unlock()
	r.stopLocked()

	id := uuid.NewString()
	r.mu.Lock()
	r.runID = id
	r.job = job
	r.offset = 0
	r.last = Snapshot{Coords: append([]float32(nil), job.Init...), NumPoints: job.NumPoints, Dims: Dims}
	r.refPublished = false
	r.mu.Unlock()

	r.log.Info("Starting embedding solver", "run", id, "points", job.NumPoints, "iterations", job.Iterations)
	r.launch(job, 0)
	return id, nil
}

// Continue optimizes the current job for more iterations, starting from the
// latest snapshot.
func (r *Runner) Continue(iterations int) error {
	r.ctl.Lock()
	defer r.ctl.Unlock()
	r.stopLocked()

	r.mu.Lock()
	if r.runID == "" {
		r.mu.Unlock()
		return ErrNotStarted
	}
	job := r.job
	job.Init = append([]float32(nil), r.last.Coords...)
	job.Iterations = iterations
	offset := r.last.Iteration
	r.offset = offset
	r.mu.Unlock()

	r.launch(job, offset)
	return nil
}

// Stop cancels the running job and waits for it to end.
func (r *Runner) Stop() {
	r.ctl.Lock()
	defer r.ctl.Unlock()
	r.stopLocked()
}

// Wait blocks until the running job, if any, ends on its own.
func (r *Runner) Wait() {
	r.ctl.Lock()
	done := r.done
	r.ctl.Unlock()
	if done != nil {
		<-done
	}
}

func (r *Runner) stopLocked() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	r.cancel, r.done = nil, nil
	metrics.SolverRuns.WithLabelValues("stopped").Inc()
}

func (r *Runner) launch(job Job, offset int) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.cancel, r.done = cancel, done
	metrics.SolverRuns.WithLabelValues("started").Inc()

	go func() {
		defer close(done)
		err := r.solver.Run(ctx, job, func(s Snapshot) { r.handle(s, offset) })
		if err != nil {
			r.log.Error("Embedding solver failed", "error", err)
		}
	}()
}

func (r *Runner) handle(s Snapshot, offset int) {
	s.Iteration += offset
	ext := continuity.ComputeExtents(s.Coords)

	r.mu.Lock()
	r.last = s
	publish := !r.refPublished && s.Iteration >= r.cfg.ReferenceIteration
	if publish {
		r.refPublished = true
	}
	r.mu.Unlock()

	if r.cfg.OnSnapshot != nil {
		r.cfg.OnSnapshot(s, ext)
	}
	if publish {
		r.log.Debug("Reference extents published", "iteration", s.Iteration, "extents", ext.String())
		if r.cfg.OnReferenceExtents != nil {
			r.cfg.OnReferenceExtents(ext)
		}
	}
}

// Running reports whether a job is in progress.
func (r *Runner) Running() bool {
	r.ctl.Lock()
	done := r.done
	r.ctl.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// Last returns the latest snapshot of the current run.
func (r *Runner) Last() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// RunID returns the id of the current run, empty before the first Start.
func (r *Runner) RunID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runID
}
