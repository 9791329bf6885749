// Package engine is the embedded interface to a multiscale exploration
// session.
//
// It owns the landmark hierarchy of one data set, the update worker that
// turns a region of interest into a new embedding set-up, the embedding
// solver, the linked selection between embedding and data, and the journal
// of visited viewports.
//
// Basic usage:
//
//	opts := engine.DefaultOptions("./data", 512, 512)
//	e, err := engine.Open(opts, dataset)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer e.Close()
//
//	e.SetROI(roi)
//	res, err := e.Update(ctx)
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/sanonone/scalenav/pkg/builder"
	"github.com/sanonone/scalenav/pkg/continuity"
	"github.com/sanonone/scalenav/pkg/core/distance"
	"github.com/sanonone/scalenav/pkg/hierarchy"
	"github.com/sanonone/scalenav/pkg/navigator"
	"github.com/sanonone/scalenav/pkg/orchestrator"
	"github.com/sanonone/scalenav/pkg/selection"
	"github.com/sanonone/scalenav/pkg/solver"
	"github.com/sanonone/scalenav/pkg/viewport"
)

var (
	ErrClosed         = errors.New("engine closed")
	ErrRoiNotGood     = errors.New("region of interest not good for update")
	ErrUpdatesPaused  = errors.New("updates paused")
	ErrNoViewportStep = errors.New("no viewport to step to")
)

// UpdateResult is the outcome of Update, Step and the viewport steps.
type UpdateResult = orchestrator.Result

// Engine is the main entry point of a session. Use Open to create one and
// Close to shut it down.
type Engine struct {
	opts Options
	log  *slog.Logger
	grid viewport.Grid

	store  *hierarchy.Store
	orch   *orchestrator.Orchestrator
	runner *solver.Runner
	linker *selection.Linker
	seq    *viewport.Sequence

	// updating is held from admission until the committed embedding is
	// handed to the solver, so the next update reads coordinates laid out
	// by the committed id mapping.
	updating atomic.Bool

	// mu guards the interactive state below.
	mu         sync.Mutex
	roi        viewport.ROI
	roiGood    bool
	paused     bool
	budget     navigator.Budget
	fixedScale bool
	thresh     float32
	multiplier float32
	refExt     continuity.Extents
	curExt     continuity.Extents
	coords     []float32
	topMaps    selection.Maps

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Open builds or loads the hierarchy of data, embeds every top-scale
// landmark and starts the solver on that embedding.
//
// This method blocks until the hierarchy is ready.
func Open(opts Options, data hierarchy.Dataset) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	opts, err := opts.normalize(logger)
	if err != nil {
		return nil, err
	}
	if opts.DataDir != "" {
		if err := os.MkdirAll(opts.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	if opts.Builder == nil {
		opts.Builder = builder.New(builder.Options{Parallelism: opts.Parallelism, Logger: logger})
	}
	if opts.Solver == nil {
		opts.Solver = solver.NewGradientDescent(opts.Seed)
	}
	distance.LogKernels(logger)

	e := &Engine{
		opts:       opts,
		log:        logger,
		grid:       viewport.NewGrid(opts.ImageWidth, opts.ImageHeight),
		budget:     opts.Budget,
		fixedScale: opts.FixedScale,
		thresh:     opts.InfluenceThreshold,
		multiplier: opts.ScalingMultiplier,
		closed:     make(chan struct{}),
	}
	if e.grid.NumPixels() != data.NumPoints {
		return nil, fmt.Errorf("image %dx%d does not hold %d data points", opts.ImageWidth, opts.ImageHeight, data.NumPoints)
	}

	e.store = hierarchy.NewStore(hierarchy.StoreOptions{
		CacheDir:    opts.cacheDir(),
		Builder:     opts.Builder,
		Params:      opts.Params,
		Parallelism: opts.Parallelism,
		Logger:      logger,
	})
	if err := e.store.Build(context.Background(), data); err != nil {
		return nil, fmt.Errorf("failed to build hierarchy: %w", err)
	}

	if err := e.openSequence(); err != nil {
		return nil, err
	}

	e.linker = selection.NewLinker(opts.OnSelection)

	e.runner = solver.NewRunner(opts.Solver, solver.RunnerConfig{
		ReferenceIteration: opts.ReferenceIteration,
		Logger:             logger,
		OnSnapshot:         e.onSnapshot,
		OnReferenceExtents: e.SetReferenceExtents,
	})

	e.orch, err = orchestrator.New(e.store, orchestrator.Config{
		Grid:       e.grid,
		Logger:     logger,
		Seed:       opts.Seed,
		Analysis:   data.Name,
		OnNoUpdate: opts.OnNoUpdate,
	})
	if err != nil {
		e.seq.Close()
		return nil, err
	}

	if err := e.initTopLevel(); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) openSequence() error {
	if e.opts.SequenceFile == "" || e.opts.DataDir == "" {
		e.seq = viewport.NewSequence()
		return nil
	}
	seq, err := viewport.OpenSequence(filepath.Join(e.opts.DataDir, e.opts.SequenceFile), e.log)
	if err != nil {
		return fmt.Errorf("failed to open viewport journal: %w", err)
	}
	e.seq = seq
	return nil
}

// initTopLevel embeds every landmark of the top scale. The whole image is
// visible afterwards, so the ROI is not good for an update until it changes.
func (e *Engine) initTopLevel() error {
	res, err := e.orch.InitTopLevel(e.opts.MinDegree)
	if err != nil {
		return err
	}
	localToBottom, bottomToLocal := res.IDMap.DataMaps(e.store.NumPoints())

	e.mu.Lock()
	e.roi = viewport.FullImage(e.grid.Width, e.grid.Height)
	e.roiGood = false
	e.topMaps = selection.Maps{LocalToBottom: localToBottom, BottomToLocal: bottomToLocal}
	e.coords = res.Init
	e.curExt = continuity.ComputeExtents(res.Init)
	e.mu.Unlock()

	return e.startSolver(res)
}

func (e *Engine) startSolver(res UpdateResult) error {
	e.linker.SetMaps(res.Selection)
	if len(res.Landmarks) == 0 {
		e.log.Info("Empty landmark selection, solver not started", "scale", res.Level)
		return nil
	}
	_, err := e.runner.Start(solver.Job{
		Graph:      res.Graph,
		Init:       res.Init,
		NumPoints:  len(res.Landmarks),
		Iterations: e.opts.SolverIterations,
	})
	return err
}

func (e *Engine) onSnapshot(s solver.Snapshot, ext continuity.Extents) {
	e.mu.Lock()
	e.coords = s.Coords
	e.curExt = ext
	e.mu.Unlock()
}

// --- Region of interest and updates ---

// SetROI records the region of interest for the next update. The region is
// not good for an update when the whole image was and remains visible,
// when nothing was and remains visible, or when its layer rectangle did not
// change.
func (e *Engine) SetROI(roi viewport.ROI) {
	total := e.grid.NumPixels()

	e.mu.Lock()
	defer e.mu.Unlock()
	before, after := len(e.grid.ExtractIDs(e.roi)), len(e.grid.ExtractIDs(roi))
	good := true
	switch {
	case before == total && after == total:
		good = false
	case before == 0 && after == 0:
		good = false
	case e.roi.SameLayer(roi):
		good = false
	}
	e.roi = roi
	e.roiGood = good
	e.log.Debug("Region of interest set", "roi", roi.String(), "visible", after, "good", good)
}

// ROI returns the current region of interest.
func (e *Engine) ROI() viewport.ROI {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.roi
}

// Update recomputes the embedding for the current region of interest. It
// returns the result once the solver runs on the new embedding. Rejected
// updates return orchestrator.ErrBusy, ErrRoiNotGood or ErrUpdatesPaused.
func (e *Engine) Update(ctx context.Context) (UpdateResult, error) {
	if err := e.admit(true); err != nil {
		return UpdateResult{}, err
	}
	e.mu.Lock()
	roi := e.roi
	e.mu.Unlock()
	e.seq.Append(roi)
	return e.run(ctx, roi, navigator.Auto)
}

// Step moves one scale up or down for the current region of interest,
// keeping the visual budget out of the decision.
func (e *Engine) Step(ctx context.Context, dir navigator.Direction) (UpdateResult, error) {
	if dir == navigator.Auto {
		return e.Update(ctx)
	}
	if err := e.admit(false); err != nil {
		return UpdateResult{}, err
	}
	e.mu.Lock()
	roi := e.roi
	e.mu.Unlock()
	return e.run(ctx, roi, dir)
}

// StepBack returns to the previous viewport of the journal and updates for it.
func (e *Engine) StepBack(ctx context.Context) (UpdateResult, error) {
	return e.stepViewport(ctx, e.seq.StepBack)
}

// StepForward moves to the next viewport of the journal and updates for it.
func (e *Engine) StepForward(ctx context.Context) (UpdateResult, error) {
	return e.stepViewport(ctx, e.seq.StepForward)
}

func (e *Engine) stepViewport(ctx context.Context, step func() (viewport.ROI, bool)) (UpdateResult, error) {
	if err := e.admit(false); err != nil {
		return UpdateResult{}, err
	}
	roi, ok := step()
	if !ok {
		e.updating.Store(false)
		return UpdateResult{}, ErrNoViewportStep
	}
	e.mu.Lock()
	e.roi = roi
	e.mu.Unlock()
	return e.run(ctx, roi, navigator.Auto)
}

// admit checks, in order, the update worker, the region of interest and
// the user pause, reporting the first reason that blocks an update.
func (e *Engine) admit(checkROI bool) error {
	select {
	case <-e.closed:
		return ErrClosed
	default:
	}
	if !e.updating.CompareAndSwap(false, true) {
		e.orch.Reject(orchestrator.IsRunning)
		return orchestrator.ErrBusy
	}
	e.mu.Lock()
	good, paused := e.roiGood, e.paused
	e.mu.Unlock()
	var err error
	switch {
	case e.orch.IsBusy():
		e.orch.Reject(orchestrator.IsRunning)
		err = orchestrator.ErrBusy
	case checkROI && !good:
		e.orch.Reject(orchestrator.RoiNotGoodForUpdate)
		err = ErrRoiNotGood
	case paused:
		e.orch.Reject(orchestrator.UpdatesPaused)
		err = ErrUpdatesPaused
	}
	if err != nil {
		e.updating.Store(false)
	}
	return err
}

// run performs an admitted update and releases the admission once the
// result is handed to the solver.
func (e *Engine) run(ctx context.Context, roi viewport.ROI, dir navigator.Direction) (UpdateResult, error) {
	handedOff := false
	defer func() {
		if !handedOff {
			e.updating.Store(false)
		}
	}()
	e.runner.Stop()

	e.mu.Lock()
	req := orchestrator.Request{
		ROI:                roi,
		Budget:             e.budget,
		FixedScale:         e.fixedScale,
		InfluenceThreshold: e.thresh,
		Direction:          dir,
		MinDegree:          e.opts.MinDegree,
		Embedding:          e.coords,
		Scaling:            continuity.ScalingFactors(e.refExt, e.curExt, e.multiplier),
		PreviousExtents:    e.curExt,
	}
	e.mu.Unlock()

	ch, err := e.orch.RequestUpdate(ctx, req)
	if err != nil {
		e.resume()
		return UpdateResult{}, err
	}

	var res UpdateResult
	select {
	case res = <-ch:
	case <-ctx.Done():
		// The worker still commits; the solver is started when it does.
		handedOff = true
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			defer e.updating.Store(false)
			e.finish(<-ch)
		}()
		return UpdateResult{}, ctx.Err()
	}
	return res, e.finish(res)
}

func (e *Engine) finish(res UpdateResult) error {
	if !res.Success {
		e.resume()
		return res.Err
	}
	e.mu.Lock()
	e.coords = res.Init
	e.curExt = continuity.ComputeExtents(res.Init)
	e.mu.Unlock()

	err := e.startSolver(res)
	if e.opts.OnUpdate != nil {
		e.opts.OnUpdate(res)
	}
	return err
}

// resume continues the embedding the failed update interrupted.
func (e *Engine) resume() {
	if err := e.runner.Continue(e.opts.SolverIterations); err != nil && !errors.Is(err, solver.ErrNotStarted) {
		e.log.Error("Failed to resume solver", "error", err)
	}
}

// IsBusy reports whether an update is in flight.
func (e *Engine) IsBusy() bool { return e.updating.Load() || e.orch.IsBusy() }

// PauseUpdates blocks or re-enables updates.
func (e *Engine) PauseUpdates(paused bool) {
	e.mu.Lock()
	e.paused = paused
	e.mu.Unlock()
}

// --- Committed state ---

// ScaleLevel returns the scale of the active embedding.
func (e *Engine) ScaleLevel() int { return e.orch.State().Level }

// Landmarks returns the local ids of the active embedding on its scale.
func (e *Engine) Landmarks() []uint32 { return e.orch.State().Landmarks }

// IDMapping returns the data point id keyed map of the active embedding.
func (e *Engine) IDMapping() continuity.IDMap { return e.orch.State().IDMap }

// SelectionMaps links positions in the active embedding with data points.
func (e *Engine) SelectionMaps() selection.Maps { return e.orch.State().Selection }

// TopLevelSelectionMaps links positions of the initial top-scale embedding
// with the data points of its landmarks.
func (e *Engine) TopLevelSelectionMaps() selection.Maps {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.topMaps
}

// Embedding returns the latest coordinates of the active embedding.
func (e *Engine) Embedding() []float32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.coords
}

func (e *Engine) Store() *hierarchy.Store { return e.store }

func (e *Engine) Sequence() *viewport.Sequence { return e.seq }

func (e *Engine) Runner() *solver.Runner { return e.runner }

// --- Linked selection ---

// SelectEmbedding reports a selection of embedding positions and returns the
// data points it mirrors to. ok is false when it echoes a previous mirror.
func (e *Engine) SelectEmbedding(positions []uint32) (points []uint32, ok bool) {
	return e.linker.Propagate(selection.Embedding, positions)
}

// SelectData reports a selection of data points and returns the embedding
// positions it mirrors to. ok is false when it echoes a previous mirror.
func (e *Engine) SelectData(points []uint32) (positions []uint32, ok bool) {
	return e.linker.Propagate(selection.Data, points)
}

// --- Visual budget ---

func (e *Engine) Budget() navigator.Budget {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.budget
}

// SetBudgetRange sets [min, max]. A range with max <= min is ignored.
func (e *Engine) SetBudgetRange(min, max int) {
	if max <= min {
		e.log.Warn("Ignoring visual budget range with max <= min", "min", min, "max", max)
		return
	}
	e.mu.Lock()
	e.budget.Min, e.budget.Max = min, max
	e.mu.Unlock()
}

// SetBudgetMin moves the window to start at min, keeping its width.
func (e *Engine) SetBudgetMin(min int) {
	e.mu.Lock()
	r := e.budget.Range()
	e.budget.Min, e.budget.Max = min, min+r
	e.mu.Unlock()
}

func (e *Engine) SetBudgetTarget(target int) {
	e.mu.Lock()
	e.budget.Target = target
	e.mu.Unlock()
}

func (e *Engine) SetBudgetMode(mode navigator.Mode) {
	e.mu.Lock()
	e.budget.Mode = mode
	e.mu.Unlock()
}

func (e *Engine) SetHeuristic(on bool) {
	e.mu.Lock()
	e.budget.Heuristic = on
	e.mu.Unlock()
}

// SetFixedScale keeps the current scale on later updates.
func (e *Engine) SetFixedScale(on bool) {
	e.mu.Lock()
	e.fixedScale = on
	e.mu.Unlock()
}

// SetInfluenceThreshold switches to threshold-based landmark lookups, or
// back to the bottom-up heuristic with navigator.HeuristicInfluence.
func (e *Engine) SetInfluenceThreshold(thresh float32) {
	e.mu.Lock()
	e.thresh = thresh
	e.mu.Unlock()
}

// --- Embedding scaling ---

// SetReferenceExtents sets the extents later embeddings are scaled towards.
func (e *Engine) SetReferenceExtents(ext continuity.Extents) {
	e.mu.Lock()
	e.refExt = ext
	e.mu.Unlock()
	e.log.Debug("Reference extents updated", "extents", ext.String())
}

// SetCurrentExtents overrides the extents of the active embedding.
func (e *Engine) SetCurrentExtents(ext continuity.Extents) {
	e.mu.Lock()
	e.curExt = ext
	e.mu.Unlock()
}

func (e *Engine) SetScalingMultiplier(m float32) {
	e.mu.Lock()
	e.multiplier = m
	e.mu.Unlock()
}

// ScalingFactors returns the factors applied to the active embedding when
// it seeds the next one.
func (e *Engine) ScalingFactors() continuity.Factors {
	e.mu.Lock()
	defer e.mu.Unlock()
	return continuity.ScalingFactors(e.refExt, e.curExt, e.multiplier)
}

// Close stops the solver and the update worker and closes the journal.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.closed)
		e.log.Info("Closing engine")
		e.runner.Stop()
		e.orch.Close()
		e.wg.Wait()
		// A late result may have restarted the solver.
		e.runner.Stop()
		err = e.seq.Close()
	})
	return err
}
