// Package orchestrator runs scale updates on a single dedicated worker.
//
// An update turns a region of interest into a new embedding set-up: it
// selects the scale and landmarks with the navigator, extracts their
// transition graph, and derives initial coordinates from the previous
// embedding. At most one update is in flight; a request arriving while the
// worker is busy is rejected rather than queued.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sanonone/scalenav/pkg/continuity"
	"github.com/sanonone/scalenav/pkg/core/graph"
	"github.com/sanonone/scalenav/pkg/hierarchy"
	"github.com/sanonone/scalenav/pkg/metrics"
	"github.com/sanonone/scalenav/pkg/navigator"
	"github.com/sanonone/scalenav/pkg/selection"
	"github.com/sanonone/scalenav/pkg/viewport"
)

var (
	ErrBusy   = errors.New("scale update already running")
	ErrClosed = errors.New("orchestrator closed")
)

// Reason explains why an update was not started.
type Reason int

const (
	IsRunning Reason = iota
	RoiNotGoodForUpdate
	UpdatesPaused
	LevelOutOfRange
)

func (r Reason) String() string {
	switch r {
	case IsRunning:
		return "ISRUNNING"
	case RoiNotGoodForUpdate:
		return "ROINOTGOODFORUPDATE"
	case UpdatesPaused:
		return "UPDATESPAUSED"
	case LevelOutOfRange:
		return "LEVELOUTOFRANGE"
	}
	return fmt.Sprintf("Reason(%d)", int(r))
}

// Request is one scale update.
type Request struct {
	ROI                viewport.ROI
	Budget             navigator.Budget
	FixedScale         bool
	InfluenceThreshold float32
	Direction          navigator.Direction
	MinDegree          int

	// Embedding holds the coordinates of the current embedding, laid out
	// like the committed IDMap positions.
	Embedding       []float32
	Scaling         continuity.Factors
	PreviousExtents continuity.Extents
}

// Result is the outcome of an update. On success Graph and Init are handed
// to the embedding solver together.
type Result struct {
	ID            string
	Success       bool
	Err           error
	Level         int
	PreviousLevel int
	NumVisible    int

	Landmarks         []uint32
	Graph             graph.Sparse
	Init              []float32
	Provenance        []continuity.Provenance
	IDMap             continuity.IDMap
	Selection         selection.Maps
	ROIRepresentation []float32
	Duration          time.Duration
}

// State is the committed outcome of the latest successful update. It is
// replaced, never mutated.
type State struct {
	Level     int
	Landmarks []uint32
	IDMap     continuity.IDMap
	Selection selection.Maps
}

type Config struct {
	Grid   viewport.Grid
	Logger *slog.Logger
	// Seed drives random placement of new landmarks.
	Seed int64
	// Analysis labels metrics.
	Analysis string

	OnStarted            func(id string)
	OnScaleLevelComputed func(id string, level int)
	OnFinished           func(Result)
	OnNoUpdate           func(Reason)
}

type job struct {
	req Request
	out chan Result
}

// Orchestrator owns the navigator and continuity state of one analysis. The
// hierarchy store is shared read-only.
type Orchestrator struct {
	store *hierarchy.Store
	nav   *navigator.Navigator
	cfg   Config
	log   *slog.Logger

	busy  atomic.Bool
	state atomic.Pointer[State]
	jobs  chan job

	// rng is only used by the worker goroutine and InitTopLevel.
	rng *rand.Rand

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New starts the worker. The store must be built.
func New(store *hierarchy.Store, cfg Config) (*Orchestrator, error) {
	if !store.Built() {
		return nil, hierarchy.ErrNotBuilt
	}
	if err := cfg.Grid.Validate(); err != nil {
		return nil, err
	}
	if cfg.Grid.NumPixels() != store.NumPoints() {
		return nil, fmt.Errorf("grid has %d pixels for %d data points", cfg.Grid.NumPixels(), store.NumPoints())
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	o := &Orchestrator{
		store:  store,
		nav:    navigator.New(store, cfg.Logger),
		cfg:    cfg,
		log:    cfg.Logger,
		jobs:   make(chan job),
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		closed: make(chan struct{}),
	}
	o.state.Store(&State{IDMap: continuity.IDMap{}})

	o.wg.Add(1)
	go o.worker()
	return o, nil
}

// IsBusy reports whether an update is in flight.
func (o *Orchestrator) IsBusy() bool { return o.busy.Load() }

// State returns the committed state.
func (o *Orchestrator) State() *State { return o.state.Load() }

// Navigator exposes the navigator used by the worker.
func (o *Orchestrator) Navigator() *navigator.Navigator { return o.nav }

// Reject reports an update that was not started.
func (o *Orchestrator) Reject(reason Reason) {
	metrics.NoUpdatesTotal.WithLabelValues(reason.String()).Inc()
	o.log.Debug("No scale update", "reason", reason)
	if o.cfg.OnNoUpdate != nil {
		o.cfg.OnNoUpdate(reason)
	}
}

// RequestUpdate hands req to the worker. It fails with ErrBusy, after
// reporting IsRunning, when an update is already in flight. The returned
// channel receives exactly one Result.
func (o *Orchestrator) RequestUpdate(ctx context.Context, req Request) (<-chan Result, error) {
	select {
	case <-o.closed:
		return nil, ErrClosed
	default:
	}
	if !o.busy.CompareAndSwap(false, true) {
		o.Reject(IsRunning)
		return nil, ErrBusy
	}

	out := make(chan Result, 1)
	select {
	case o.jobs <- job{req: req, out: out}:
		return out, nil
	case <-ctx.Done():
		o.busy.Store(false)
		return nil, ctx.Err()
	case <-o.closed:
		o.busy.Store(false)
		return nil, ErrClosed
	}
}

// Close stops the worker after the update in flight, if any, has finished.
func (o *Orchestrator) Close() error {
	o.closeOnce.Do(func() {
		close(o.closed)
		o.wg.Wait()
	})
	return nil
}

func (o *Orchestrator) worker() {
	defer o.wg.Done()
	for {
		select {
		case j := <-o.jobs:
			res := o.update(j.req)
			o.busy.Store(false)
			j.out <- res
			if o.cfg.OnFinished != nil {
				o.cfg.OnFinished(res)
			}
		case <-o.closed:
			return
		}
	}
}

func (o *Orchestrator) update(req Request) Result {
	start := time.Now()
	id := uuid.NewString()
	cur := o.state.Load()
	res := Result{ID: id, PreviousLevel: cur.Level}

	if o.cfg.OnStarted != nil {
		o.cfg.OnStarted(id)
	}

	visible := o.cfg.Grid.ExtractIDs(req.ROI)
	res.NumVisible = len(visible)

	sel, err := o.nav.Select(navigator.Request{
		Visible:            visible,
		Budget:             req.Budget,
		InfluenceThreshold: req.InfluenceThreshold,
		Direction:          req.Direction,
		FixedScale:         req.FixedScale,
		CurrentLevel:       cur.Level,
	})
	if err != nil {
		res.Err = err
		res.Level = cur.Level
		if errors.Is(err, navigator.ErrLevelOutOfRange) {
			o.Reject(LevelOutOfRange)
		}
		metrics.UpdatesTotal.WithLabelValues("failure").Inc()
		o.log.Warn("Scale update failed", "update", id, "error", err)
		return res
	}

	if o.cfg.OnScaleLevelComputed != nil {
		o.cfg.OnScaleLevelComputed(id, sel.Level)
	}

	res = o.assemble(res, sel.Level, sel.Landmarks, req, cur)
	o.commit(res)

	res.Duration = time.Since(start)
	metrics.UpdatesTotal.WithLabelValues("success").Inc()
	metrics.UpdateDuration.Observe(res.Duration.Seconds())
	o.log.Info("Scale update finished",
		"update", id,
		"scale", res.Level,
		"previous_scale", res.PreviousLevel,
		"landmarks", len(res.Landmarks),
		"visible", res.NumVisible,
		"duration", res.Duration)
	return res
}

// assemble builds everything the solver and the caller need for landmarks
// on level.
func (o *Orchestrator) assemble(res Result, level int, landmarks []uint32, req Request, cur *State) Result {
	g, kept := o.store.TransitionGraphSubset(level, landmarks, req.MinDegree, 0)
	if len(kept) != len(landmarks) {
		o.log.Info("Removed weakly connected landmarks", "removed", len(landmarks)-len(kept), "min_degree", req.MinDegree)
	}

	roi := req.ROI
	rep := o.store.ROIRepresentation(level, kept, func(p uint32) bool { return o.cfg.Grid.PixelInROI(roi, p) })

	old := cur.IDMap
	prev := req.Embedding
	if len(prev) < 2*len(old) {
		o.log.Warn("Previous embedding does not match the committed landmarks, ignoring it", "coords", len(prev), "landmarks", len(old))
		old, prev = continuity.IDMap{}, nil
	}
	rescaled, ext := continuity.Rescale(prev, req.Scaling, req.PreviousExtents)
	if !ext.Valid() {
		ext = continuity.Extents{XMin: -1, XMax: 1, YMin: -1, YMax: 1}
	}

	scale := o.store.Scale(level)
	layout := continuity.Layout{LandmarkToOriginal: scale.LandmarkToOriginal, Neighbors: o.store.TransitionNN(level)}
	init, tags := continuity.Reinitialize(layout, rescaled, old, ext, kept, o.rng)
	counts := continuity.CountProvenance(tags)
	metrics.InitProvenance.WithLabelValues("previous").Add(float64(counts.Previous))
	metrics.InitProvenance.WithLabelValues("interpolated").Add(float64(counts.Interpolated))
	metrics.InitProvenance.WithLabelValues("random").Add(float64(counts.Random))
	o.log.Debug("Initial embedding", "previous", counts.Previous, "interpolated", counts.Interpolated, "random", counts.Random)

	localToBottom, bottomToLocal := o.store.SelectionMaps(level, kept)

	res.Success = true
	res.Level = level
	res.Landmarks = kept
	res.Graph = g
	res.Init = init
	res.Provenance = tags
	res.IDMap = continuity.RecomputeIDMap(scale.LandmarkToOriginal, kept)
	res.Selection = selection.Maps{LocalToBottom: localToBottom, BottomToLocal: bottomToLocal}
	res.ROIRepresentation = rep
	return res
}

func (o *Orchestrator) commit(res Result) {
	o.state.Store(&State{
		Level:     res.Level,
		Landmarks: res.Landmarks,
		IDMap:     res.IDMap,
		Selection: res.Selection,
	})
	metrics.LandmarksSelected.WithLabelValues(o.cfg.Analysis).Set(float64(len(res.Landmarks)))
	metrics.ScaleLevel.WithLabelValues(o.cfg.Analysis).Set(float64(res.Level))
}

// InitTopLevel commits an embedding of every top-scale landmark. It must
// not run concurrently with an update.
func (o *Orchestrator) InitTopLevel(minDegree int) (Result, error) {
	if !o.busy.CompareAndSwap(false, true) {
		return Result{}, ErrBusy
	}
	defer o.busy.Store(false)

	top := o.store.TopScale()
	n := o.store.Scale(top).Size()
	all := make([]uint32, n)
	for i := range all {
		all[i] = uint32(i)
	}

	res := Result{ID: uuid.NewString(), PreviousLevel: top, NumVisible: o.store.NumPoints()}
	res = o.assemble(res, top, all, Request{
		ROI:       viewport.FullImage(o.cfg.Grid.Width, o.cfg.Grid.Height),
		MinDegree: minDegree,
		Scaling:   continuity.Factors{X: 1, Y: 1},
	}, &State{IDMap: continuity.IDMap{}})
	o.commit(res)
	o.log.Info("Initialized top-level embedding", "scale", top, "landmarks", len(res.Landmarks))
	return res, nil
}
