package hierarchy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sanonone/scalenav/pkg/core/graph"
	"github.com/sanonone/scalenav/pkg/metrics"
	"github.com/sanonone/scalenav/pkg/persistence"
)

// DefaultCacheSubdir is the directory, relative to the data directory, that
// holds hierarchy caches.
const DefaultCacheSubdir = "roi-hsne-cache"

// DefaultInfluenceThreshold is used by the threshold-based scale lookups.
const DefaultInfluenceThreshold = 0.5

var (
	// ErrCacheMiss indicates that at least one cache artefact is absent.
	ErrCacheMiss = errors.New("hierarchy cache miss")
	// ErrNotBuilt is returned by operations that need a hierarchy.
	ErrNotBuilt = errors.New("hierarchy not built")
)

// StoreOptions configures a Store.
type StoreOptions struct {
	// CacheDir holds the cache artefacts. Empty disables caching.
	CacheDir string
	// Builder computes hierarchies on cache misses.
	Builder Builder
	// Codec serialises the hierarchy artefact. Defaults to GobCodec.
	Codec       Codec
	Params      Params
	Parallelism Parallelism
	Logger      *slog.Logger
}

// CachePaths lists the artefacts of one analysis.
type CachePaths struct {
	Hierarchy    string
	TopDown      string
	BottomUp     string
	TransitionNN string
	Parameters   string
}

// NewCachePaths returns the artefact paths for name inside dir.
func NewCachePaths(dir, name string) CachePaths {
	base := filepath.Join(dir, sanitizeName(name))
	return CachePaths{
		Hierarchy:    base + "_hierarchy.hsne",
		TopDown:      base + "_influence-topdown.hsne",
		BottomUp:     base + "_influence-bottomup.hsne",
		TransitionNN: base + "_transitionNN.hsne",
		Parameters:   base + "_parameters.hsne",
	}
}

func (p CachePaths) all() []string {
	return []string{p.Hierarchy, p.TopDown, p.BottomUp, p.TransitionNN, p.Parameters}
}

func sanitizeName(name string) string {
	if name == "" {
		return "dataset"
	}
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, name)
}

// Store owns a hierarchy and everything derived from it.
//
// Build, Load, SetHierarchy and Clear replace the content and must not run
// concurrently with readers. Once built, the store is read-only and every
// accessor is safe for concurrent use.
type Store struct {
	opts   StoreOptions
	params Params
	log    *slog.Logger

	name        string
	fingerprint Fingerprint

	hierarchy    *Hierarchy
	influence    InfluenceMaps
	transitionNN []graph.LandmarkMap
	fromCache    bool
}

func NewStore(opts StoreOptions) *Store {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Codec == nil {
		opts.Codec = GobCodec{}
	}
	if opts.Parallelism == "" {
		opts.Parallelism = Parallel
	}
	return &Store{
		opts:   opts,
		params: opts.Params.Normalize(opts.Logger),
		log:    opts.Logger,
	}
}

// Params returns the normalised parameters.
func (s *Store) Params() Params { return s.params }

// Build loads the cache for data when a matching one exists and computes the
// hierarchy otherwise. Cache problems are logged and never returned.
func (s *Store) Build(ctx context.Context, data Dataset) error {
	if err := data.Validate(); err != nil {
		return err
	}
	s.name = data.Name
	s.fingerprint = NewFingerprint(data.Name, data.NumPoints, data.EnabledCount(), s.params)

	if s.opts.CacheDir != "" {
		err := s.Load()
		switch {
		case err == nil:
			metrics.CacheLookups.WithLabelValues("hit").Inc()
			s.log.Info("Loaded hierarchy from cache", "name", s.name, "dir", s.opts.CacheDir, "scales", s.NumScales())
			return nil
		case errors.Is(err, ErrCacheMiss):
			metrics.CacheLookups.WithLabelValues("miss").Inc()
		case errors.Is(err, ErrParamsMismatch):
			metrics.CacheLookups.WithLabelValues("mismatch").Inc()
		default:
			metrics.CacheLookups.WithLabelValues("error").Inc()
		}
		s.log.Info("No usable hierarchy cache, computing", "name", s.name, "reason", err)
	}

	if s.opts.Builder == nil {
		return fmt.Errorf("no hierarchy builder configured")
	}

	start := time.Now()
	h, err := s.opts.Builder.Initialize(ctx, data.Project(), data.NumPoints, data.EnabledCount(), s.params)
	if err != nil {
		return fmt.Errorf("failed to initialize hierarchy: %w", err)
	}
	for h.NumScales() < s.params.NumScales {
		before := h.NumScales()
		if err := s.opts.Builder.AddScale(ctx, h, s.params); err != nil {
			return fmt.Errorf("failed to add scale %d: %w", before, err)
		}
		if h.NumScales() != before+1 {
			return fmt.Errorf("builder added %d scales instead of one", h.NumScales()-before)
		}
		s.log.Info("Added scale", "scale", before, "landmarks", h.Scales[before].Size())
	}

	if err := s.SetHierarchy(ctx, h); err != nil {
		return err
	}
	metrics.HierarchyBuildDuration.Observe(time.Since(start).Seconds())

	if s.opts.CacheDir != "" {
		if err := s.Save(); err != nil {
			s.log.Error("Failed to write hierarchy cache", "dir", s.opts.CacheDir, "error", err)
		}
	}
	return nil
}

// SetHierarchy installs h and derives its influence maps and transition
// neighbours.
func (s *Store) SetHierarchy(ctx context.Context, h *Hierarchy) error {
	if err := h.Validate(); err != nil {
		return fmt.Errorf("invalid hierarchy: %w", err)
	}
	influence, err := ComputeInfluence(ctx, h, s.opts.Parallelism, s.log)
	if err != nil {
		return err
	}
	nn, err := ComputeTransitionNN(ctx, h, s.params.NumNeighbors, s.opts.Parallelism)
	if err != nil {
		return err
	}
	canonicalNested(influence.TopDown)
	canonicalNested(influence.BottomUp)
	canonicalNested(nn)

	s.hierarchy = h
	s.influence = influence
	s.transitionNN = nn
	s.fromCache = false
	return nil
}

// Save writes every artefact to the cache directory. The parameter record is
// written last so that an interrupted save is detected as a cache miss.
func (s *Store) Save() error {
	if s.hierarchy == nil {
		return ErrNotBuilt
	}
	if s.opts.CacheDir == "" {
		return fmt.Errorf("no cache directory configured")
	}
	if err := os.MkdirAll(s.opts.CacheDir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	paths := NewCachePaths(s.opts.CacheDir, s.name)

	var blob bytes.Buffer
	if err := s.opts.Codec.Encode(&blob, s.hierarchy); err != nil {
		return fmt.Errorf("failed to encode hierarchy: %w", err)
	}
	if err := persistence.WriteFileAtomic(paths.Hierarchy, persistence.OpHierarchy, blob.Bytes()); err != nil {
		return err
	}
	if err := persistence.WriteFileAtomic(paths.TopDown, persistence.OpInfluence, encodeNested(s.influence.TopDown)); err != nil {
		return err
	}
	if err := persistence.WriteFileAtomic(paths.BottomUp, persistence.OpInfluence, encodeNested(s.influence.BottomUp)); err != nil {
		return err
	}
	if err := persistence.WriteFileAtomic(paths.TransitionNN, persistence.OpNeighbors, encodeNested(s.transitionNN)); err != nil {
		return err
	}
	if err := s.fingerprint.Save(paths.Parameters); err != nil {
		return err
	}
	s.log.Info("Saved hierarchy cache", "name", s.name, "dir", s.opts.CacheDir)
	return nil
}

// Load restores every artefact from the cache directory. Any missing file
// yields ErrCacheMiss, a different parameter record ErrParamsMismatch.
func (s *Store) Load() error {
	if s.opts.CacheDir == "" {
		return fmt.Errorf("%w: no cache directory configured", ErrCacheMiss)
	}
	paths := NewCachePaths(s.opts.CacheDir, s.name)
	for _, p := range paths.all() {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("%w: %s", ErrCacheMiss, filepath.Base(p))
		}
	}
	if err := s.fingerprint.Check(paths.Parameters); err != nil {
		return err
	}

	blob, err := persistence.ReadFileFrame(paths.Hierarchy, persistence.OpHierarchy)
	if err != nil {
		return err
	}
	h, err := s.opts.Codec.Decode(bytes.NewReader(blob))
	if err != nil {
		return fmt.Errorf("failed to decode hierarchy: %w", err)
	}
	if err := h.Validate(); err != nil {
		return fmt.Errorf("cached hierarchy invalid: %w", err)
	}

	topDown, err := readNested(paths.TopDown, persistence.OpInfluence)
	if err != nil {
		return err
	}
	bottomUp, err := readNested(paths.BottomUp, persistence.OpInfluence)
	if err != nil {
		return err
	}
	nn, err := readNested(paths.TransitionNN, persistence.OpNeighbors)
	if err != nil {
		return err
	}
	if err := checkShapes(h, topDown, bottomUp, nn); err != nil {
		return err
	}

	s.hierarchy = h
	s.influence = InfluenceMaps{TopDown: topDown, BottomUp: bottomUp}
	s.transitionNN = nn
	s.fromCache = true
	return nil
}

func readNested(path string, op persistence.OpCode) ([]graph.LandmarkMap, error) {
	payload, err := persistence.ReadFileFrame(path, op)
	if err != nil {
		return nil, err
	}
	levels, err := decodeNested(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return levels, nil
}

func checkShapes(h *Hierarchy, topDown, bottomUp, nn []graph.LandmarkMap) error {
	n := h.NumScales()
	if len(topDown) != n || len(bottomUp) != n || len(nn) != n {
		return fmt.Errorf("cached maps cover %d/%d/%d scales, hierarchy has %d", len(topDown), len(bottomUp), len(nn), n)
	}
	for level := 0; level < n; level++ {
		size := h.Scales[level].Size()
		if len(topDown[level]) != size || len(nn[level]) != size {
			return fmt.Errorf("scale %d: cached maps do not match %d landmarks", level, size)
		}
		if len(bottomUp[level]) != h.NumPoints() {
			return fmt.Errorf("scale %d: bottom-up map has %d entries for %d points", level, len(bottomUp[level]), h.NumPoints())
		}
	}
	return nil
}

// Clear drops the in-memory content. Cache files are left untouched.
func (s *Store) Clear() {
	s.hierarchy = nil
	s.influence = InfluenceMaps{}
	s.transitionNN = nil
	s.fromCache = false
}

// --- Accessors ---

func (s *Store) Name() string             { return s.name }
func (s *Store) Hierarchy() *Hierarchy    { return s.hierarchy }
func (s *Store) Influence() InfluenceMaps { return s.influence }
func (s *Store) LoadedFromCache() bool    { return s.fromCache }

// Built reports whether a hierarchy is installed.
func (s *Store) Built() bool { return s.hierarchy != nil }

func (s *Store) NumScales() int {
	if s.hierarchy == nil {
		return 0
	}
	return s.hierarchy.NumScales()
}

func (s *Store) TopScale() int { return s.NumScales() - 1 }

func (s *Store) NumPoints() int {
	if s.hierarchy == nil {
		return 0
	}
	return s.hierarchy.NumPoints()
}

// Scale returns the scale at level. It panics on an invalid level like any
// out-of-range index.
func (s *Store) Scale(level int) *Scale { return &s.hierarchy.Scales[level] }

func (s *Store) TopDown(level int) graph.LandmarkMap  { return s.influence.TopDown[level] }
func (s *Store) BottomUp(level int) graph.LandmarkMap { return s.influence.BottomUp[level] }

// TransitionNN returns the transition neighbours of every landmark on level.
func (s *Store) TransitionNN(level int) graph.LandmarkMap { return s.transitionNN[level] }

// TransitionNNs returns the transition neighbours of all scales.
func (s *Store) TransitionNNs() []graph.LandmarkMap { return s.transitionNN }

// --- Queries ---

// TransitionGraphSubset returns the graph induced by ids on level together
// with the ids that survived degree pruning.
func (s *Store) TransitionGraphSubset(level int, ids []uint32, minDegree int, weightThreshold float32) (graph.Sparse, []uint32) {
	return graph.InducedSubgraph(s.Scale(level).Transition, ids, graph.SubgraphOptions{
		MinDegree:       minDegree,
		WeightThreshold: weightThreshold,
	})
}

// LocalIDsInCoarserScale returns the landmarks of level+1 whose accumulated
// influence on ids exceeds thresh, in ascending order.
func (s *Store) LocalIDsInCoarserScale(level int, ids []uint32, thresh float32) []uint32 {
	return idsAbove(s.hierarchy.InfluencingLandmarksInNextScale(level, ids), thresh)
}

// LocalIDsInRefinedScale returns the landmarks of level-1 that ids influence
// by more than thresh, in ascending order.
func (s *Store) LocalIDsInRefinedScale(level int, ids []uint32, thresh float32) []uint32 {
	return idsAbove(s.hierarchy.InfluencedLandmarksInPreviousScale(level, ids), thresh)
}

// SelectionMaps links the embedding positions of ids on level with data
// points: localToBottom[pos] lists the data points represented by the
// landmark at pos, bottomToLocal[point] is that position or graph.Unmapped.
func (s *Store) SelectionMaps(level int, ids []uint32) (graph.LandmarkMap, graph.LandmarkMapSingle) {
	topDown := s.influence.TopDown[level]
	localToBottom := make(graph.LandmarkMap, len(ids))
	bottomToLocal := graph.NewLandmarkMapSingle(s.NumPoints())
	for pos, id := range ids {
		points := topDown[id]
		localToBottom[pos] = points
		for _, p := range points {
			bottomToLocal[p] = uint32(pos)
		}
	}
	return localToBottom, bottomToLocal
}

// ROIRepresentation returns, for every landmark of ids on level, the share of
// its top-down data points for which inROI holds. Data-scale landmarks
// represent only themselves and always score 1.
func (s *Store) ROIRepresentation(level int, ids []uint32, inROI func(point uint32) bool) []float32 {
	out := make([]float32, len(ids))
	if level == 0 {
		for i := range out {
			out[i] = 1
		}
		return out
	}
	topDown := s.influence.TopDown[level]
	for i, id := range ids {
		points := topDown[id]
		if len(points) == 0 {
			continue
		}
		inside := 0
		for _, p := range points {
			if inROI(p) {
				inside++
			}
		}
		out[i] = float32(inside) / float32(len(points))
	}
	return out
}
