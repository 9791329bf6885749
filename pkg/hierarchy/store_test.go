package hierarchy_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"slices"
	"testing"

	"github.com/sanonone/scalenav/pkg/core/graph"
	"github.com/sanonone/scalenav/pkg/hierarchy"
	"github.com/sanonone/scalenav/pkg/hierarchy/hierarchytest"
)

func newStore(dir string, b hierarchy.Builder) *hierarchy.Store {
	p := hierarchy.DefaultParams()
	p.NumScales = hierarchytest.NumScales
	return hierarchy.NewStore(hierarchy.StoreOptions{
		CacheDir: dir,
		Builder:  b,
		Params:   p,
	})
}

func readAll(t *testing.T, paths hierarchy.CachePaths) [][]byte {
	t.Helper()
	var out [][]byte
	for _, p := range []string{paths.Hierarchy, paths.TopDown, paths.BottomUp, paths.TransitionNN, paths.Parameters} {
		data, err := os.ReadFile(p)
		if err != nil {
			t.Fatalf("Failed to read cache artefact: %v", err)
		}
		out = append(out, data)
	}
	return out
}

func TestStoreBuildAndCache(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	data := hierarchytest.Dataset("grid")

	b := &hierarchytest.Builder{}
	s := newStore(dir, b)
	if err := s.Build(ctx, data); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if s.NumScales() != 3 || s.TopScale() != 2 || s.NumPoints() != hierarchytest.NumPoints {
		t.Fatalf("Unexpected shape: scales=%d top=%d points=%d", s.NumScales(), s.TopScale(), s.NumPoints())
	}
	if b.Initializations.Load() != 1 || b.Additions.Load() != 2 {
		t.Errorf("Expected 1 initialization and 2 additions, got %d and %d", b.Initializations.Load(), b.Additions.Load())
	}
	if s.LoadedFromCache() {
		t.Error("First build should not come from cache")
	}

	paths := hierarchy.NewCachePaths(dir, "grid")
	first := readAll(t, paths)

	t.Run("SecondBuildLoadsCache", func(t *testing.T) {
		b2 := &hierarchytest.Builder{}
		s2 := newStore(dir, b2)
		if err := s2.Build(ctx, data); err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		if !s2.LoadedFromCache() {
			t.Fatal("Expected cache hit")
		}
		if b2.Initializations.Load() != 0 {
			t.Error("Builder should not run on a cache hit")
		}
		for level := 0; level < 3; level++ {
			if !equalMaps(s.TopDown(level), s2.TopDown(level)) || !equalMaps(s.BottomUp(level), s2.BottomUp(level)) {
				t.Errorf("Influence maps differ at scale %d", level)
			}
			if !equalMaps(s.TransitionNN(level), s2.TransitionNN(level)) {
				t.Errorf("Transition neighbours differ at scale %d", level)
			}
		}

		// Re-saving the loaded content reproduces the artefacts byte for byte.
		if err := s2.Save(); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		second := readAll(t, paths)
		for i := range first {
			if !bytes.Equal(first[i], second[i]) {
				t.Errorf("Artefact %d changed after load and save", i)
			}
		}
	})

	t.Run("DimensionMismatchRebuilds", func(t *testing.T) {
		three := hierarchy.Dataset{
			Name:      "grid",
			Values:    make([]float32, hierarchytest.NumPoints*3),
			NumPoints: hierarchytest.NumPoints,
			NumDims:   3,
		}
		b3 := &hierarchytest.Builder{}
		s3 := newStore(dir, b3)
		if err := s3.Build(ctx, three); err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		if s3.LoadedFromCache() || b3.Initializations.Load() != 1 {
			t.Error("A different dimension count must trigger a rebuild")
		}

		fp := hierarchy.NewFingerprint("grid", hierarchytest.NumPoints, 2, s3.Params())
		err := fp.Check(paths.Parameters)
		if !errors.Is(err, hierarchy.ErrParamsMismatch) {
			t.Errorf("Expected ErrParamsMismatch for the old fingerprint, got %v", err)
		}
	})

	t.Run("MissingArtefactIsMiss", func(t *testing.T) {
		if err := os.Remove(paths.TransitionNN); err != nil {
			t.Fatal(err)
		}
		b4 := &hierarchytest.Builder{}
		s4 := newStore(dir, b4)
		if err := s4.Build(ctx, data); err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		if s4.LoadedFromCache() || b4.Initializations.Load() != 1 {
			t.Error("A missing artefact must trigger a rebuild")
		}
		if err := os.Remove(paths.TopDown); err != nil {
			t.Fatal(err)
		}
		if err := s4.Load(); !errors.Is(err, hierarchy.ErrCacheMiss) {
			t.Errorf("Expected ErrCacheMiss, got %v", err)
		}
	})
}

func TestStoreWithoutCacheDir(t *testing.T) {
	b := &hierarchytest.Builder{}
	s := newStore("", b)
	if err := s.Build(context.Background(), hierarchytest.Dataset("nocache")); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !s.Built() {
		t.Fatal("Expected a built store")
	}
	if err := s.Save(); err == nil {
		t.Error("Save without cache directory should fail")
	}
	s.Clear()
	if s.Built() || s.NumScales() != 0 {
		t.Error("Clear should drop the hierarchy")
	}
}

func equalMaps(a, b graph.LandmarkMap) bool {
	return slices.EqualFunc(a, b, func(x, y []uint32) bool { return slices.Equal(x, y) })
}

func builtStore(t *testing.T) *hierarchy.Store {
	t.Helper()
	s := newStore("", nil)
	if err := s.SetHierarchy(context.Background(), hierarchytest.Hierarchy(3)); err != nil {
		t.Fatalf("SetHierarchy failed: %v", err)
	}
	return s
}

func TestInfluenceMaps(t *testing.T) {
	s := builtStore(t)

	for i := uint32(0); i < hierarchytest.NumPoints; i += 97 {
		if got := s.TopDown(0)[i]; !slices.Equal(got, []uint32{i}) {
			t.Errorf("Scale 0 top-down of %d: got %v", i, got)
		}
		if got := s.BottomUp(1)[i]; !slices.Equal(got, []uint32{i / 10}) {
			t.Errorf("Scale 1 bottom-up of %d: got %v", i, got)
		}
		if got := s.BottomUp(2)[i]; !slices.Equal(got, []uint32{i / 100}) {
			t.Errorf("Scale 2 bottom-up of %d: got %v", i, got)
		}
	}
	if got := s.TopDown(1)[7]; !slices.Equal(got, hierarchytest.Range(70, 80)) {
		t.Errorf("Scale 1 top-down of 7: got %v", got)
	}
	if got := s.TopDown(2)[3]; !slices.Equal(got, hierarchytest.Range(300, 400)) {
		t.Errorf("Scale 2 top-down of 3: got %d points", len(got))
	}
	if got := s.TransitionNN(1)[5]; !slices.Equal(got, []uint32{4, 6}) {
		t.Errorf("Transition neighbours of 5: got %v", got)
	}
}

func TestInfluenceRetriesAndGaps(t *testing.T) {
	// 4 points, 2 landmarks; every influence is below the first threshold.
	h := &hierarchy.Hierarchy{Scales: []hierarchy.Scale{
		{
			LandmarkToOriginal: []uint32{0, 1, 2, 3},
			Transition:         graph.NewSparse(4),
		},
		{
			LandmarkToOriginal: []uint32{0, 2},
			LandmarkToPrevious: []uint32{0, 2},
			Transition:         graph.NewSparse(2),
			AreaOfInfluence: graph.Sparse{
				{{To: 0, Weight: 0.005}},
				{{To: 0, Weight: 0.004}, {To: 1, Weight: 0.003}},
				{{To: 1, Weight: 0.005}},
				{},
			},
		},
	}}

	maps, err := hierarchy.ComputeInfluence(context.Background(), h, hierarchy.Sequential, nil)
	if err != nil {
		t.Fatalf("ComputeInfluence failed: %v", err)
	}
	want := [][]uint32{{0}, {0}, {1}, nil}
	for i, w := range want {
		if got := maps.BottomUp[1][i]; !slices.Equal(got, w) {
			t.Errorf("Point %d: expected %v, got %v", i, w, got)
		}
	}
	if !slices.Equal(maps.TopDown[1][0], []uint32{0, 1}) || !slices.Equal(maps.TopDown[1][1], []uint32{2}) {
		t.Errorf("Unexpected top-down map %v", maps.TopDown[1])
	}
}

func TestScaleQueries(t *testing.T) {
	s := builtStore(t)

	t.Run("Coarser", func(t *testing.T) {
		ids := hierarchytest.Range(0, 25)
		if got := s.LocalIDsInCoarserScale(0, ids, 0.5); !slices.Equal(got, []uint32{0, 1, 2}) {
			t.Errorf("Threshold 0.5: got %v", got)
		}
		if got := s.LocalIDsInCoarserScale(0, ids, 5.5); !slices.Equal(got, []uint32{0, 1}) {
			t.Errorf("Threshold 5.5: got %v", got)
		}
		if got := s.LocalIDsInCoarserScale(2, ids, 0.5); len(got) != 0 {
			t.Errorf("Top scale has no coarser scale, got %v", got)
		}
	})

	t.Run("Refined", func(t *testing.T) {
		if got := s.LocalIDsInRefinedScale(1, []uint32{0, 1}, 0.5); !slices.Equal(got, hierarchytest.Range(0, 20)) {
			t.Errorf("Got %v", got)
		}
		if got := s.LocalIDsInRefinedScale(0, []uint32{0}, 0.5); len(got) != 0 {
			t.Errorf("Data scale has no refined scale, got %v", got)
		}
	})

	t.Run("SelectionMaps", func(t *testing.T) {
		localToBottom, bottomToLocal := s.SelectionMaps(1, []uint32{3, 5})
		if !slices.Equal(localToBottom[0], hierarchytest.Range(30, 40)) {
			t.Errorf("Position 0: got %v", localToBottom[0])
		}
		if bottomToLocal[55] != 1 || bottomToLocal[31] != 0 {
			t.Errorf("Unexpected positions %d and %d", bottomToLocal[55], bottomToLocal[31])
		}
		if bottomToLocal[0] != graph.Unmapped {
			t.Errorf("Point 0 should be unmapped, got %d", bottomToLocal[0])
		}
	})

	t.Run("ROIRepresentation", func(t *testing.T) {
		inROI := func(p uint32) bool { return p < 5 }
		if got := s.ROIRepresentation(1, []uint32{0, 1}, inROI); got[0] != 0.5 || got[1] != 0 {
			t.Errorf("Got %v", got)
		}
		if got := s.ROIRepresentation(0, []uint32{900}, inROI); got[0] != 1 {
			t.Errorf("Data scale landmarks always score 1, got %v", got)
		}
	})

	t.Run("TransitionGraphSubset", func(t *testing.T) {
		sub, kept := s.TransitionGraphSubset(1, []uint32{0, 1, 2, 50}, 1, 0)
		if !slices.Equal(kept, []uint32{0, 1, 2}) {
			t.Fatalf("Isolated landmark should be pruned, kept %v", kept)
		}
		if sub.NumVertices() != 3 || sub.Weight(0, 1) == 0 {
			t.Errorf("Unexpected subgraph %v", sub)
		}
	})
}
