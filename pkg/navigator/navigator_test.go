package navigator_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/sanonone/scalenav/pkg/hierarchy"
	"github.com/sanonone/scalenav/pkg/hierarchy/hierarchytest"
	"github.com/sanonone/scalenav/pkg/navigator"
)

func newNavigator(t *testing.T) *navigator.Navigator {
	t.Helper()
	s := hierarchy.NewStore(hierarchy.StoreOptions{Params: hierarchy.DefaultParams()})
	if err := s.SetHierarchy(context.Background(), hierarchytest.Hierarchy(3)); err != nil {
		t.Fatalf("SetHierarchy failed: %v", err)
	}
	return navigator.New(s, nil)
}

func target(n int, heuristic bool) navigator.Budget {
	return navigator.Budget{Target: n, Mode: navigator.ModeTarget, Heuristic: heuristic}
}

func TestTargetBudget(t *testing.T) {
	nav := newNavigator(t)
	all := hierarchytest.Range(0, hierarchytest.NumPoints)

	tests := []struct {
		name      string
		visible   []uint32
		budget    navigator.Budget
		thresh    float32
		wantLevel int
		wantCount int
	}{
		// The downward walk stops at the top scale when everything is visible:
		// its 10 landmarks beat the 100 of scale 1 since |10-50| < |100-50|.
		{"FullViewStaysOnTop", all, target(50, true), navigator.HeuristicInfluence, 2, 10},
		// Down: 6 landmarks on scale 2, then 60 on scale 1; 60 is closer to 50.
		{"DownwardKeepsCloserFinal", hierarchytest.Range(0, 600), target(50, true), navigator.HeuristicInfluence, 1, 60},
		// Down: 6 on scale 2, then 60 on scale 1; 6 is closer to 20.
		{"DownwardSwapsToPrevious", hierarchytest.Range(0, 600), target(20, true), navigator.HeuristicInfluence, 2, 6},
		// Up from scale 1: 10 landmarks, then 1 on scale 2; 1 is closer to 5.
		{"UpwardKeepsFinal", hierarchytest.Range(0, 100), target(5, true), navigator.HeuristicInfluence, 2, 1},
		// Up: 10 is closer to 8 than 1 is.
		{"UpwardSwapsToPrevious", hierarchytest.Range(0, 100), target(8, false), navigator.HeuristicInfluence, 1, 10},
		{"ThresholdPath", hierarchytest.Range(0, 100), target(8, false), 0.5, 1, 10},
		{"SmallSelectionStaysOnData", hierarchytest.Range(0, 30), target(50, false), navigator.HeuristicInfluence, 0, 30},
		{"NothingVisible", nil, target(50, true), navigator.HeuristicInfluence, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := nav.Select(navigator.Request{
				Visible:            tt.visible,
				Budget:             tt.budget,
				InfluenceThreshold: tt.thresh,
			})
			if err != nil {
				t.Fatalf("Select failed: %v", err)
			}
			if res.Level != tt.wantLevel || len(res.Landmarks) != tt.wantCount {
				t.Errorf("Expected scale %d with %d landmarks, got scale %d with %d", tt.wantLevel, tt.wantCount, res.Level, len(res.Landmarks))
			}
			if !slices.IsSorted(res.Landmarks) {
				t.Errorf("Landmarks not sorted: %v", res.Landmarks)
			}
		})
	}
}

func TestRangeBudget(t *testing.T) {
	nav := newNavigator(t)
	roi := hierarchytest.Range(0, 600)

	for _, tt := range []struct {
		max, wantLevel int
	}{
		{100, 1},
		{50, 2},
		{1000, 0},
	} {
		res, err := nav.Select(navigator.Request{
			Visible:            roi,
			Budget:             navigator.Budget{Max: tt.max, Mode: navigator.ModeRange},
			InfluenceThreshold: navigator.HeuristicInfluence,
		})
		if err != nil {
			t.Fatal(err)
		}
		if res.Level != tt.wantLevel {
			t.Errorf("Max %d: expected scale %d, got %d", tt.max, tt.wantLevel, res.Level)
		}
	}

	// Threshold propagation reaches the same scale.
	res, _ := nav.Select(navigator.Request{
		Visible:            roi,
		Budget:             navigator.Budget{Max: 50, Mode: navigator.ModeRange},
		InfluenceThreshold: 0.5,
	})
	if res.Level != 2 || !slices.Equal(res.Landmarks, hierarchytest.Range(0, 6)) {
		t.Errorf("Threshold path: got scale %d with %v", res.Level, res.Landmarks)
	}
}

func TestSelectTopDown(t *testing.T) {
	nav := newNavigator(t)
	all := hierarchytest.Range(0, hierarchytest.NumPoints)
	h := navigator.HeuristicInfluence

	if res := nav.SelectTopDown(all, navigator.Budget{Min: 5, Max: 20, Heuristic: true}, h); res.Level != 2 {
		t.Errorf("Expected top scale inside range, got %d", res.Level)
	}
	if res := nav.SelectTopDown(all, navigator.Budget{Min: 50, Max: 200, Heuristic: true}, h); res.Level != 1 || len(res.Landmarks) != 100 {
		t.Errorf("Expected scale 1 with 100 landmarks, got %d with %d", res.Level, len(res.Landmarks))
	}
	// Without the heuristic the walk overshoots to the data scale and steps back.
	if res := nav.SelectTopDown(all, navigator.Budget{Min: 50, Max: 200}, h); res.Level != 1 || len(res.Landmarks) != 100 {
		t.Errorf("Expected step back to scale 1, got %d with %d", res.Level, len(res.Landmarks))
	}
	// The top scale is kept even when it exceeds the budget.
	if res := nav.SelectTopDown(all, navigator.Budget{Min: 1, Max: 5}, h); res.Level != 2 {
		t.Errorf("Expected top scale, got %d", res.Level)
	}
}

func TestExplicitDirection(t *testing.T) {
	nav := newNavigator(t)
	visible := hierarchytest.Range(0, 300)

	up, err := nav.Select(navigator.Request{Visible: visible, Direction: navigator.Up, CurrentLevel: 1})
	if err != nil {
		t.Fatalf("Up failed: %v", err)
	}
	if up.Level != 2 || !slices.Equal(up.Landmarks, []uint32{0, 1, 2}) {
		t.Errorf("Up: got scale %d with %v", up.Level, up.Landmarks)
	}

	down, err := nav.Select(navigator.Request{Visible: visible, Direction: navigator.Down, CurrentLevel: up.Level})
	if err != nil {
		t.Fatalf("Down failed: %v", err)
	}
	if down.Level != 1 || len(down.Landmarks) != 30 {
		t.Errorf("Down: got scale %d with %d landmarks", down.Level, len(down.Landmarks))
	}

	if _, err := nav.Select(navigator.Request{Visible: visible, Direction: navigator.Up, CurrentLevel: 2}); !errors.Is(err, navigator.ErrLevelOutOfRange) {
		t.Errorf("Up from top: expected ErrLevelOutOfRange, got %v", err)
	}
	if _, err := nav.Select(navigator.Request{Visible: visible, Direction: navigator.Down, CurrentLevel: 0}); !errors.Is(err, navigator.ErrLevelOutOfRange) {
		t.Errorf("Down from data scale: expected ErrLevelOutOfRange, got %v", err)
	}
}

func TestFixedScale(t *testing.T) {
	nav := newNavigator(t)
	visible := hierarchytest.Range(0, 26)

	for _, thresh := range []float32{navigator.HeuristicInfluence, 0.5} {
		res, err := nav.Select(navigator.Request{Visible: visible, FixedScale: true, CurrentLevel: 1, InfluenceThreshold: thresh})
		if err != nil {
			t.Fatal(err)
		}
		if res.Level != 1 || !slices.Equal(res.Landmarks, []uint32{0, 1, 2}) {
			t.Errorf("Threshold %v: got scale %d with %v", thresh, res.Level, res.Landmarks)
		}
	}

	res, err := nav.Select(navigator.Request{Visible: visible, FixedScale: true, CurrentLevel: 7, InfluenceThreshold: navigator.HeuristicInfluence})
	if err != nil {
		t.Fatal(err)
	}
	if res.Level != 2 {
		t.Errorf("Expected level clamped to 2, got %d", res.Level)
	}
}

func TestRefinedLookups(t *testing.T) {
	nav := newNavigator(t)

	ids, err := nav.RefinedHeuristic(2, []uint32{1})
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(ids, hierarchytest.Range(10, 20)) {
		t.Errorf("Heuristic: got %v", ids)
	}
	ids, err = nav.RefinedThreshold(2, []uint32{1}, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(ids, hierarchytest.Range(10, 20)) {
		t.Errorf("Threshold: got %v", ids)
	}
	if _, err := nav.RefinedHeuristic(0, []uint32{1}); !errors.Is(err, navigator.ErrLevelOutOfRange) {
		t.Errorf("Expected ErrLevelOutOfRange, got %v", err)
	}
}

func TestEmptyHierarchy(t *testing.T) {
	nav := navigator.New(hierarchy.NewStore(hierarchy.StoreOptions{}), nil)
	if _, err := nav.Select(navigator.Request{}); !errors.Is(err, navigator.ErrNoHierarchy) {
		t.Errorf("Expected ErrNoHierarchy, got %v", err)
	}
}
