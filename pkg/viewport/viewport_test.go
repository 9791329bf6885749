package viewport

import (
	"errors"
	"path/filepath"
	"slices"
	"testing"
)

func TestGridExtraction(t *testing.T) {
	g := NewGrid(40, 25)
	if err := g.Validate(); err != nil {
		t.Fatal(err)
	}

	roi := ROI{LayerBottomLeft: Vector2D{2, 1}, LayerTopRight: Vector2D{4, 3}}
	want := []uint32{42, 43, 82, 83}
	if got := g.ExtractIDs(roi); !slices.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if roi.NumPixels() != 4 {
		t.Errorf("expected 4 pixels, got %d", roi.NumPixels())
	}

	full := g.ExtractIDs(FullImage(40, 25))
	if len(full) != 1000 || full[999] != 999 {
		t.Errorf("full image should yield every id, got %d", len(full))
	}

	// Clipped to the image.
	outside := ROI{LayerBottomLeft: Vector2D{38, 24}, LayerTopRight: Vector2D{100, 100}}
	if got := g.ExtractIDs(outside); !slices.Equal(got, []uint32{998, 999}) {
		t.Errorf("expected clipped block, got %v", got)
	}

	if !g.PixelInROI(roi, 84) || g.PixelInROI(roi, 85) || g.PixelInROI(roi, 41) {
		t.Error("PixelInROI bounds are inclusive on both corners")
	}
	if (ROI{}).NumPixels() != 0 {
		t.Error("unset roi covers nothing")
	}
	if err := (Grid{Width: 2, Height: 2}).Validate(); !errors.Is(err, ErrGridShape) {
		t.Errorf("expected ErrGridShape, got %v", err)
	}
}

func roiAt(x float32) ROI {
	return ROI{LayerBottomLeft: Vector2D{x, 0}, LayerTopRight: Vector2D{x + 10, 10}}
}

func TestSequenceNavigation(t *testing.T) {
	s := NewSequence()
	if _, ok := s.StepBack(); ok {
		t.Error("empty sequence cannot step back")
	}

	first := roiAt(0)
	first.ViewXY, first.ViewWH = Vector2D{1, 2}, Vector2D{3, 4}
	s.Append(first)
	s.Append(roiAt(10))
	s.Append(roiAt(20))
	if s.Current() != 2 {
		t.Fatalf("expected cursor 2, got %d", s.Current())
	}
	if got := s.ROIs()[1].ViewWH; got != (Vector2D{3, 4}) {
		t.Errorf("view rectangle should be inherited from the first entry, got %v", got)
	}

	roi, ok := s.StepBack()
	if !ok || !roi.SameLayer(roiAt(10)) {
		t.Fatalf("step back returned %v %v", roi, ok)
	}
	// The echo of the step is not recorded.
	if s.Append(roi) || s.Len() != 3 {
		t.Error("stepping must not append")
	}
	if _, ok := s.StepForward(); !ok || s.Current() != 2 {
		t.Error("step forward failed")
	}
	if _, ok := s.StepForward(); ok {
		t.Error("cannot step past the last entry")
	}
	if _, err := s.SetStep(5); !errors.Is(err, ErrStepOutOfRange) {
		t.Errorf("expected ErrStepOutOfRange, got %v", err)
	}
}

func TestSequencePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "viewports.seq")

	s, err := OpenSequence(path, nil)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	for i := 0; i < 4; i++ {
		s.Append(roiAt(float32(10 * i)))
	}
	if _, err := s.SetStep(1); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadSequence(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Len() != 4 || loaded.Current() != 1 {
		t.Errorf("expected 4 entries at step 1, got %d at %d", loaded.Len(), loaded.Current())
	}

	copyPath := filepath.Join(t.TempDir(), "copy.seq")
	if err := SaveSequence(copyPath, loaded); err != nil {
		t.Fatal(err)
	}
	again, err := LoadSequence(copyPath)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(again.ROIs(), loaded.ROIs()) || again.Current() != 1 {
		t.Error("saved sequence differs from the loaded one")
	}

	empty, err := LoadSequence(filepath.Join(t.TempDir(), "missing.seq"))
	if err != nil || empty.Len() != 0 || empty.Current() != -1 {
		t.Errorf("missing journal should yield an empty sequence, got %v", err)
	}
}
