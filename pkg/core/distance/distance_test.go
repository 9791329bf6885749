package distance

import (
	"math"
	"math/rand"
	"testing"
)

func floatsAreEqual(a, b float64) bool {
	const tolerance = 1e-5
	return math.Abs(a-b) < tolerance
}

func TestImplementations(t *testing.T) {
	t.Run("EuclideanF32", func(t *testing.T) {
		fn, _ := GetFloat32Func(Euclidean)
		dist, err := fn([]float32{1, 2}, []float32{3, 4})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !floatsAreEqual(dist, 8) {
			t.Errorf("got %f, want 8", dist)
		}
	})

	t.Run("CosineF32", func(t *testing.T) {
		fn, _ := GetFloat32Func(Cosine)
		v1 := []float32{1, 2, 3}
		Normalize(v1)
		v2 := append([]float32{}, v1...)
		dist, _ := fn(v1, v2)
		if !floatsAreEqual(dist, 0) {
			t.Errorf("got %.15f, want 0", dist)
		}
	})

	t.Run("EuclideanF16", func(t *testing.T) {
		fn, _ := GetFloat16Func(Euclidean)
		dist, _ := fn(ToFloat16([]float32{1, 2}), ToFloat16([]float32{3, 4}))
		if !floatsAreEqual(dist, 8) {
			t.Errorf("got %f, want 8", dist)
		}
	})

	t.Run("LengthMismatch", func(t *testing.T) {
		fn, _ := GetFloat32Func(Euclidean)
		if _, err := fn([]float32{1}, []float32{1, 2}); err == nil {
			t.Errorf("expected an error for mismatched lengths")
		}
	})

	t.Run("UnknownMetric", func(t *testing.T) {
		if _, err := GetFloat32Func("manhattan"); err == nil {
			t.Errorf("expected an error for an unknown metric")
		}
	})
}

func TestGonumMatchesReference(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for _, dim := range []int{1, 3, 16, 129, 700} {
		v1 := make([]float32, dim)
		v2 := make([]float32, dim)
		for i := range v1 {
			v1[i] = r.Float32()
			v2[i] = r.Float32()
		}
		ref, _ := squaredEuclideanDistanceGo(v1, v2)
		got, _ := squaredEuclideanGonum(v1, v2)
		if math.Abs(ref-got) > 1e-3*math.Max(1, ref) {
			t.Errorf("dim %d: gonum %f vs reference %f", dim, got, ref)
		}
	}
}
