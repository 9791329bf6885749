// Package distance provides the vector distance kernels used to build the
// neighbourhood graph of the finest scale.
//
// float32 kernels run on gonum's BLAS implementation when the CPU offers the
// vector extensions gonum's assembly uses, and on plain loops otherwise.
// float16 vectors are stored as raw uint16 bits and widened on the fly.
package distance

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/klauspost/cpuid/v2"
	"github.com/x448/float16"
	"gonum.org/v1/gonum/blas/gonum"
)

func init() {
	if cpuid.CPU.Supports(cpuid.SSE2) {
		float32Funcs[Euclidean] = squaredEuclideanGonum
		float32Funcs[Cosine] = dotProductAsDistanceGonum
		kernelName = "gonum"
	}
	if cpuid.CPU.Supports(cpuid.AVX2, cpuid.FMA3) {
		kernelName = "gonum (avx2)"
	}
}

// DistanceMetric defines the type of distance calculation to perform.
type DistanceMetric string

// PrecisionType defines the data type used for vector storage and calculations.
type PrecisionType string

const (
	// Euclidean represents the squared Euclidean distance metric.
	Euclidean DistanceMetric = "euclidean"
	// Cosine represents the cosine distance metric (1 - cosine similarity).
	// Vectors must be normalized beforehand.
	Cosine DistanceMetric = "cosine"

	// Float32 represents single-precision floating-point numbers.
	Float32 PrecisionType = "float32"
	// Float16 represents half-precision floating-point numbers.
	Float16 PrecisionType = "float16"
)

// ErrLengthMismatch is returned when two vectors differ in length.
var ErrLengthMismatch = errors.New("vectors must have the same length")

type DistanceFuncF32 func(v1, v2 []float32) (float64, error)
type DistanceFuncF16 func(v1, v2 []uint16) (float64, error)

var kernelName = "pure go"

// LogKernels reports the kernels selected at start-up.
func LogKernels(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("Distance kernels selected",
		"float32", kernelName,
		"float16", "pure go",
		"cpu", cpuid.CPU.BrandName)
}

// --- WORKSPACE POOL ---

// diffWorkspace holds scratch slices for the difference vector of the
// Euclidean kernel.
var diffWorkspace = sync.Pool{
	New: func() interface{} {
		s := make([]float32, 256)
		return &s
	},
}

// --- REFERENCE IMPLEMENTATIONS (PURE GO) ---

func squaredEuclideanDistanceGo(v1, v2 []float32) (float64, error) {
	if len(v1) != len(v2) {
		return 0, ErrLengthMismatch
	}
	var sum float32
	for i := range v1 {
		diff := v1[i] - v2[i]
		sum += diff * diff
	}
	return float64(sum), nil
}

func dotProductAsDistanceGo(v1, v2 []float32) (float64, error) {
	if len(v1) != len(v2) {
		return 0, ErrLengthMismatch
	}
	var dot float32
	for i := range v1 {
		dot += v1[i] * v2[i]
	}
	return 1.0 - float64(dot), nil
}

func squaredEuclideanGoFloat16(v1, v2 []uint16) (float64, error) {
	if len(v1) != len(v2) {
		return 0, ErrLengthMismatch
	}
	var sum float32
	for i := range v1 {
		diff := float16.Frombits(v1[i]).Float32() - float16.Frombits(v2[i]).Float32()
		sum += diff * diff
	}
	return float64(sum), nil
}

func dotProductAsDistanceGoFloat16(v1, v2 []uint16) (float64, error) {
	if len(v1) != len(v2) {
		return 0, ErrLengthMismatch
	}
	var dot float32
	for i := range v1 {
		dot += float16.Frombits(v1[i]).Float32() * float16.Frombits(v2[i]).Float32()
	}
	return 1.0 - float64(dot), nil
}

// --- Gonum-based Implementations (for float32) ---
var gonumEngine = gonum.Implementation{}

func squaredEuclideanGonum(v1, v2 []float32) (float64, error) {
	n := len(v1)
	if n != len(v2) {
		return 0, ErrLengthMismatch
	}
	if n == 0 {
		return 0, nil
	}

	diffPtr := diffWorkspace.Get().(*[]float32)
	defer diffWorkspace.Put(diffPtr)
	if cap(*diffPtr) < n {
		*diffPtr = make([]float32, n)
	}
	diff := (*diffPtr)[:n]

	copy(diff, v1)
	gonumEngine.Saxpy(n, -1, v2, 1, diff, 1)
	return float64(gonumEngine.Sdot(n, diff, 1, diff, 1)), nil
}

func dotProductAsDistanceGonum(v1, v2 []float32) (float64, error) {
	if len(v1) != len(v2) {
		return 0, ErrLengthMismatch
	}
	if len(v1) == 0 {
		return 1, nil
	}
	return 1.0 - float64(gonumEngine.Sdot(len(v1), v1, 1, v2, 1)), nil
}

// --- Function Catalogs and Dispatchers ---

var float32Funcs = map[DistanceMetric]DistanceFuncF32{
	Euclidean: squaredEuclideanDistanceGo,
	Cosine:    dotProductAsDistanceGo,
}

var float16Funcs = map[DistanceMetric]DistanceFuncF16{
	Euclidean: squaredEuclideanGoFloat16,
	Cosine:    dotProductAsDistanceGoFloat16,
}

// GetFloat32Func returns the float32 kernel for metric.
func GetFloat32Func(metric DistanceMetric) (DistanceFuncF32, error) {
	fn, ok := float32Funcs[metric]
	if !ok {
		return nil, fmt.Errorf("metric '%s' not supported for float32 precision", metric)
	}
	return fn, nil
}

// GetFloat16Func returns the float16 kernel for metric.
func GetFloat16Func(metric DistanceMetric) (DistanceFuncF16, error) {
	fn, ok := float16Funcs[metric]
	if !ok {
		return nil, fmt.Errorf("metric '%s' not supported for float16 precision", metric)
	}
	return fn, nil
}

// ToFloat16 converts a float32 vector to raw half-precision bits.
func ToFloat16(v []float32) []uint16 {
	out := make([]uint16, len(v))
	for i, x := range v {
		out[i] = float16.Fromfloat32(x).Bits()
	}
	return out
}

// Normalize scales v to unit length in place. Zero vectors are left untouched.
func Normalize(v []float32) {
	n := len(v)
	if n == 0 {
		return
	}
	norm := gonumEngine.Snrm2(n, v, 1)
	if norm == 0 {
		return
	}
	gonumEngine.Sscal(n, 1/norm, v, 1)
}
