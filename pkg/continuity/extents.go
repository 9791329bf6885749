package continuity

import (
	"fmt"
	"math"
)

// Extents is the axis-aligned bounding box of a 2-D embedding.
type Extents struct {
	XMin, XMax float32
	YMin, YMax float32
}

func (e Extents) Width() float32  { return e.XMax - e.XMin }
func (e Extents) Height() float32 { return e.YMax - e.YMin }

// Valid reports whether both axes have a positive extent.
func (e Extents) Valid() bool { return e.Width() > 0 && e.Height() > 0 }

func (e Extents) String() string {
	return fmt.Sprintf("x [%g, %g], y [%g, %g]", e.XMin, e.XMax, e.YMin, e.YMax)
}

// ComputeExtents scans interleaved x,y coordinates. An empty embedding has
// zero extents.
func ComputeExtents(coords []float32) Extents {
	if len(coords) < 2 {
		return Extents{}
	}
	e := Extents{
		XMin: math.MaxFloat32, XMax: -math.MaxFloat32,
		YMin: math.MaxFloat32, YMax: -math.MaxFloat32,
	}
	for i := 0; i+1 < len(coords); i += 2 {
		x, y := coords[i], coords[i+1]
		e.XMin = min(e.XMin, x)
		e.XMax = max(e.XMax, x)
		e.YMin = min(e.YMin, y)
		e.YMax = max(e.YMax, y)
	}
	return e
}

// Factors holds per-axis scale factors.
type Factors struct {
	X, Y float32
}

// fallbackFactor is used on an axis when either embedding is flat.
const fallbackFactor = 0.1

// ScalingFactors returns the per-axis factors that bring current to the size
// of ref, multiplied by multiplier.
func ScalingFactors(ref, current Extents, multiplier float32) Factors {
	axis := func(r, c float32) float32 {
		if r == 0 || c == 0 {
			return fallbackFactor
		}
		return r / c
	}
	return Factors{
		X: axis(ref.Width(), current.Width()) * multiplier,
		Y: axis(ref.Height(), current.Height()) * multiplier,
	}
}

// Rescale multiplies every coordinate by f. The returned extents are derived
// from old rather than by scanning the new coordinates.
func Rescale(coords []float32, f Factors, old Extents) ([]float32, Extents) {
	out := make([]float32, len(coords))
	for i := 0; i+1 < len(coords); i += 2 {
		out[i] = coords[i] * f.X
		out[i+1] = coords[i+1] * f.Y
	}
	return out, Extents{
		XMin: old.XMin * f.X, XMax: old.XMax * f.X,
		YMin: old.YMin * f.Y, YMax: old.YMax * f.Y,
	}
}
