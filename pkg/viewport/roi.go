// Package viewport maps the visible region of an image onto data point ids
// and records the sequence of regions a user visited.
package viewport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Vector2D is a point or size in layer or view coordinates.
type Vector2D struct {
	X, Y float32
}

// ROI is a region of interest. The layer rectangle is in pixel coordinates
// of the image; the view rectangle only restores a viewer position.
type ROI struct {
	LayerBottomLeft Vector2D `yaml:"layer_bottom_left"`
	LayerTopRight   Vector2D `yaml:"layer_top_right"`
	ViewXY          Vector2D `yaml:"view_xy"`
	ViewWH          Vector2D `yaml:"view_wh"`
}

// FullImage returns the ROI covering a width x height image.
func FullImage(width, height int) ROI {
	return ROI{LayerTopRight: Vector2D{X: float32(width), Y: float32(height)}}
}

// SameLayer reports whether both ROIs cover the same pixels.
func (r ROI) SameLayer(o ROI) bool {
	return r.LayerBottomLeft == o.LayerBottomLeft && r.LayerTopRight == o.LayerTopRight
}

// NumPixels returns the number of pixels in the layer rectangle. An unset
// ROI covers nothing.
func (r ROI) NumPixels() int {
	if r.LayerBottomLeft == (Vector2D{}) && r.LayerTopRight == (Vector2D{}) {
		return 0
	}
	w := int(r.LayerTopRight.X) - int(r.LayerBottomLeft.X)
	h := int(r.LayerTopRight.Y) - int(r.LayerBottomLeft.Y)
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

func (r ROI) String() string {
	return fmt.Sprintf("[%g,%g]-[%g,%g]", r.LayerBottomLeft.X, r.LayerBottomLeft.Y, r.LayerTopRight.X, r.LayerTopRight.Y)
}

const roiSize = 8 * 4

func (r ROI) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, roiSize)
	for _, v := range []float32{
		r.LayerBottomLeft.X, r.LayerBottomLeft.Y, r.LayerTopRight.X, r.LayerTopRight.Y,
		r.ViewXY.X, r.ViewXY.Y, r.ViewWH.X, r.ViewWH.Y,
	} {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
	}
	return buf, nil
}

func (r *ROI) UnmarshalBinary(data []byte) error {
	if len(data) != roiSize {
		return fmt.Errorf("roi record has %d bytes, expected %d", len(data), roiSize)
	}
	f := func(i int) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:])) }
	*r = ROI{
		LayerBottomLeft: Vector2D{f(0), f(1)},
		LayerTopRight:   Vector2D{f(2), f(3)},
		ViewXY:          Vector2D{f(4), f(5)},
		ViewWH:          Vector2D{f(6), f(7)},
	}
	return nil
}

var ErrGridShape = errors.New("grid indices do not match its shape")

// Grid lays data point ids out as an image. Indices is row-major: the id of
// pixel (x, y) is Indices[x+y*Width].
type Grid struct {
	Width, Height int
	Indices       []uint32
}

// NewGrid returns the grid whose pixel (x, y) holds id y*width+x.
func NewGrid(width, height int) Grid {
	idx := make([]uint32, width*height)
	for i := range idx {
		idx[i] = uint32(i)
	}
	return Grid{Width: width, Height: height, Indices: idx}
}

func (g Grid) Validate() error {
	if g.Width <= 0 || g.Height <= 0 || len(g.Indices) != g.Width*g.Height {
		return fmt.Errorf("%w: %dx%d with %d indices", ErrGridShape, g.Width, g.Height, len(g.Indices))
	}
	return nil
}

func (g Grid) NumPixels() int { return g.Width * g.Height }

// ExtractIDs returns the ids of the pixels in [bottomLeft, topRight) row by
// row. The rectangle is clipped to the image.
func (g Grid) ExtractIDs(roi ROI) []uint32 {
	x0 := clamp(int(roi.LayerBottomLeft.X), 0, g.Width)
	y0 := clamp(int(roi.LayerBottomLeft.Y), 0, g.Height)
	x1 := clamp(int(roi.LayerTopRight.X), x0, g.Width)
	y1 := clamp(int(roi.LayerTopRight.Y), y0, g.Height)

	ids := make([]uint32, 0, (x1-x0)*(y1-y0))
	for y := y0; y < y1; y++ {
		ids = append(ids, g.Indices[x0+y*g.Width:x1+y*g.Width]...)
	}
	return ids
}

// PixelInROI reports whether the pixel of data point index lies in the layer
// rectangle, bounds included.
func (g Grid) PixelInROI(roi ROI, index uint32) bool {
	x := int(index) % g.Width
	y := int(index) / g.Width
	return x >= int(roi.LayerBottomLeft.X) && x <= int(roi.LayerTopRight.X) &&
		y >= int(roi.LayerBottomLeft.Y) && y <= int(roi.LayerTopRight.Y)
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
