package hierarchy

import (
	"context"
	"encoding/gob"
	"fmt"
	"io"
)

// Dataset is the raw input of a hierarchy: NumPoints row-major vectors of
// NumDims values. EnabledDims optionally masks dimensions out; nil keeps all.
type Dataset struct {
	Name        string
	Values      []float32
	NumPoints   int
	NumDims     int
	EnabledDims []bool
}

// Validate checks the shape of the data set.
func (d Dataset) Validate() error {
	if d.NumPoints <= 0 || d.NumDims <= 0 {
		return fmt.Errorf("dataset %q: invalid shape %dx%d", d.Name, d.NumPoints, d.NumDims)
	}
	if len(d.Values) != d.NumPoints*d.NumDims {
		return fmt.Errorf("dataset %q: %d values for shape %dx%d", d.Name, len(d.Values), d.NumPoints, d.NumDims)
	}
	if d.EnabledDims != nil && len(d.EnabledDims) != d.NumDims {
		return fmt.Errorf("dataset %q: dimension mask has %d entries for %d dimensions", d.Name, len(d.EnabledDims), d.NumDims)
	}
	if d.EnabledCount() == 0 {
		return fmt.Errorf("dataset %q: no dimension enabled", d.Name)
	}
	return nil
}

// EnabledCount returns the number of dimensions kept by the mask.
func (d Dataset) EnabledCount() int {
	if d.EnabledDims == nil {
		return d.NumDims
	}
	n := 0
	for _, on := range d.EnabledDims {
		if on {
			n++
		}
	}
	return n
}

// Project returns the values restricted to the enabled dimensions. Without a
// mask the original slice is returned.
func (d Dataset) Project() []float32 {
	if d.EnabledDims == nil || d.EnabledCount() == d.NumDims {
		return d.Values
	}
	dims := d.EnabledCount()
	out := make([]float32, 0, d.NumPoints*dims)
	for p := 0; p < d.NumPoints; p++ {
		row := d.Values[p*d.NumDims : (p+1)*d.NumDims]
		for j, on := range d.EnabledDims {
			if on {
				out = append(out, row[j])
			}
		}
	}
	return out
}

// Builder constructs a hierarchy from raw data. Initialize computes scale 0;
// AddScale appends one coarser scale on top of the current top scale.
type Builder interface {
	Initialize(ctx context.Context, data []float32, numPoints, numDims int, params Params) (*Hierarchy, error)
	AddScale(ctx context.Context, h *Hierarchy, params Params) error
}

// Codec serialises a hierarchy.
type Codec interface {
	Encode(w io.Writer, h *Hierarchy) error
	Decode(r io.Reader) (*Hierarchy, error)
}

// GobCodec stores hierarchies with encoding/gob.
type GobCodec struct{}

func (GobCodec) Encode(w io.Writer, h *Hierarchy) error {
	return gob.NewEncoder(w).Encode(h)
}

func (GobCodec) Decode(r io.Reader) (*Hierarchy, error) {
	var h Hierarchy
	if err := gob.NewDecoder(r).Decode(&h); err != nil {
		return nil, err
	}
	return &h, nil
}
