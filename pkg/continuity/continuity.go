// Package continuity keeps successive embeddings visually stable: landmarks
// that stay in view keep their position, new landmarks are placed between
// known neighbours, and only the rest start at random.
package continuity

import (
	"math"
	"math/rand"

	"github.com/sanonone/scalenav/pkg/core/graph"
)

// Provenance tells how an initial coordinate was produced.
type Provenance uint8

const (
	PreviousPos Provenance = iota
	InterpolatedPos
	RandomPos
)

func (p Provenance) String() string {
	switch p {
	case PreviousPos:
		return "previous"
	case InterpolatedPos:
		return "interpolated"
	default:
		return "random"
	}
}

// IDEntry locates a landmark of the active embedding.
type IDEntry struct {
	LocalID uint32
	Pos     uint32
}

// IDMap is keyed by the data point id of each landmark in the embedding.
type IDMap map[uint32]IDEntry

// RecomputeIDMap builds the map for the landmarks ids, where
// landmarkToOriginal translates local ids of their scale to data point ids.
func RecomputeIDMap(landmarkToOriginal []uint32, ids []uint32) IDMap {
	m := make(IDMap, len(ids))
	for pos, id := range ids {
		m[landmarkToOriginal[id]] = IDEntry{LocalID: id, Pos: uint32(pos)}
	}
	return m
}

// DataMaps links every embedding position with the data point of its
// landmark, for linking an embedding with the landmark data itself.
func (m IDMap) DataMaps(numPoints int) (graph.LandmarkMap, graph.LandmarkMapSingle) {
	localToBottom := make(graph.LandmarkMap, len(m))
	bottomToLocal := graph.NewLandmarkMapSingle(numPoints)
	for dataID, e := range m {
		localToBottom[e.Pos] = []uint32{dataID}
		if int(dataID) < numPoints {
			bottomToLocal[dataID] = e.Pos
		}
	}
	return localToBottom, bottomToLocal
}

// Counts tallies provenance tags.
type Counts struct {
	Previous, Interpolated, Random int
}

func CountProvenance(tags []Provenance) Counts {
	var c Counts
	for _, t := range tags {
		switch t {
		case PreviousPos:
			c.Previous++
		case InterpolatedPos:
			c.Interpolated++
		default:
			c.Random++
		}
	}
	return c
}

// interpolationNeighbors is the number of known neighbours averaged for a
// new landmark.
const interpolationNeighbors = 3

// Layout is the part of a scale Reinitialize needs.
type Layout struct {
	// LandmarkToOriginal maps local ids of the new scale to data point ids.
	LandmarkToOriginal []uint32
	// Neighbors lists the transition neighbours of every landmark, heaviest first.
	Neighbors graph.LandmarkMap
}

// Reinitialize computes the initial coordinates of the landmarks ids from
// the rescaled previous embedding prev, whose landmarks are described by old.
// It returns interleaved x,y coordinates and one provenance tag per landmark.
func Reinitialize(layout Layout, prev []float32, old IDMap, ext Extents, ids []uint32, rng *rand.Rand) ([]float32, []Provenance) {
	coords := make([]float32, 2*len(ids))
	tags := make([]Provenance, len(ids))

	radius := max(
		max(abs(ext.XMin), abs(ext.XMax)),
		max(abs(ext.YMin), abs(ext.YMax)),
	)

	var found [interpolationNeighbors]uint32
	for i, id := range ids {
		if e, ok := old[layout.LandmarkToOriginal[id]]; ok {
			coords[2*i] = prev[2*e.Pos]
			coords[2*i+1] = prev[2*e.Pos+1]
			tags[i] = PreviousPos
			continue
		}

		n := 0
		if int(id) < len(layout.Neighbors) {
			for _, nb := range layout.Neighbors[id] {
				e, ok := old[layout.LandmarkToOriginal[nb]]
				if !ok {
					continue
				}
				found[n] = e.Pos
				n++
				if n == interpolationNeighbors {
					break
				}
			}
		}
		if n == interpolationNeighbors {
			a, b, c := found[0], found[1], found[2]
			coords[2*i] = (prev[2*a] + prev[2*b] + prev[2*c]) / 3
			coords[2*i+1] = (prev[2*a+1] + prev[2*b+1] + prev[2*c+1]) / 3
			tags[i] = InterpolatedPos
			continue
		}

		r := radius * float32(math.Sqrt(rng.Float64()))
		t := 2 * math.Pi * rng.Float64()
		coords[2*i] = r * float32(math.Cos(t))
		coords[2*i+1] = r * float32(math.Sin(t))
		tags[i] = RandomPos
	}
	return coords, tags
}

func abs(f float32) float32 {
	if f < 0 {
		return -f
	}
	return f
}
