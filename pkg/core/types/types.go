// Package types holds small value types shared by the neighbour search code.
package types

// Candidate is a search result with the internal id of a point and its
// distance to the query.
type Candidate struct {
	Id       uint32
	Distance float64
}

// Neighborhood is the k-nearest-neighbour list of one point, closest first.
type Neighborhood struct {
	Ids       []uint32
	Distances []float32
}
