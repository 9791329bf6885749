// Package graph provides the sparse weighted adjacency and index-mapping primitives
// shared by the hierarchy, the navigator and the embedding continuity code.
//
// A Sparse graph stores one Row per vertex. Rows are kept sorted by target id so
// that lookups, merges and serialisation are deterministic.
package graph

import (
	"math"
	"sort"
)

// Unmapped marks an entry of a LandmarkMapSingle that has no counterpart.
const Unmapped = math.MaxUint32

// Edge is a single weighted connection to a target vertex.
type Edge struct {
	To     uint32
	Weight float32
}

// Row holds the outgoing edges of one vertex, sorted by To.
type Row []Edge

// Sparse is a sparse weighted adjacency matrix over local vertex ids.
type Sparse []Row

// LandmarkMap maps an index to a list of indices (one-to-many).
type LandmarkMap [][]uint32

// LandmarkMapSingle maps an index to at most one index; Unmapped marks no entry.
type LandmarkMapSingle []uint32

// NewSparse allocates an empty graph with n vertices.
func NewSparse(n int) Sparse {
	return make(Sparse, n)
}

// FromMaps converts per-vertex weight maps into a Sparse graph with sorted rows.
func FromMaps(rows []map[uint32]float32) Sparse {
	g := make(Sparse, len(rows))
	for i, m := range rows {
		g[i] = RowFromMap(m)
	}
	return g
}

// RowFromMap builds a sorted row from a weight map.
func RowFromMap(m map[uint32]float32) Row {
	if len(m) == 0 {
		return nil
	}
	r := make(Row, 0, len(m))
	for to, w := range m {
		r = append(r, Edge{To: to, Weight: w})
	}
	sort.Slice(r, func(a, b int) bool { return r[a].To < r[b].To })
	return r
}

// NumVertices returns the number of rows.
func (g Sparse) NumVertices() int { return len(g) }

// NumEdges returns the number of stored entries.
func (g Sparse) NumEdges() int {
	n := 0
	for _, r := range g {
		n += len(r)
	}
	return n
}

// TotalWeight sums every edge weight in float64.
func (g Sparse) TotalWeight() float64 {
	var sum float64
	for _, r := range g {
		for _, e := range r {
			sum += float64(e.Weight)
		}
	}
	return sum
}

// Clone returns a deep copy.
func (g Sparse) Clone() Sparse {
	out := make(Sparse, len(g))
	for i, r := range g {
		if r != nil {
			out[i] = append(Row(nil), r...)
		}
	}
	return out
}

// Weight returns the weight of the edge i->j, or 0 when absent.
func (g Sparse) Weight(i, j uint32) float32 {
	if int(i) >= len(g) {
		return 0
	}
	r := g[i]
	k := sort.Search(len(r), func(k int) bool { return r[k].To >= j })
	if k < len(r) && r[k].To == j {
		return r[k].Weight
	}
	return 0
}

// Sum returns the total weight of the row.
func (r Row) Sum() float64 {
	var sum float64
	for _, e := range r {
		sum += float64(e.Weight)
	}
	return sum
}

// Clone returns a deep copy of the map.
func (m LandmarkMap) Clone() LandmarkMap {
	out := make(LandmarkMap, len(m))
	for i, ids := range m {
		if ids != nil {
			out[i] = append([]uint32(nil), ids...)
		}
	}
	return out
}

// NewLandmarkMapSingle returns a map of size n with every entry Unmapped.
func NewLandmarkMapSingle(n int) LandmarkMapSingle {
	m := make(LandmarkMapSingle, n)
	for i := range m {
		m[i] = Unmapped
	}
	return m
}

// SortUnique sorts ids in place and drops duplicates.
func SortUnique(ids []uint32) []uint32 {
	if len(ids) < 2 {
		return ids
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	out := ids[:1]
	for _, id := range ids[1:] {
		if id != out[len(out)-1] {
			out = append(out, id)
		}
	}
	return out
}
