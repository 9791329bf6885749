package graph

import "sort"

// TopNeighbors returns, for every vertex, the ids of its k heaviest outgoing
// edges in descending weight order. Self loops are skipped and equal weights
// are ordered by ascending id.
func TopNeighbors(g Sparse, k int) LandmarkMap {
	out := make(LandmarkMap, len(g))
	for i := range g {
		out[i] = TopNeighborsOf(g, uint32(i), k)
	}
	return out
}

// TopNeighborsOf computes the neighbour list of a single vertex.
func TopNeighborsOf(g Sparse, v uint32, k int) []uint32 {
	if k <= 0 || int(v) >= len(g) {
		return []uint32{}
	}
	row := make(Row, 0, len(g[v]))
	for _, e := range g[v] {
		if e.To != v {
			row = append(row, e)
		}
	}
	sort.SliceStable(row, func(a, b int) bool {
		if row[a].Weight != row[b].Weight {
			return row[a].Weight > row[b].Weight
		}
		return row[a].To < row[b].To
	})
	if len(row) > k {
		row = row[:k]
	}
	ids := make([]uint32, len(row))
	for j, e := range row {
		ids[j] = e.To
	}
	return ids
}
