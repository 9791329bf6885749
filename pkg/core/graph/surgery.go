package graph

import "sort"

// SubgraphOptions controls InducedSubgraph.
type SubgraphOptions struct {
	// MinDegree drops vertices with fewer outgoing edges than this after the
	// first filtering pass. 0 disables pruning.
	MinDegree int
	// WeightThreshold keeps only edges with a weight strictly above it.
	WeightThreshold float32
}

// InducedSubgraph returns the graph induced by ids on full, re-indexed in the
// order of ids, together with the ids that survived pruning.
//
// The returned graph never aliases full and the returned id slice never aliases
// ids. After pruning every edge targets a surviving vertex, and the weights are
// rescaled so that they sum to the vertex count.
func InducedSubgraph(full Sparse, ids []uint32, opts SubgraphOptions) (Sparse, []uint32) {
	if len(ids) == 0 {
		return Sparse{}, []uint32{}
	}

	size := len(full)
	for _, id := range ids {
		if int(id) >= size {
			size = int(id) + 1
		}
	}
	lookup := make([]uint32, size)
	for i := range lookup {
		lookup[i] = Unmapped
	}
	for i, id := range ids {
		lookup[id] = uint32(i)
	}

	sub := make(Sparse, len(ids))
	for i, id := range ids {
		if int(id) >= len(full) {
			continue
		}
		var row Row
		for _, e := range full[id] {
			if int(e.To) >= len(lookup) {
				continue
			}
			to := lookup[e.To]
			if to == Unmapped || e.Weight <= opts.WeightThreshold {
				continue
			}
			row = append(row, Edge{To: to, Weight: e.Weight})
		}
		sortRow(row)
		sub[i] = row
	}

	kept := append([]uint32(nil), ids...)
	if opts.MinDegree > 0 {
		sub, kept = pruneLowDegree(sub, kept, opts.MinDegree)
	}

	normalizeGlobal(sub)
	return sub, kept
}

// pruneLowDegree removes vertices with fewer than minDegree edges and any edge
// pointing at them. Degrees are measured before edges to removed vertices are
// dropped.
func pruneLowDegree(g Sparse, ids []uint32, minDegree int) (Sparse, []uint32) {
	remap := make([]uint32, len(g))
	valid := 0
	for i, row := range g {
		if len(row) >= minDegree {
			remap[i] = uint32(valid)
			valid++
		} else {
			remap[i] = Unmapped
		}
	}
	if valid == len(g) {
		return g, ids
	}

	out := make(Sparse, 0, valid)
	keptIDs := make([]uint32, 0, valid)
	for i, row := range g {
		if remap[i] == Unmapped {
			continue
		}
		var filtered Row
		for _, e := range row {
			if to := remap[e.To]; to != Unmapped {
				filtered = append(filtered, Edge{To: to, Weight: e.Weight})
			}
		}
		out = append(out, filtered)
		keptIDs = append(keptIDs, ids[i])
	}
	return out, keptIDs
}

// normalizeGlobal rescales weights so that their total equals the vertex count.
func normalizeGlobal(g Sparse) {
	sum := g.TotalWeight()
	if sum == 0 {
		return
	}
	n := float64(len(g))
	for _, row := range g {
		for k := range row {
			row[k].Weight = float32(n * float64(row[k].Weight) / sum)
		}
	}
}

func sortRow(r Row) {
	sort.Slice(r, func(a, b int) bool { return r[a].To < r[b].To })
}
