// Package hnsw provides a Hierarchical Navigable Small World graph used to
// answer the k-nearest-neighbour queries that seed the finest scale of a
// landmark hierarchy.
//
// Points receive dense internal ids in insertion order. Insertions are
// serialised by a write lock; searches take a read lock and may run
// concurrently once the index is built.
package hnsw

import (
	"container/heap"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/sanonone/scalenav/pkg/core/distance"
	"github.com/sanonone/scalenav/pkg/core/types"
)

// Config holds the construction parameters of an Index.
type Config struct {
	// M is the max number of connections per node per layer (layer 0 uses 2*M).
	M int
	// EfConstruction is the size of the candidate list while inserting.
	EfConstruction int
	Metric         distance.DistanceMetric
	Precision      distance.PrecisionType
	// Seed drives the level generator so that builds are reproducible.
	Seed int64
}

// Index represents the hierarchical graph structure.
type Index struct {
	mu sync.RWMutex

	m              int
	mMax0          int
	efConstruction int
	ml             float64

	entrypointID uint32
	maxLevel     int
	nodes        []*Node

	metric      distance.DistanceMetric
	precision   distance.PrecisionType
	distFuncF32 distance.DistanceFuncF32
	distFuncF16 distance.DistanceFuncF16

	rng         *rand.Rand
	visitedPool sync.Pool
}

// New creates an empty index.
func New(cfg Config) (*Index, error) {
	if cfg.M <= 0 {
		cfg.M = 16
	}
	if cfg.EfConstruction <= 0 {
		cfg.EfConstruction = 200
	}
	if cfg.Metric == "" {
		cfg.Metric = distance.Euclidean
	}
	if cfg.Precision == "" {
		cfg.Precision = distance.Float32
	}

	h := &Index{
		m:              cfg.M,
		mMax0:          cfg.M * 2,
		efConstruction: cfg.EfConstruction,
		ml:             1.0 / math.Log(float64(max(cfg.M, 2))),
		maxLevel:       -1,
		metric:         cfg.Metric,
		precision:      cfg.Precision,
		rng:            rand.New(rand.NewSource(cfg.Seed)),
	}
	h.visitedPool = sync.Pool{New: func() any { return NewBitSet(256) }}

	var err error
	switch cfg.Precision {
	case distance.Float32:
		h.distFuncF32, err = distance.GetFloat32Func(cfg.Metric)
	case distance.Float16:
		h.distFuncF16, err = distance.GetFloat16Func(cfg.Metric)
	default:
		err = fmt.Errorf("precision '%s' not supported", cfg.Precision)
	}
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Len returns the number of inserted points.
func (h *Index) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.nodes)
}

// Add inserts a vector and returns its internal id. The vector is copied.
func (h *Index) Add(vector []float32) (uint32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	internalID := uint32(len(h.nodes))
	node := &Node{InternalID: internalID}
	query, err := h.prepare(vector)
	if err != nil {
		return 0, err
	}
	switch q := query.(type) {
	case []float32:
		node.VectorF32 = q
	case []uint16:
		node.VectorF16 = q
	}

	level := h.randomLevel()
	node.Connections = make([][]uint32, level+1)
	h.nodes = append(h.nodes, node)

	if h.maxLevel == -1 {
		h.entrypointID = internalID
		h.maxLevel = level
		return internalID, nil
	}

	currentEntryPoint := h.entrypointID
	for l := h.maxLevel; l > level; l-- {
		nearest, err := h.searchLayerUnlocked(query, currentEntryPoint, 1, l)
		if err != nil {
			return 0, err
		}
		if len(nearest) > 0 {
			currentEntryPoint = nearest[0].Id
		}
	}

	for l := min(level, h.maxLevel); l >= 0; l-- {
		neighbors, err := h.searchLayerUnlocked(query, currentEntryPoint, h.efConstruction, l)
		if err != nil {
			return 0, err
		}

		maxConns := h.m
		if l == 0 {
			maxConns = h.mMax0
		}

		selected := h.selectNeighbors(neighbors, maxConns)
		node.Connections[l] = make([]uint32, len(selected))
		for i, c := range selected {
			node.Connections[l][i] = c.Id
		}

		for _, c := range selected {
			h.link(h.nodes[c.Id], node, l, maxConns)
		}
		if len(neighbors) > 0 {
			currentEntryPoint = neighbors[0].Id
		}
	}

	if level > h.maxLevel {
		h.maxLevel = level
		h.entrypointID = internalID
	}
	return internalID, nil
}

// link adds newNode to the layer-l list of neighbor, replacing the farthest
// existing connection when the list is full.
func (h *Index) link(neighbor, newNode *Node, l, maxConns int) {
	if l >= len(neighbor.Connections) {
		return
	}
	conns := neighbor.Connections[l]
	if len(conns) < maxConns {
		neighbor.Connections[l] = append(conns, newNode.InternalID)
		return
	}
	maxDist := -1.0
	worst := -1
	for i, id := range conns {
		d, _ := h.distanceBetweenNodes(neighbor, h.nodes[id])
		if d > maxDist {
			maxDist = d
			worst = i
		}
	}
	distToNew, _ := h.distanceBetweenNodes(neighbor, newNode)
	if worst != -1 && distToNew < maxDist {
		conns[worst] = newNode.InternalID
	}
}

// Search returns the k nearest points to query, closest first. ef is raised to
// k when smaller.
func (h *Index) Search(query []float32, k, ef int) ([]types.Candidate, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.maxLevel == -1 || k <= 0 {
		return []types.Candidate{}, nil
	}
	q, err := h.prepare(query)
	if err != nil {
		return nil, err
	}

	currentEntryPoint := h.entrypointID
	for l := h.maxLevel; l > 0; l-- {
		nearest, err := h.searchLayerUnlocked(q, currentEntryPoint, 1, l)
		if err != nil {
			return nil, err
		}
		if len(nearest) == 0 {
			return nil, fmt.Errorf("search failed at level %d", l)
		}
		currentEntryPoint = nearest[0].Id
	}

	results, err := h.searchLayerUnlocked(q, currentEntryPoint, max(ef, k), 0)
	if err != nil {
		return nil, err
	}
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// prepare copies the vector into the storage representation of the index.
func (h *Index) prepare(vector []float32) (any, error) {
	v := append([]float32(nil), vector...)
	if h.metric == distance.Cosine {
		distance.Normalize(v)
	}
	switch h.precision {
	case distance.Float32:
		return v, nil
	case distance.Float16:
		return distance.ToFloat16(v), nil
	}
	return nil, fmt.Errorf("precision '%s' not supported", h.precision)
}

func (h *Index) distanceBetweenNodes(n1, n2 *Node) (float64, error) {
	if h.precision == distance.Float16 {
		return h.distFuncF16(n1.VectorF16, n2.VectorF16)
	}
	return h.distFuncF32(n1.VectorF32, n2.VectorF32)
}

// searchLayerUnlocked runs a best-first search on one layer and returns up to
// ef candidates sorted by ascending distance. The caller holds the lock.
func (h *Index) searchLayerUnlocked(query any, entrypointID uint32, ef int, level int) ([]types.Candidate, error) {
	visited := h.visitedPool.Get().(*BitSet)
	defer func() {
		visited.Clear()
		h.visitedPool.Put(visited)
	}()
	visited.EnsureCapacity(uint32(len(h.nodes)))

	var distFn func(node *Node) (float64, error)
	switch q := query.(type) {
	case []float32:
		fn := h.distFuncF32
		distFn = func(node *Node) (float64, error) { return fn(q, node.VectorF32) }
	case []uint16:
		fn := h.distFuncF16
		distFn = func(node *Node) (float64, error) { return fn(q, node.VectorF16) }
	default:
		return nil, fmt.Errorf("precision not setup")
	}

	entryNode := h.nodes[entrypointID]
	dist, err := distFn(entryNode)
	if err != nil {
		return nil, err
	}

	candidates := &minHeap{}
	results := &maxHeap{}
	ep := types.Candidate{Id: entrypointID, Distance: dist}
	heap.Push(candidates, ep)
	heap.Push(results, ep)
	visited.Add(entrypointID)

	for candidates.Len() > 0 {
		current := heap.Pop(candidates).(types.Candidate)
		if results.Len() >= ef && current.Distance > results.Peek().Distance {
			break
		}

		currentNode := h.nodes[current.Id]
		if level >= len(currentNode.Connections) {
			continue
		}

		for _, neighborID := range currentNode.Connections[level] {
			if visited.Has(neighborID) {
				continue
			}
			visited.Add(neighborID)

			d, err := distFn(h.nodes[neighborID])
			if err != nil {
				continue
			}
			if results.Len() < ef || d < results.Peek().Distance {
				c := types.Candidate{Id: neighborID, Distance: d}
				heap.Push(candidates, c)
				heap.Push(results, c)
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]types.Candidate, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(types.Candidate)
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Distance != out[b].Distance {
			return out[a].Distance < out[b].Distance
		}
		return out[a].Id < out[b].Id
	})
	return out, nil
}

// randomLevel draws a level from the exponentially decaying distribution of
// the HNSW paper.
func (h *Index) randomLevel() int {
	return int(math.Floor(-math.Log(1-h.rng.Float64()) * h.ml))
}

// selectNeighbors implements the diversity heuristic from the HNSW paper and
// fills the remaining slots with the closest discarded candidates.
func (h *Index) selectNeighbors(candidates []types.Candidate, m int) []types.Candidate {
	if len(candidates) <= m {
		return candidates
	}

	results := make([]types.Candidate, 0, m)
	discarded := make([]types.Candidate, 0, m)
	for _, e := range candidates {
		if len(results) >= m {
			break
		}
		good := true
		for _, r := range results {
			d, err := h.distanceBetweenNodes(h.nodes[e.Id], h.nodes[r.Id])
			if err != nil || d < e.Distance {
				good = false
				break
			}
		}
		if good {
			results = append(results, e)
		} else {
			discarded = append(discarded, e)
		}
	}

	for _, c := range discarded {
		if len(results) >= m {
			break
		}
		results = append(results, c)
	}
	return results
}
