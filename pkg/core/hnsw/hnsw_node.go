package hnsw

// Node is a point of the graph with its per-layer adjacency lists.
// Exactly one of VectorF32 and VectorF16 is set, depending on the index precision.
type Node struct {
	InternalID uint32
	VectorF32  []float32
	VectorF16  []uint16

	// Connections[l] lists the neighbours of the node on layer l.
	Connections [][]uint32
}
