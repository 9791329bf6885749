package hnsw

// BitSet tracks visited node ids during a layer search.
type BitSet struct {
	buckets []uint64
}

func NewBitSet(initialCapacity uint32) *BitSet {
	return &BitSet{buckets: make([]uint64, (initialCapacity>>6)+1)}
}

func (bs *BitSet) Add(n uint32) {
	bucket := n >> 6
	if bucket >= uint32(len(bs.buckets)) {
		bs.EnsureCapacity(n)
	}
	bs.buckets[bucket] |= 1 << (n & 63)
}

func (bs *BitSet) Has(n uint32) bool {
	bucket := n >> 6
	if bucket >= uint32(len(bs.buckets)) {
		return false
	}
	return bs.buckets[bucket]&(1<<(n&63)) != 0
}

func (bs *BitSet) Clear() {
	clear(bs.buckets)
}

// EnsureCapacity grows the set so that maxVal can be stored without reallocation.
func (bs *BitSet) EnsureCapacity(maxVal uint32) {
	needed := (maxVal >> 6) + 1
	if uint32(len(bs.buckets)) < needed {
		grown := make([]uint64, needed)
		copy(grown, bs.buckets)
		bs.buckets = grown
	}
}
