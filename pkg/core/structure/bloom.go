package structure

import (
	"hash/fnv"
	"math"

	"rstardb/pkg/common"

	"github.com/bits-and-blooms/bitset"
)

// BloomFilter answers "definitely absent" for object ids. Deleted ids are not
// removed, so a positive answer only means "maybe present".
type BloomFilter struct {
	bits  *bitset.BitSet
	k     uint
	m     uint
	count uint
}

func NewBloomFilter(n uint, p float64) *BloomFilter {
	if n == 0 {
		n = 1
	}
	if p <= 0 || p >= 1 {
		p = 0.01
	}
	// 理论最佳公式
	// m = - (n * ln(p)) / (ln(2)^2)
	// k = (m / n) * ln(2)

	m := uint(math.Ceil(-float64(n) * math.Log(p) / (math.Ln2 * math.Ln2)))
	k := uint(math.Ceil((float64(m) / float64(n)) * math.Ln2))
	if k == 0 {
		k = 1
	}

	return &BloomFilter{
		bits: bitset.New(m),
		k:    k,
		m:    m,
	}
}

func (bf *BloomFilter) Add(id common.ObjectID) {
	h1, h2 := hash1(int64(id)), hash2(int64(id))
	for i := uint(0); i < bf.k; i++ {
		bf.bits.Set(bf.position(h1, h2, i))
	}
	bf.count++
}

func (bf *BloomFilter) Contains(id common.ObjectID) bool {
	h1, h2 := hash1(int64(id)), hash2(int64(id))
	for i := uint(0); i < bf.k; i++ {
		if !bf.bits.Test(bf.position(h1, h2, i)) {
			return false
		}
	}
	return true
}

// Reset clears all bits, used before rebuilding from the live id set.
func (bf *BloomFilter) Reset() {
	bf.bits.ClearAll()
	bf.count = 0
}

func (bf *BloomFilter) position(h1, h2 uint32, i uint) uint {
	return uint((uint64(h1) + uint64(i)*uint64(h2)) % uint64(bf.m))
}

func hash1(n int64) uint32 {
	h := fnv.New32a()
	h.Write([]byte{
		byte(n), byte(n >> 8), byte(n >> 16), byte(n >> 24),
		byte(n >> 32), byte(n >> 40), byte(n >> 48), byte(n >> 56),
	})
	return h.Sum32()
}

func hash2(n int64) uint32 {
	return uint32(n^(n>>32)) | 1
}

func (bf *BloomFilter) Stats() map[string]interface{} {
	return map[string]interface{}{
		"bloom_bits_size": bf.m,
		"bloom_hashes":    bf.k,
		"bloom_count":     bf.count,
		"bloom_set_bits":  bf.bits.Count(),
	}
}
