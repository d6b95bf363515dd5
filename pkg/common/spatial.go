package common

import (
	"errors"
	"math"
)

// MaxCodeBits is the width of a Morton code.
const MaxCodeBits = 64

// BitsPerDim returns how many bits of each coordinate fit into one code.
// It returns 0 when dims exceeds MaxCodeBits.
func BitsPerDim(dims int) uint {
	if dims <= 0 {
		return 0
	}
	b := MaxCodeBits / dims
	if b > 32 {
		b = 32
	}
	return uint(b)
}

// Quantize maps v from [lo, hi] onto a grid cell in [0, 2^bits-1].
func Quantize(v, lo, hi float64, bits uint) uint32 {
	if bits == 0 {
		return 0
	}
	maxCell := float64(uint64(1)<<bits - 1)
	if hi <= lo || math.IsNaN(v) {
		return 0
	}
	f := (v - lo) / (hi - lo)
	if f <= 0 {
		return 0
	}
	if f >= 1 {
		return uint32(maxCell)
	}
	return uint32(f * maxCell)
}

// Interleave builds a Z-order code: bit b of dimension d ends up at
// position b*len(cells)+d, so dimension 0 varies fastest.
func Interleave(cells []uint32, bits uint) (uint64, error) {
	if uint(len(cells))*bits > MaxCodeBits {
		return 0, errors.New("morton: too many bits for a 64-bit code")
	}
	dims := uint(len(cells))
	var code uint64
	for b := uint(0); b < bits; b++ {
		for d := uint(0); d < dims; d++ {
			if cells[d]>>b&1 == 1 {
				code |= 1 << (b*dims + d)
			}
		}
	}
	return code, nil
}
