// Package bits provides low-level bit manipulation primitives.
package bits

import "math/bits"

// FastRange32 maps a 64-bit hash uniformly to [0, n) returning uint32.
// Uses the "fastrange" technique: multiply and take high bits.
// This is the standard way to map hashes to ranges without modulo bias.
func FastRange32(hash uint64, n uint32) uint32 {
	if n == 0 {
		return 0
	}
	hi, _ := bits.Mul64(hash, uint64(n))
	return uint32(hi)
}

// FastRange64 maps a 64-bit hash uniformly to [0, n) for a 64-bit range.
// Same multiply-high technique as FastRange32, avoiding a division when n
// is not a power of two.
func FastRange64(hash, n uint64) uint64 {
	if n == 0 {
		return 0
	}
	hi, _ := bits.Mul64(hash, n)
	return hi
}

// RoundUp64 rounds n up to the nearest multiple of 64.
func RoundUp64(n uint64) uint64 {
	return (n + 63) &^ 63
}

// WordsFor returns the number of 64-bit words needed to hold nBits bits.
func WordsFor(nBits uint64) uint64 {
	return (nBits + 63) / 64
}
