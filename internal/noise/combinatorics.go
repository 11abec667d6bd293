package noise

import "math/bits"

// binomial returns C(n, k). ok is false if the result overflows uint64.
func binomial(n, k uint64) (c uint64, ok bool) {
	if k > n {
		return 0, true
	}
	k = min(k, n-k)
	c = 1
	for i := uint64(0); i < k; i++ {
		// C(n, i+1) = C(n, i) * (n-i) / (i+1), exact at every step.
		hi, lo := bits.Mul64(c, n-i)
		if hi >= i+1 {
			return 0, false
		}
		c, _ = bits.Div64(hi, lo, i+1)
	}
	return c, true
}

// kCombinationAtIndex returns the index-th k-combination in the
// combinatorial number system, positions in descending order.
func kCombinationAtIndex(index uint64, k int) []uint64 {
	out := make([]uint64, 0, k)
	for i := uint64(k); i > 0; i-- {
		c := i - 1
		var taken uint64
		for {
			next, ok := binomial(c+1, i)
			if !ok || next > index {
				break
			}
			c++
			taken = next
		}
		out = append(out, c)
		index -= taken
	}
	return out
}

// barsPrecedingEachStar converts descending star positions in a
// stars-and-bars sequence into the number of bars before each star.
func barsPrecedingEachStar(stars []uint64) []uint64 {
	out := make([]uint64, len(stars))
	for i, pos := range stars {
		out[i] = pos - uint64(len(stars)-i-1)
	}
	return out
}
