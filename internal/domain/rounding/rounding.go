// Package rounding holds the single rounding rule used to turn real-valued
// quotients into seat counts. Every seat computation must go through HalfEven;
// mixing rules between the upper and lower apportionment produces targets
// that cannot be met simultaneously.
package rounding

import "math"

// HalfEven returns the integer nearest to q, resolving exact .5 ties toward
// the even neighbour (2.5 -> 2, 3.5 -> 4).
func HalfEven(q float64) int {
	return int(math.RoundToEven(q))
}

// HalfEven64 is HalfEven for callers that aggregate into int64 vote figures.
func HalfEven64(q float64) int64 {
	return int64(math.RoundToEven(q))
}
