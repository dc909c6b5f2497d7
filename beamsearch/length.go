// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package beamsearch

import "math"

// Lengths counts, for every slot of the view, the steps holding a content
// token, that is any token but the special ones. The result is laid out as
// [sample][slot] and clamped to at least 1.
func Lengths(v *View, special ...int) []float64 {
	skip := make(map[int]struct{}, len(special))
	for _, id := range special {
		skip[id] = struct{}{}
	}
	lengths := make([]float64, v.n*v.k)
	for t := 0; t < v.maxLen; t++ {
		for i, id := range v.Row(t) {
			if _, ok := skip[id]; !ok {
				lengths[i]++
			}
		}
	}
	for i, l := range lengths {
		if l < 1 {
			lengths[i] = 1
		}
	}
	return lengths
}

// LengthPenalty returns the divisor applied to the score of a hypothesis
// of the given length: the length itself when alpha is zero, the GNMT
// penalty ((5+length)^alpha)/(6^alpha) otherwise.
func LengthPenalty(length, alpha float64) float64 {
	if alpha > 0 {
		return math.Pow(5+length, alpha) / math.Pow(6, alpha)
	}
	return length
}

// Normalize divides each score by the length penalty of its hypothesis.
func Normalize(scores, lengths []float64, alpha float64) []float64 {
	out := make([]float64, len(scores))
	for i, s := range scores {
		out[i] = s / LengthPenalty(lengths[i], alpha)
	}
	return out
}
