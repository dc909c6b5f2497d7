// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package beamsearch

// ResolveAncestors splits indices into a flattened [slot x vocabulary]
// score row into the slot they extend and the token they append.
func ResolveAncestors(flat []int, vocabSize int) (ancestors, tokens []int) {
	ancestors = make([]int, len(flat))
	tokens = make([]int, len(flat))
	for i, f := range flat {
		ancestors[i] = f / vocabSize
		tokens[i] = f % vocabSize
	}
	return ancestors, tokens
}

// activeRows maps each of the n*k new slots to the decoder state row it
// reads from. Before the first step every sample owns width=1 row, then k.
func activeRows(ancestors []int, n, k, width int) []int {
	rows := make([]int, n*k)
	for b := 0; b < n; b++ {
		for j := 0; j < k; j++ {
			rows[b*k+j] = b*width + ancestors[b*k+j]
		}
	}
	return rows
}
