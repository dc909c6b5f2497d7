// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package beamsearch

import (
	"container/heap"
	"sort"
)

type candidate struct {
	score float64
	index int
}

// less orders candidates by score; on equal scores the lower index ranks higher.
func (c candidate) less(o candidate) bool {
	if c.score != o.score {
		return c.score < o.score
	}
	return c.index > o.index
}

// minHeap keeps the worst retained candidate at the top.
type minHeap []candidate

func (h minHeap) Len() int           { return len(h) }
func (h minHeap) Less(i, j int) bool { return h[i].less(h[j]) }
func (h minHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x any)        { *h = append(*h, x.(candidate)) }
func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topK returns the k best scores produced by score(i) for i in [0, size),
// best first, together with their indices.
func topK(size, k int, score func(i int) float64) ([]float64, []int) {
	h := make(minHeap, 0, k+1)
	for i := 0; i < size; i++ {
		c := candidate{score: score(i), index: i}
		if len(h) < k {
			heap.Push(&h, c)
			continue
		}
		if h[0].less(c) {
			h[0] = c
			heap.Fix(&h, 0)
		}
	}
	sort.Slice(h, func(i, j int) bool { return h[j].less(h[i]) })

	scores := make([]float64, len(h))
	indices := make([]int, len(h))
	for i, c := range h {
		scores[i], indices[i] = c.score, c.index
	}
	return scores, indices
}
