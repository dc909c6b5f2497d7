// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package beamsearch

// Workspace is the storage of the beam and of the running scores,
// allocated once for the largest batch and narrowed down for each batch.
//
// A Workspace must not be shared by concurrent searches.
type Workspace struct {
	maxLen   int
	maxBatch int
	beamSize int
	// beam is laid out as [maxLen][maxBatch][beamSize].
	beam []int
	nll  []float64
	next []float64
	tmp  []int
}

// NewWorkspace allocates a workspace for up to maxBatch samples, beamSize
// hypotheses per sample and maxLen decoding steps.
func NewWorkspace(maxLen, maxBatch, beamSize int) *Workspace {
	return &Workspace{
		maxLen:   maxLen,
		maxBatch: maxBatch,
		beamSize: beamSize,
		beam:     make([]int, maxLen*maxBatch*beamSize),
		nll:      make([]float64, maxBatch*beamSize),
		next:     make([]float64, maxBatch*beamSize),
		tmp:      make([]int, maxBatch*beamSize),
	}
}

// Fits reports whether the workspace can hold the given dimensions.
func (w *Workspace) Fits(maxLen, batchSize, beamSize int) bool {
	return maxLen <= w.maxLen && batchSize <= w.maxBatch && beamSize == w.beamSize
}

// Slice returns a zeroed view over the first batchSize samples and the first maxLen steps.
func (w *Workspace) Slice(batchSize, maxLen int) (*View, error) {
	if !w.Fits(maxLen, batchSize, w.beamSize) {
		return nil, configErrorf("batch of %d samples and %d steps exceeds the workspace (%d samples, %d steps)",
			batchSize, maxLen, w.maxBatch, w.maxLen)
	}
	v := &View{
		beam:   w.beam,
		nll:    w.nll[:batchSize*w.beamSize],
		next:   w.next[:batchSize*w.beamSize],
		tmp:    w.tmp[:batchSize*w.beamSize],
		stride: w.maxBatch * w.beamSize,
		n:      batchSize,
		k:      w.beamSize,
		maxLen: maxLen,
	}
	for t := 0; t < maxLen; t++ {
		row := v.Row(t)
		for i := range row {
			row[i] = 0
		}
	}
	for i := range v.nll {
		v.nll[i] = 0
	}
	return v, nil
}

// View is the portion of a Workspace used by one batch.
type View struct {
	beam   []int
	nll    []float64
	next   []float64
	tmp    []int
	stride int
	n      int
	k      int
	maxLen int
}

// Row returns the tokens chosen at step t, laid out as [sample][slot].
func (v *View) Row(t int) []int {
	start := t * v.stride
	return v.beam[start : start+v.n*v.k : start+v.n*v.k]
}

// At returns the token of slot j of sample b at step t.
func (v *View) At(t, b, j int) int {
	return v.Row(t)[b*v.k+j]
}

// Fill sets every slot of step t to id.
func (v *View) Fill(t, id int) {
	row := v.Row(t)
	for i := range row {
		row[i] = id
	}
}

// Reorder permutes the steps before t so that slot j of sample b holds
// the history of slot ancestors[b*k+j] of the same sample.
func (v *View) Reorder(t int, ancestors []int) {
	for s := 0; s < t; s++ {
		row := v.Row(s)
		copy(v.tmp, row)
		for b := 0; b < v.n; b++ {
			for j := 0; j < v.k; j++ {
				row[b*v.k+j] = v.tmp[b*v.k+ancestors[b*v.k+j]]
			}
		}
	}
}

// Sequence returns the tokens of slot j of sample b for every step.
func (v *View) Sequence(b, j int) []int {
	out := make([]int, v.maxLen)
	for t := range out {
		out[t] = v.At(t, b, j)
	}
	return out
}

// Scores returns the running scores, laid out as [sample][slot] with
// width slots per sample.
func (v *View) Scores(width int) []float64 {
	return v.nll[:v.n*width]
}

// swapScores makes the scores written in the next buffer current.
func (v *View) swapScores() {
	v.nll, v.next = v.next, v.nll
}
