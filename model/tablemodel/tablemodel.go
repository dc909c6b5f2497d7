// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tablemodel implements a lexical-table translation model.
//
// The next-token distribution is the log-softmax of a transition score
// from the previous token, plus the masked average of the lexical biases
// of the source tokens, minus a penalty for each previous occurrence of
// the candidate token.
package tablemodel

import (
	"context"
	"fmt"
	"sort"

	"github.com/nlpodyssey/nmtflow/data"
	"github.com/nlpodyssey/nmtflow/model"
	"github.com/nlpodyssey/nmtflow/vocabulary"
	"github.com/nlpodyssey/spago/mat"
	"github.com/nlpodyssey/spago/mat/float"
	"gonum.org/v1/gonum/floats"
)

var (
	_ model.Adapter     = &Model[float32]{}
	_ model.MultiTarget = &Multi[float32]{}
)

// Model is a single-target table model.
type Model[T float.DType] struct {
	Params
	// SourcePad is the ID used to pad the source sequences.
	SourcePad int
	vocab     vocabulary.Vocabulary
}

// New returns a new Model decoding into vocab.
func New[T float.DType](p Params, vocab vocabulary.Vocabulary, sourcePad int) (*Model[T], error) {
	if err := p.Validate(vocab.Size()); err != nil {
		return nil, err
	}
	return &Model[T]{Params: p, SourcePad: sourcePad, vocab: vocab}, nil
}

// TargetVocab returns the target vocabulary.
func (m *Model[T]) TargetVocab() vocabulary.Vocabulary {
	return m.vocab
}

// Encode maps every source token to its lexicon row.
func (m *Model[T]) Encode(ctx context.Context, batch *data.Batch, encIDs []string) (model.Context, error) {
	if len(encIDs) == 0 {
		encIDs = m.EncoderIDs()
	}
	out := make(model.Context, len(encIDs))
	for _, id := range encIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lex, ok := m.Lexicons[id]
		if !ok {
			return nil, fmt.Errorf("no lexicon for encoder %q", id)
		}
		f, err := m.encode(batch, id, lex)
		if err != nil {
			return nil, fmt.Errorf("encoder %q: %w", id, err)
		}
		out[id] = f
	}
	return out, nil
}

func (m *Model[T]) encode(batch *data.Batch, id string, lex [][]float64) (model.Feature, error) {
	padded, lengths, err := batch.Padded(id, m.SourcePad)
	if err != nil {
		return model.Feature{}, err
	}
	n := batch.Size()
	if len(padded) == 0 {
		// Empty sequences still get a fully masked time step.
		padded = [][]int{make([]int, n)}
		for i := range padded[0] {
			padded[0][i] = m.SourcePad
		}
	}

	cols := m.vocab.Size()
	tensor := make([]mat.Matrix, len(padded))
	mask := make([][]float64, len(padded))
	for t, ids := range padded {
		rows := make([][]float64, n)
		mask[t] = make([]float64, n)
		for b, tok := range ids {
			if t >= lengths[b] {
				rows[b] = make([]float64, cols)
				continue
			}
			if tok < 0 || tok >= len(lex) {
				return model.Feature{}, fmt.Errorf("source token %d out of lexicon range [0, %d)", tok, len(lex))
			}
			rows[b] = lex[tok]
			mask[t][b] = 1
		}
		tensor[t] = model.FromRows[T](rows, cols)
	}
	return model.Feature{Tensor: tensor, Mask: model.FromRows[T](mask, n)}, nil
}

// EncoderIDs returns the IDs of the lexicons, sorted.
func (m *Model[T]) EncoderIDs() []string {
	ids := make([]string, 0, len(m.Lexicons))
	for id := range m.Lexicons {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// InitState returns zero occurrence counts.
func (m *Model[T]) InitState(c model.Context) mat.Matrix {
	n, size := c.Samples(), m.vocab.Size()
	return mat.NewDense[T](mat.WithShape(n, size), mat.WithBacking(make([]T, n*size)))
}

// Embed returns the one-hot encoding of ids.
func (m *Model[T]) Embed(ids []int) mat.Matrix {
	return model.OneHot[T](ids, m.vocab.Size())
}

// Step returns the log-probabilities of the next token and the updated
// occurrence counts. The previous token counts as an occurrence.
func (m *Model[T]) Step(c model.Context, emb mat.Matrix, state mat.Matrix) (mat.Matrix, mat.Matrix) {
	prev := model.Rows(emb)
	counts := model.Rows(state)
	bias := m.contextBias(c)
	size := m.vocab.Size()

	scores := make([][]float64, len(prev))
	for b, e := range prev {
		s := make([]float64, size)
		for i, w := range e {
			if w != 0 {
				floats.AddScaled(s, w, m.Transitions[i])
			}
		}
		floats.Add(s, bias[b])
		floats.Add(counts[b], e)
		if m.RepeatPenalty != 0 {
			floats.AddScaled(s, -m.RepeatPenalty, counts[b])
		}
		floats.AddConst(-floats.LogSumExp(s), s)
		scores[b] = s
	}
	return model.FromRows[T](scores, size), model.FromRows[T](counts, size)
}

// contextBias returns, for every sample, the sum over the encoders of the
// masked mean of the encoded rows.
func (m *Model[T]) contextBias(c model.Context) [][]float64 {
	n, size := c.Samples(), m.vocab.Size()
	bias := make([][]float64, n)
	for b := range bias {
		bias[b] = make([]float64, size)
	}

	ids := make([]string, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	sum := make([]float64, size)
	for _, id := range ids {
		f := c[id]
		var mask [][]float64
		if f.Mask != nil {
			mask = model.Rows(f.Mask)
		}
		steps := make([][][]float64, len(f.Tensor))
		for t, x := range f.Tensor {
			steps[t] = model.Rows(x)
		}
		for b := 0; b < n; b++ {
			for i := range sum {
				sum[i] = 0
			}
			weight := 0.0
			for t, rows := range steps {
				w := 1.0
				if mask != nil {
					w = mask[t][b]
				}
				if w == 0 {
					continue
				}
				floats.AddScaled(sum, w, rows[b])
				weight += w
			}
			if weight > 0 {
				floats.AddScaled(bias[b], 1/weight, sum)
			}
		}
	}
	return bias
}

// Multi is a table model with one decoder per target.
type Multi[T float.DType] struct {
	*Model[T]
	targets map[string]*Model[T]
}

// NewMulti returns a Multi whose default target is primary.
func NewMulti[T float.DType](targets map[string]*Model[T], primary string) (*Multi[T], error) {
	m, ok := targets[primary]
	if !ok {
		return nil, fmt.Errorf("primary target %q not found", primary)
	}
	return &Multi[T]{Model: m, targets: targets}, nil
}

// SelectDecoder returns the model of the given target.
func (m *Multi[T]) SelectDecoder(targetID string) (model.Adapter, error) {
	t, ok := m.targets[targetID]
	if !ok {
		return nil, fmt.Errorf("unknown target %q", targetID)
	}
	return t, nil
}

// TargetIDs returns the IDs of the targets, sorted.
func (m *Multi[T]) TargetIDs() []string {
	ids := make([]string, 0, len(m.targets))
	for id := range m.targets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
