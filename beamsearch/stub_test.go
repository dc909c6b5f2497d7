// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package beamsearch

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/nlpodyssey/nmtflow/data"
	"github.com/nlpodyssey/nmtflow/model"
	"github.com/nlpodyssey/nmtflow/vocabulary"
	"github.com/nlpodyssey/spago/mat"
	"github.com/stretchr/testify/require"
)

// stubModel returns fixed distributions: the log-probability of the next
// token depends on the first token of the "src" source of the sample
// (its key) and on the previous target token.
type stubModel struct {
	vocab vocabulary.Vocabulary
	// tables[key][prev] is the log-probability distribution of the next token.
	tables map[int][][]float64
	// encoded records the encoder IDs requested to Encode.
	encoded [][]string
}

var _ model.Adapter = &stubModel{}

func (m *stubModel) Encode(_ context.Context, batch *data.Batch, encIDs []string) (model.Context, error) {
	m.encoded = append(m.encoded, encIDs)
	seqs, ok := batch.Sources["src"]
	if !ok {
		return nil, fmt.Errorf("missing src")
	}
	keys := make([][]float64, len(seqs))
	for i, s := range seqs {
		keys[i] = []float64{float64(s[0])}
	}
	return model.Context{
		"src": model.Feature{Tensor: []mat.Matrix{model.FromRows[float64](keys, 1)}},
	}, nil
}

// InitState returns a step counter for every sample.
func (m *stubModel) InitState(c model.Context) mat.Matrix {
	rows := make([][]float64, c.Samples())
	for i := range rows {
		rows[i] = []float64{0}
	}
	return model.FromRows[float64](rows, 1)
}

func (m *stubModel) Embed(ids []int) mat.Matrix {
	rows := make([][]float64, len(ids))
	for i, id := range ids {
		rows[i] = []float64{float64(id)}
	}
	return model.FromRows[float64](rows, 1)
}

func (m *stubModel) Step(c model.Context, emb mat.Matrix, state mat.Matrix) (mat.Matrix, mat.Matrix) {
	keys := model.Rows(c["src"].Tensor[0])
	prev := model.Rows(emb)
	out := make([][]float64, len(prev))
	for i := range out {
		out[i] = m.tables[int(keys[i][0])][int(prev[i][0])]
	}
	steps := model.Rows(state)
	for i := range steps {
		steps[i][0]++
	}
	return model.FromRows[float64](out, m.vocab.Size()), model.FromRows[float64](steps, 1)
}

func (m *stubModel) TargetVocab() vocabulary.Vocabulary { return m.vocab }

// stubMulti exposes one stubModel per target.
type stubMulti struct {
	*stubModel
	targets map[string]*stubModel
}

func (m *stubMulti) SelectDecoder(id string) (model.Adapter, error) {
	t, ok := m.targets[id]
	if !ok {
		return nil, fmt.Errorf("unknown target %q", id)
	}
	return t, nil
}

func vocabFromTokens(t *testing.T, tokens ...string) *vocabulary.Vocab {
	v, err := vocabulary.New(tokens, vocabulary.DefaultSpecialTokens, vocabulary.NoMarker)
	require.NoError(t, err)
	return v
}

// abVocab is {pad:0, bos:1, eos:2, unk:3, a:4, b:5}.
func abVocab(t *testing.T) *vocabulary.Vocab {
	return vocabFromTokens(t, "<pad>", "<bos>", "<eos>", "<unk>", "a", "b")
}

// peaked returns a [size x size] table where each previous token leads to
// its favored successor with probability 0.9; the rest is spread evenly.
func peaked(size int, favored map[int]int, fallback int) [][]float64 {
	table := make([][]float64, size)
	for prev := range table {
		next, ok := favored[prev]
		if !ok {
			next = fallback
		}
		row := make([]float64, size)
		for j := range row {
			row[j] = math.Log(0.1 / float64(size-1))
		}
		row[next] = math.Log(0.9)
		table[prev] = row
	}
	return table
}

// randomTable returns a table of random normalized distributions.
func randomTable(rnd *rand.Rand, size int) [][]float64 {
	table := make([][]float64, size)
	for prev := range table {
		row := make([]float64, size)
		sum := 0.0
		for j := range row {
			row[j] = rnd.Float64() + 0.01
			sum += row[j]
		}
		for j := range row {
			row[j] = math.Log(row[j] / sum)
		}
		table[prev] = row
	}
	return table
}

// abStub favors "a b" for key 0 and "b" for key 1.
func abStub(t *testing.T) *stubModel {
	return &stubModel{
		vocab: abVocab(t),
		tables: map[int][][]float64{
			0: peaked(6, map[int]int{1: 4, 4: 5, 5: 2}, 2),
			1: peaked(6, map[int]int{1: 5, 5: 2}, 2),
		},
	}
}

func keySamples(keys ...int) []data.Sample {
	samples := make([]data.Sample, len(keys))
	for i, k := range keys {
		samples[i] = data.Sample{"src": {k}}
	}
	return samples
}

func sliceSource(t *testing.T, batchSize int, keys ...int) data.Source {
	src, err := data.NewSliceSource(keySamples(keys...), batchSize)
	require.NoError(t, err)
	return src
}
