// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package model

import (
	"context"
	"fmt"
	"testing"

	"github.com/nlpodyssey/nmtflow/data"
	"github.com/nlpodyssey/nmtflow/topology"
	"github.com/nlpodyssey/nmtflow/vocabulary"
	"github.com/nlpodyssey/spago/mat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	vocab vocabulary.Vocabulary
}

func (f fakeAdapter) Encode(context.Context, *data.Batch, []string) (Context, error) {
	return Context{}, nil
}
func (f fakeAdapter) InitState(Context) mat.Matrix { return nil }
func (f fakeAdapter) Embed([]int) mat.Matrix       { return nil }
func (f fakeAdapter) Step(Context, mat.Matrix, mat.Matrix) (mat.Matrix, mat.Matrix) {
	return nil, nil
}
func (f fakeAdapter) TargetVocab() vocabulary.Vocabulary { return f.vocab }

type fakeMulti struct {
	fakeAdapter
	targets map[string]Adapter
}

func (f fakeMulti) SelectDecoder(id string) (Adapter, error) {
	a, ok := f.targets[id]
	if !ok {
		return nil, fmt.Errorf("unknown target %q", id)
	}
	return a, nil
}

func newVocab(t *testing.T, words ...string) *vocabulary.Vocab {
	v, err := vocabulary.New(append([]string{"<pad>", "<bos>", "<eos>", "<unk>"}, words...), vocabulary.DefaultSpecialTokens, vocabulary.NoMarker)
	require.NoError(t, err)
	return v
}

func TestBindSingleTarget(t *testing.T) {
	v := newVocab(t, "a", "b")
	m1, m2 := fakeAdapter{vocab: v}, fakeAdapter{vocab: v}

	b, err := Bind([]Adapter{m1, m2}, nil)
	require.NoError(t, err)
	assert.Empty(t, b.EncoderIDs)
	assert.Equal(t, []Adapter{m1, m2}, b.Decoders)
	assert.Equal(t, v, b.Vocab)
}

func TestBindMultiTarget(t *testing.T) {
	de, fr := newVocab(t, "ein"), newVocab(t, "un", "une")
	m := fakeMulti{
		fakeAdapter: fakeAdapter{vocab: de},
		targets:     map[string]Adapter{"de": fakeAdapter{vocab: de}, "fr": fakeAdapter{vocab: fr}},
	}

	b, err := Bind([]Adapter{m}, &topology.Task{SourceEncoderIDs: []string{"en", "image"}, PrimaryTargetID: "fr"})
	require.NoError(t, err)
	assert.Equal(t, []string{"en", "image"}, b.EncoderIDs)
	assert.Equal(t, fr, b.Vocab)

	_, err = Bind([]Adapter{m}, &topology.Task{PrimaryTargetID: "es"})
	assert.Error(t, err)
}

func TestBindErrors(t *testing.T) {
	_, err := Bind(nil, nil)
	assert.Error(t, err)

	_, err = Bind([]Adapter{fakeAdapter{vocab: newVocab(t, "a")}, fakeAdapter{vocab: newVocab(t, "a", "b")}}, nil)
	assert.Error(t, err)

	_, err = Bind([]Adapter{fakeAdapter{vocab: newVocab(t, "a")}}, &topology.Task{PrimaryTargetID: "de"})
	assert.Error(t, err)

	swapped, err := vocabulary.New([]string{"<bos>", "<pad>", "<eos>", "<unk>", "a"}, vocabulary.DefaultSpecialTokens, vocabulary.NoMarker)
	require.NoError(t, err)
	_, err = Bind([]Adapter{fakeAdapter{vocab: newVocab(t, "a")}, fakeAdapter{vocab: swapped}}, nil)
	assert.ErrorContains(t, err, "special tokens")

	_, err = Bind([]Adapter{fakeAdapter{vocab: newVocab(t, "a", "b")}, fakeAdapter{vocab: newVocab(t, "a", "c")}}, nil)
	assert.ErrorContains(t, err, "token 5")

	_, err = Bind([]Adapter{fakeAdapter{vocab: newVocab(t, "a", "b")}, fakeAdapter{vocab: newVocab(t, "a", "b")}}, nil)
	assert.NoError(t, err)
}

func TestGatherRows(t *testing.T) {
	m := FromRows[float32]([][]float64{{1, 2}, {3, 4}, {5, 6}}, 2)

	g := GatherRows[float32](m, []int{2, 0, 0, 1})
	assert.Equal(t, []int{4, 2}, g.Shape())
	assert.Equal(t, [][]float64{{5, 6}, {1, 2}, {1, 2}, {3, 4}}, Rows(g))
	assert.Equal(t, [][]float64{{1, 2}, {3, 4}, {5, 6}}, Rows(m))
}

func TestGatherCols(t *testing.T) {
	m := FromRows[float64]([][]float64{{1, 2, 3}, {4, 5, 6}}, 3)

	g := GatherCols[float64](m, []int{1, 1, 2})
	assert.Equal(t, [][]float64{{2, 2, 3}, {5, 5, 6}}, Rows(g))
}

func TestOneHot(t *testing.T) {
	assert.Equal(t, [][]float64{{0, 1, 0}, {0, 0, 1}}, Rows(OneHot[float32]([]int{1, 2}, 3)))
}

func TestContextSamples(t *testing.T) {
	c := Context{"en": Feature{Tensor: []mat.Matrix{FromRows[float32]([][]float64{{1}, {2}, {3}}, 1)}}}
	assert.Equal(t, 3, c.Samples())
	assert.Equal(t, 0, Context{}.Samples())
}
