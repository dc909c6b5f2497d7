// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tablemodel

import (
	"fmt"
	"strings"

	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/nlpodyssey/gopickle/types"
	"github.com/rs/zerolog/log"
)

// Names of the entries of a pickled state dict.
const (
	TransitionsParam   = "transitions"
	LexiconParamPrefix = "lexicon."
	RepeatPenaltyParam = "repeat_penalty"
)

// LoadPickle reads Params from a PyTorch state dict saved with torch.save.
//
// The state dict holds a 2D "transitions" tensor, one 2D "lexicon.<encoder>"
// tensor per source encoder and an optional single-value "repeat_penalty".
func LoadPickle(filename string) (Params, error) {
	var p Params
	torchModel, err := pytorch.Load(filename)
	if err != nil {
		return p, fmt.Errorf("failed to load torch model %q: %w", filename, err)
	}
	params, err := makeParamsMap(torchModel)
	if err != nil {
		return p, fmt.Errorf("failed to read model params: %w", err)
	}

	t, err := params.fetch(TransitionsParam)
	if err != nil {
		return p, err
	}
	if p.Transitions, err = tensorToRows(t); err != nil {
		return p, fmt.Errorf("failed to convert transitions: %w", err)
	}

	if t, ok := params[RepeatPenaltyParam]; ok {
		delete(params, RepeatPenaltyParam)
		d, err := tensorData(t)
		if err != nil {
			return p, fmt.Errorf("failed to convert repeat penalty: %w", err)
		}
		if len(d) != 1 {
			return p, fmt.Errorf("expected a single repeat penalty value, actual %d", len(d))
		}
		p.RepeatPenalty = d[0]
	}

	p.Lexicons = make(map[string][][]float64)
	for id, t := range params.fetchPrefixed(LexiconParamPrefix) {
		if p.Lexicons[id], err = tensorToRows(t); err != nil {
			return p, fmt.Errorf("failed to convert lexicon %q: %w", id, err)
		}
	}

	for name := range params {
		log.Warn().Str("param", name).Msg("ignoring unknown parameter")
	}
	return p, nil
}

func tensorToRows(t *pytorch.Tensor) ([][]float64, error) {
	if len(t.Size) != 2 {
		return nil, fmt.Errorf("expected 2 dimensions, actual %d", len(t.Size))
	}
	data, err := tensorData(t)
	if err != nil {
		return nil, err
	}
	rows, cols := t.Size[0], t.Size[1]
	out := make([][]float64, rows)
	for i := range out {
		out[i] = data[i*cols : (i+1)*cols]
	}
	return out, nil
}

// tensorData returns a copy of the values of a contiguous tensor.
func tensorData(t *pytorch.Tensor) ([]float64, error) {
	size := tensorDataSize(t)
	from, to := t.StorageOffset, t.StorageOffset+size
	out := make([]float64, size)
	switch st := t.Source.(type) {
	case *pytorch.FloatStorage:
		if to > len(st.Data) {
			return nil, fmt.Errorf("tensor exceeds its storage")
		}
		for i, v := range st.Data[from:to] {
			out[i] = float64(v)
		}
	case *pytorch.DoubleStorage:
		if to > len(st.Data) {
			return nil, fmt.Errorf("tensor exceeds its storage")
		}
		copy(out, st.Data[from:to])
	case *pytorch.BFloat16Storage:
		if to > len(st.Data) {
			return nil, fmt.Errorf("tensor exceeds its storage")
		}
		for i, v := range st.Data[from:to] {
			out[i] = float64(v)
		}
	default:
		return nil, fmt.Errorf("unsupported storage type %T", t.Source)
	}
	return out, nil
}

func tensorDataSize(t *pytorch.Tensor) int {
	size := 1
	for _, v := range t.Size {
		size *= v
	}
	return size
}

func cast[T any](v any) (t T, _ error) {
	t, ok := v.(T)
	if !ok {
		return t, fmt.Errorf("type assertion failed: expected %T, actual %T", t, v)
	}
	return
}

type paramsMap map[string]*pytorch.Tensor

func makeParamsMap(torchModel any) (paramsMap, error) {
	od, err := cast[*types.OrderedDict](torchModel)
	if err != nil {
		return nil, err
	}
	params := make(paramsMap, od.Len())
	for k, item := range od.Map {
		name, err := cast[string](k)
		if err != nil {
			return nil, fmt.Errorf("wrong param name type: %w", err)
		}
		tensor, err := cast[*pytorch.Tensor](item.Value)
		if err != nil {
			return nil, fmt.Errorf("wrong value type for param %q: %w", name, err)
		}
		params[name] = tensor
	}
	return params, nil
}

// fetch gets a value from params by its name, removing the entry from the map.
func (p paramsMap) fetch(name string) (*pytorch.Tensor, error) {
	t, ok := p[name]
	if !ok {
		return nil, fmt.Errorf("parameter %q not found", name)
	}
	delete(p, name)
	return t, nil
}

func (p paramsMap) fetchPrefixed(prefix string) paramsMap {
	out := make(paramsMap, len(p))
	for k, v := range p {
		if after, ok := strings.CutPrefix(k, prefix); ok {
			out[after] = v
			delete(p, k)
		}
	}
	return out
}
