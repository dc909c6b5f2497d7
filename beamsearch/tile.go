// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package beamsearch

import (
	"github.com/nlpodyssey/nmtflow/model"
	"github.com/nlpodyssey/spago/mat"
	"github.com/nlpodyssey/spago/mat/float"
)

// TileContext returns a new context whose tensors and masks are gathered
// along the sample axis by idxs. The input context is left untouched.
func TileContext[T float.DType](c model.Context, idxs []int) model.Context {
	out := make(model.Context, len(c))
	for id, f := range c {
		tiled := model.Feature{Tensor: make([]mat.Matrix, len(f.Tensor))}
		for t, m := range f.Tensor {
			tiled.Tensor[t] = model.GatherRows[T](m, idxs)
		}
		if f.Mask != nil {
			tiled.Mask = model.GatherCols[T](f.Mask, idxs)
		}
		out[id] = tiled
	}
	return out
}
