// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package model

import (
	"github.com/nlpodyssey/spago/mat"
	"github.com/nlpodyssey/spago/mat/float"
)

// This file contains the row and column manipulations shared by the
// decoding engine and the adapters. Matrices are read through mat.Data,
// so any float type is accepted; T is the type of the returned matrices.

// Rows returns a copy of the content of a 2D matrix as float64 rows.
func Rows(m mat.Matrix) [][]float64 {
	shape := m.Shape()
	rows, cols := shape[0], shape[1]
	d := mat.Data[float64](m)
	out := make([][]float64, rows)
	for i := range out {
		out[i] = make([]float64, cols)
		copy(out[i], d[i*cols:(i+1)*cols])
	}
	return out
}

// FromRows builds a [len(rows) x cols] matrix.
func FromRows[T float.DType](rows [][]float64, cols int) mat.Matrix {
	d := make([]T, 0, len(rows)*cols)
	for _, r := range rows {
		for _, v := range r {
			d = append(d, T(v))
		}
	}
	return mat.NewDense[T](mat.WithShape(len(rows), cols), mat.WithBacking(d))
}

// GatherRows returns a new matrix whose i-th row is the idxs[i]-th row of m.
func GatherRows[T float.DType](m mat.Matrix, idxs []int) mat.Matrix {
	shape := m.Shape()
	cols := shape[1]
	d := mat.Data[T](m)
	out := make([]T, 0, len(idxs)*cols)
	for _, idx := range idxs {
		out = append(out, d[idx*cols:(idx+1)*cols]...)
	}
	return mat.NewDense[T](mat.WithShape(len(idxs), cols), mat.WithBacking(out))
}

// GatherCols returns a new matrix whose j-th column is the idxs[j]-th column of m.
func GatherCols[T float.DType](m mat.Matrix, idxs []int) mat.Matrix {
	shape := m.Shape()
	rows, cols := shape[0], shape[1]
	d := mat.Data[T](m)
	out := make([]T, 0, rows*len(idxs))
	for i := 0; i < rows; i++ {
		row := d[i*cols : (i+1)*cols]
		for _, idx := range idxs {
			out = append(out, row[idx])
		}
	}
	return mat.NewDense[T](mat.WithShape(rows, len(idxs)), mat.WithBacking(out))
}

// OneHot returns a [len(ids) x size] matrix with a single one per row.
func OneHot[T float.DType](ids []int, size int) mat.Matrix {
	out := make([]T, len(ids)*size)
	for i, id := range ids {
		out[i*size+id] = 1
	}
	return mat.NewDense[T](mat.WithShape(len(ids), size), mat.WithBacking(out))
}
