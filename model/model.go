// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package model defines the contracts between the decoding engine and
// the translation models it drives.
package model

import (
	"context"
	"fmt"

	"github.com/nlpodyssey/nmtflow/data"
	"github.com/nlpodyssey/nmtflow/topology"
	"github.com/nlpodyssey/nmtflow/vocabulary"
	"github.com/nlpodyssey/spago/mat"
	"github.com/rs/zerolog/log"
)

// Feature is the output of one encoder.
type Feature struct {
	// Tensor holds one [sample x feature] matrix per time step.
	Tensor []mat.Matrix
	// Mask is a [time x sample] matrix of ones and zeros, or nil.
	Mask mat.Matrix
}

// Samples returns the size of the sample axis.
func (f Feature) Samples() int {
	if len(f.Tensor) == 0 {
		return 0
	}
	return f.Tensor[0].Shape()[0]
}

// Context maps each encoder ID to its output.
type Context map[string]Feature

// Samples returns the size of the sample axis, shared by all the features.
func (c Context) Samples() int {
	for _, f := range c {
		return f.Samples()
	}
	return 0
}

// Adapter is a model bound to a single target.
type Adapter interface {
	// Encode runs the encoders named by encIDs over the batch, or all of them if encIDs is empty.
	Encode(ctx context.Context, batch *data.Batch, encIDs []string) (Context, error)
	// InitState returns the initial [sample x hidden] decoder state.
	InitState(c Context) mat.Matrix
	// Embed returns the [len(ids) x embedding] target embeddings of ids.
	Embed(ids []int) mat.Matrix
	// Step returns the [sample x vocabulary] log-probabilities of the next
	// token together with the next decoder state.
	Step(c Context, emb mat.Matrix, state mat.Matrix) (logProbs mat.Matrix, next mat.Matrix)
	// TargetVocab returns the vocabulary of the target.
	TargetVocab() vocabulary.Vocabulary
}

// MultiTarget is an Adapter with one decoder per target.
type MultiTarget interface {
	Adapter
	// SelectDecoder returns the adapter that decodes the given target.
	SelectDecoder(targetID string) (Adapter, error)
}

// Binding is the set of adapters and encoders selected for a decoding run.
type Binding struct {
	// EncoderIDs are the encoders to run; empty means all.
	EncoderIDs []string
	// Decoders holds one adapter per model.
	Decoders []Adapter
	// Vocab is the target vocabulary shared by the decoders.
	Vocab vocabulary.Vocabulary
}

// Bind selects the decoders of models for task. A nil task selects the
// single target of each model. Every model must be a MultiTarget otherwise.
func Bind(models []Adapter, task *topology.Task) (*Binding, error) {
	if len(models) == 0 {
		return nil, fmt.Errorf("no models to bind")
	}
	b := &Binding{Decoders: make([]Adapter, len(models))}
	if task == nil {
		copy(b.Decoders, models)
	} else {
		b.EncoderIDs = task.SourceEncoderIDs
		for i, m := range models {
			mt, ok := m.(MultiTarget)
			if !ok {
				return nil, fmt.Errorf("model %d has a single target, cannot select %q", i, task.PrimaryTargetID)
			}
			dec, err := mt.SelectDecoder(task.PrimaryTargetID)
			if err != nil {
				return nil, fmt.Errorf("model %d: %w", i, err)
			}
			b.Decoders[i] = dec
		}
		log.Trace().Strs("encoders", task.SourceEncoderIDs).Str("target", task.PrimaryTargetID).Msg("bound task")
	}
	b.Vocab = b.Decoders[0].TargetVocab()
	for i, dec := range b.Decoders[1:] {
		if err := sameVocab(b.Vocab, dec.TargetVocab()); err != nil {
			return nil, fmt.Errorf("model %d: %w", i+1, err)
		}
	}
	return b, nil
}

// sameVocab reports an error if v does not map every token, special ones
// included, to the same ID as expected.
func sameVocab(expected, v vocabulary.Vocabulary) error {
	if v.Size() != expected.Size() {
		return fmt.Errorf("target vocabulary of size %d, expected %d", v.Size(), expected.Size())
	}
	if v.PadID() != expected.PadID() || v.BosID() != expected.BosID() ||
		v.EosID() != expected.EosID() || v.UnkID() != expected.UnkID() {
		return fmt.Errorf("target special tokens differ from model 0")
	}
	a, b := expected.Tokens(), v.Tokens()
	for id := range a {
		if a[id] != b[id] {
			return fmt.Errorf("target token %d is %q, expected %q", id, b[id], a[id])
		}
	}
	return nil
}
