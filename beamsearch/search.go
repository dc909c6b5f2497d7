// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package beamsearch implements batched beam-search decoding over one or
// more (ensembled) translation models.
package beamsearch

import (
	"context"
	"fmt"
	"time"

	"github.com/nlpodyssey/nmtflow/data"
	"github.com/nlpodyssey/nmtflow/model"
	"github.com/nlpodyssey/nmtflow/topology"
	"github.com/nlpodyssey/nmtflow/vocabulary"
	"github.com/nlpodyssey/spago/mat"
	"github.com/nlpodyssey/spago/mat/float"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/floats"
)

// Inf is the log-probability assigned to suppressed tokens. It is finite
// so that adding it to running scores never overflows.
const Inf = -1000.0

// Progress is notified after every decoded batch.
type Progress interface {
	Add(n int) error
}

// Options contains the options of a beam search.
type Options struct {
	// TaskID selects encoders and decoder of multi-task models. Empty for single-target models.
	TaskID string `yaml:"task_id"`
	// BeamSize is the number of hypotheses kept for each sample.
	BeamSize int `yaml:"beam_size"`
	// MaxLen is the maximum number of decoding steps.
	MaxLen int `yaml:"max_len"`
	// LPAlpha enables the GNMT length penalty when greater than zero.
	LPAlpha float64 `yaml:"lp_alpha"`
	// SuppressUnk prevents the unknown token from being generated.
	SuppressUnk bool `yaml:"suppress_unk"`

	// Resolver resolves TaskID (default: topology.DirectionResolver).
	Resolver topology.Resolver `yaml:"-"`
	// Workspace is reused if large enough, otherwise a new one is allocated.
	Workspace *Workspace `yaml:"-"`
	// Progress, if set, is advanced after every batch.
	Progress Progress `yaml:"-"`
}

// DefaultOptions returns the default options.
func DefaultOptions() Options {
	return Options{
		BeamSize: 12,
		MaxLen:   200,
	}
}

// Hypothesis is the best translation found for one input sample.
type Hypothesis struct {
	// Tokens are the generated IDs, up to and including the first end-of-sequence.
	Tokens []int
	// Score is the length-normalized log-probability.
	Score float64
	// Text is the surface form of Tokens.
	Text string
}

// BeamSearch decodes every sample of src and returns the translations in input order.
func BeamSearch[T float.DType](ctx context.Context, models []model.Adapter, src data.Source, opts Options) ([]string, error) {
	hyps, err := Search[T](ctx, models, src, opts)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(hyps))
	for i, h := range hyps {
		out[i] = h.Text
	}
	return out, nil
}

// Search decodes every sample of src and returns the best hypotheses in input order.
//
// The models are ensembled by summing their log-probabilities; they must
// share the target vocabulary. T is the float type of the matrices exchanged with them.
func Search[T float.DType](ctx context.Context, models []model.Adapter, src data.Source, opts Options) ([]Hypothesis, error) {
	s, err := newSearcher[T](models, src, opts)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, src)
}

type searcher[T float.DType] struct {
	binding *model.Binding
	opts    Options
	ws      *Workspace

	vocabSize          int
	pad, bos, eos, unk int

	// trace, if set, receives the scores and tokens selected at every step.
	trace func(t int, scores []float64, tokens []int)
	// noEarlyExit keeps decoding after every hypothesis has ended.
	noEarlyExit bool
}

func newSearcher[T float.DType](models []model.Adapter, src data.Source, opts Options) (*searcher[T], error) {
	if len(models) == 0 {
		return nil, configErrorf("no models")
	}
	if opts.BeamSize < 1 {
		return nil, configErrorf("beam size must be >= 1, actual %d", opts.BeamSize)
	}
	if opts.MaxLen < 1 {
		return nil, configErrorf("max length must be >= 1, actual %d", opts.MaxLen)
	}
	if opts.LPAlpha < 0 {
		return nil, configErrorf("length penalty alpha must be >= 0, actual %f", opts.LPAlpha)
	}

	var task *topology.Task
	if opts.TaskID != "" {
		resolver := opts.Resolver
		if resolver == nil {
			resolver = topology.DirectionResolver{}
		}
		t, err := resolver.Resolve(opts.TaskID)
		if err != nil {
			return nil, configErrorf("task %q: %v", opts.TaskID, err)
		}
		task = &t
	}
	binding, err := model.Bind(models, task)
	if err != nil {
		return nil, configErrorf("%v", err)
	}
	vocab := binding.Vocab
	if vocab.Size() < opts.BeamSize {
		return nil, configErrorf("beam size %d exceeds the target vocabulary size %d", opts.BeamSize, vocab.Size())
	}

	maxBatch := src.MaxBatchSize()
	ws := opts.Workspace
	if ws == nil {
		ws = NewWorkspace(opts.MaxLen, maxBatch, opts.BeamSize)
	} else if !ws.Fits(opts.MaxLen, maxBatch, opts.BeamSize) {
		return nil, configErrorf("workspace (%d steps, %d samples, beam %d) cannot hold %d steps, %d samples, beam %d",
			ws.maxLen, ws.maxBatch, ws.beamSize, opts.MaxLen, maxBatch, opts.BeamSize)
	}
	for i, b := range src.Batches() {
		if b.Size() < 1 || b.Size() > maxBatch {
			return nil, configErrorf("batch %d has %d samples, expected 1 to %d", i, b.Size(), maxBatch)
		}
	}

	return &searcher[T]{
		binding:   binding,
		opts:      opts,
		ws:        ws,
		vocabSize: vocab.Size(),
		pad:       vocab.PadID(),
		bos:       vocab.BosID(),
		eos:       vocab.EosID(),
		unk:       vocab.UnkID(),
	}, nil
}

func (s *searcher[T]) run(ctx context.Context, src data.Source) ([]Hypothesis, error) {
	var results []Hypothesis
	for i, batch := range src.Batches() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := time.Now()
		hyps, err := s.decodeBatch(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", i, err)
		}
		results = append(results, hyps...)
		log.Debug().Int("batch", i).Int("size", batch.Size()).Dur("elapsed", time.Since(start)).Msg("decoded batch")
		if s.opts.Progress != nil {
			if err := s.opts.Progress.Add(1); err != nil {
				log.Err(err).Msg("failed to report progress")
			}
		}
	}
	return data.Restore(src, results)
}

func (s *searcher[T]) decodeBatch(ctx context.Context, batch *data.Batch) ([]Hypothesis, error) {
	n, k, maxLen := batch.Size(), s.opts.BeamSize, s.opts.MaxLen
	view, err := s.ws.Slice(n, maxLen)
	if err != nil {
		return nil, err
	}

	decs := s.binding.Decoders
	ctxs := make([]model.Context, len(decs))
	states := make([]mat.Matrix, len(decs))
	for i, dec := range decs {
		if ctxs[i], err = dec.Encode(ctx, batch, s.binding.EncoderIDs); err != nil {
			return nil, fmt.Errorf("model %d: failed to encode: %w", i, err)
		}
		states[i] = dec.InitState(ctxs[i])
	}

	// Before the first step every sample has a single hypothesis.
	width := 1
	active := make([]int, n)
	idxs := make([]int, n)
	for b := range active {
		active[b], idxs[b] = b, s.bos
	}

	for t := 0; t < maxLen; t++ {
		logProbs, err := s.step(ctxs, states, active, idxs)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", t, err)
		}
		if s.opts.SuppressUnk {
			for _, row := range logProbs {
				row[s.unk] = Inf
			}
		}

		finished := 0
		for i, id := range idxs {
			if id != s.eos {
				continue
			}
			finished++
			// A finished hypothesis can only be extended by <eos>, for free.
			row := logProbs[i]
			for j := range row {
				row[j] = Inf
			}
			row[s.eos] = 0
		}
		if finished == n*k && !s.noEarlyExit {
			log.Trace().Int("step", t).Msg("all hypotheses ended")
			break
		}

		scores := view.Scores(width)
		next := view.next[:n*k]
		flat := make([]int, n*k)
		for b := 0; b < n; b++ {
			best, indices := topK(width*s.vocabSize, k, func(c int) float64 {
				slot := b*width + c/s.vocabSize
				return scores[slot] + logProbs[slot][c%s.vocabSize]
			})
			copy(next[b*k:], best)
			copy(flat[b*k:], indices)
		}
		view.swapScores()

		ancestors, tokens := ResolveAncestors(flat, s.vocabSize)
		copy(view.Row(t), tokens)
		active = activeRows(ancestors, n, k, width)
		if t > 0 {
			view.Reorder(t, ancestors)
		}
		idxs, width = tokens, k

		if s.trace != nil {
			s.trace(t, view.Scores(k), tokens)
		}
	}

	// Every hypothesis gets an explicit end for the length computation.
	view.Fill(maxLen-1, s.eos)

	lengths := Lengths(view, s.pad, s.bos, s.eos)
	normalized := Normalize(view.Scores(k), lengths, s.opts.LPAlpha)

	hyps := make([]Hypothesis, n)
	seqs := make([][]int, n)
	for b := range hyps {
		best := floats.MaxIdx(normalized[b*k : (b+1)*k])
		seqs[b] = view.Sequence(b, best)
		hyps[b] = Hypothesis{
			Tokens: trimAfter(seqs[b], s.eos),
			Score:  normalized[b*k+best],
		}
	}
	for b, text := range vocabulary.DecodeAll(s.binding.Vocab, seqs) {
		hyps[b].Text = text
	}
	return hyps, nil
}

// step tiles the contexts and the decoder states by the active rows, runs
// every model and returns the sum of their log-probabilities.
func (s *searcher[T]) step(ctxs []model.Context, states []mat.Matrix, active, idxs []int) ([][]float64, error) {
	var sum [][]float64
	for i, dec := range s.binding.Decoders {
		ctxs[i] = TileContext[T](ctxs[i], active)
		state := states[i]
		if state != nil {
			state = model.GatherRows[T](state, active)
		}
		logProbs, next := dec.Step(ctxs[i], dec.Embed(idxs), state)
		states[i] = next

		if shape := logProbs.Shape(); shape[0] != len(idxs) || shape[1] != s.vocabSize {
			return nil, fmt.Errorf("model %d returned log-probabilities of shape %v, expected [%d %d]",
				i, shape, len(idxs), s.vocabSize)
		}
		rows := model.Rows(logProbs)
		if sum == nil {
			sum = rows
			continue
		}
		for r := range sum {
			floats.Add(sum[r], rows[r])
		}
	}
	return sum, nil
}

func trimAfter(seq []int, id int) []int {
	for i, v := range seq {
		if v == id {
			return seq[:i+1]
		}
	}
	return seq
}
