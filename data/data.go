// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package data

import (
	"bufio"
	"fmt"
	"io"
	"sort"
)

// Sample maps each data source ID to its sequence of token IDs.
type Sample map[string][]int

// Batch is an ordered set of samples decoded together.
type Batch struct {
	// Sources holds, for each data source ID, one sequence per sample.
	Sources map[string][][]int
	size    int
}

// NewBatch groups the given samples into a Batch.
func NewBatch(samples []Sample) *Batch {
	b := &Batch{
		Sources: make(map[string][][]int),
		size:    len(samples),
	}
	for i, s := range samples {
		for id, seq := range s {
			seqs, ok := b.Sources[id]
			if !ok {
				seqs = make([][]int, len(samples))
				b.Sources[id] = seqs
			}
			seqs[i] = seq
		}
	}
	return b
}

// Size returns the number of samples.
func (b *Batch) Size() int {
	return b.size
}

// Padded returns the sequences of the given source laid out as [time][sample],
// filling the missing positions with pad, together with the length of each sequence.
func (b *Batch) Padded(id string, pad int) ([][]int, []int, error) {
	seqs, ok := b.Sources[id]
	if !ok {
		return nil, nil, fmt.Errorf("batch has no data source %q", id)
	}
	lengths := make([]int, len(seqs))
	maxLen := 0
	for i, s := range seqs {
		lengths[i] = len(s)
		if len(s) > maxLen {
			maxLen = len(s)
		}
	}
	out := make([][]int, maxLen)
	for t := range out {
		row := make([]int, len(seqs))
		for i, s := range seqs {
			if t < len(s) {
				row[i] = s[t]
			} else {
				row[i] = pad
			}
		}
		out[t] = row
	}
	return out, lengths, nil
}

// Source yields the batches to decode.
type Source interface {
	// Batches returns the batches in decoding order.
	Batches() []*Batch
	// MaxBatchSize is an upper bound of the size of every batch.
	MaxBatchSize() int
	// OrigIdxs returns, for each decoded sample in order, its position in the
	// input. The boolean is false when the samples were not reordered.
	OrigIdxs() ([]int, bool)
}

// SliceSource splits samples into consecutive batches, keeping their order.
type SliceSource struct {
	batches   []*Batch
	batchSize int
}

var _ Source = &SliceSource{}

// NewSliceSource returns a SliceSource over samples.
func NewSliceSource(samples []Sample, batchSize int) (*SliceSource, error) {
	if batchSize < 1 {
		return nil, fmt.Errorf("invalid batch size %d", batchSize)
	}
	return &SliceSource{
		batches:   split(samples, batchSize),
		batchSize: batchSize,
	}, nil
}

// Batches returns the batches in decoding order.
func (s *SliceSource) Batches() []*Batch { return s.batches }

// MaxBatchSize returns the configured batch size.
func (s *SliceSource) MaxBatchSize() int { return s.batchSize }

// OrigIdxs always reports that no reordering occurred.
func (s *SliceSource) OrigIdxs() ([]int, bool) { return nil, false }

// BucketSource sorts samples by the length of one data source before
// batching them, so that each batch holds sequences of similar length.
// The original position of every sample is kept to restore the input order.
type BucketSource struct {
	batches   []*Batch
	batchSize int
	origIdxs  []int
}

var _ Source = &BucketSource{}

// NewBucketSource returns a BucketSource that sorts samples by the length of the key source.
// Samples of equal length keep their relative order.
func NewBucketSource(samples []Sample, batchSize int, key string) (*BucketSource, error) {
	if batchSize < 1 {
		return nil, fmt.Errorf("invalid batch size %d", batchSize)
	}
	idxs := make([]int, len(samples))
	for i := range idxs {
		idxs[i] = i
	}
	sort.SliceStable(idxs, func(i, j int) bool {
		return len(samples[idxs[i]][key]) < len(samples[idxs[j]][key])
	})
	sorted := make([]Sample, len(samples))
	for i, idx := range idxs {
		sorted[i] = samples[idx]
	}
	return &BucketSource{
		batches:   split(sorted, batchSize),
		batchSize: batchSize,
		origIdxs:  idxs,
	}, nil
}

// Batches returns the batches in decoding order.
func (s *BucketSource) Batches() []*Batch { return s.batches }

// MaxBatchSize returns the configured batch size.
func (s *BucketSource) MaxBatchSize() int { return s.batchSize }

// OrigIdxs returns the input position of each sample in decoding order.
func (s *BucketSource) OrigIdxs() ([]int, bool) { return s.origIdxs, true }

func split(samples []Sample, batchSize int) []*Batch {
	batches := make([]*Batch, 0, (len(samples)+batchSize-1)/batchSize)
	for start := 0; start < len(samples); start += batchSize {
		end := start + batchSize
		if end > len(samples) {
			end = len(samples)
		}
		batches = append(batches, NewBatch(samples[start:end]))
	}
	return batches
}

// Encoder converts a sentence into token IDs.
type Encoder interface {
	Encode(sentence string, addEos bool) []int
}

// ScanLines reads the lines of r, without their terminators.
func ScanLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read lines: %w", err)
	}
	return lines, nil
}

// EncodeLines encodes every sentence as the data source id.
// Every sequence is terminated by the end-of-sequence token.
func EncodeLines(lines []string, id string, enc Encoder) []Sample {
	samples := make([]Sample, len(lines))
	for i, line := range lines {
		samples[i] = Sample{id: enc.Encode(line, true)}
	}
	return samples
}

// Restore puts results decoded from src back into input order.
func Restore[T any](src Source, results []T) ([]T, error) {
	origIdxs, reordered := src.OrigIdxs()
	if !reordered {
		return results, nil
	}
	if len(origIdxs) != len(results) {
		return nil, fmt.Errorf("cannot restore order: %d results for %d samples", len(results), len(origIdxs))
	}
	out := make([]T, len(results))
	for i, orig := range origIdxs {
		out[orig] = results[i]
	}
	return out, nil
}
