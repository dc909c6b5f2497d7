// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tablemodel

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Params are the parameters of a table model.
type Params struct {
	// Transitions[prev][next] scores the next target token given the previous one.
	Transitions [][]float64 `yaml:"transitions"`
	// Lexicons maps each source encoder ID to a [source vocabulary x target vocabulary] bias table.
	Lexicons map[string][][]float64 `yaml:"lexicons"`
	// RepeatPenalty is subtracted from the score of a token once per previous occurrence.
	RepeatPenalty float64 `yaml:"repeat_penalty"`
}

// Validate checks that the tables are consistent with a target vocabulary of the given size.
func (p Params) Validate(trgSize int) error {
	if len(p.Transitions) != trgSize {
		return fmt.Errorf("expected %d transition rows, actual %d", trgSize, len(p.Transitions))
	}
	for i, row := range p.Transitions {
		if len(row) != trgSize {
			return fmt.Errorf("transition row %d: expected %d columns, actual %d", i, trgSize, len(row))
		}
	}
	if len(p.Lexicons) == 0 {
		return fmt.Errorf("no lexicons")
	}
	for id, lex := range p.Lexicons {
		if len(lex) == 0 {
			return fmt.Errorf("lexicon %q is empty", id)
		}
		for i, row := range lex {
			if len(row) != trgSize {
				return fmt.Errorf("lexicon %q row %d: expected %d columns, actual %d", id, i, trgSize, len(row))
			}
		}
	}
	if p.RepeatPenalty < 0 {
		return fmt.Errorf("repeat penalty must be >= 0, actual %f", p.RepeatPenalty)
	}
	return nil
}

// LoadYAML reads Params from a YAML file.
func LoadYAML(filename string) (p Params, err error) {
	f, err := os.Open(filename)
	if err != nil {
		return p, err
	}
	defer func() {
		if e := f.Close(); e != nil && err == nil {
			err = e
		}
	}()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err = dec.Decode(&p); err != nil {
		return p, fmt.Errorf("failed to decode %q: %w", filename, err)
	}
	return p, nil
}

// DumpYAML writes p to a YAML file.
func DumpYAML(p Params, filename string) error {
	out, err := yaml.Marshal(p)
	if err != nil {
		return err
	}
	return os.WriteFile(filename, out, 0o644)
}
