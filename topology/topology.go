// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package topology describes which data sources feed the encoders and
// which ones are produced by the decoders of a (multi-task) model.
//
// A topology is written as a comma-separated list of sources, an arrow,
// and a comma-separated list of targets, each entry being "id:Kind":
//
//	en:Text, image:Image -> de:Text
//
// When the kind is omitted, Text is assumed.
package topology

import (
	"fmt"
	"strings"
)

// DefaultKind is the data source kind assumed when none is given.
const DefaultKind = "Text"

// DataSource is a named input or output of a model.
type DataSource struct {
	ID   string
	Kind string
	// Src is true for encoder inputs, false for decoder outputs.
	Src bool
}

func (ds DataSource) String() string {
	return fmt.Sprintf("%s:%s", ds.ID, ds.Kind)
}

// Topology is a parsed direction string. Sources and targets keep the
// order in which they were declared.
type Topology struct {
	Direction string
	Srcs      []DataSource
	Trgs      []DataSource
}

// Parse parses a direction string such as "en:Text, image:Image -> de:Text".
func Parse(direction string) (*Topology, error) {
	parts := strings.Split(strings.TrimSpace(direction), "->")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid topology %q: expected the form <srcs> -> <trgs>", direction)
	}
	t := &Topology{Direction: strings.TrimSpace(direction)}
	seen := make(map[string]struct{})

	var err error
	if t.Srcs, err = parseSide(parts[0], true, seen); err != nil {
		return nil, fmt.Errorf("invalid topology %q: %w", direction, err)
	}
	if t.Trgs, err = parseSide(parts[1], false, seen); err != nil {
		return nil, fmt.Errorf("invalid topology %q: %w", direction, err)
	}
	return t, nil
}

func parseSide(s string, src bool, seen map[string]struct{}) ([]DataSource, error) {
	var out []DataSource
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		id, kind, ok := strings.Cut(field, ":")
		id, kind = strings.TrimSpace(id), strings.TrimSpace(kind)
		if !ok || kind == "" {
			kind = DefaultKind
		}
		if id == "" {
			return nil, fmt.Errorf("empty data source id in %q", field)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("duplicate data source %q", id)
		}
		seen[id] = struct{}{}
		out = append(out, DataSource{ID: id, Kind: kind, Src: src})
	}
	if len(out) == 0 {
		side := "target"
		if src {
			side = "source"
		}
		return nil, fmt.Errorf("no %s data source", side)
	}
	return out, nil
}

// FirstSrc returns the first declared source.
func (t *Topology) FirstSrc() DataSource { return t.Srcs[0] }

// FirstTrg returns the first declared target.
func (t *Topology) FirstTrg() DataSource { return t.Trgs[0] }

// SrcIDs returns the IDs of the sources, in order.
func (t *Topology) SrcIDs() []string {
	return ids(t.Srcs)
}

// TrgIDs returns the IDs of the targets, in order.
func (t *Topology) TrgIDs() []string {
	return ids(t.Trgs)
}

// Get returns the data source with the given ID.
func (t *Topology) Get(id string) (DataSource, bool) {
	for _, ds := range t.Srcs {
		if ds.ID == id {
			return ds, true
		}
	}
	for _, ds := range t.Trgs {
		if ds.ID == id {
			return ds, true
		}
	}
	return DataSource{}, false
}

func (t *Topology) String() string {
	srcs := make([]string, len(t.Srcs))
	for i, ds := range t.Srcs {
		srcs[i] = ds.String()
	}
	trgs := make([]string, len(t.Trgs))
	for i, ds := range t.Trgs {
		trgs[i] = ds.String()
	}
	return strings.Join(srcs, ", ") + " -> " + strings.Join(trgs, ", ")
}

func ids(dss []DataSource) []string {
	out := make([]string, len(dss))
	for i, ds := range dss {
		out[i] = ds.ID
	}
	return out
}

// Task is the outcome of resolving a task ID: the encoders to run and
// the target whose decoder produces the hypotheses.
type Task struct {
	SourceEncoderIDs []string
	PrimaryTargetID  string
}

// Resolver maps a task ID to a Task.
type Resolver interface {
	Resolve(taskID string) (Task, error)
}

// DirectionResolver treats the task ID as a direction string.
type DirectionResolver struct{}

// Resolve parses taskID and returns its sources and first target.
func (DirectionResolver) Resolve(taskID string) (Task, error) {
	t, err := Parse(taskID)
	if err != nil {
		return Task{}, err
	}
	return Task{
		SourceEncoderIDs: t.SrcIDs(),
		PrimaryTargetID:  t.FirstTrg().ID,
	}, nil
}

// Registry resolves task names declared in a configuration, for example
// {"mmt": "en:Text, image:Image -> de:Text"}. Unknown names are parsed
// as direction strings.
type Registry map[string]string

// Resolve returns the task registered under taskID.
func (r Registry) Resolve(taskID string) (Task, error) {
	if direction, ok := r[taskID]; ok {
		return DirectionResolver{}.Resolve(direction)
	}
	return DirectionResolver{}.Resolve(taskID)
}
