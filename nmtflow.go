// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package nmtflow loads translation models from their directories and
// translates text with batched beam search.
package nmtflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nlpodyssey/nmtflow/beamsearch"
	"github.com/nlpodyssey/nmtflow/data"
	"github.com/nlpodyssey/nmtflow/model"
	"github.com/nlpodyssey/nmtflow/model/tablemodel"
	"github.com/nlpodyssey/nmtflow/topology"
	"github.com/nlpodyssey/nmtflow/vocabulary"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// ConfigFilename is the name of the configuration file of a model directory.
const ConfigFilename = "config.yaml"

// DefaultBatchSize is the batch size used when the configuration sets none.
const DefaultBatchSize = 32

// Config is the content of the configuration file of a model directory.
type Config struct {
	// Topology is the direction of the model, for example "en:Text -> de:Text".
	Topology string `yaml:"topology"`
	// Vocabs maps each data source ID to its vocabulary.
	Vocabs map[string]VocabConfig `yaml:"vocabs"`
	// Models maps each target ID to its parameters file, see tablemodel.Load.
	Models map[string]string `yaml:"models"`
	// Tasks maps task names to direction strings.
	Tasks map[string]string `yaml:"tasks"`
	// Decoding holds the default decoding options.
	Decoding  beamsearch.Options `yaml:"decoding"`
	BatchSize int                `yaml:"batch_size"`
}

// VocabConfig describes a vocabulary file.
type VocabConfig struct {
	File string `yaml:"file"`
	// Format is "nmtpytorch" (default) or "hf".
	Format string `yaml:"format"`
	// Marker is the sub-word marker, see vocabulary.ParseMarker.
	Marker string `yaml:"marker"`
	// Specials overrides the control tokens of "hf" vocabularies.
	Specials *vocabulary.SpecialTokens `yaml:"specials"`
}

// LoadConfig reads the configuration file of modelDir.
func LoadConfig(modelDir string) (Config, error) {
	conf := Config{
		Decoding:  beamsearch.DefaultOptions(),
		BatchSize: DefaultBatchSize,
	}
	filename := filepath.Join(modelDir, ConfigFilename)
	content, err := os.ReadFile(filename)
	if err != nil {
		return conf, err
	}
	if err = yaml.Unmarshal(content, &conf); err != nil {
		return conf, fmt.Errorf("failed to parse %q: %w", filename, err)
	}
	if conf.BatchSize < 1 {
		return conf, fmt.Errorf("%q: invalid batch size %d", filename, conf.BatchSize)
	}
	return conf, nil
}

// Translator translates with an ensemble of models sharing the same topology.
type Translator struct {
	// ModelDirs are the directories the models were loaded from.
	ModelDirs []string
	// Config is the configuration of the first model.
	Config   Config
	Topology *topology.Topology
	// Vocabs holds the vocabularies of the first model, by data source ID.
	Vocabs map[string]*vocabulary.Vocab
	Models []model.Adapter
}

// Load loads the model of the given directory.
func Load(modelDir string) (*Translator, error) {
	return LoadEnsemble(modelDir)
}

// LoadEnsemble loads the models of the given directories.
func LoadEnsemble(modelDirs ...string) (*Translator, error) {
	if len(modelDirs) == 0 {
		return nil, fmt.Errorf("no model directories")
	}
	t := &Translator{ModelDirs: modelDirs}
	for i, dir := range modelDirs {
		conf, err := LoadConfig(dir)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("error: unable to find the model configuration in '%s'. Please ensure that the model has been successfully downloaded before trying again", dir)
			}
			return nil, err
		}
		topo, err := topology.Parse(conf.Topology)
		if err != nil {
			return nil, fmt.Errorf("%q: invalid topology: %w", dir, err)
		}
		vocabs, err := loadVocabs(dir, conf, topo)
		if err != nil {
			return nil, err
		}
		m, err := loadModel(dir, conf, topo, vocabs)
		if err != nil {
			return nil, err
		}

		if i == 0 {
			t.Config, t.Topology, t.Vocabs = conf, topo, vocabs
		} else if topo.String() != t.Topology.String() {
			return nil, fmt.Errorf("%q: topology %q differs from %q", dir, topo, t.Topology)
		}
		t.Models = append(t.Models, m)
		log.Debug().Str("dir", dir).Str("topology", topo.String()).Msg("model loaded")
	}
	return t, nil
}

func loadVocabs(dir string, conf Config, topo *topology.Topology) (map[string]*vocabulary.Vocab, error) {
	vocabs := make(map[string]*vocabulary.Vocab)
	for _, ds := range append(append([]topology.DataSource{}, topo.Srcs...), topo.Trgs...) {
		if ds.Kind != topology.DefaultKind {
			continue
		}
		vc, ok := conf.Vocabs[ds.ID]
		if !ok {
			return nil, fmt.Errorf("%q: no vocabulary for %q", dir, ds.ID)
		}
		v, err := loadVocab(dir, vc)
		if err != nil {
			return nil, fmt.Errorf("%q: vocabulary %q: %w", dir, ds.ID, err)
		}
		vocabs[ds.ID] = v
	}
	return vocabs, nil
}

func loadVocab(dir string, vc VocabConfig) (*vocabulary.Vocab, error) {
	filename := filepath.Join(dir, vc.File)
	switch strings.ToLower(vc.Format) {
	case "", "nmtpytorch":
		return vocabulary.Load(filename)
	case "hf":
		marker, err := vocabulary.ParseMarker(vc.Marker)
		if err != nil {
			return nil, err
		}
		specials := vocabulary.DefaultSpecialTokens
		if vc.Specials != nil {
			specials = *vc.Specials
		}
		return vocabulary.LoadHF(filename, specials, marker)
	default:
		return nil, fmt.Errorf("unknown vocabulary format %q", vc.Format)
	}
}

// loadModel returns a table model with one decoder per target, the first
// target being the default one.
func loadModel(dir string, conf Config, topo *topology.Topology, vocabs map[string]*vocabulary.Vocab) (model.Adapter, error) {
	srcPad := 0
	if v, ok := vocabs[topo.FirstSrc().ID]; ok {
		srcPad = v.PadID()
	}
	targets := make(map[string]*tablemodel.Model[float32], len(topo.Trgs))
	for _, trg := range topo.Trgs {
		file, ok := conf.Models[trg.ID]
		if !ok {
			return nil, fmt.Errorf("%q: no model for target %q", dir, trg.ID)
		}
		vocab, ok := vocabs[trg.ID]
		if !ok {
			return nil, fmt.Errorf("%q: target %q has no vocabulary", dir, trg.ID)
		}
		params, err := tablemodel.Load(filepath.Join(dir, file))
		if err != nil {
			return nil, err
		}
		for _, id := range topo.SrcIDs() {
			if _, ok := params.Lexicons[id]; !ok {
				return nil, fmt.Errorf("%q: model of target %q has no lexicon for source %q", dir, trg.ID, id)
			}
		}
		m, err := tablemodel.New[float32](params, vocab, srcPad)
		if err != nil {
			return nil, fmt.Errorf("%q: target %q: %w", dir, trg.ID, err)
		}
		targets[trg.ID] = m
	}
	m, err := tablemodel.NewMulti(targets, topo.FirstTrg().ID)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Options returns the default decoding options of the translator.
func (t *Translator) Options() beamsearch.Options {
	opts := t.Config.Decoding
	if len(t.Config.Tasks) > 0 {
		opts.Resolver = topology.Registry(t.Config.Tasks)
	}
	return opts
}

// SourceIDs returns the sources read by the task of opts.
func (t *Translator) SourceIDs(opts beamsearch.Options) ([]string, error) {
	if opts.TaskID == "" {
		return t.Topology.SrcIDs(), nil
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = topology.DirectionResolver{}
	}
	task, err := resolver.Resolve(opts.TaskID)
	if err != nil {
		return nil, fmt.Errorf("task %q: %w", opts.TaskID, err)
	}
	return task.SourceEncoderIDs, nil
}

// ReadSamples encodes one sentence per line of text. The task of opts must read a single source.
func (t *Translator) ReadSamples(lines []string, opts beamsearch.Options) ([]data.Sample, error) {
	srcIDs, err := t.SourceIDs(opts)
	if err != nil {
		return nil, err
	}
	if len(srcIDs) != 1 {
		return nil, fmt.Errorf("plain text input requires a single source, actual %v", srcIDs)
	}
	vocab, ok := t.Vocabs[srcIDs[0]]
	if !ok {
		return nil, fmt.Errorf("source %q has no vocabulary", srcIDs[0])
	}
	return data.EncodeLines(lines, srcIDs[0], vocab), nil
}

// Translate translates every line and returns the best hypotheses in input order.
func (t *Translator) Translate(ctx context.Context, lines []string, opts beamsearch.Options) ([]beamsearch.Hypothesis, error) {
	if len(lines) == 0 {
		return nil, nil
	}
	samples, err := t.ReadSamples(lines, opts)
	if err != nil {
		return nil, err
	}
	return t.TranslateSamples(ctx, samples, opts)
}

// TranslateSamples decodes already encoded samples, bucketed by the length
// of their first source.
func (t *Translator) TranslateSamples(ctx context.Context, samples []data.Sample, opts beamsearch.Options) ([]beamsearch.Hypothesis, error) {
	srcIDs, err := t.SourceIDs(opts)
	if err != nil {
		return nil, err
	}
	if len(srcIDs) == 0 {
		return nil, fmt.Errorf("no sources to read")
	}
	src, err := data.NewBucketSource(samples, t.Config.BatchSize, srcIDs[0])
	if err != nil {
		return nil, err
	}
	log.Debug().Int("samples", len(samples)).Int("batches", len(src.Batches())).Msg("translating")
	return beamsearch.Search[float32](ctx, t.Models, src, opts)
}
