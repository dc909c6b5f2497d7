// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nmtflow

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nlpodyssey/nmtflow/data"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func texts(t *testing.T, tr *Translator, lines []string, taskID string) []string {
	opts := tr.Options()
	opts.TaskID = taskID
	hyps, err := tr.Translate(context.Background(), lines, opts)
	require.NoError(t, err)
	out := make([]string, len(hyps))
	for i, h := range hyps {
		out[i] = h.Text
	}
	return out
}

func TestLoadConfig(t *testing.T) {
	conf, err := LoadConfig(filepath.Join("testdata", "en-multi"))
	require.NoError(t, err)
	assert.Equal(t, "en:Text -> de:Text, fr:Text", conf.Topology)
	assert.Equal(t, 3, conf.Decoding.BeamSize)
	assert.Equal(t, 12, conf.Decoding.MaxLen)
	assert.Equal(t, 0.6, conf.Decoding.LPAlpha)
	assert.Equal(t, DefaultBatchSize, conf.BatchSize)
	assert.Equal(t, "model.fr.pt", conf.Models["fr"])

	_, err = LoadConfig(filepath.Join("testdata", "missing"))
	assert.True(t, os.IsNotExist(err))
}

func TestTranslate(t *testing.T) {
	tr, err := Load(filepath.Join("testdata", "en-de"))
	require.NoError(t, err)
	assert.Equal(t, "en:Text -> de:Text", tr.Topology.String())
	assert.Equal(t, 2, tr.Options().BeamSize)

	lines := []string{"x y", "y", "y x", "y"}
	assert.Equal(t, []string{"a b", "b", "a b", "b"}, texts(t, tr, lines, ""))

	hyps, err := tr.Translate(context.Background(), nil, tr.Options())
	require.NoError(t, err)
	assert.Empty(t, hyps)
}

func TestTranslateMultiTarget(t *testing.T) {
	tr, err := Load(filepath.Join("testdata", "en-multi"))
	require.NoError(t, err)

	lines := []string{"y", "x y"}
	assert.Equal(t, []string{"b", "a b"}, texts(t, tr, lines, ""))
	assert.Equal(t, []string{"deux", "un deux"}, texts(t, tr, lines, "to-fr"))
	assert.Equal(t, []string{"deux", "un deux"}, texts(t, tr, lines, "en -> fr"))
	assert.Equal(t, []string{"b", "a b"}, texts(t, tr, lines, "en -> de"))

	opts := tr.Options()
	opts.TaskID = "en -> es"
	_, err = tr.Translate(context.Background(), lines, opts)
	assert.Error(t, err)
}

func TestTranslateEnsemble(t *testing.T) {
	dir := filepath.Join("testdata", "en-de")
	tr, err := LoadEnsemble(dir, dir)
	require.NoError(t, err)
	require.Len(t, tr.Models, 2)
	assert.Equal(t, []string{"a b", "b"}, texts(t, tr, []string{"x y", "y"}, ""))

	_, err = LoadEnsemble(dir, filepath.Join("testdata", "en-multi"))
	assert.Error(t, err)
}

func TestTranslateSamples(t *testing.T) {
	tr, err := Load(filepath.Join("testdata", "en-de"))
	require.NoError(t, err)

	samples := []data.Sample{{"en": {5, 4, 2}}, {"en": {5, 2}}}
	hyps, err := tr.TranslateSamples(context.Background(), samples, tr.Options())
	require.NoError(t, err)
	require.Len(t, hyps, 2)
	assert.Equal(t, []int{4, 5, 2}, hyps[0].Tokens)
	assert.Equal(t, "b", hyps[1].Text)
	assert.Greater(t, hyps[1].Score, hyps[0].Score*4)
}

func TestLoadErrors(t *testing.T) {
	_, err := LoadEnsemble()
	assert.Error(t, err)

	_, err = Load(filepath.Join("testdata", "missing"))
	assert.Error(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFilename), []byte("topology: \"en -> \"\n"), 0o644))
	_, err = Load(dir)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFilename), []byte("topology: \"en -> de\"\nbatch_size: 0\n"), 0o644))
	_, err = Load(dir)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFilename), []byte("topology: \"en -> de\"\n"), 0o644))
	_, err = Load(dir)
	assert.ErrorContains(t, err, "no vocabulary")
}

func TestFormatOutput(t *testing.T) {
	tr, err := Load(filepath.Join("testdata", "en-de"))
	require.NoError(t, err)
	hyps, err := tr.Translate(context.Background(), []string{"y"}, tr.Options())
	require.NoError(t, err)

	tpl, err := ParseOutputTemplate("")
	require.NoError(t, err)
	out, err := FormatOutput(tpl, OutputLine{Index: 0, Source: "y", Hypothesis: hyps[0]})
	require.NoError(t, err)
	assert.Equal(t, "b", out)

	tpl, err = ParseOutputTemplate("{{.Index}}|{{.Source}}|{{.Text}}|{{len .Tokens}}")
	require.NoError(t, err)
	out, err = FormatOutput(tpl, OutputLine{Index: 3, Source: "y", Hypothesis: hyps[0]})
	require.NoError(t, err)
	assert.Equal(t, "3|y|b|2", out)

	_, err = ParseOutputTemplate("{{.Text")
	assert.Error(t, err)
}
