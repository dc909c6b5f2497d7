// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vocabulary

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	v, err := Load("testdata/vocab.de.json")
	require.NoError(t, err)

	assert.Equal(t, 8, v.Size())
	assert.Equal(t, 0, v.PadID())
	assert.Equal(t, 1, v.BosID())
	assert.Equal(t, 2, v.EosID())
	assert.Equal(t, 3, v.UnkID())
	assert.Equal(t, 5, v.ID("Haus"))
	assert.Equal(t, 3, v.ID("Auto"))
}

func TestDecode(t *testing.T) {
	v, err := Load("testdata/vocab.de.json")
	require.NoError(t, err)

	assert.Equal(t, "ein Haus", v.Decode([]int{4, 5, 2, 4}))
	assert.Equal(t, "ein Garten", v.Decode([]int{1, 4, 6, 7, 2}))
	assert.Equal(t, "", v.Decode([]int{2, 2, 2}))
	assert.Equal(t, "Haus", v.Decode([]int{0, 5, 0}))
	assert.Equal(t, []string{"ein", "Haus"}, DecodeAll(v, [][]int{{4, 2}, {5}}))
}

func TestEncode(t *testing.T) {
	v, err := Load("testdata/vocab.de.json")
	require.NoError(t, err)

	assert.Equal(t, []int{4, 3, 2}, v.Encode(" ein  Baum ", true))
	assert.Equal(t, []int{5}, v.Encode("Haus", false))
}

func TestNewMissingSpecialToken(t *testing.T) {
	_, err := New([]string{"<pad>", "<bos>", "<eos>"}, DefaultSpecialTokens, NoMarker)
	assert.Error(t, err)
}

func TestNewDuplicateToken(t *testing.T) {
	_, err := New([]string{"<pad>", "<bos>", "<eos>", "<unk>", "a", "a"}, DefaultSpecialTokens, NoMarker)
	assert.Error(t, err)
}

func TestDumpAndLoad(t *testing.T) {
	v, err := New([]string{"<pad>", "<bos>", "<eos>", "<unk>", "a", "b"}, DefaultSpecialTokens, NoMarker)
	require.NoError(t, err)

	filename := filepath.Join(t.TempDir(), "vocab.json")
	require.NoError(t, v.Dump(filename))

	loaded, err := Load(filename)
	require.NoError(t, err)
	assert.Equal(t, v.Tokens(), loaded.Tokens())
}

func TestLoadHF(t *testing.T) {
	specials := SpecialTokens{Pad: "<pad>", Bos: "<s>", Eos: "</s>", Unk: "<unk>"}
	v, err := LoadHF("testdata/vocab.json", specials, ByteLevelMarker)
	require.NoError(t, err)

	assert.Equal(t, 7, v.Size())
	assert.Equal(t, 2, v.EosID())
	assert.Equal(t, "Hello world\n", v.Decode([]int{4, 5, 6, 2, 5}))
}

func TestSentencePieceMerge(t *testing.T) {
	v, err := New([]string{"<pad>", "<bos>", "<eos>", "<unk>", "▁Hal", "lo", "▁Welt"}, DefaultSpecialTokens, SentencePieceMarker)
	require.NoError(t, err)
	assert.Equal(t, "Hallo Welt", v.Decode([]int{4, 5, 6}))
}

func TestParseMarker(t *testing.T) {
	for s, expected := range map[string]Marker{
		"":              NoMarker,
		"bpe":           BPEMarker,
		"ByteLevel":     ByteLevelMarker,
		"sentencepiece": SentencePieceMarker,
	} {
		m, err := ParseMarker(s)
		require.NoError(t, err)
		assert.Equal(t, expected, m, s)
	}
	_, err := ParseMarker("wordpiece")
	assert.Error(t, err)
}
