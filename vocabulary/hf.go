// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vocabulary

import (
	"fmt"

	"github.com/nlpodyssey/gotokenizers/vocabulary"
)

// LoadHF reads a HuggingFace "vocab.json" file, mapping each token to its ID.
// The marker tells how sub-word units are merged back during decoding:
// ByteLevelMarker for GPT-2 style vocabularies, SentencePieceMarker for Marian ones.
func LoadHF(filename string, specials SpecialTokens, marker Marker) (*Vocab, error) {
	hf, err := vocabulary.FromJSONFile(filename)
	if err != nil {
		return nil, fmt.Errorf("loading vocabulary from file %s: %w", filename, err)
	}
	tokens := make([]string, hf.Size())
	for id := range tokens {
		tok, ok := hf.GetString(id)
		if !ok {
			return nil, fmt.Errorf("vocabulary %s: missing token for id %d", filename, id)
		}
		tokens[id] = tok
	}
	return New(tokens, specials, marker)
}
