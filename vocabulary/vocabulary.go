// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vocabulary

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// Vocabulary is the interface that wraps the basic vocabulary methods
// used during decoding.
type Vocabulary interface {
	// PadID returns the ID of the padding token.
	PadID() int
	// UnkID returns the ID of the unknown token.
	UnkID() int
	// BosID returns the ID of the begin-of-sequence token.
	BosID() int
	// EosID returns the ID of the end-of-sequence token.
	EosID() int
	// Size returns the number of tokens.
	Size() int
	// Decode returns the surface text of the given sequence of token IDs,
	// stopping at the first end-of-sequence token.
	Decode(ids []int) string
	// Tokens returns the tokens sorted by ID.
	Tokens() []string
}

// SpecialTokens holds the surface form of the control tokens.
type SpecialTokens struct {
	Pad string `yaml:"pad"`
	Bos string `yaml:"bos"`
	Eos string `yaml:"eos"`
	Unk string `yaml:"unk"`
}

// DefaultSpecialTokens are the control tokens of nmtpytorch vocabularies.
var DefaultSpecialTokens = SpecialTokens{
	Pad: "<pad>",
	Bos: "<bos>",
	Eos: "<eos>",
	Unk: "<unk>",
}

// Marker selects how sub-word units are merged back into words.
type Marker int

const (
	// NoMarker joins tokens with a single space.
	NoMarker Marker = iota
	// BPEMarker removes the "@@ " continuation marker after joining.
	BPEMarker
	// ByteLevelMarker concatenates tokens and maps "Ġ" and "Ċ" to space and newline.
	ByteLevelMarker
	// SentencePieceMarker concatenates tokens and maps "▁" to space.
	SentencePieceMarker
)

// ParseMarker returns the Marker named by s: "", "none", "bpe", "bytelevel" or "sentencepiece".
func ParseMarker(s string) (Marker, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return NoMarker, nil
	case "bpe":
		return BPEMarker, nil
	case "bytelevel", "byte-level":
		return ByteLevelMarker, nil
	case "sentencepiece", "spm":
		return SentencePieceMarker, nil
	default:
		return NoMarker, fmt.Errorf("unknown sub-word marker %q", s)
	}
}

// Vocab is a Vocabulary backed by an in-memory token list.
type Vocab struct {
	tokens             []string
	ids                map[string]int
	specials           SpecialTokens
	pad, bos, eos, unk int
	marker             Marker
}

var _ Vocabulary = &Vocab{}

// New builds a Vocab from the given tokens, where the position of each token is its ID.
func New(tokens []string, specials SpecialTokens, marker Marker) (*Vocab, error) {
	v := &Vocab{
		tokens:   tokens,
		ids:      make(map[string]int, len(tokens)),
		specials: specials,
		marker:   marker,
	}
	for id, tok := range tokens {
		if _, dup := v.ids[tok]; dup {
			return nil, fmt.Errorf("duplicate token %q", tok)
		}
		v.ids[tok] = id
	}
	var err error
	if v.pad, err = v.mustID(specials.Pad); err != nil {
		return nil, err
	}
	if v.bos, err = v.mustID(specials.Bos); err != nil {
		return nil, err
	}
	if v.eos, err = v.mustID(specials.Eos); err != nil {
		return nil, err
	}
	if v.unk, err = v.mustID(specials.Unk); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *Vocab) mustID(tok string) (int, error) {
	id, ok := v.ids[tok]
	if !ok {
		return 0, fmt.Errorf("missing special token %q", tok)
	}
	return id, nil
}

// Load reads a vocabulary in the nmtpytorch JSON format, where each
// token maps to a string holding its ID and its corpus frequency,
// for example {"<pad>": "0 0", "hello": "4 1021"}.
//
// Tokens ending with "@@" enable BPE merging during decoding.
func Load(filename string) (*Vocab, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read vocabulary %q: %w", filename, err)
	}
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse vocabulary %q: %w", filename, err)
	}

	tokens := make([]string, len(raw))
	seen := make([]bool, len(raw))
	marker := NoMarker
	for tok, value := range raw {
		idField, _, _ := strings.Cut(value, " ")
		id, err := strconv.Atoi(idField)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q for token %q: %w", value, tok, err)
		}
		if id < 0 || id >= len(tokens) || seen[id] {
			return nil, fmt.Errorf("invalid or duplicate id %d for token %q", id, tok)
		}
		tokens[id], seen[id] = tok, true
		if strings.HasSuffix(tok, "@@") {
			marker = BPEMarker
		}
	}
	log.Trace().Str("file", filename).Int("size", len(tokens)).Msg("loaded vocabulary")
	return New(tokens, DefaultSpecialTokens, marker)
}

// PadID returns the ID of the padding token.
func (v *Vocab) PadID() int { return v.pad }

// UnkID returns the ID of the unknown token.
func (v *Vocab) UnkID() int { return v.unk }

// BosID returns the ID of the begin-of-sequence token.
func (v *Vocab) BosID() int { return v.bos }

// EosID returns the ID of the end-of-sequence token.
func (v *Vocab) EosID() int { return v.eos }

// Size returns the number of tokens.
func (v *Vocab) Size() int { return len(v.tokens) }

// Token returns the surface form of the given ID.
func (v *Vocab) Token(id int) (string, bool) {
	if id < 0 || id >= len(v.tokens) {
		return "", false
	}
	return v.tokens[id], true
}

// ID returns the ID of the given token, or the unknown ID.
func (v *Vocab) ID(tok string) int {
	if id, ok := v.ids[tok]; ok {
		return id
	}
	return v.unk
}

// Encode splits the sentence on whitespace and maps each word to its ID.
// If addEos is true the end-of-sequence ID is appended.
func (v *Vocab) Encode(sentence string, addEos bool) []int {
	words := strings.Fields(sentence)
	ids := make([]int, 0, len(words)+1)
	for _, w := range words {
		ids = append(ids, v.ID(w))
	}
	if addEos {
		ids = append(ids, v.eos)
	}
	return ids
}

// Decode returns the surface text of ids. Decoding stops at the first
// end-of-sequence token; padding and begin-of-sequence tokens are skipped.
func (v *Vocab) Decode(ids []int) string {
	words := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == v.eos {
			break
		}
		if id == v.pad || id == v.bos {
			continue
		}
		tok, ok := v.Token(id)
		if !ok {
			tok = v.specials.Unk
		}
		words = append(words, tok)
	}
	return v.merge(words)
}

// DecodeAll decodes each sequence of ids with v.
func DecodeAll(v Vocabulary, seqs [][]int) []string {
	out := make([]string, len(seqs))
	for i, s := range seqs {
		out[i] = v.Decode(s)
	}
	return out
}

func (v *Vocab) merge(words []string) string {
	switch v.marker {
	case BPEMarker:
		out := strings.Join(words, " ")
		out = strings.ReplaceAll(out, "@@ ", "")
		return strings.TrimSuffix(out, "@@")
	case ByteLevelMarker:
		out := strings.Join(words, "")
		out = strings.ReplaceAll(out, "Ġ", " ")
		return strings.ReplaceAll(out, "Ċ", "\n")
	case SentencePieceMarker:
		out := strings.Join(words, "")
		return strings.TrimSpace(strings.ReplaceAll(out, "▁", " "))
	default:
		return strings.Join(words, " ")
	}
}

// Dump writes the vocabulary in the nmtpytorch JSON format, with zero frequencies.
func (v *Vocab) Dump(filename string) error {
	raw := make(map[string]string, len(v.tokens))
	for id, tok := range v.tokens {
		raw[tok] = fmt.Sprintf("%d 0", id)
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}

// Tokens returns the tokens sorted by ID.
func (v *Vocab) Tokens() []string {
	out := make([]string, len(v.tokens))
	copy(out, v.tokens)
	return out
}
