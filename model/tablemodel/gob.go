// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tablemodel

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// ConvertedExt is the extension of the files written by Convert.
const ConvertedExt = ".bin"

// ConvertedFilename returns the name of the converted counterpart of a pickled file.
func ConvertedFilename(pyFilename string) string {
	return strings.TrimSuffix(pyFilename, filepath.Ext(pyFilename)) + ConvertedExt
}

// Convert reads the pickled params of inFilename and writes them with gob
// to outFilename. An existing output file is kept unless overwriteIfExist.
func Convert(inFilename, outFilename string, overwriteIfExist bool) error {
	if !overwriteIfExist && fileExists(outFilename) {
		log.Debug().Str("model", outFilename).Msg("Model file already exists, skipping conversion")
		return nil
	}
	p, err := LoadPickle(inFilename)
	if err != nil {
		return fmt.Errorf("model conversion failed: %w", err)
	}
	return DumpGob(p, outFilename)
}

func fileExists(name string) bool {
	info, err := os.Stat(name)
	return err == nil && !info.IsDir()
}

// DumpGob writes p to filename with gob.
func DumpGob(p Params, filename string) (err error) {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer func() {
		if e := f.Close(); e != nil && err == nil {
			err = e
		}
	}()
	return gobEncode(p, f)
}

func gobEncode(p Params, w io.Writer) error {
	bw := bufio.NewWriter(w)
	if err := gob.NewEncoder(bw).Encode(p); err != nil {
		return err
	}
	return bw.Flush()
}

// LoadGob reads params written by DumpGob.
func LoadGob(filename string) (p Params, err error) {
	f, err := os.Open(filename)
	if err != nil {
		return p, err
	}
	defer func() {
		if e := f.Close(); e != nil && err == nil {
			err = e
		}
	}()
	err = gob.NewDecoder(bufio.NewReader(f)).Decode(&p)
	return p, err
}

// Load reads params from filename according to its extension: YAML for
// ".yaml" and ".yml", gob for ConvertedExt, a pickled state dict otherwise.
// The converted counterpart of a pickled file is preferred when it exists.
func Load(filename string) (Params, error) {
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".yaml", ".yml":
		return LoadYAML(filename)
	case ConvertedExt:
		return LoadGob(filename)
	default:
		if converted := ConvertedFilename(filename); fileExists(converted) {
			log.Trace().Str("model", converted).Msg("loading converted model")
			return LoadGob(converted)
		}
		return LoadPickle(filename)
	}
}
