// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nmtflow

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/nlpodyssey/nmtflow/beamsearch"
)

// DefaultOutputTemplate prints the translation alone.
const DefaultOutputTemplate = "{{.Text}}"

// OutputLine is the input of the output template.
type OutputLine struct {
	// Index is the position of the sample in the input.
	Index  int
	Source string
	beamsearch.Hypothesis
}

// ParseOutputTemplate parses a template applied to every OutputLine, for
// example "{{.Index}}\t{{.Score}}\t{{.Text}}".
func ParseOutputTemplate(text string) (*template.Template, error) {
	if text == "" {
		text = DefaultOutputTemplate
	}
	t, err := template.New("output").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("unable to parse the output template: %w", err)
	}
	return t, nil
}

// FormatOutput applies the template to a hypothesis and its source.
func FormatOutput(t *template.Template, line OutputLine) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, line); err != nil {
		return "", fmt.Errorf("unable to apply the output template: %w", err)
	}
	return buf.String(), nil
}
