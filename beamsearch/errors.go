// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package beamsearch

import "fmt"

// ConfigError reports a precondition violation detected before decoding starts.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "beam search: invalid configuration: " + e.Reason
}

func configErrorf(format string, args ...any) error {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}
