// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package store

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestStatementLogger(t *testing.T) {
	var buf bytes.Buffer
	l := newStatementLogger(zerolog.New(&buf).Level(zerolog.DebugLevel), "runs.sqlite")
	statement := func() (string, int64) { return "SELECT 1", 1 }
	ctx := context.Background()

	l.Trace(ctx, time.Now(), statement, nil)
	assert.Contains(t, buf.String(), `"level":"debug"`)
	assert.Contains(t, buf.String(), `"db":"runs.sqlite"`)
	assert.Contains(t, buf.String(), `"sql":"SELECT 1"`)

	buf.Reset()
	l.Trace(ctx, time.Now(), statement, errors.New("boom"))
	assert.Contains(t, buf.String(), `"level":"error"`)
	assert.Contains(t, buf.String(), `"error":"boom"`)

	buf.Reset()
	l.Trace(ctx, time.Now(), statement, gorm.ErrRecordNotFound)
	assert.Contains(t, buf.String(), `"level":"debug"`)

	buf.Reset()
	l.Trace(ctx, time.Now().Add(-time.Second), statement, nil)
	assert.Contains(t, buf.String(), `"level":"warn"`)

	buf.Reset()
	silent := l.LogMode(gormlogger.Silent)
	silent.Trace(ctx, time.Now(), statement, errors.New("boom"))
	silent.Error(ctx, "failed %d", 1)
	assert.Empty(t, buf.String())

	warn := l.LogMode(gormlogger.Warn)
	warn.Trace(ctx, time.Now(), func() (string, int64) {
		t.Fatal("the statement must not be rendered when it is not logged")
		return "", 0
	}, nil)
	assert.Empty(t, buf.String())
}
