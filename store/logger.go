// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package store

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// SlowStatement is the duration above which a statement is logged as a warning.
const SlowStatement = 200 * time.Millisecond

// statementLogger writes the statements run against a store to zerolog,
// tagged with the database file.
type statementLogger struct {
	log  zerolog.Logger
	slow time.Duration
}

var _ gormlogger.Interface = statementLogger{}

func newStatementLogger(parent zerolog.Logger, filename string) statementLogger {
	return statementLogger{
		log:  parent.With().Str("db", filename).Logger(),
		slow: SlowStatement,
	}
}

// LogMode maps the gorm level to the closest zerolog level.
func (l statementLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	zl := zerolog.TraceLevel
	switch level {
	case gormlogger.Silent:
		zl = zerolog.Disabled
	case gormlogger.Error:
		zl = zerolog.ErrorLevel
	case gormlogger.Warn:
		zl = zerolog.WarnLevel
	case gormlogger.Info:
		zl = zerolog.InfoLevel
	}
	l.log = l.log.Level(zl)
	return l
}

func (l statementLogger) Info(_ context.Context, msg string, data ...any) {
	l.log.Info().Msgf(msg, data...)
}

func (l statementLogger) Warn(_ context.Context, msg string, data ...any) {
	l.log.Warn().Msgf(msg, data...)
}

func (l statementLogger) Error(_ context.Context, msg string, data ...any) {
	l.log.Error().Msgf(msg, data...)
}

// Trace logs failed statements as errors, slow ones as warnings and the
// others at debug level. A missing record is not a failure: lookups of
// unknown runs are reported to the caller instead.
func (l statementLogger) Trace(_ context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	elapsed := time.Since(begin)
	var e *zerolog.Event
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		e = l.log.Error().Err(err)
	case l.slow > 0 && elapsed > l.slow:
		e = l.log.Warn().Dur("threshold", l.slow)
	default:
		e = l.log.Debug()
	}
	if !e.Enabled() {
		return
	}
	sql, rows := fc()
	e.Str("sql", sql).Int64("rows", rows).Dur("elapsed", elapsed).Msg("statement")
}
