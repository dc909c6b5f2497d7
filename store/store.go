// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package store persists translation runs and their best hypotheses in a
// SQLite database.
package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nlpodyssey/nmtflow/beamsearch"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Run is a decoding run.
type Run struct {
	ID uint `gorm:"primaryKey"`

	CreatedAt time.Time `gorm:"not null"`

	// ModelDirs are the directories of the ensembled models, comma separated.
	ModelDirs   string `gorm:"not null"`
	TaskID      string
	BeamSize    int     `gorm:"not null"`
	MaxLen      int     `gorm:"not null"`
	LPAlpha     float64 `gorm:"not null"`
	SuppressUnk bool    `gorm:"not null"`
	Elapsed     time.Duration

	Hypotheses []Hypothesis `gorm:"constraint:OnDelete:CASCADE"`
}

// Hypothesis is the translation of one input sample.
type Hypothesis struct {
	ID uint `gorm:"primaryKey"`

	RunID uint `gorm:"not null;uniqueIndex:idx_run_position"`
	// Position is the index of the sample in the input.
	Position int `gorm:"not null;uniqueIndex:idx_run_position"`

	Source string
	Text   string  `gorm:"not null"`
	Score  float64 `gorm:"not null"`
	// Tokens are the generated token IDs, space separated.
	Tokens string `gorm:"not null"`
}

// Models lists the tables of the database.
var Models = []any{&Run{}, &Hypothesis{}}

// NewRun describes a run of the given models with the given options.
func NewRun(modelDirs []string, opts beamsearch.Options) *Run {
	return &Run{
		ModelDirs:   strings.Join(modelDirs, ","),
		TaskID:      opts.TaskID,
		BeamSize:    opts.BeamSize,
		MaxLen:      opts.MaxLen,
		LPAlpha:     opts.LPAlpha,
		SuppressUnk: opts.SuppressUnk,
	}
}

// Store is a handle to the database.
type Store struct {
	db *gorm.DB
}

// Open opens (creating it if needed) the SQLite database at filename and
// migrates its schema.
func Open(filename string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(filename), &gorm.Config{
		Logger: newStatementLogger(log.Logger, filename),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.AutoMigrate(Models...); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveRun stores run together with one Hypothesis per element of hyps.
// sources, if not nil, must be parallel to hyps.
func (s *Store) SaveRun(ctx context.Context, run *Run, sources []string, hyps []beamsearch.Hypothesis) error {
	if sources != nil && len(sources) != len(hyps) {
		return fmt.Errorf("got %d sources for %d hypotheses", len(sources), len(hyps))
	}
	run.Hypotheses = make([]Hypothesis, len(hyps))
	for i, h := range hyps {
		run.Hypotheses[i] = Hypothesis{
			Position: i,
			Text:     h.Text,
			Score:    h.Score,
			Tokens:   joinIDs(h.Tokens),
		}
		if sources != nil {
			run.Hypotheses[i].Source = sources[i]
		}
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(run).Error
	})
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	log.Debug().Uint("run", run.ID).Int("hypotheses", len(hyps)).Msg("run saved")
	return nil
}

// Runs returns all the runs, most recent first, without their hypotheses.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	var runs []Run
	if err := s.db.WithContext(ctx).Order("id desc").Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// Hypotheses returns the hypotheses of a run in input order.
func (s *Store) Hypotheses(ctx context.Context, runID uint) ([]Hypothesis, error) {
	var hyps []Hypothesis
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("position").Find(&hyps).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read hypotheses of run %d: %w", runID, err)
	}
	return hyps, nil
}

// DeleteRun removes a run and its hypotheses.
func (s *Store) DeleteRun(ctx context.Context, runID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id = ?", runID).Delete(&Hypothesis{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&Run{}, runID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("run %d not found", runID)
		}
		return nil
	})
}

// TokenIDs parses the Tokens field.
func (h Hypothesis) TokenIDs() ([]int, error) {
	fields := strings.Fields(h.Tokens)
	ids := make([]int, len(fields))
	for i, f := range fields {
		id, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("invalid token ID %q: %w", f, err)
		}
		ids[i] = id
	}
	return ids, nil
}

func joinIDs(ids []int) string {
	s := make([]string, len(ids))
	for i, id := range ids {
		s[i] = strconv.Itoa(id)
	}
	return strings.Join(s, " ")
}
