// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package gapfill synthesizes statistics for the buckets a route is missing.
//
// Each missing bucket is handed to an ordered list of strategies; the first
// strategy that produces an estimate wins and its method is recorded on the
// generated bin. The input dataset is never modified.
package gapfill

import (
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/luxfi/settlement/bucket"
	"github.com/luxfi/settlement/dataset"
	"github.com/luxfi/settlement/stats"
)

// ErrNoEstimate is returned when a custom cascade has no strategy able to
// estimate a bucket. The default cascade always terminates.
var ErrNoEstimate = errors.New("no strategy produced an estimate")

// Filler runs the strategy cascade over a dataset.
type Filler struct {
	strategies []Strategy
	logger     *log.Logger
}

// Option configures a Filler.
type Option func(*Filler)

// WithStrategies replaces the default cascade.
func WithStrategies(s ...Strategy) Option {
	return func(f *Filler) {
		f.strategies = s
	}
}

// WithLogger sets the logger used for run summaries.
func WithLogger(l *log.Logger) Option {
	return func(f *Filler) {
		f.logger = l
	}
}

// New creates a Filler using the default cascade.
func New(opts ...Option) *Filler {
	f := &Filler{
		strategies: DefaultStrategies(),
		logger:     log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fill returns a copy of d in which every route holds every canonical bucket.
// Bins already present, real or generated, are copied unchanged.
func (f *Filler) Fill(d *dataset.Dataset) (*dataset.Dataset, *Report, error) {
	start := time.Now()
	if err := d.Validate(); err != nil {
		return nil, nil, err
	}

	global := stats.Aggregate(d)
	report := newReport(global)
	out := d.Clone()

	for _, r := range d.Routes() {
		report.Routes++
		missing := r.Missing()
		if len(missing) == 0 {
			continue
		}
		report.RoutesWithGaps++

		for _, target := range missing {
			s, err := f.estimate(Input{Route: r, Target: target, Global: global})
			if err != nil {
				return nil, nil, fmt.Errorf("%s [%s]: %w", r.Key, target, err)
			}
			out.Put(dataset.BinKey{Route: r.Key, Bucket: target}, s)
			report.Generated[s.Method]++
		}
	}

	report.Duration = time.Since(start)
	f.logger.Printf("gap fill %s: %d routes, %d with gaps, %d bins generated in %s",
		report.RunID, report.Routes, report.RoutesWithGaps, report.TotalGenerated(), report.Duration)
	return out, report, nil
}

func (f *Filler) estimate(in Input) (dataset.BinStats, error) {
	for _, s := range f.strategies {
		est, ok := s.Estimate(in)
		if !ok {
			continue
		}
		est.SampleSize = 0
		est.Generated = true
		est.Method = s.Method()
		return est, nil
	}
	return dataset.BinStats{}, ErrNoEstimate
}

// Fill runs the default cascade over d.
func Fill(d *dataset.Dataset) (*dataset.Dataset, error) {
	out, _, err := New().Fill(d)
	return out, err
}

// Report summarizes one gap-fill run.
type Report struct {
	RunID          string                 `json:"run_id"`
	StartedAt      time.Time              `json:"started_at"`
	Duration       time.Duration          `json:"duration"`
	Routes         int                    `json:"routes"`
	RoutesWithGaps int                    `json:"routes_with_gaps"`
	Generated      map[dataset.Method]int `json:"generated"`
	Global         []stats.BucketSummary  `json:"global"`
}

func newReport(global *stats.Table) *Report {
	return &Report{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Generated: make(map[dataset.Method]int),
		Global:    global.Summary(),
	}
}

// TotalGenerated returns the number of bins synthesized in the run.
func (r *Report) TotalGenerated() int {
	n := 0
	for _, c := range r.Generated {
		n += c
	}
	return n
}

// Gap lists the buckets missing from one route.
type Gap struct {
	Route   dataset.RouteKey `json:"route"`
	Missing []bucket.Bucket  `json:"missing"`
}

// FindMissing returns every route lacking at least one canonical bucket,
// ordered by route key.
func FindMissing(d *dataset.Dataset) []Gap {
	var gaps []Gap
	for _, r := range d.Routes() {
		if m := r.Missing(); len(m) > 0 {
			gaps = append(gaps, Gap{Route: r.Key, Missing: m})
		}
	}
	return gaps
}
