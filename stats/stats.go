// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package stats aggregates per-bucket percentile observations across every
// route of a dataset.
package stats

import (
	"encoding/json"

	"github.com/luxfi/settlement/bucket"
	"github.com/luxfi/settlement/dataset"
)

// Metric selects one of the stored percentiles.
type Metric int

const (
	P25 Metric = iota
	P50
	P75
)

func (m Metric) String() string {
	switch m {
	case P25:
		return "p25"
	case P50:
		return "p50"
	case P75:
		return "p75"
	}
	return "unknown"
}

// Values holds every observed value of each percentile for one bucket.
type Values struct {
	P25 []float64 `json:"p25"`
	P50 []float64 `json:"p50"`
	P75 []float64 `json:"p75"`
}

func (v *Values) metric(m Metric) []float64 {
	switch m {
	case P25:
		return v.P25
	case P50:
		return v.P50
	case P75:
		return v.P75
	}
	return nil
}

// Table is the global statistics table: bucket -> percentile observations.
// A Table is immutable once returned by Aggregate.
type Table struct {
	buckets map[bucket.Bucket]*Values
}

// Aggregate scans every canonical bin of d once. Real and generated bins are
// treated alike; non-canonical bins are ignored.
func Aggregate(d *dataset.Dataset) *Table {
	t := &Table{buckets: make(map[bucket.Bucket]*Values)}
	for _, r := range d.Routes() {
		for _, b := range r.Buckets() {
			s := r.Bins[b]
			v, ok := t.buckets[b]
			if !ok {
				v = &Values{}
				t.buckets[b] = v
			}
			v.P25 = append(v.P25, s.P25)
			v.P50 = append(v.P50, s.P50)
			v.P75 = append(v.P75, s.P75)
		}
	}
	return t
}

// Has reports whether any observation exists for b.
func (t *Table) Has(b bucket.Bucket) bool {
	return t.Count(b) > 0
}

// Count returns the number of bins aggregated for b.
func (t *Table) Count(b bucket.Bucket) int {
	v, ok := t.buckets[b]
	if !ok {
		return 0
	}
	return len(v.P50)
}

// Values returns a copy of the observations of metric m for bucket b.
func (t *Table) Values(b bucket.Bucket, m Metric) []float64 {
	v, ok := t.buckets[b]
	if !ok {
		return nil
	}
	return append([]float64(nil), v.metric(m)...)
}

// Mean returns the arithmetic mean of metric m for bucket b.
func (t *Table) Mean(b bucket.Bucket, m Metric) (float64, bool) {
	v, ok := t.buckets[b]
	if !ok {
		return 0, false
	}
	return mean(v.metric(m))
}

// Means returns the mean of all three percentiles for bucket b.
func (t *Table) Means(b bucket.Bucket) (p25, p50, p75 float64, ok bool) {
	if p25, ok = t.Mean(b, P25); !ok {
		return 0, 0, 0, false
	}
	p50, _ = t.Mean(b, P50)
	p75, _ = t.Mean(b, P75)
	return p25, p50, p75, true
}

// Max returns the largest observed value of metric m for bucket b.
func (t *Table) Max(b bucket.Bucket, m Metric) (float64, bool) {
	v, ok := t.buckets[b]
	if !ok || len(v.metric(m)) == 0 {
		return 0, false
	}
	vals := v.metric(m)
	hi := vals[0]
	for _, x := range vals[1:] {
		if x > hi {
			hi = x
		}
	}
	return hi, true
}

// BucketSummary is a per-bucket digest of the table.
type BucketSummary struct {
	Bucket  bucket.Bucket `json:"bucket"`
	Count   int           `json:"count"`
	MeanP25 float64       `json:"mean_p25,omitempty"`
	MeanP50 float64       `json:"mean_p50,omitempty"`
	MeanP75 float64       `json:"mean_p75,omitempty"`
	MaxP75  float64       `json:"max_p75,omitempty"`
}

// Summary returns one digest per canonical bucket, including empty ones.
func (t *Table) Summary() []BucketSummary {
	out := make([]BucketSummary, 0, bucket.Count)
	for _, b := range bucket.All() {
		s := BucketSummary{Bucket: b, Count: t.Count(b)}
		if p25, p50, p75, ok := t.Means(b); ok {
			s.MeanP25, s.MeanP50, s.MeanP75 = p25, p50, p75
			s.MaxP75, _ = t.Max(b, P75)
		}
		out = append(out, s)
	}
	return out
}

// MarshalJSON encodes the table as bucket label -> {p25, p50, p75}.
func (t *Table) MarshalJSON() ([]byte, error) {
	out := make(map[string]*Values, len(t.buckets))
	for b, v := range t.buckets {
		out[b.String()] = v
	}
	return json.Marshal(out)
}

func mean(vals []float64) (float64, bool) {
	if len(vals) == 0 {
		return 0, false
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals)), true
}
