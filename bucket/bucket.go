// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package bucket defines the fixed, ordered set of transfer-size buckets used to
// partition settlement statistics, and the USD amount to bucket mapping.
package bucket

import (
	"errors"
	"fmt"
	"math"
)

// Bucket identifies one canonical transfer-size range. The zero value is the
// lowest bucket; values outside [Under50K, Over1M] are not canonical.
type Bucket int

const (
	Under50K Bucket = iota
	From50KTo100K
	From100KTo300K
	From300KTo400K
	From400KTo500K
	From500KTo700K
	From700KTo1M
	Over1M
)

// Count is the number of canonical buckets.
const Count = int(Over1M) + 1

var labels = [Count]string{
	"0-50000",
	"50000-100000",
	"100000-300000",
	"300000-400000",
	"400000-500000",
	"500000-700000",
	"700000-1000000",
	"1000000+",
}

// upper holds the inclusive upper bound of every bucket but the last.
var upper = [Count - 1]float64{50000, 100000, 300000, 400000, 500000, 700000, 1000000}

var byLabel = func() map[string]Bucket {
	m := make(map[string]Bucket, Count)
	for i, l := range labels {
		m[l] = Bucket(i)
	}
	return m
}()

// Errors
var (
	ErrInvalidAmount = errors.New("invalid amount")
	ErrUnknownBucket = errors.New("unknown bucket")
)

// All returns the canonical buckets in order.
func All() []Bucket {
	out := make([]Bucket, Count)
	for i := range out {
		out[i] = Bucket(i)
	}
	return out
}

// For maps a USD amount to its bucket. Upper bounds are inclusive, so 50000
// belongs to "0-50000" and 50000.01 to "50000-100000".
func For(usd float64) (Bucket, error) {
	if usd < 0 || math.IsNaN(usd) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidAmount, usd)
	}
	for i, hi := range upper {
		if usd <= hi {
			return Bucket(i), nil
		}
	}
	return Over1M, nil
}

// Parse returns the bucket with the given label.
func Parse(label string) (Bucket, error) {
	b, ok := byLabel[label]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownBucket, label)
	}
	return b, nil
}

// IndexOf returns the canonical position of a bucket label.
func IndexOf(label string) (int, error) {
	b, err := Parse(label)
	if err != nil {
		return -1, err
	}
	return b.Index(), nil
}

// Valid reports whether b is a canonical bucket.
func (b Bucket) Valid() bool {
	return b >= Under50K && b <= Over1M
}

// Index returns the position of b in the canonical ordering.
func (b Bucket) Index() int {
	return int(b)
}

// String returns the bucket label.
func (b Bucket) String() string {
	if !b.Valid() {
		return fmt.Sprintf("Bucket(%d)", int(b))
	}
	return labels[b]
}

// Bounds returns the USD range covered by b. The lower bound is exclusive for
// every bucket except the first; open is true for the last bucket, which has
// no upper bound.
func (b Bucket) Bounds() (lo, hi float64, open bool) {
	if b > Under50K {
		lo = upper[b-1]
	}
	if b == Over1M {
		return lo, math.Inf(1), true
	}
	return lo, upper[b], false
}

// Distance returns the number of positions between a and b.
func Distance(a, b Bucket) int {
	d := a.Index() - b.Index()
	if d < 0 {
		return -d
	}
	return d
}

// MarshalText implements encoding.TextMarshaler.
func (b Bucket) MarshalText() ([]byte, error) {
	if !b.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownBucket, int(b))
	}
	return []byte(labels[b]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *Bucket) UnmarshalText(text []byte) error {
	v, err := Parse(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}
