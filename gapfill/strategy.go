// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package gapfill

import (
	"math"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/luxfi/settlement/bucket"
	"github.com/luxfi/settlement/dataset"
	"github.com/luxfi/settlement/stats"
)

// Input is everything a strategy may read when estimating one missing bucket.
// Route is the route as it was before filling started.
type Input struct {
	Route  *dataset.Route
	Target bucket.Bucket
	Global *stats.Table
}

// Strategy estimates a missing bin. Estimate returns false when the strategy
// has nothing to go on, and the next strategy is tried.
type Strategy interface {
	Method() dataset.Method
	Estimate(in Input) (dataset.BinStats, bool)
}

// DefaultStrategies returns the standard cascade, in evaluation order.
func DefaultStrategies() []Strategy {
	return []Strategy{
		BaselineScaling{},
		BaselineScalingGlobal{},
		WeightedInterpolation{},
		CrossCombinationAverage{},
		DefaultFallback{P25: 10.0, P50: 15.0, P75: 25.0},
	}
}

var multipliers = map[bucket.Bucket]float64{
	bucket.From50KTo100K:  1.2,
	bucket.From100KTo300K: 1.5,
	bucket.From300KTo400K: 1.8,
	bucket.From400KTo500K: 2.0,
	bucket.From500KTo700K: 2.5,
	bucket.From700KTo1M:   3.0,
	bucket.Over1M:         4.0,
}

// Multiplier returns the factor applied to the baseline median for b.
func Multiplier(b bucket.Bucket) float64 {
	if m, ok := multipliers[b]; ok {
		return m
	}
	return 1.0
}

// Spread applied around a scaled median.
const (
	lowerSpread = 0.7
	upperSpread = 1.3
)

func scaled(baseP50 float64, target bucket.Bucket) dataset.BinStats {
	p50 := baseP50 * Multiplier(target)
	return dataset.BinStats{
		P25: round2(p50 * lowerSpread),
		P50: round2(p50),
		P75: round2(p50 * upperSpread),
	}
}

// BaselineScaling scales the route's own 0-50000 median.
type BaselineScaling struct{}

func (BaselineScaling) Method() dataset.Method { return dataset.MethodBaselineScaling }

func (BaselineScaling) Estimate(in Input) (dataset.BinStats, bool) {
	base, ok := in.Route.Bin(bucket.Under50K)
	if !ok {
		return dataset.BinStats{}, false
	}
	return scaled(base.P50, in.Target), true
}

// BaselineScalingGlobal scales the mean 0-50000 median across all routes.
type BaselineScalingGlobal struct{}

func (BaselineScalingGlobal) Method() dataset.Method { return dataset.MethodBaselineScalingGlobal }

func (BaselineScalingGlobal) Estimate(in Input) (dataset.BinStats, bool) {
	base, ok := in.Global.Mean(bucket.Under50K, stats.P50)
	if !ok {
		return dataset.BinStats{}, false
	}
	return scaled(base, in.Target), true
}

// WeightedInterpolation averages the global means of every bucket the route
// already has, weighting each by 1/(1+distance) to the target. Only which
// buckets the route holds matters; their values on this route are not used.
type WeightedInterpolation struct{}

func (WeightedInterpolation) Method() dataset.Method { return dataset.MethodWeightedInterpolation }

func (WeightedInterpolation) Estimate(in Input) (dataset.BinStats, bool) {
	var total, p25, p50, p75 float64
	for _, b := range in.Route.Buckets() {
		m25, m50, m75, ok := in.Global.Means(b)
		if !ok {
			continue
		}
		w := 1.0 / float64(1+bucket.Distance(b, in.Target))
		total += w
		p25 += w * m25
		p50 += w * m50
		p75 += w * m75
	}
	if total == 0 {
		return dataset.BinStats{}, false
	}
	return dataset.BinStats{
		P25: round2(p25 / total),
		P50: round2(p50 / total),
		P75: round2(p75 / total),
	}, true
}

// CrossCombinationAverage uses the global means of the target bucket as-is.
type CrossCombinationAverage struct{}

func (CrossCombinationAverage) Method() dataset.Method {
	return dataset.MethodCrossCombinationAverage
}

func (CrossCombinationAverage) Estimate(in Input) (dataset.BinStats, bool) {
	p25, p50, p75, ok := in.Global.Means(in.Target)
	if !ok {
		return dataset.BinStats{}, false
	}
	return dataset.BinStats{P25: p25, P50: p50, P75: p75}, true
}

// DefaultFallback always succeeds with fixed values.
type DefaultFallback struct {
	P25, P50, P75 float64
}

func (DefaultFallback) Method() dataset.Method { return dataset.MethodDefaultFallback }

func (s DefaultFallback) Estimate(Input) (dataset.BinStats, bool) {
	return dataset.BinStats{P25: s.P25, P50: s.P50, P75: s.P75}, true
}

// round2 rounds half to even on the exact binary value of v, so 2.675
// (stored as 2.67499...) becomes 2.67 and 0.625 becomes 0.62.
func round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	exact := new(big.Float).SetFloat64(v).Text('f', 1074)
	return decimal.RequireFromString(exact).RoundBank(2).InexactFloat64()
}
