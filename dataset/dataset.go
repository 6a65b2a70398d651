// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package dataset models settlement-duration statistics as routes addressed by
// a composite key, each holding one BinStats per transfer-size bucket.
package dataset

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/luxfi/settlement/bucket"
)

// Method names the strategy that synthesized a generated bin.
type Method string

const (
	MethodBaselineScaling         Method = "baseline_scaling"
	MethodBaselineScalingGlobal   Method = "baseline_scaling_global"
	MethodWeightedInterpolation   Method = "weighted_interpolation"
	MethodCrossCombinationAverage Method = "cross_combination_average"
	MethodDefaultFallback         Method = "default_fallback"
)

// Methods returns every known method in strategy order.
func Methods() []Method {
	return []Method{
		MethodBaselineScaling,
		MethodBaselineScalingGlobal,
		MethodWeightedInterpolation,
		MethodCrossCombinationAverage,
		MethodDefaultFallback,
	}
}

// Valid reports whether m is one of the known methods.
func (m Method) Valid() bool {
	switch m {
	case MethodBaselineScaling, MethodBaselineScalingGlobal, MethodWeightedInterpolation,
		MethodCrossCombinationAverage, MethodDefaultFallback:
		return true
	}
	return false
}

// BinStats holds the settlement percentiles (in minutes) for one route and bucket.
type BinStats struct {
	P25        float64 `json:"settlement_duration_minutes_p25"`
	P50        float64 `json:"settlement_duration_minutes_p50"`
	P75        float64 `json:"settlement_duration_minutes_p75"`
	SampleSize int     `json:"sample_size"`
	Generated  bool    `json:"generated,omitempty"`
	Method     Method  `json:"method,omitempty"`
}

// RouteKey identifies a route: origin chain, destination chain and asset key.
type RouteKey struct {
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	Asset       string `json:"asset"`
}

func (k RouteKey) String() string {
	return k.Origin + "/" + k.Destination + "/" + k.Asset
}

// Less orders route keys by origin, destination, then asset.
func (k RouteKey) Less(o RouteKey) bool {
	if k.Origin != o.Origin {
		return k.Origin < o.Origin
	}
	if k.Destination != o.Destination {
		return k.Destination < o.Destination
	}
	return k.Asset < o.Asset
}

// BinKey addresses a single bin.
type BinKey struct {
	Route  RouteKey
	Bucket bucket.Bucket
}

func (k BinKey) String() string {
	return k.Route.String() + "/" + k.Bucket.String()
}

// Route is the local bucket set of one route. Bins holds canonical buckets;
// Extra holds bins stored under non-canonical labels, which are carried
// through untouched but never aggregated or filled.
type Route struct {
	Key   RouteKey
	Bins  map[bucket.Bucket]BinStats
	Extra map[string]BinStats
}

func newRoute(k RouteKey) *Route {
	return &Route{Key: k, Bins: make(map[bucket.Bucket]BinStats)}
}

// Bin returns the stats stored for b.
func (r *Route) Bin(b bucket.Bucket) (BinStats, bool) {
	s, ok := r.Bins[b]
	return s, ok
}

// Has reports whether the route stores a bin for b.
func (r *Route) Has(b bucket.Bucket) bool {
	_, ok := r.Bins[b]
	return ok
}

// Buckets returns the canonical buckets present, in canonical order.
func (r *Route) Buckets() []bucket.Bucket {
	out := make([]bucket.Bucket, 0, len(r.Bins))
	for _, b := range bucket.All() {
		if r.Has(b) {
			out = append(out, b)
		}
	}
	return out
}

// Missing returns the canonical buckets absent from the route, in canonical order.
func (r *Route) Missing() []bucket.Bucket {
	var out []bucket.Bucket
	for _, b := range bucket.All() {
		if !r.Has(b) {
			out = append(out, b)
		}
	}
	return out
}

// Complete reports whether every canonical bucket is present.
func (r *Route) Complete() bool {
	return len(r.Bins) == bucket.Count
}

func (r *Route) clone() *Route {
	c := &Route{Key: r.Key, Bins: make(map[bucket.Bucket]BinStats, bucket.Count)}
	for b, s := range r.Bins {
		c.Bins[b] = s
	}
	if len(r.Extra) > 0 {
		c.Extra = make(map[string]BinStats, len(r.Extra))
		for l, s := range r.Extra {
			c.Extra[l] = s
		}
	}
	return c
}

// Dataset is a set of routes keyed by RouteKey. A Dataset is not safe for
// concurrent mutation; once built it may be read from any number of goroutines.
type Dataset struct {
	routes map[RouteKey]*Route
}

// New creates an empty dataset.
func New() *Dataset {
	return &Dataset{routes: make(map[RouteKey]*Route)}
}

// Len returns the number of routes.
func (d *Dataset) Len() int {
	return len(d.routes)
}

// BinCount returns the number of canonical bins across all routes.
func (d *Dataset) BinCount() int {
	n := 0
	for _, r := range d.routes {
		n += len(r.Bins)
	}
	return n
}

// Route returns the route stored under k. The returned route must not be modified.
func (d *Dataset) Route(k RouteKey) (*Route, bool) {
	r, ok := d.routes[k]
	return r, ok
}

// Routes returns all routes ordered by key.
func (d *Dataset) Routes() []*Route {
	out := make([]*Route, 0, len(d.routes))
	for _, r := range d.routes {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Less(out[j].Key) })
	return out
}

// AddRoute registers a route with no bins. It is a no-op if the route exists.
func (d *Dataset) AddRoute(k RouteKey) *Route {
	if d.routes == nil {
		d.routes = make(map[RouteKey]*Route)
	}
	r, ok := d.routes[k]
	if !ok {
		r = newRoute(k)
		d.routes[k] = r
	}
	return r
}

// Put stores s under k, replacing any existing bin.
func (d *Dataset) Put(k BinKey, s BinStats) {
	d.AddRoute(k.Route).Bins[k.Bucket] = s
}

// PutExtra stores s under a non-canonical bucket label.
func (d *Dataset) PutExtra(k RouteKey, label string, s BinStats) {
	r := d.AddRoute(k)
	if r.Extra == nil {
		r.Extra = make(map[string]BinStats)
	}
	r.Extra[label] = s
}

// Bin returns the stats stored under k.
func (d *Dataset) Bin(k BinKey) (BinStats, bool) {
	r, ok := d.routes[k.Route]
	if !ok {
		return BinStats{}, false
	}
	return r.Bin(k.Bucket)
}

// HasOrigin reports whether any route starts at origin.
func (d *Dataset) HasOrigin(origin string) bool {
	for k := range d.routes {
		if k.Origin == origin {
			return true
		}
	}
	return false
}

// HasDestination reports whether any route goes from origin to destination.
func (d *Dataset) HasDestination(origin, destination string) bool {
	for k := range d.routes {
		if k.Origin == origin && k.Destination == destination {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of d.
func (d *Dataset) Clone() *Dataset {
	c := &Dataset{routes: make(map[RouteKey]*Route, len(d.routes))}
	for k, r := range d.routes {
		c.routes[k] = r.clone()
	}
	return c
}

// Validate checks every stored statistic. It returns a *MalformedBinError for
// the first offending bin in key order.
func (d *Dataset) Validate() error {
	for _, r := range d.Routes() {
		for _, b := range r.Buckets() {
			if err := validateBin(r.Key, b.String(), r.Bins[b]); err != nil {
				return err
			}
		}
		labels := make([]string, 0, len(r.Extra))
		for l := range r.Extra {
			labels = append(labels, l)
		}
		sort.Strings(labels)
		for _, l := range labels {
			if err := validateBin(r.Key, l, r.Extra[l]); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateBin(k RouteKey, label string, s BinStats) error {
	for _, f := range []struct {
		name string
		v    float64
	}{
		{fieldP25, s.P25},
		{fieldP50, s.P50},
		{fieldP75, s.P75},
	} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return &MalformedBinError{Route: k, Bucket: label, Field: f.name, Reason: "not a finite number"}
		}
		if f.v < 0 {
			return &MalformedBinError{Route: k, Bucket: label, Field: f.name, Reason: "negative"}
		}
	}
	if s.SampleSize < 0 {
		return &MalformedBinError{Route: k, Bucket: label, Field: fieldSampleSize, Reason: "negative"}
	}
	if s.Generated && !s.Method.Valid() {
		return &MalformedBinError{Route: k, Bucket: label, Field: fieldMethod, Reason: fmt.Sprintf("unknown method %q", s.Method)}
	}
	return nil
}

// ErrMalformedBin is wrapped by every *MalformedBinError.
var ErrMalformedBin = errors.New("malformed bin")

// MalformedBinError reports a stored statistic that is not a usable number.
type MalformedBinError struct {
	Route  RouteKey
	Bucket string
	Field  string
	Reason string
}

func (e *MalformedBinError) Error() string {
	return fmt.Sprintf("malformed bin %s [%s]: %s %s", e.Route, e.Bucket, e.Field, e.Reason)
}

func (e *MalformedBinError) Unwrap() error {
	return ErrMalformedBin
}
