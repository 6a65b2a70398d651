// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package lookup resolves settlement-time queries against a populated dataset.
package lookup

import (
	"errors"
	"fmt"
	"strings"

	"github.com/luxfi/settlement/bucket"
	"github.com/luxfi/settlement/dataset"
	"github.com/luxfi/settlement/resolver"
)

var (
	ErrRouteNotFound  = errors.New("route not found")
	ErrBucketNotFound = errors.New("bucket not found")
)

// Level names the part of a route that could not be found.
type Level string

const (
	LevelOrigin      Level = "origin"
	LevelDestination Level = "destination"
	LevelAsset       Level = "asset"
)

// RouteNotFoundError reports the first route level missing from the dataset.
type RouteNotFoundError struct {
	Level Level
	Route dataset.RouteKey
}

func (e *RouteNotFoundError) Error() string {
	switch e.Level {
	case LevelOrigin:
		return fmt.Sprintf("origin chain %q not found", e.Route.Origin)
	case LevelDestination:
		return fmt.Sprintf("destination chain %q not found for origin %q", e.Route.Destination, e.Route.Origin)
	}
	return fmt.Sprintf("asset %q not found for %s -> %s", e.Route.Asset, e.Route.Origin, e.Route.Destination)
}

func (e *RouteNotFoundError) Unwrap() error {
	return ErrRouteNotFound
}

// Query is a lookup request in human terms. Amount is a bucket label, a USD
// amount, a token amount such as "10 WETH", or empty.
type Query struct {
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	Asset       string `json:"asset"`
	Amount      string `json:"amount,omitempty"`
}

// Result is a resolved lookup.
type Result struct {
	Origin      string         `json:"origin"`
	Destination string         `json:"destination"`
	Asset       string         `json:"asset"`
	Bucket      bucket.Bucket  `json:"bucket"`
	P25         float64        `json:"settlement_duration_minutes_p25"`
	P50         float64        `json:"settlement_duration_minutes_p50"`
	P75         float64        `json:"settlement_duration_minutes_p75"`
	SampleSize  int            `json:"sample_size"`
	Generated   bool           `json:"generated"`
	Method      dataset.Method `json:"method,omitempty"`

	// Token is set when Amount was a token amount.
	Token    *resolver.TokenAmount `json:"token,omitempty"`
	USDValue *float64              `json:"usd_value,omitempty"`
	Warnings []string              `json:"warnings,omitempty"`
}

// Stats returns the bin statistics carried by r.
func (r *Result) Stats() dataset.BinStats {
	return dataset.BinStats{
		P25:        r.P25,
		P50:        r.P50,
		P75:        r.P75,
		SampleSize: r.SampleSize,
		Generated:  r.Generated,
		Method:     r.Method,
	}
}

// Service answers queries. It never modifies the dataset and is safe for
// concurrent use.
type Service struct {
	data    *dataset.Dataset
	chains  *resolver.ChainTable
	catalog *resolver.Catalog
	prices  *resolver.PriceTable
}

// Option configures a Service.
type Option func(*Service)

// WithChains sets the chain table.
func WithChains(c *resolver.ChainTable) Option {
	return func(s *Service) { s.chains = c }
}

// WithCatalog sets the asset catalog.
func WithCatalog(c *resolver.Catalog) Option {
	return func(s *Service) { s.catalog = c }
}

// WithPrices sets the price table.
func WithPrices(p *resolver.PriceTable) Option {
	return func(s *Service) { s.prices = p }
}

// New creates a lookup service over a populated dataset.
func New(d *dataset.Dataset, opts ...Option) *Service {
	s := &Service{
		data:   d,
		chains: resolver.DefaultChains(),
		prices: resolver.DefaultPrices(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dataset returns the dataset the service reads.
func (s *Service) Dataset() *dataset.Dataset {
	return s.data
}

// Resolve maps the chain and asset inputs of q onto a route key. A token
// amount in q.Amount supplies the asset symbol, overriding q.Asset.
func (s *Service) Resolve(q Query) (dataset.RouteKey, error) {
	k := dataset.RouteKey{
		Origin:      s.chains.Resolve(q.Origin),
		Destination: s.chains.Resolve(q.Destination),
	}
	asset := strings.TrimSpace(q.Asset)
	if tok, ok := resolver.ParseTokenAmount(q.Amount); ok {
		asset = tok.Symbol
	}
	key, err := s.catalog.ResolveAsset(asset, k.Origin)
	if err != nil {
		return k, err
	}
	k.Asset = key
	return k, nil
}

// Lookup resolves q and returns the stored bin verbatim.
func (s *Service) Lookup(q Query) (*Result, error) {
	k, err := s.Resolve(q)
	if err != nil {
		return nil, err
	}

	res := &Result{Origin: k.Origin, Destination: k.Destination, Asset: k.Asset}

	b, explicit, err := s.bucketFor(q.Amount, res)
	if err != nil {
		return nil, err
	}

	r, err := s.route(k)
	if err != nil {
		return nil, err
	}

	if !explicit {
		buckets := r.Buckets()
		if len(buckets) == 0 {
			return nil, fmt.Errorf("%w: route %s has no bins", ErrBucketNotFound, k)
		}
		b = buckets[0]
	}

	stats, ok := r.Bin(b)
	if !ok {
		return nil, fmt.Errorf("%w: %s for route %s", ErrBucketNotFound, b, k)
	}

	res.Bucket = b
	res.P25, res.P50, res.P75 = stats.P25, stats.P50, stats.P75
	res.SampleSize = stats.SampleSize
	res.Generated = stats.Generated
	res.Method = stats.Method
	return res, nil
}

// bucketFor interprets the amount input. explicit is false when no amount
// was given.
func (s *Service) bucketFor(amount string, res *Result) (bucket.Bucket, bool, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return 0, false, nil
	}

	if tok, ok := resolver.ParseTokenAmount(amount); ok {
		usd, err := s.prices.ToUSD(tok.Amount, tok.Symbol)
		if err != nil {
			if !errors.Is(err, resolver.ErrPriceUnknown) {
				return 0, false, err
			}
			res.Warnings = append(res.Warnings, err.Error())
		}
		res.Token = &tok
		res.USDValue = &usd
		b, err := bucket.For(usd)
		return b, true, err
	}

	if b, err := bucket.Parse(amount); err == nil {
		return b, true, nil
	}

	if usd, ok := resolver.ParseUSD(amount); ok {
		res.USDValue = &usd
		b, err := bucket.For(usd)
		return b, true, err
	}

	return 0, false, fmt.Errorf("%w: %q", bucket.ErrUnknownBucket, amount)
}

func (s *Service) route(k dataset.RouteKey) (*dataset.Route, error) {
	if r, ok := s.data.Route(k); ok {
		return r, nil
	}
	level := LevelAsset
	switch {
	case !s.data.HasOrigin(k.Origin):
		level = LevelOrigin
	case !s.data.HasDestination(k.Origin, k.Destination):
		level = LevelDestination
	}
	return nil, &RouteNotFoundError{Level: level, Route: k}
}

// Route returns every stored bin of the route q resolves to.
func (s *Service) Route(q Query) (*dataset.Route, error) {
	k, err := s.Resolve(q)
	if err != nil {
		return nil, err
	}
	return s.route(k)
}
