// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/luxfi/settlement/bucket"
)

// Naming maps between the human-readable names used in tabular files and the
// keys used in the dataset. Nil functions leave values unchanged.
type Naming struct {
	ChainID   func(name string) string
	AssetKey  func(symbol string) string
	ChainName func(id string) string
	AssetName func(key string) string
}

// Columns of the tabular import format.
var importColumns = []string{
	"from_chain_name",
	"to_chain_name",
	"from_asset_symbol",
	"from_asset_amount_usd_floor",
	"from_asset_amount_usd_ceil",
	fieldP25,
	fieldP50,
	fieldP75,
	fieldSampleSize,
}

// Columns of the tabular export format.
var exportColumns = []string{
	"origin_chain_id",
	"origin_chain_name",
	"destination_chain_id",
	"destination_chain_name",
	"tickerhash",
	"asset_name",
	"bin",
	fieldP25,
	fieldP50,
	fieldP75,
	fieldSampleSize,
	"generated",
	fieldMethod,
}

// ReadCSV builds a dataset from rows of observed percentiles, one row per
// route and amount range. Amount ranges are converted to bucket labels; an
// empty ceiling denotes the open top bucket.
func ReadCSV(r io.Reader, naming Naming) (*Dataset, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	for _, c := range importColumns {
		if _, ok := idx[c]; !ok {
			return nil, fmt.Errorf("missing column %q", c)
		}
	}

	d := New()
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		get := func(col string) string { return strings.TrimSpace(rec[idx[col]]) }

		k := RouteKey{
			Origin:      apply(naming.ChainID, get("from_chain_name")),
			Destination: apply(naming.ChainID, get("to_chain_name")),
			Asset:       apply(naming.AssetKey, get("from_asset_symbol")),
		}
		label, err := rangeLabel(get("from_asset_amount_usd_floor"), get("from_asset_amount_usd_ceil"))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		var s BinStats
		for _, f := range []struct {
			col string
			dst *float64
		}{
			{fieldP25, &s.P25},
			{fieldP50, &s.P50},
			{fieldP75, &s.P75},
		} {
			v, err := parseNumber(get(f.col))
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, &MalformedBinError{Route: k, Bucket: label, Field: f.col, Reason: err.Error()})
			}
			*f.dst = v
		}
		n, err := strconv.Atoi(strings.ReplaceAll(get(fieldSampleSize), ",", ""))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid sample size: %w", line, err)
		}
		s.SampleSize = n

		if err := validateBin(k, label, s); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if b, err := bucket.Parse(label); err == nil {
			d.Put(BinKey{Route: k, Bucket: b}, s)
		} else {
			d.PutExtra(k, label, s)
		}
	}
	return d, nil
}

// WriteCSV writes one row per stored bin, routes in key order and buckets in
// canonical order followed by any non-canonical labels.
func WriteCSV(w io.Writer, d *Dataset, naming Naming) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportColumns); err != nil {
		return err
	}

	for _, r := range d.Routes() {
		originName := nameOr(naming.ChainName, r.Key.Origin, "Chain "+r.Key.Origin)
		destName := nameOr(naming.ChainName, r.Key.Destination, "Chain "+r.Key.Destination)
		assetName := nameOr(naming.AssetName, r.Key.Asset, "Asset "+truncate(r.Key.Asset, 10)+"...")

		row := func(label string, s BinStats) []string {
			return []string{
				r.Key.Origin, originName,
				r.Key.Destination, destName,
				r.Key.Asset, assetName,
				label,
				formatFloat(s.P25), formatFloat(s.P50), formatFloat(s.P75),
				strconv.Itoa(s.SampleSize),
				strconv.FormatBool(s.Generated),
				string(s.Method),
			}
		}

		for _, b := range r.Buckets() {
			if err := cw.Write(row(b.String(), r.Bins[b])); err != nil {
				return err
			}
		}
		extra := make([]string, 0, len(r.Extra))
		for l := range r.Extra {
			extra = append(extra, l)
		}
		sort.Strings(extra)
		for _, l := range extra {
			if err := cw.Write(row(l, r.Extra[l])); err != nil {
				return err
			}
		}
	}

	cw.Flush()
	return cw.Error()
}

// rangeLabel converts a floor/ceiling pair such as "50,000"/"100,000" into
// the bucket label "50000-100000".
func rangeLabel(floor, ceil string) (string, error) {
	ceil = strings.ReplaceAll(ceil, ",", "")
	if ceil == "" {
		return bucket.Over1M.String(), nil
	}
	lo, err := parseNumber(floor)
	if err != nil {
		return "", fmt.Errorf("invalid range floor %q: %w", floor, err)
	}
	hi, err := parseNumber(ceil)
	if err != nil {
		return "", fmt.Errorf("invalid range ceiling %q: %w", ceil, err)
	}
	return fmt.Sprintf("%d-%d", int64(lo), int64(hi)), nil
}

func parseNumber(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func apply(fn func(string) string, v string) string {
	if fn == nil {
		return v
	}
	return fn(v)
}

func nameOr(fn func(string) string, v, fallback string) string {
	if fn == nil {
		return fallback
	}
	if n := fn(v); n != "" {
		return n
	}
	return fallback
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
