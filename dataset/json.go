// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/luxfi/settlement/bucket"
)

const (
	fieldP25        = "settlement_duration_minutes_p25"
	fieldP50        = "settlement_duration_minutes_p50"
	fieldP75        = "settlement_duration_minutes_p75"
	fieldSampleSize = "sample_size"
	fieldMethod     = "method"
)

// nested is the on-disk shape: origin -> destination -> asset -> bucket -> bin.
type nested map[string]map[string]map[string]map[string]BinStats

// wireBin decodes a bin with required percentile fields.
type wireBin struct {
	P25        *float64 `json:"settlement_duration_minutes_p25"`
	P50        *float64 `json:"settlement_duration_minutes_p50"`
	P75        *float64 `json:"settlement_duration_minutes_p75"`
	SampleSize int      `json:"sample_size"`
	Generated  bool     `json:"generated"`
	Method     Method   `json:"method"`
}

// MarshalJSON encodes the dataset in its nested form.
func (d *Dataset) MarshalJSON() ([]byte, error) {
	out := make(nested, len(d.routes))
	for k, r := range d.routes {
		dests, ok := out[k.Origin]
		if !ok {
			dests = make(map[string]map[string]map[string]BinStats)
			out[k.Origin] = dests
		}
		assets, ok := dests[k.Destination]
		if !ok {
			assets = make(map[string]map[string]BinStats)
			dests[k.Destination] = assets
		}
		bins := make(map[string]BinStats, len(r.Bins)+len(r.Extra))
		for l, s := range r.Extra {
			bins[l] = s
		}
		for b, s := range r.Bins {
			bins[b.String()] = s
		}
		assets[k.Asset] = bins
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the nested form. Bins whose percentiles are missing or
// not numeric fail with a *MalformedBinError.
func (d *Dataset) UnmarshalJSON(data []byte) error {
	var raw map[string]map[string]map[string]map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to decode dataset: %w", err)
	}

	routes := make(map[RouteKey]*Route)
	for origin, dests := range raw {
		for dest, assets := range dests {
			for asset, bins := range assets {
				k := RouteKey{Origin: origin, Destination: dest, Asset: asset}
				r := newRoute(k)
				for label, msg := range bins {
					s, err := decodeBin(k, label, msg)
					if err != nil {
						return err
					}
					if b, err := bucket.Parse(label); err == nil {
						r.Bins[b] = s
						continue
					}
					if r.Extra == nil {
						r.Extra = make(map[string]BinStats)
					}
					r.Extra[label] = s
				}
				routes[k] = r
			}
		}
	}
	d.routes = routes
	return nil
}

func decodeBin(k RouteKey, label string, msg json.RawMessage) (BinStats, error) {
	var w wireBin
	if err := json.Unmarshal(msg, &w); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			field := typeErr.Field
			if field == "" {
				field = "bin"
			}
			return BinStats{}, &MalformedBinError{Route: k, Bucket: label, Field: field, Reason: "has type " + typeErr.Value}
		}
		return BinStats{}, &MalformedBinError{Route: k, Bucket: label, Field: "bin", Reason: err.Error()}
	}

	for _, f := range []struct {
		name string
		v    *float64
	}{
		{fieldP25, w.P25},
		{fieldP50, w.P50},
		{fieldP75, w.P75},
	} {
		if f.v == nil {
			return BinStats{}, &MalformedBinError{Route: k, Bucket: label, Field: f.name, Reason: "missing"}
		}
	}

	s := BinStats{
		P25:        *w.P25,
		P50:        *w.P50,
		P75:        *w.P75,
		SampleSize: w.SampleSize,
		Generated:  w.Generated,
		Method:     w.Method,
	}
	if err := validateBin(k, label, s); err != nil {
		return BinStats{}, err
	}
	return s, nil
}

// Decode reads a nested JSON dataset from r.
func Decode(r io.Reader) (*Dataset, error) {
	d := New()
	if err := json.NewDecoder(r).Decode(d); err != nil {
		return nil, err
	}
	return d, nil
}

// Encode writes d to w as indented nested JSON.
func Encode(w io.Writer, d *Dataset) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}

// Load reads a nested JSON dataset from path.
func Load(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	d, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return d, nil
}

// Save writes d to path, creating parent directories as needed.
func Save(path string, d *Dataset) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := Encode(f, d); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
