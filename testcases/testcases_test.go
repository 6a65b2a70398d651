// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package testcases

import (
	"bytes"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/settlement/bucket"
	"github.com/luxfi/settlement/dataset"
	"github.com/luxfi/settlement/lookup"
	"github.com/luxfi/settlement/resolver"
)

const wethKey = "0x0f8a193ff464434486c0daf7db2a895884365d2bc84ba47a68fcf89c1b14b5b8"

const casesCSV = `from_chain_name,to_chain_name,from_asset_symbol,amount,settlement_duration_minutes_p25,settlement_duration_minutes_p50,settlement_duration_minutes_p75
optimism,ethereum,WETH,"25,000",5,10,15
optimism,ethereum,WETH,"1,500,000",28,40,52.005
optimism,ethereum,WETH,75000,,,
optimism,ethereum,WETH,2000000,28,40,99
optimism,ethereum,WETH,10,n/a,10,15
base,ethereum,WETH,10,5,10,15
optimism,ethereum,WETH,lots,5,10,15
`

func newService(t *testing.T) *lookup.Service {
	t.Helper()
	catalog, err := resolver.ParseCatalog(strings.NewReader(
		`{"hub": {"assets": {"WETH": {"tickerHash": "` + wethKey + `"}}}}`))
	require.NoError(t, err)

	d := dataset.New()
	route := dataset.RouteKey{Origin: "10", Destination: "1", Asset: wethKey}
	d.Put(dataset.BinKey{Route: route, Bucket: bucket.Under50K},
		dataset.BinStats{P25: 5, P50: 10, P75: 15, SampleSize: 42})
	d.Put(dataset.BinKey{Route: route, Bucket: bucket.From50KTo100K},
		dataset.BinStats{P25: 8.4, P50: 12, P75: 15.6, Generated: true, Method: dataset.MethodBaselineScaling})
	d.Put(dataset.BinKey{Route: route, Bucket: bucket.Over1M},
		dataset.BinStats{P25: 28, P50: 40, P75: 52, Generated: true, Method: dataset.MethodBaselineScaling})
	return lookup.New(d, lookup.WithCatalog(catalog))
}

func TestReadCases(t *testing.T) {
	cases, err := ReadCases(strings.NewReader(casesCSV))
	require.NoError(t, err)
	require.Len(t, cases, 7)

	c := cases[0]
	assert.Equal(t, 2, c.Line)
	assert.Equal(t, "optimism", c.Origin)
	assert.Equal(t, "25,000", c.Amount)

	usd, err := c.USD()
	require.NoError(t, err)
	assert.Equal(t, 25000.0, usd)

	p25, p50, p75, ok := c.Expected()
	require.True(t, ok)
	assert.Equal(t, []float64{5, 10, 15}, []float64{p25, p50, p75})

	_, _, _, ok = cases[2].Expected()
	assert.False(t, ok, "empty expected values")
	_, _, _, ok = cases[4].Expected()
	assert.False(t, ok, "unparseable expected values")

	_, err = cases[6].USD()
	assert.True(t, errors.Is(err, ErrInvalidAmount))
}

func TestReadCasesWithoutExpected(t *testing.T) {
	cases, err := ReadCases(strings.NewReader("from_chain_name,to_chain_name,from_asset_symbol,amount\n10,1,WETH,100\n"))
	require.NoError(t, err)
	require.Len(t, cases, 1)
	_, _, _, ok := cases[0].Expected()
	assert.False(t, ok)
}

func TestReadCasesMissingColumn(t *testing.T) {
	_, err := ReadCases(strings.NewReader("from_chain_name,to_chain_name,amount\n"))
	assert.Error(t, err)
}

func TestRun(t *testing.T) {
	cases, err := ReadCases(strings.NewReader(casesCSV))
	require.NoError(t, err)

	var buf bytes.Buffer
	summary := NewRunner(newService(t), WithLogger(log.New(&buf, "", 0))).Run(cases)

	assert.Equal(t, 7, summary.Total())
	assert.Equal(t, 4, summary.Passed)
	assert.Equal(t, 3, summary.Failed)
	assert.InDelta(t, 57.14, summary.SuccessRate(), 0.01)

	pass := []bool{true, true, true, false, true, false, false}
	for i, o := range summary.Outcomes {
		assert.Equal(t, pass[i], o.Pass, "case on line %d", o.Case.Line)
	}

	assert.True(t, summary.Outcomes[1].Compared)
	assert.False(t, summary.Outcomes[2].Compared)
	assert.Equal(t, bucket.From50KTo100K, summary.Outcomes[2].Result.Bucket)
	assert.True(t, errors.Is(summary.Outcomes[5].Err, lookup.ErrRouteNotFound))
	assert.True(t, errors.Is(summary.Outcomes[6].Err, ErrInvalidAmount))

	assert.Contains(t, buf.String(), "[4/7] FAIL")
}

func TestRunMax(t *testing.T) {
	cases, err := ReadCases(strings.NewReader(casesCSV))
	require.NoError(t, err)

	summary := NewRunner(newService(t), WithMax(2)).Run(cases)
	assert.Equal(t, 2, summary.Total())
	assert.Equal(t, 0, summary.Failed)
}

func TestLoadCases(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cases.csv")
	require.NoError(t, os.WriteFile(path, []byte(casesCSV), 0644))

	cases, err := LoadCases(path)
	require.NoError(t, err)
	assert.Len(t, cases, 7)

	_, err = LoadCases(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}
