// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package testcases runs a CSV of expected lookups against a populated
// dataset and reports which ones disagree.
package testcases

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/luxfi/settlement/lookup"
)

// Tolerance is the largest accepted difference between an expected and an
// actual percentile.
const Tolerance = 0.01

// Columns of the case file. The expected percentile columns are optional.
const (
	ColumnOrigin      = "from_chain_name"
	ColumnDestination = "to_chain_name"
	ColumnAsset       = "from_asset_symbol"
	ColumnAmount      = "amount"
	ColumnP25         = "settlement_duration_minutes_p25"
	ColumnP50         = "settlement_duration_minutes_p50"
	ColumnP75         = "settlement_duration_minutes_p75"
)

// ErrInvalidAmount marks a case whose amount is not a USD number.
var ErrInvalidAmount = errors.New("invalid case amount")

// Case is one row of the case file.
type Case struct {
	Line        int
	Origin      string
	Destination string
	Asset       string
	Amount      string

	// Raw expected values; empty when the row carries none.
	P25, P50, P75 string
}

func (c Case) String() string {
	return fmt.Sprintf("%s -> %s, %s, $%s", c.Origin, c.Destination, c.Asset, c.Amount)
}

// Expected parses the expected percentiles. ok is false when any of them is
// missing or unparseable.
func (c Case) Expected() (p25, p50, p75 float64, ok bool) {
	if c.P25 == "" || c.P50 == "" || c.P75 == "" {
		return 0, 0, 0, false
	}
	var err [3]error
	p25, err[0] = strconv.ParseFloat(strings.TrimSpace(c.P25), 64)
	p50, err[1] = strconv.ParseFloat(strings.TrimSpace(c.P50), 64)
	p75, err[2] = strconv.ParseFloat(strings.TrimSpace(c.P75), 64)
	if errors.Join(err[:]...) != nil {
		return 0, 0, 0, false
	}
	return p25, p50, p75, true
}

// USD returns the case amount with thousands separators removed.
func (c Case) USD() (float64, error) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(c.Amount), ",", ""), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, c.Amount)
	}
	return v, nil
}

// ReadCases parses a case file.
func ReadCases(r io.Reader) ([]Case, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	for _, c := range []string{ColumnOrigin, ColumnDestination, ColumnAsset, ColumnAmount} {
		if _, ok := idx[c]; !ok {
			return nil, fmt.Errorf("missing column %q", c)
		}
	}

	field := func(rec []string, name string) string {
		i, ok := idx[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var cases []Case
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		cases = append(cases, Case{
			Line:        line,
			Origin:      field(rec, ColumnOrigin),
			Destination: field(rec, ColumnDestination),
			Asset:       field(rec, ColumnAsset),
			Amount:      field(rec, ColumnAmount),
			P25:         field(rec, ColumnP25),
			P50:         field(rec, ColumnP50),
			P75:         field(rec, ColumnP75),
		})
	}
	return cases, nil
}

// LoadCases reads a case file from disk.
func LoadCases(path string) ([]Case, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cases: %w", err)
	}
	defer f.Close()
	return ReadCases(f)
}

// Outcome is the result of running one case.
type Outcome struct {
	Case     Case
	Result   *lookup.Result
	Err      error
	Compared bool
	Pass     bool
	Elapsed  time.Duration
}

// Summary aggregates a run.
type Summary struct {
	Passed   int
	Failed   int
	Outcomes []Outcome
	Duration time.Duration
}

// Total is the number of cases run.
func (s *Summary) Total() int {
	return s.Passed + s.Failed
}

// SuccessRate is the share of passing cases in percent.
func (s *Summary) SuccessRate() float64 {
	if s.Total() == 0 {
		return 0
	}
	return float64(s.Passed) / float64(s.Total()) * 100
}

// Runner evaluates cases against a lookup service.
type Runner struct {
	svc    *lookup.Service
	logger *log.Logger
	max    int
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger receiving per-case output.
func WithLogger(l *log.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithMax limits the run to the first n cases. n <= 0 means no limit.
func WithMax(n int) Option {
	return func(r *Runner) { r.max = n }
}

// NewRunner creates a runner.
func NewRunner(svc *lookup.Service, opts ...Option) *Runner {
	r := &Runner{svc: svc, logger: log.New(io.Discard, "", 0)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run evaluates cases in order. A case without usable expected values passes
// when its lookup succeeds; a failed lookup always fails.
func (r *Runner) Run(cases []Case) *Summary {
	if r.max > 0 && len(cases) > r.max {
		cases = cases[:r.max]
	}

	start := time.Now()
	s := &Summary{Outcomes: make([]Outcome, 0, len(cases))}
	for i, c := range cases {
		o := r.runOne(c)
		if o.Pass {
			s.Passed++
		} else {
			s.Failed++
		}
		r.report(i+1, len(cases), o)
		s.Outcomes = append(s.Outcomes, o)
	}
	s.Duration = time.Since(start)
	return s
}

func (r *Runner) runOne(c Case) Outcome {
	o := Outcome{Case: c}
	usd, err := c.USD()
	if err != nil {
		o.Err = err
		return o
	}

	start := time.Now()
	res, err := r.svc.Lookup(lookup.Query{
		Origin:      c.Origin,
		Destination: c.Destination,
		Asset:       c.Asset,
		Amount:      strconv.FormatFloat(usd, 'f', -1, 64),
	})
	o.Elapsed = time.Since(start)
	if err != nil {
		o.Err = err
		return o
	}
	o.Result = res

	p25, p50, p75, ok := c.Expected()
	if !ok {
		o.Pass = true
		return o
	}
	o.Compared = true
	o.Pass = within(res.P25, p25) && within(res.P50, p50) && within(res.P75, p75)
	return o
}

func within(actual, expected float64) bool {
	return math.Abs(actual-expected) < Tolerance
}

func (r *Runner) report(i, n int, o Outcome) {
	switch {
	case o.Err != nil:
		r.logger.Printf("[%d/%d] FAIL %s: %v", i, n, o.Case, o.Err)
	case !o.Compared:
		r.logger.Printf("[%d/%d] PASS %s: p25=%v p50=%v p75=%v (no expected values)",
			i, n, o.Case, o.Result.P25, o.Result.P50, o.Result.P75)
	case o.Pass:
		r.logger.Printf("[%d/%d] PASS %s: p25=%v p50=%v p75=%v",
			i, n, o.Case, o.Result.P25, o.Result.P50, o.Result.P75)
	default:
		r.logger.Printf("[%d/%d] FAIL %s: expected %s/%s/%s, got %v/%v/%v",
			i, n, o.Case, o.Case.P25, o.Case.P50, o.Case.P75, o.Result.P25, o.Result.P50, o.Result.P75)
	}
}
