// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package resolver

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrPriceUnknown is returned alongside a usable value when a symbol has no
// price and 1.0 was assumed.
var ErrPriceUnknown = errors.New("price unknown")

// PriceTable maps asset symbols to USD prices. Lookups ignore case.
type PriceTable struct {
	prices map[string]decimal.Decimal
}

var defaultPrices = map[string]float64{
	"USDC":    1.0,
	"USDT":    1.0,
	"ETH":     4250.0,
	"WETH":    4250.0,
	"CLEAR":   0.02029,
	"cbBTC":   113131.51,
	"WBTC":    112734.47,
	"BNB":     300.0,
	"POL":     0.5,
	"AVAX":    35.0,
	"BERA":    0.1,
	"MNT":     0.5,
	"SONIC":   0.01,
	"INK":     0.001,
	"APE":     1.5,
	"RON":     0.1,
	"xPufETH": 4250.0,
}

// DefaultPrices returns the built-in price table.
func DefaultPrices() *PriceTable {
	return NewPriceTable(defaultPrices)
}

// NewPriceTable builds a table from symbol -> USD price pairs.
func NewPriceTable(prices map[string]float64) *PriceTable {
	t := &PriceTable{prices: make(map[string]decimal.Decimal, len(prices))}
	for sym, p := range prices {
		t.Set(sym, p)
	}
	return t
}

// Set adds or replaces the price of symbol.
func (t *PriceTable) Set(symbol string, usd float64) {
	t.prices[strings.ToUpper(symbol)] = decimal.NewFromFloat(usd)
}

// Price returns the USD price of symbol.
func (t *PriceTable) Price(symbol string) (float64, bool) {
	p, ok := t.prices[strings.ToUpper(symbol)]
	if !ok {
		return 0, false
	}
	return p.InexactFloat64(), true
}

// ToUSD converts amount of symbol to USD. Symbols match case-insensitively,
// so mixed-case tickers such as cbBTC get their configured price rather than
// the $1 fallback. An unknown symbol is priced at 1.0 and the result is
// returned together with ErrPriceUnknown.
func (t *PriceTable) ToUSD(amount float64, symbol string) (float64, error) {
	a := decimal.NewFromFloat(amount)
	p, ok := t.prices[strings.ToUpper(symbol)]
	if !ok {
		return a.InexactFloat64(), fmt.Errorf("%w for %s, assuming $1", ErrPriceUnknown, symbol)
	}
	return a.Mul(p).InexactFloat64(), nil
}

// TokenAmount is a parsed "<amount> <SYMBOL>" string.
type TokenAmount struct {
	Amount float64
	Symbol string
}

func (a TokenAmount) String() string {
	return strconv.FormatFloat(a.Amount, 'f', -1, 64) + " " + a.Symbol
}

var tokenAmountRe = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s+([A-Za-z]+)$`)

// ParseTokenAmount parses text such as "10 WETH" or "1000.5 usdc". The symbol
// is upper-cased.
func ParseTokenAmount(text string) (TokenAmount, bool) {
	m := tokenAmountRe.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return TokenAmount{}, false
	}
	amount, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return TokenAmount{}, false
	}
	return TokenAmount{Amount: amount, Symbol: strings.ToUpper(m[2])}, true
}

// ParseUSD parses a plain USD amount, allowing thousands separators.
func ParseUSD(text string) (float64, bool) {
	s := strings.ReplaceAll(strings.TrimSpace(text), ",", "")
	s = strings.TrimPrefix(s, "$")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
