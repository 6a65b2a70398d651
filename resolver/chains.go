// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package resolver maps human input (chain names, asset symbols, token
// amounts) onto the keys used by settlement datasets.
package resolver

import (
	"sort"
	"strings"
)

// ChainTable maps lower-case chain names to chain ids.
type ChainTable struct {
	byName map[string]string
	byID   map[string]string
}

var defaultChains = map[string]string{
	"ethereum":    "1",
	"arbitrum":    "42161",
	"optimism":    "10",
	"base":        "8453",
	"polygon":     "137",
	"bnb":         "56",
	"avalanche_c": "43114",
	"scroll":      "534352",
	"zksync":      "324",
	"linea":       "59144",
	"blast":       "81457",
	"taiko":       "167000",
	"mode":        "34443",
	"unichain":    "130",
	"zircuit":     "48900",
	"berachain":   "80094",
	"sonic":       "146",
	"ink":         "57073",
	"ronin":       "2020",
	"solana":      "1399811149",
	"tron":        "728126428",
	"apechain":    "33139",
}

// DefaultChains returns the built-in chain table.
func DefaultChains() *ChainTable {
	return NewChainTable(defaultChains)
}

// NewChainTable builds a table from name -> id pairs.
func NewChainTable(names map[string]string) *ChainTable {
	t := &ChainTable{
		byName: make(map[string]string, len(names)),
		byID:   make(map[string]string, len(names)),
	}
	for name, id := range names {
		t.Add(name, id)
	}
	return t
}

// Add registers a chain name, replacing any previous mapping for it.
func (t *ChainTable) Add(name, id string) {
	name = strings.ToLower(strings.TrimSpace(name))
	t.byName[name] = id
	if prev, ok := t.byID[id]; !ok || name < prev {
		t.byID[id] = name
	}
}

// Resolve returns the chain id for a name. Input that is not a known name is
// returned unchanged, so ids pass straight through.
func (t *ChainTable) Resolve(nameOrID string) string {
	if id, ok := t.byName[strings.ToLower(strings.TrimSpace(nameOrID))]; ok {
		return id
	}
	return nameOrID
}

// Name returns the chain name registered for id.
func (t *ChainTable) Name(id string) (string, bool) {
	name, ok := t.byID[id]
	return name, ok
}

// Names returns every registered chain name in sorted order.
func (t *ChainTable) Names() []string {
	out := make([]string, 0, len(t.byName))
	for name := range t.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
