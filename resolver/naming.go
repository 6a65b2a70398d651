// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package resolver

import (
	"strings"

	"github.com/luxfi/settlement/dataset"
)

// SymbolKey is the placeholder key older tooling gave symbols missing from
// the catalog: "0x" followed by the lower-cased symbol.
func SymbolKey(symbol string) string {
	return "0x" + strings.ToLower(symbol)
}

// ImportNaming maps the chain names and asset symbols of a tabular file onto
// dataset keys. Symbols missing from the catalog are passed to fallback, or
// hashed with TickerHash when fallback is nil.
func ImportNaming(chains *ChainTable, catalog *Catalog, fallback func(string) string) dataset.Naming {
	if fallback == nil {
		fallback = TickerHash
	}
	return dataset.Naming{
		ChainID: chains.Resolve,
		AssetKey: func(symbol string) string {
			if key, err := catalog.ResolveAsset(symbol, ""); err == nil {
				return key
			}
			return fallback(symbol)
		},
	}
}

// ExportNaming labels dataset keys for a tabular export. Unknown ids get an
// empty name, leaving the writer's placeholder in place.
func ExportNaming(chains *ChainTable, catalog *Catalog) dataset.Naming {
	return dataset.Naming{
		ChainName: func(id string) string {
			if name := catalog.ChainName(id); name != "Chain "+id {
				return name
			}
			if name, ok := chains.Name(id); ok {
				return titleCase(name)
			}
			return ""
		},
		AssetName: func(key string) string {
			sym, _ := catalog.Symbol(key)
			return sym
		},
	}
}
