// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package resolver

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"golang.org/x/crypto/sha3"
)

// HubChainID is the chain id of the settlement hub.
const HubChainID = "25327"

const hubName = "Everclear Hub"

// ErrAssetNotFound is returned when no catalog entry matches a symbol.
var ErrAssetNotFound = errors.New("asset not found")

// Asset is one catalog entry.
type Asset struct {
	TickerHash string `json:"tickerHash"`
}

// Chain lists the assets known on one chain.
type Chain struct {
	Name    string           `json:"name,omitempty"`
	Network string           `json:"network,omitempty"`
	Assets  map[string]Asset `json:"assets,omitempty"`
}

// Catalog is the chain and asset catalog.
type Catalog struct {
	Hub    *Chain           `json:"hub,omitempty"`
	Chains map[string]Chain `json:"chains,omitempty"`
}

// ParseCatalog decodes a catalog from r.
func ParseCatalog(r io.Reader) (*Catalog, error) {
	var c Catalog
	if err := json.NewDecoder(r).Decode(&c); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	return &c, nil
}

// LoadCatalog reads a catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer f.Close()
	return ParseCatalog(f)
}

// IsAssetKey reports whether s is already a hash-formatted asset key.
func IsAssetKey(s string) bool {
	return strings.HasPrefix(s, "0x")
}

// ResolveAsset maps a symbol to its ticker hash. Keys pass through verbatim.
// The hub is searched first, then the hinted chain, then every chain in id
// order. Symbols compare case-insensitively.
func (c *Catalog) ResolveAsset(symbolOrKey, chainHint string) (string, error) {
	if IsAssetKey(symbolOrKey) {
		return symbolOrKey, nil
	}
	if c == nil {
		return "", fmt.Errorf("%w: %s", ErrAssetNotFound, symbolOrKey)
	}
	if c.Hub != nil {
		if h, ok := findAsset(c.Hub.Assets, symbolOrKey); ok {
			return h, nil
		}
	}
	if chain, ok := c.Chains[chainHint]; ok && chainHint != "" {
		if h, ok := findAsset(chain.Assets, symbolOrKey); ok {
			return h, nil
		}
	}
	for _, id := range c.chainIDs() {
		if h, ok := findAsset(c.Chains[id].Assets, symbolOrKey); ok {
			return h, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrAssetNotFound, symbolOrKey)
}

// Symbol returns the symbol registered for a ticker hash.
func (c *Catalog) Symbol(tickerHash string) (string, bool) {
	if c == nil {
		return "", false
	}
	if c.Hub != nil {
		if s, ok := findSymbol(c.Hub.Assets, tickerHash); ok {
			return s, true
		}
	}
	for _, id := range c.chainIDs() {
		if s, ok := findSymbol(c.Chains[id].Assets, tickerHash); ok {
			return s, true
		}
	}
	return "", false
}

// ChainName returns a display name for a chain id: the catalog name, else
// the network name with the id, else "Chain <id>".
func (c *Catalog) ChainName(id string) string {
	if c == nil {
		return "Chain " + id
	}
	if id == HubChainID && c.Hub != nil {
		return hubName
	}
	chain, ok := c.Chains[id]
	switch {
	case ok && chain.Name != "":
		return chain.Name
	case ok && chain.Network != "":
		return titleCase(chain.Network) + " " + id
	}
	return "Chain " + id
}

// Symbols returns the symbols held on the hub, sorted.
func (c *Catalog) Symbols() []string {
	if c == nil || c.Hub == nil {
		return nil
	}
	out := make([]string, 0, len(c.Hub.Assets))
	for s := range c.Hub.Assets {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (c *Catalog) chainIDs() []string {
	ids := make([]string, 0, len(c.Chains))
	for id := range c.Chains {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func findAsset(assets map[string]Asset, symbol string) (string, bool) {
	if a, ok := assets[symbol]; ok {
		return a.TickerHash, true
	}
	syms := make([]string, 0, len(assets))
	for s := range assets {
		syms = append(syms, s)
	}
	sort.Strings(syms)
	for _, s := range syms {
		if strings.EqualFold(s, symbol) {
			return assets[s].TickerHash, true
		}
	}
	return "", false
}

func findSymbol(assets map[string]Asset, tickerHash string) (string, bool) {
	syms := make([]string, 0, len(assets))
	for s := range assets {
		syms = append(syms, s)
	}
	sort.Strings(syms)
	for _, s := range syms {
		if strings.EqualFold(assets[s].TickerHash, tickerHash) {
			return s, true
		}
	}
	return "", false
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}

// TickerHash derives an asset key from a ticker symbol: the 0x-prefixed
// keccak-256 of the upper-cased ticker.
func TickerHash(symbol string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(strings.ToUpper(symbol)))
	return "0x" + hex.EncodeToString(h.Sum(nil))
}
