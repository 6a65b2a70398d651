// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package e2e runs the settlement pipeline end to end: raw dataset on disk,
// gap filling, persistence to every store, and lookups over every surface.
package e2e

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestE2E(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Settlement E2E Suite")
}

// Fixture asset keys
const (
	wethKey = "0x0f8a193ff464434486c0daf7db2a895884365d2bc84ba47a68fcf89c1b14b5b8"
	usdcKey = "0xd6aca1be9729c13d677335161321649cccae6a591554772516700f986f942eaa"
)

// rawJSON is a sparse dataset: one route with a baseline, one without, and
// one holding only a non-canonical bin.
const rawJSON = `{
  "10": {
    "1": {
      "` + wethKey + `": {
        "0-50000":       {"settlement_duration_minutes_p25": 5,  "settlement_duration_minutes_p50": 10, "settlement_duration_minutes_p75": 15, "sample_size": 42},
        "300000-400000": {"settlement_duration_minutes_p25": 20, "settlement_duration_minutes_p50": 30, "settlement_duration_minutes_p75": 40, "sample_size": 7}
      }
    }
  },
  "1": {
    "10": {
      "` + usdcKey + `": {
        "100000-300000": {"settlement_duration_minutes_p25": 12, "settlement_duration_minutes_p50": 18, "settlement_duration_minutes_p75": 30, "sample_size": 3}
      }
    }
  },
  "8453": {
    "1": {
      "` + wethKey + `": {
        "legacy": {"settlement_duration_minutes_p25": 1, "settlement_duration_minutes_p50": 2, "settlement_duration_minutes_p75": 3, "sample_size": 1}
      }
    }
  }
}`

const catalogJSON = `{
  "hub": {"assets": {
    "WETH": {"tickerHash": "` + wethKey + `"},
    "USDC": {"tickerHash": "` + usdcKey + `"}
  }},
  "chains": {
    "10": {"name": "Optimism", "assets": {}},
    "8453": {"network": "base", "assets": {}}
  }
}`

const casesCSV = `from_chain_name,to_chain_name,from_asset_symbol,amount,settlement_duration_minutes_p25,settlement_duration_minutes_p50,settlement_duration_minutes_p75
optimism,ethereum,WETH,"25,000",5,10,15
optimism,ethereum,WETH,"600,000",17.5,25,32.5
ethereum,optimism,USDC,"2,000,000",28,40,52
base,ethereum,WETH,10,,,
`

// dataDir holds every file written by the suite
var dataDir string

var _ = BeforeSuite(func() {
	dataDir = os.Getenv("SETTLEMENT_E2E_DATA_DIR")
	if dataDir == "" {
		dataDir = filepath.Join(os.TempDir(), "settlement-e2e", fmt.Sprintf("run_%d", time.Now().UnixNano()))
	}
	Expect(os.MkdirAll(dataDir, 0755)).To(Succeed())
	GinkgoWriter.Printf("Data directory: %s\n", dataDir)

	writeFixture("settlement_times.json", rawJSON)
	writeFixture("chain_data.json", catalogJSON)
	writeFixture("test_cases.csv", casesCSV)
})

var _ = AfterSuite(func() {
	// Cleanup data directory if SETTLEMENT_E2E_KEEP_DATA is not set
	if os.Getenv("SETTLEMENT_E2E_KEEP_DATA") == "" && dataDir != "" {
		os.RemoveAll(dataDir)
	}
})

func writeFixture(name, content string) {
	Expect(os.WriteFile(fixturePath(name), []byte(content), 0644)).To(Succeed())
}

func fixturePath(name string) string {
	return filepath.Join(dataDir, name)
}
