// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package main provides the CLI for filling and querying settlement-time
// datasets.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/luxfi/settlement/config"
	"github.com/luxfi/settlement/lookup"
	"github.com/luxfi/settlement/resolver"
)

var version = "dev"

const usage = `Usage: settlement <command> [flags]

Commands:
  missing     List routes with missing buckets
  fill        Fill missing buckets and write the populated dataset
  lookup      Look up settlement times for one transfer
  test        Run a CSV of expected lookups
  serve       Serve lookups over HTTP and WebSocket
  import-csv  Convert observed percentiles from CSV to the JSON dataset
  export-csv  Write the populated dataset as CSV
  version     Show version and exit

Run 'settlement <command> -h' for command flags.
`

type command func(args []string)

var commands = map[string]command{
	"missing":    runMissing,
	"fill":       runFill,
	"lookup":     runLookup,
	"test":       runTest,
	"serve":      runServe,
	"import-csv": runImportCSV,
	"export-csv": runExportCSV,
	"version":    runVersion,
}

func main() {
	log.SetFlags(log.LstdFlags)

	// Load .env if present
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		fmt.Fprint(os.Stderr, usage)
		log.Fatalf("Unknown command: %s", os.Args[1])
	}
	cmd(os.Args[2:])
}

func runVersion(args []string) {
	fmt.Printf("settlement %s\n", version)
}

// newFlagSet creates a command flag set carrying the shared -config flag
func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configFile := fs.String("config", "", "Path to settlement.yaml")
	return fs, configFile
}

// loadConfig loads the given file, else the first default location found,
// else the built-in defaults
func loadConfig(path string) *config.Config {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		return cfg
	}

	defaultPaths := []string{
		"settlement.yaml",
		filepath.Join(config.Default().Storage.DataDir, "settlement.yaml"),
		"/etc/lux/settlement/settlement.yaml",
	}
	for _, p := range defaultPaths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		cfg, err := config.Load(p)
		if err != nil {
			log.Printf("Warning: Failed to load config from %s: %v", p, err)
			continue
		}
		log.Printf("Loaded config from %s", p)
		return cfg
	}
	return config.Default()
}

// loadCatalog returns nil when no catalog file is configured or present;
// symbol lookups then fail with resolver.ErrAssetNotFound
func loadCatalog(path string) *resolver.Catalog {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Printf("Warning: Catalog %s not found, only asset keys will resolve", path)
		return nil
	}
	catalog, err := resolver.LoadCatalog(path)
	if err != nil {
		log.Fatalf("Failed to load catalog: %v", err)
	}
	return catalog
}

func lookupOptions(cfg *config.Config, catalog *resolver.Catalog) []lookup.Option {
	return []lookup.Option{
		lookup.WithChains(cfg.ChainTable()),
		lookup.WithCatalog(catalog),
		lookup.WithPrices(cfg.PriceTable()),
	}
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("Shutdown signal received")
		cancel()
	}()
	return ctx, cancel
}
