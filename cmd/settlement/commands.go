// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	"github.com/luxfi/settlement/api"
	"github.com/luxfi/settlement/config"
	"github.com/luxfi/settlement/dataset"
	"github.com/luxfi/settlement/gapfill"
	"github.com/luxfi/settlement/lookup"
	"github.com/luxfi/settlement/resolver"
	"github.com/luxfi/settlement/storage"
	"github.com/luxfi/settlement/storage/kv"
	"github.com/luxfi/settlement/testcases"
)

func runMissing(args []string) {
	fs, configFile := newFlagSet("missing")
	input := fs.String("input", "", "Raw dataset JSON (default from config)")
	fs.Parse(args)

	cfg := loadConfig(*configFile)
	if *input == "" {
		*input = cfg.Data.Input
	}

	d, err := dataset.Load(*input)
	if err != nil {
		log.Fatalf("Failed to load dataset: %v", err)
	}

	gaps := gapfill.FindMissing(d)
	missing := 0
	for _, g := range gaps {
		labels := make([]string, len(g.Missing))
		for i, b := range g.Missing {
			labels[i] = b.String()
		}
		missing += len(g.Missing)
		fmt.Printf("%s -> %s %s: %s\n", g.Route.Origin, g.Route.Destination, g.Route.Asset, strings.Join(labels, ", "))
	}
	fmt.Printf("\n%d of %d routes incomplete, %d bins missing\n", len(gaps), d.Len(), missing)
}

func runFill(args []string) {
	fs, configFile := newFlagSet("fill")
	input := fs.String("input", "", "Raw dataset JSON (default from config)")
	output := fs.String("output", "", "Populated dataset JSON (default from config)")
	persist := fs.Bool("store", false, "Also save the populated dataset to the configured SQL store")
	kvPath := fs.String("kv", "", "Also write a KV snapshot to this directory (default from config)")
	fs.Parse(args)

	cfg := loadConfig(*configFile)
	if *input == "" {
		*input = cfg.Data.Input
	}
	if *output == "" {
		*output = cfg.Data.Output
	}
	if *kvPath == "" {
		*kvPath = cfg.Storage.KVPath
	}

	raw, err := dataset.Load(*input)
	if err != nil {
		log.Fatalf("Failed to load dataset: %v", err)
	}
	log.Printf("Loaded %d routes with %d bins from %s", raw.Len(), raw.BinCount(), *input)

	filled, report, err := gapfill.New(gapfill.WithLogger(log.Default())).Fill(raw)
	if err != nil {
		log.Fatalf("Failed to fill dataset: %v", err)
	}

	if err := dataset.Save(*output, filled); err != nil {
		log.Fatalf("Failed to save dataset: %v", err)
	}
	log.Printf("Wrote %d bins to %s", filled.BinCount(), *output)

	if *persist {
		ctx, cancel := signalContext()
		defer cancel()

		store := openStore(ctx, cfg)
		defer store.Close()

		if err := store.SaveDataset(ctx, filled); err != nil {
			log.Fatalf("Failed to save dataset to %s: %v", store.Backend(), err)
		}
		if err := store.RecordRun(ctx, storage.NewRun(report)); err != nil {
			log.Fatalf("Failed to record run: %v", err)
		}
		log.Printf("Saved dataset to %s store", store.Backend())
	}

	if *kvPath != "" {
		snap, err := kv.New(kv.Config{Path: *kvPath})
		if err != nil {
			log.Fatalf("Failed to open KV store: %v", err)
		}
		if err := snap.WriteDataset(filled, report.RunID); err != nil {
			snap.Close()
			log.Fatalf("Failed to write KV snapshot: %v", err)
		}
		snap.Close()
		log.Printf("Wrote KV snapshot to %s", *kvPath)
	}

	printReport(report)
}

func printReport(r *gapfill.Report) {
	fmt.Printf("Run %s (%v)\n", r.RunID, r.Duration)
	fmt.Printf("  Routes:            %d\n", r.Routes)
	fmt.Printf("  Routes with gaps:  %d\n", r.RoutesWithGaps)
	fmt.Printf("  Bins generated:    %d\n", r.TotalGenerated())
	for _, m := range dataset.Methods() {
		if n := r.Generated[m]; n > 0 {
			fmt.Printf("    %-27s %d\n", m, n)
		}
	}
	fmt.Println("  Global samples per bucket:")
	for _, s := range r.Global {
		fmt.Printf("    %-16s %d\n", s.Bucket, s.Count)
	}
}

func openStore(ctx context.Context, cfg *config.Config) storage.Store {
	opts, err := cfg.StorageOptions()
	if err != nil {
		log.Fatalf("Invalid storage config: %v", err)
	}
	if opts.DataDir != "" {
		if err := os.MkdirAll(opts.DataDir, 0755); err != nil {
			log.Fatalf("Failed to create data directory: %v", err)
		}
	}
	store, err := storage.New(opts)
	if err != nil {
		log.Fatalf("Failed to open %s store: %v", opts.Backend, err)
	}
	if err := store.Init(ctx); err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	return store
}

func runLookup(args []string) {
	fs, configFile := newFlagSet("lookup")
	input := fs.String("input", "", "Populated dataset JSON (default from config)")
	origin := fs.String("origin", "", "Origin chain name or id")
	destination := fs.String("destination", "", "Destination chain name or id")
	asset := fs.String("asset", "", "Asset symbol or ticker hash")
	amount := fs.String("amount", "", "Bucket label, USD amount, or token amount such as \"10 WETH\"")
	asJSON := fs.Bool("json", false, "Print the result as JSON")
	fs.Parse(args)

	if *origin == "" || *destination == "" {
		fs.Usage()
		log.Fatal("Missing required flags: -origin, -destination")
	}

	cfg := loadConfig(*configFile)
	if *input == "" {
		*input = cfg.Data.Output
	}
	d, err := dataset.Load(*input)
	if err != nil {
		log.Fatalf("Failed to load dataset: %v", err)
	}
	svc := lookup.New(d, lookupOptions(cfg, loadCatalog(cfg.Data.Catalog))...)

	res, err := svc.Lookup(lookup.Query{Origin: *origin, Destination: *destination, Asset: *asset, Amount: *amount})
	if err != nil {
		var rnf *lookup.RouteNotFoundError
		if errors.As(err, &rnf) {
			log.Fatalf("No data for %s %s", rnf.Level, rnf.Route)
		}
		log.Fatalf("Lookup failed: %v", err)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			log.Fatalf("Failed to encode result: %v", err)
		}
		return
	}

	for _, w := range res.Warnings {
		log.Printf("Warning: %s", w)
	}
	fmt.Printf("Route:   %s -> %s %s\n", res.Origin, res.Destination, res.Asset)
	if res.Token != nil {
		fmt.Printf("Amount:  %s ($%.2f)\n", res.Token, *res.USDValue)
	} else if res.USDValue != nil {
		fmt.Printf("Amount:  $%.2f\n", *res.USDValue)
	}
	fmt.Printf("Bucket:  %s\n", res.Bucket)
	fmt.Printf("P25:     %v min\n", res.P25)
	fmt.Printf("P50:     %v min\n", res.P50)
	fmt.Printf("P75:     %v min\n", res.P75)
	if res.Generated {
		fmt.Printf("Source:  generated (%s)\n", res.Method)
	} else {
		fmt.Printf("Source:  observed (%d samples)\n", res.SampleSize)
	}
}

func runTest(args []string) {
	fs, configFile := newFlagSet("test")
	input := fs.String("input", "", "Populated dataset JSON (default from config)")
	casesFile := fs.String("cases", "", "Test cases CSV (default from config)")
	maxTests := fs.Int("max", 0, "Maximum number of cases to run")
	quiet := fs.Bool("q", false, "Only print the summary")
	fs.Parse(args)

	cfg := loadConfig(*configFile)
	if *input == "" {
		*input = cfg.Data.Output
	}
	if *casesFile == "" {
		*casesFile = cfg.Data.Cases
	}

	cases, err := testcases.LoadCases(*casesFile)
	if err != nil {
		log.Fatalf("Failed to load test cases: %v", err)
	}
	d, err := dataset.Load(*input)
	if err != nil {
		log.Fatalf("Failed to load dataset: %v", err)
	}
	svc := lookup.New(d, lookupOptions(cfg, loadCatalog(cfg.Data.Catalog))...)

	opts := []testcases.Option{testcases.WithMax(*maxTests)}
	if !*quiet {
		opts = append(opts, testcases.WithLogger(log.New(os.Stdout, "", 0)))
	}
	summary := testcases.NewRunner(svc, opts...).Run(cases)

	fmt.Printf("\nTotal: %d  Passed: %d  Failed: %d  Success rate: %.1f%%  (%v)\n",
		summary.Total(), summary.Passed, summary.Failed, summary.SuccessRate(), summary.Duration)
	if summary.Failed > 0 {
		os.Exit(1)
	}
}

func runServe(args []string) {
	fs, configFile := newFlagSet("serve")
	input := fs.String("input", "", "Populated dataset JSON (default from config)")
	httpPort := fs.Int("port", 0, "HTTP server port (default from config)")
	fromStore := fs.Bool("from-store", false, "Load the dataset from the configured SQL store instead of JSON")
	fromKV := fs.String("from-kv", "", "Load the dataset from the KV snapshot in this directory instead of JSON")
	fs.Parse(args)

	if *fromStore && *fromKV != "" {
		log.Fatal("Use only one of -from-store and -from-kv")
	}

	cfg := loadConfig(*configFile)
	if *input == "" {
		*input = cfg.Data.Output
	}
	if *httpPort == 0 {
		*httpPort = cfg.Server.Port
	}

	ctx, cancel := signalContext()
	defer cancel()

	var store storage.Store
	var snap *kv.Store
	var d *dataset.Dataset
	var err error
	switch {
	case *fromStore:
		store = openStore(ctx, cfg)
		defer store.Close()
		d, err = store.LoadDataset(ctx)
	case *fromKV != "":
		snap, err = kv.New(kv.Config{Path: *fromKV})
		if err != nil {
			log.Fatalf("Failed to open KV store: %v", err)
		}
		defer snap.Close()
		d, err = snap.ReadDataset()
		if runID, rerr := snap.RunID(); rerr == nil {
			log.Printf("Loaded KV snapshot of run %s", runID)
		}
	default:
		d, err = dataset.Load(*input)
	}
	if err != nil {
		log.Fatalf("Failed to load dataset: %v", err)
	}
	if gaps := gapfill.FindMissing(d); len(gaps) > 0 {
		log.Printf("Warning: %d routes have missing buckets; run 'settlement fill' first", len(gaps))
	}

	svc := lookup.New(d, lookupOptions(cfg, loadCatalog(cfg.Data.Catalog))...)
	server := api.NewServer(api.Config{HTTPPort: *httpPort, Version: version}, svc, store)
	if snap != nil {
		server.WithSnapshot(snap)
	}

	log.Printf("Serving %d routes with %d bins", d.Len(), d.BinCount())
	if err := server.Run(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server stopped")
}

func runImportCSV(args []string) {
	fs, configFile := newFlagSet("import-csv")
	in := fs.String("in", "", "CSV of observed percentiles")
	output := fs.String("output", "", "Raw dataset JSON (default from config input)")
	symbolKeys := fs.Bool("symbol-keys", false, "Key symbols missing from the catalog as 0x<symbol> instead of their ticker hash")
	fs.Parse(args)

	if *in == "" {
		fs.Usage()
		log.Fatal("Missing required flag: -in")
	}

	cfg := loadConfig(*configFile)
	if *output == "" {
		*output = cfg.Data.Input
	}

	f, err := os.Open(*in)
	if err != nil {
		log.Fatalf("Failed to open CSV: %v", err)
	}
	defer f.Close()

	var fallback func(string) string
	if *symbolKeys {
		fallback = resolver.SymbolKey
	}
	naming := resolver.ImportNaming(cfg.ChainTable(), loadCatalog(cfg.Data.Catalog), fallback)
	d, err := dataset.ReadCSV(f, naming)
	if err != nil {
		log.Fatalf("Failed to read CSV: %v", err)
	}
	if err := dataset.Save(*output, d); err != nil {
		log.Fatalf("Failed to save dataset: %v", err)
	}
	log.Printf("Imported %d routes with %d bins to %s", d.Len(), d.BinCount(), *output)
}

func runExportCSV(args []string) {
	fs, configFile := newFlagSet("export-csv")
	input := fs.String("input", "", "Populated dataset JSON (default from config)")
	out := fs.String("out", "", "CSV output file (default stdout)")
	fs.Parse(args)

	cfg := loadConfig(*configFile)
	if *input == "" {
		*input = cfg.Data.Output
	}

	d, err := dataset.Load(*input)
	if err != nil {
		log.Fatalf("Failed to load dataset: %v", err)
	}

	w := os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			log.Fatalf("Failed to create CSV: %v", err)
		}
		defer f.Close()
		w = f
	}

	naming := resolver.ExportNaming(cfg.ChainTable(), loadCatalog(cfg.Data.Catalog))
	if err := dataset.WriteCSV(w, d, naming); err != nil {
		log.Fatalf("Failed to write CSV: %v", err)
	}
	if *out != "" {
		log.Printf("Exported %d routes to %s", d.Len(), *out)
		printMethodCounts(d)
	}
}

func printMethodCounts(d *dataset.Dataset) {
	counts := make(map[string]int)
	for _, r := range d.Routes() {
		for _, st := range r.Bins {
			if st.Generated {
				counts[string(st.Method)]++
			} else {
				counts["observed"]++
			}
		}
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-27s %d\n", k, counts[k])
	}
}
