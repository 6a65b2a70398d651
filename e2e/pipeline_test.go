// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/luxfi/settlement/api"
	"github.com/luxfi/settlement/bucket"
	"github.com/luxfi/settlement/dataset"
	"github.com/luxfi/settlement/gapfill"
	"github.com/luxfi/settlement/lookup"
	"github.com/luxfi/settlement/resolver"
	"github.com/luxfi/settlement/storage"
	"github.com/luxfi/settlement/storage/kv"
	"github.com/luxfi/settlement/testcases"
)

var (
	routeWETH = dataset.RouteKey{Origin: "10", Destination: "1", Asset: wethKey}
	routeUSDC = dataset.RouteKey{Origin: "1", Destination: "10", Asset: usdcKey}
	routeBase = dataset.RouteKey{Origin: "8453", Destination: "1", Asset: wethKey}
)

var _ = Describe("Settlement Pipeline", Ordered, func() {
	var (
		ctx     context.Context
		raw     *dataset.Dataset
		filled  *dataset.Dataset
		report  *gapfill.Report
		catalog *resolver.Catalog
	)

	BeforeAll(func() {
		ctx = context.Background()

		var err error
		raw, err = dataset.Load(fixturePath("settlement_times.json"))
		Expect(err).NotTo(HaveOccurred())
		catalog, err = resolver.LoadCatalog(fixturePath("chain_data.json"))
		Expect(err).NotTo(HaveOccurred())
	})

	Context("Gap Filling", func() {
		It("should load the raw dataset", func() {
			Expect(raw.Len()).To(Equal(3))
			Expect(raw.BinCount()).To(Equal(3))
			Expect(gapfill.FindMissing(raw)).To(HaveLen(3))
		})

		It("should complete every route", func() {
			var err error
			filled, report, err = gapfill.New().Fill(raw)
			Expect(err).NotTo(HaveOccurred())

			Expect(filled.BinCount()).To(Equal(3 * bucket.Count))
			Expect(gapfill.FindMissing(filled)).To(BeEmpty())
			Expect(report.RoutesWithGaps).To(Equal(3))
			Expect(report.TotalGenerated()).To(Equal(3*bucket.Count - 3))
			Expect(report.Generated).To(HaveKeyWithValue(dataset.MethodBaselineScaling, 6))
			Expect(report.Generated).To(HaveKeyWithValue(dataset.MethodBaselineScalingGlobal, 15))
		})

		It("should leave the raw dataset untouched", func() {
			Expect(raw.BinCount()).To(Equal(3))
		})

		It("should scale from the route baseline", func() {
			st, ok := filled.Bin(dataset.BinKey{Route: routeWETH, Bucket: bucket.From500KTo700K})
			Expect(ok).To(BeTrue())
			Expect(st).To(Equal(dataset.BinStats{
				P25: 17.5, P50: 25, P75: 32.5, Generated: true, Method: dataset.MethodBaselineScaling,
			}))

			observed, _ := filled.Bin(dataset.BinKey{Route: routeWETH, Bucket: bucket.From300KTo400K})
			Expect(observed.Generated).To(BeFalse())
			Expect(observed.SampleSize).To(Equal(7))
		})

		It("should scale from the global baseline", func() {
			st, _ := filled.Bin(dataset.BinKey{Route: routeUSDC, Bucket: bucket.Under50K})
			Expect(st.Method).To(Equal(dataset.MethodBaselineScalingGlobal))
			Expect([]float64{st.P25, st.P50, st.P75}).To(Equal([]float64{7, 10, 13}))

			top, _ := filled.Bin(dataset.BinKey{Route: routeBase, Bucket: bucket.Over1M})
			Expect([]float64{top.P25, top.P50, top.P75}).To(Equal([]float64{28, 40, 52}))
		})

		It("should preserve non-canonical bins", func() {
			r, ok := filled.Route(routeBase)
			Expect(ok).To(BeTrue())
			Expect(r.Extra).To(HaveKey("legacy"))
		})

		It("should be idempotent", func() {
			again, rep, err := gapfill.New().Fill(filled)
			Expect(err).NotTo(HaveOccurred())
			Expect(rep.TotalGenerated()).To(BeZero())
			Expect(again.BinCount()).To(Equal(filled.BinCount()))
		})

		It("should round-trip the populated dataset through JSON", func() {
			path := fixturePath("settlement_times_populated.json")
			Expect(dataset.Save(path, filled)).To(Succeed())

			loaded, err := dataset.Load(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.BinCount()).To(Equal(filled.BinCount()))

			st, _ := loaded.Bin(dataset.BinKey{Route: routeWETH, Bucket: bucket.From500KTo700K})
			Expect(st.Method).To(Equal(dataset.MethodBaselineScaling))
		})
	})

	Context("SQLite Store", func() {
		var store storage.Store

		BeforeAll(func() {
			var err error
			store, err = storage.New(storage.Config{Backend: storage.BackendSQLite, DataDir: filepath.Join(dataDir, "sqlite")})
			Expect(err).NotTo(HaveOccurred())
			Expect(store.Init(ctx)).To(Succeed())
		})

		AfterAll(func() {
			if store != nil {
				store.Close()
			}
		})

		It("should persist the populated dataset", func() {
			Expect(store.SaveDataset(ctx, filled)).To(Succeed())

			total, generated, err := store.CountBins(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(total).To(Equal(3*bucket.Count + 1))
			Expect(generated).To(Equal(report.TotalGenerated()))

			loaded, err := store.LoadDataset(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.BinCount()).To(Equal(filled.BinCount()))
		})

		It("should record the fill run", func() {
			Expect(store.RecordRun(ctx, storage.NewRun(report))).To(Succeed())

			run, err := store.GetRun(ctx, report.RunID)
			Expect(err).NotTo(HaveOccurred())
			Expect(run.Generated).To(Equal(report.TotalGenerated()))
			Expect(run.Methods).To(HaveKeyWithValue(string(dataset.MethodBaselineScalingGlobal), 15))
		})
	})

	Context("KV Snapshot", func() {
		It("should persist the populated dataset in badgerdb", func() {
			path := filepath.Join(dataDir, "kv")
			store, err := kv.New(kv.Config{Path: path})
			Expect(err).NotTo(HaveOccurred())
			Expect(store.WriteDataset(filled, report.RunID)).To(Succeed())
			Expect(store.Close()).To(Succeed())

			reopened, err := kv.New(kv.Config{Path: path})
			Expect(err).NotTo(HaveOccurred())
			defer reopened.Close()

			runID, err := reopened.RunID()
			Expect(err).NotTo(HaveOccurred())
			Expect(runID).To(Equal(report.RunID))

			snapshot, err := reopened.ReadDataset()
			Expect(err).NotTo(HaveOccurred())
			Expect(snapshot.BinCount()).To(Equal(filled.BinCount()))
			Expect(gapfill.FindMissing(snapshot)).To(BeEmpty())

			server := api.NewServer(api.Config{Version: "e2e"}, lookup.New(snapshot), nil).WithSnapshot(reopened)
			ts := httptest.NewServer(server.Handler())
			defer ts.Close()

			resp, err := http.Get(ts.URL + "/health")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			var health map[string]interface{}
			Expect(json.NewDecoder(resp.Body).Decode(&health)).To(Succeed())
			Expect(health).To(HaveKeyWithValue("status", "ok"))
			Expect(health).To(HaveKeyWithValue("snapshot_run", report.RunID))
		})
	})

	Context("Lookup", func() {
		var svc *lookup.Service

		BeforeAll(func() {
			svc = lookup.New(filled, lookup.WithCatalog(catalog))
		})

		It("should answer human queries", func() {
			res, err := svc.Lookup(lookup.Query{Origin: "Optimism", Destination: "Ethereum", Asset: "weth", Amount: "600,000"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Bucket).To(Equal(bucket.From500KTo700K))
			Expect(res.P50).To(Equal(25.0))
			Expect(res.Generated).To(BeTrue())
		})

		It("should price token amounts", func() {
			res, err := svc.Lookup(lookup.Query{Origin: "optimism", Destination: "ethereum", Amount: "10 WETH"})
			Expect(err).NotTo(HaveOccurred())
			Expect(*res.USDValue).To(Equal(42500.0))
			Expect(res.Bucket).To(Equal(bucket.Under50K))
			Expect(res.SampleSize).To(Equal(42))
		})

		It("should pass the case file", func() {
			cases, err := testcases.LoadCases(fixturePath("test_cases.csv"))
			Expect(err).NotTo(HaveOccurred())

			summary := testcases.NewRunner(svc).Run(cases)
			Expect(summary.Failed).To(BeZero())
			Expect(summary.Passed).To(Equal(4))
		})

		It("should serve lookups over HTTP", func() {
			server := api.NewServer(api.Config{Version: "e2e"}, svc, nil)
			ts := httptest.NewServer(server.Handler())
			defer ts.Close()

			q := url.Values{"origin": {"ethereum"}, "destination": {"optimism"}, "asset": {"USDC"}, "amount": {"150000"}}
			resp, err := http.Get(ts.URL + "/api/v1/settlement?" + q.Encode())
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var res lookup.Result
			Expect(json.NewDecoder(resp.Body).Decode(&res)).To(Succeed())
			Expect(res.Generated).To(BeFalse())
			Expect(res.P50).To(Equal(18.0))
		})
	})

	Context("CSV Export", func() {
		It("should export the populated dataset with display names", func() {
			chains := resolver.DefaultChains()

			var buf bytes.Buffer
			Expect(dataset.WriteCSV(&buf, filled, resolver.ExportNaming(chains, catalog))).To(Succeed())

			out := buf.String()
			Expect(strings.Count(out, "\n")).To(Equal(1 + filled.BinCount() + 1))
			Expect(out).To(ContainSubstring("10,Optimism,1,Ethereum," + wethKey + ",WETH,500000-700000,17.5,25,32.5,0,true,baseline_scaling"))
			Expect(out).To(ContainSubstring("8453,Base 8453,"))
		})
	})
})
