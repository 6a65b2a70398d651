// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/luxfi/settlement/bucket"
	"github.com/luxfi/settlement/dataset"
	"github.com/luxfi/settlement/gapfill"
)

var testRoute = dataset.RouteKey{Origin: "10", Destination: "1", Asset: "0xweth"}

func testDataset() *dataset.Dataset {
	d := dataset.New()
	d.Put(dataset.BinKey{Route: testRoute, Bucket: bucket.Under50K},
		dataset.BinStats{P25: 5, P50: 10, P75: 15, SampleSize: 42})
	d.Put(dataset.BinKey{Route: testRoute, Bucket: bucket.Over1M},
		dataset.BinStats{P25: 28, P50: 40, P75: 52, Generated: true, Method: dataset.MethodBaselineScaling})
	d.PutExtra(testRoute, "legacy", dataset.BinStats{P25: 1, P50: 2, P75: 3, SampleSize: 1})
	return d
}

func TestSQLiteStore(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "settlement-store-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)

	store, err := New(Config{Backend: BackendSQLite, DataDir: tmpDir})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	if store.Backend() != BackendSQLite {
		t.Errorf("Expected sqlite backend, got %s", store.Backend())
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "settlement.db")); err != nil {
		t.Errorf("Expected database file: %v", err)
	}

	runStoreTests(t, store)
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		url = "postgres://localhost:5432/settlement_test?sslmode=disable"
	}

	db, err := sql.Open("postgres", url)
	if err == nil {
		err = db.Ping()
		db.Close()
	}
	if err != nil {
		t.Skip("No test database available:", err)
	}

	store, err := New(Config{Backend: BackendPostgres, URL: url})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	runStoreTests(t, store)
}

func runStoreTests(t *testing.T, store Store) {
	ctx := context.Background()

	if err := store.Init(ctx); err != nil {
		t.Fatalf("Failed to init store: %v", err)
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init should be repeatable: %v", err)
	}
	if err := store.Ping(ctx); err != nil {
		t.Fatalf("Failed to ping store: %v", err)
	}

	t.Run("DatasetRoundTrip", func(t *testing.T) {
		in := testDataset()
		if err := store.SaveDataset(ctx, in); err != nil {
			t.Fatalf("Failed to save dataset: %v", err)
		}

		out, err := store.LoadDataset(ctx)
		if err != nil {
			t.Fatalf("Failed to load dataset: %v", err)
		}
		if out.Len() != 1 || out.BinCount() != in.BinCount() {
			t.Fatalf("Expected %d bins on 1 route, got %d on %d", in.BinCount(), out.BinCount(), out.Len())
		}

		r, ok := out.Route(testRoute)
		if !ok {
			t.Fatal("Expected route to be loaded")
		}
		top := r.Bins[bucket.Over1M]
		if !top.Generated || top.Method != dataset.MethodBaselineScaling || top.P50 != 40 {
			t.Errorf("Unexpected generated bin: %+v", top)
		}
		if base := r.Bins[bucket.Under50K]; base.Generated || base.SampleSize != 42 {
			t.Errorf("Unexpected real bin: %+v", base)
		}
		if _, ok := r.Extra["legacy"]; !ok {
			t.Error("Expected non-canonical bin to survive")
		}
	})

	t.Run("SaveReplaces", func(t *testing.T) {
		d := dataset.New()
		other := dataset.RouteKey{Origin: "1", Destination: "10", Asset: "0xusdc"}
		d.Put(dataset.BinKey{Route: other, Bucket: bucket.Under50K}, dataset.BinStats{P25: 1, P50: 2, P75: 3})
		if err := store.SaveDataset(ctx, d); err != nil {
			t.Fatalf("Failed to save dataset: %v", err)
		}

		out, err := store.LoadDataset(ctx)
		if err != nil {
			t.Fatalf("Failed to load dataset: %v", err)
		}
		if out.Len() != 1 {
			t.Errorf("Expected previous contents to be replaced, got %d routes", out.Len())
		}
	})

	t.Run("PutGetBin", func(t *testing.T) {
		k := dataset.BinKey{Route: testRoute, Bucket: bucket.From50KTo100K}

		if _, err := store.GetBin(ctx, k); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Expected ErrNotFound, got %v", err)
		}

		if err := store.PutBin(ctx, k, dataset.BinStats{P25: 1, P50: 2, P75: 3}); err != nil {
			t.Fatalf("Failed to put bin: %v", err)
		}
		updated := dataset.BinStats{P25: 8.4, P50: 12, P75: 15.6, Generated: true, Method: dataset.MethodBaselineScalingGlobal}
		if err := store.PutBin(ctx, k, updated); err != nil {
			t.Fatalf("Failed to upsert bin: %v", err)
		}

		got, err := store.GetBin(ctx, k)
		if err != nil {
			t.Fatalf("Failed to get bin: %v", err)
		}
		if got != updated {
			t.Errorf("Expected %+v, got %+v", updated, got)
		}

		total, generated, err := store.CountBins(ctx)
		if err != nil {
			t.Fatalf("Failed to count bins: %v", err)
		}
		if total != 2 || generated != 1 {
			t.Errorf("Expected 2 bins with 1 generated, got %d/%d", total, generated)
		}
	})

	t.Run("Runs", func(t *testing.T) {
		_, report, err := gapfill.New().Fill(testDataset())
		if err != nil {
			t.Fatalf("Failed to fill: %v", err)
		}
		run := NewRun(report)
		run.StartedAt = run.StartedAt.Truncate(time.Second)

		if err := store.RecordRun(ctx, run); err != nil {
			t.Fatalf("Failed to record run: %v", err)
		}

		got, err := store.GetRun(ctx, run.ID)
		if err != nil {
			t.Fatalf("Failed to get run: %v", err)
		}
		if got.Generated != bucket.Count-2 || got.Methods[string(dataset.MethodBaselineScaling)] != bucket.Count-2 {
			t.Errorf("Unexpected run: %+v", got)
		}
		if !got.StartedAt.Equal(run.StartedAt) {
			t.Errorf("Expected start %v, got %v", run.StartedAt, got.StartedAt)
		}

		older := &Run{ID: "older-" + run.ID, StartedAt: run.StartedAt.Add(-time.Hour), Methods: map[string]int{}}
		if err := store.RecordRun(ctx, older); err != nil {
			t.Fatalf("Failed to record run: %v", err)
		}
		runs, err := store.RecentRuns(ctx, 10)
		if err != nil {
			t.Fatalf("Failed to list runs: %v", err)
		}
		if len(runs) < 2 || runs[0].ID != run.ID {
			t.Errorf("Expected newest run first, got %d runs", len(runs))
		}

		if _, err := store.GetRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Closed", func(t *testing.T) {
		if err := store.Close(); err != nil {
			t.Fatalf("Failed to close: %v", err)
		}
		if err := store.Close(); err != nil {
			t.Errorf("Second close should be a no-op: %v", err)
		}
		if _, err := store.LoadDataset(ctx); !errors.Is(err, ErrClosed) {
			t.Errorf("Expected ErrClosed, got %v", err)
		}
	})
}

func TestParseBackend(t *testing.T) {
	tests := []struct {
		input    string
		expected Backend
		wantErr  bool
	}{
		{"sqlite", BackendSQLite, false},
		{"", BackendSQLite, false},
		{"SQLite3", BackendSQLite, false},
		{"pg", BackendPostgres, false},
		{"postgresql", BackendPostgres, false},
		{"dgraph", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseBackend(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseBackend(%q) error = %v", tt.input, err)
			}
			if got != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestRebind(t *testing.T) {
	s := &sqlStore{dialect: postgresDialect}
	got := s.rebind("SELECT * FROM t WHERE a = ? AND b = ?")
	if got != "SELECT * FROM t WHERE a = $1 AND b = $2" {
		t.Errorf("Unexpected rebind: %s", got)
	}
	s = &sqlStore{dialect: sqliteDialect}
	if got := s.rebind("a = ?"); got != "a = ?" {
		t.Errorf("SQLite should keep ? placeholders, got %s", got)
	}
}
