// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package storage provides a pluggable store for settlement datasets.
// Supported backends: SQLite (default), PostgreSQL
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/luxfi/settlement/dataset"
	"github.com/luxfi/settlement/gapfill"
)

// Backend identifies the storage backend type
type Backend string

const (
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

// Config for storage backend
type Config struct {
	Backend Backend
	URL     string // Connection URL (postgres://) or SQLite file path
	DataDir string // For SQLite when URL is empty
}

// Store persists populated datasets and gap-fill run records
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Ping(ctx context.Context) error
	Backend() Backend

	// Bins
	SaveDataset(ctx context.Context, d *dataset.Dataset) error
	LoadDataset(ctx context.Context) (*dataset.Dataset, error)
	PutBin(ctx context.Context, k dataset.BinKey, s dataset.BinStats) error
	GetBin(ctx context.Context, k dataset.BinKey) (dataset.BinStats, error)
	CountBins(ctx context.Context) (total, generated int, err error)

	// Runs
	RecordRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	RecentRuns(ctx context.Context, limit int) ([]*Run, error)
}

// Run is the stored summary of one gap-fill run
type Run struct {
	ID             string         `json:"id"`
	StartedAt      time.Time      `json:"started_at"`
	Duration       time.Duration  `json:"duration"`
	Routes         int            `json:"routes"`
	RoutesWithGaps int            `json:"routes_with_gaps"`
	Generated      int            `json:"generated"`
	Methods        map[string]int `json:"methods"`
}

// NewRun converts a gap-fill report into a storable run record
func NewRun(r *gapfill.Report) *Run {
	methods := make(map[string]int, len(r.Generated))
	for m, n := range r.Generated {
		methods[string(m)] = n
	}
	return &Run{
		ID:             r.RunID,
		StartedAt:      r.StartedAt,
		Duration:       r.Duration,
		Routes:         r.Routes,
		RoutesWithGaps: r.RoutesWithGaps,
		Generated:      r.TotalGenerated(),
		Methods:        methods,
	}
}

// Schema defines the database schema
type Schema struct {
	Name    string
	Tables  []Table
	Indexes []Index
}

// Table defines a database table
type Table struct {
	Name    string
	Columns []Column
}

// Column defines a table column
type Column struct {
	Name     string
	Type     ColumnType
	Nullable bool
	Default  string
	Primary  bool
}

// ColumnType represents a column data type
type ColumnType string

const (
	TypeText      ColumnType = "text"
	TypeInt       ColumnType = "int"
	TypeBigInt    ColumnType = "bigint"
	TypeFloat     ColumnType = "float"
	TypeBool      ColumnType = "bool"
	TypeTimestamp ColumnType = "timestamp"
	TypeJSON      ColumnType = "json"
)

// Index defines a database index
type Index struct {
	Name    string
	Table   string
	Columns []string
	Unique  bool
}

const (
	binsTable = "settlement_bins"
	runsTable = "fill_runs"
)

// SettlementSchema is the schema every backend creates on Init
var SettlementSchema = Schema{
	Name: "settlement",
	Tables: []Table{
		{
			Name: binsTable,
			Columns: []Column{
				{Name: "origin", Type: TypeText, Primary: true},
				{Name: "destination", Type: TypeText, Primary: true},
				{Name: "asset", Type: TypeText, Primary: true},
				{Name: "bucket", Type: TypeText, Primary: true},
				{Name: "p25", Type: TypeFloat},
				{Name: "p50", Type: TypeFloat},
				{Name: "p75", Type: TypeFloat},
				{Name: "sample_size", Type: TypeInt, Default: "0"},
				{Name: "generated", Type: TypeBool, Default: "FALSE"},
				{Name: "method", Type: TypeText, Default: "''"},
				{Name: "updated_at", Type: TypeTimestamp},
			},
		},
		{
			Name: runsTable,
			Columns: []Column{
				{Name: "id", Type: TypeText, Primary: true},
				{Name: "started_at", Type: TypeTimestamp},
				{Name: "duration_ms", Type: TypeBigInt},
				{Name: "routes", Type: TypeInt},
				{Name: "routes_with_gaps", Type: TypeInt},
				{Name: "generated", Type: TypeInt},
				{Name: "methods", Type: TypeJSON, Nullable: true},
			},
		},
	},
	Indexes: []Index{
		{Name: "idx_bins_generated", Table: binsTable, Columns: []string{"generated"}},
		{Name: "idx_runs_started", Table: runsTable, Columns: []string{"started_at"}},
	},
}

// Errors
var (
	ErrNotFound = fmt.Errorf("not found")
	ErrClosed   = fmt.Errorf("store is closed")
)

// New creates a new storage backend based on config
func New(cfg Config) (Store, error) {
	switch cfg.Backend {
	case BackendSQLite, "":
		return NewSQLite(cfg)
	case BackendPostgres:
		return NewPostgres(cfg)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

// ParseBackend parses a backend string
func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(s) {
	case "sqlite", "sqlite3", "":
		return BackendSQLite, nil
	case "postgres", "postgresql", "pg":
		return BackendPostgres, nil
	default:
		return "", fmt.Errorf("unknown backend: %s", s)
	}
}
