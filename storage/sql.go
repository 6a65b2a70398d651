// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/luxfi/settlement/bucket"
	"github.com/luxfi/settlement/dataset"
)

// dialect captures what differs between SQL backends
type dialect struct {
	backend     Backend
	placeholder func(n int) string
	sqlType     func(t ColumnType) string
}

// sqlStore implements Store on database/sql. Queries are written with ?
// placeholders and rebound for the dialect.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
	mu      sync.RWMutex
	closed  bool
}

func (s *sqlStore) Backend() Backend {
	return s.dialect.backend
}

func (s *sqlStore) Init(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.initSchema(ctx, SettlementSchema)
}

func (s *sqlStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *sqlStore) Ping(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

func (s *sqlStore) check() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *sqlStore) rebind(query string) string {
	if s.dialect.placeholder == nil {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(s.dialect.placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) initSchema(ctx context.Context, schema Schema) error {
	for _, table := range schema.Tables {
		if err := s.createTable(ctx, table); err != nil {
			return fmt.Errorf("create table %s: %w", table.Name, err)
		}
	}
	for _, idx := range schema.Indexes {
		if err := s.createIndex(ctx, idx); err != nil {
			return fmt.Errorf("create index %s: %w", idx.Name, err)
		}
	}
	return nil
}

func (s *sqlStore) createTable(ctx context.Context, table Table) error {
	var cols []string
	var primaryCols []string

	for _, col := range table.Columns {
		def := fmt.Sprintf("%s %s", col.Name, s.dialect.sqlType(col.Type))
		if !col.Nullable {
			def += " NOT NULL"
		}
		if col.Default != "" {
			def += " DEFAULT " + col.Default
		}
		if col.Primary {
			primaryCols = append(primaryCols, col.Name)
		}
		cols = append(cols, def)
	}

	if len(primaryCols) > 0 {
		cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(primaryCols, ", ")))
	}

	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", table.Name, strings.Join(cols, ",\n  "))
	_, err := s.db.ExecContext(ctx, query)
	return err
}

func (s *sqlStore) createIndex(ctx context.Context, idx Index) error {
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	query := fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)",
		unique, idx.Name, idx.Table, strings.Join(idx.Columns, ", "))
	_, err := s.db.ExecContext(ctx, query)
	return err
}

const upsertBin = `
	INSERT INTO ` + binsTable + ` (origin, destination, asset, bucket, p25, p50, p75, sample_size, generated, method, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (origin, destination, asset, bucket) DO UPDATE SET
		p25 = EXCLUDED.p25, p50 = EXCLUDED.p50, p75 = EXCLUDED.p75,
		sample_size = EXCLUDED.sample_size, generated = EXCLUDED.generated,
		method = EXCLUDED.method, updated_at = EXCLUDED.updated_at
`

// execer is satisfied by *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *sqlStore) putBin(ctx context.Context, ex execer, k dataset.RouteKey, label string, st dataset.BinStats, now time.Time) error {
	_, err := ex.ExecContext(ctx, s.rebind(upsertBin),
		k.Origin, k.Destination, k.Asset, label,
		st.P25, st.P50, st.P75, st.SampleSize, st.Generated, string(st.Method), now,
	)
	return err
}

// SaveDataset replaces every stored bin with the contents of d in one
// transaction.
func (s *sqlStore) SaveDataset(ctx context.Context, d *dataset.Dataset) error {
	if err := s.check(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+binsTable); err != nil {
		return fmt.Errorf("failed to clear bins: %w", err)
	}

	now := time.Now().UTC()
	for _, r := range d.Routes() {
		for _, b := range r.Buckets() {
			if err := s.putBin(ctx, tx, r.Key, b.String(), r.Bins[b], now); err != nil {
				return fmt.Errorf("failed to store %s [%s]: %w", r.Key, b, err)
			}
		}
		for label, st := range r.Extra {
			if err := s.putBin(ctx, tx, r.Key, label, st, now); err != nil {
				return fmt.Errorf("failed to store %s [%s]: %w", r.Key, label, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// LoadDataset reads every stored bin back into a dataset.
func (s *sqlStore) LoadDataset(ctx context.Context) (*dataset.Dataset, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT origin, destination, asset, bucket, p25, p50, p75, sample_size, generated, method
		FROM `+binsTable+` ORDER BY origin, destination, asset, bucket`)
	if err != nil {
		return nil, fmt.Errorf("failed to query bins: %w", err)
	}
	defer rows.Close()

	d := dataset.New()
	for rows.Next() {
		var k dataset.RouteKey
		var label string
		st, err := scanBin(rows, &k, &label)
		if err != nil {
			return nil, err
		}
		if b, err := bucket.Parse(label); err == nil {
			d.Put(dataset.BinKey{Route: k, Bucket: b}, st)
		} else {
			d.PutExtra(k, label, st)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *sqlStore) PutBin(ctx context.Context, k dataset.BinKey, st dataset.BinStats) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.putBin(ctx, s.db, k.Route, k.Bucket.String(), st, time.Now().UTC())
}

func (s *sqlStore) GetBin(ctx context.Context, k dataset.BinKey) (dataset.BinStats, error) {
	if err := s.check(); err != nil {
		return dataset.BinStats{}, err
	}
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT origin, destination, asset, bucket, p25, p50, p75, sample_size, generated, method
		FROM `+binsTable+` WHERE origin = ? AND destination = ? AND asset = ? AND bucket = ?`),
		k.Route.Origin, k.Route.Destination, k.Route.Asset, k.Bucket.String())

	var rk dataset.RouteKey
	var label string
	st, err := scanBin(row, &rk, &label)
	if errors.Is(err, sql.ErrNoRows) {
		return dataset.BinStats{}, ErrNotFound
	}
	return st, err
}

func (s *sqlStore) CountBins(ctx context.Context) (total, generated int, err error) {
	if err := s.check(); err != nil {
		return 0, 0, err
	}
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT COUNT(*), COUNT(CASE WHEN generated = ? THEN 1 END) FROM `+binsTable), true)
	err = row.Scan(&total, &generated)
	return total, generated, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanBin(row scanner, k *dataset.RouteKey, label *string) (dataset.BinStats, error) {
	var st dataset.BinStats
	var method string
	err := row.Scan(&k.Origin, &k.Destination, &k.Asset, label,
		&st.P25, &st.P50, &st.P75, &st.SampleSize, &st.Generated, &method)
	if err != nil {
		return dataset.BinStats{}, err
	}
	st.Method = dataset.Method(method)
	return st, nil
}

func (s *sqlStore) RecordRun(ctx context.Context, run *Run) error {
	if err := s.check(); err != nil {
		return err
	}
	methods, err := json.Marshal(run.Methods)
	if err != nil {
		return fmt.Errorf("failed to encode methods: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO `+runsTable+` (id, started_at, duration_ms, routes, routes_with_gaps, generated, methods)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		run.ID, run.StartedAt.UTC(), run.Duration.Milliseconds(),
		run.Routes, run.RoutesWithGaps, run.Generated, string(methods),
	)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", run.ID, err)
	}
	return nil
}

const selectRun = `SELECT id, started_at, duration_ms, routes, routes_with_gaps, generated, methods FROM ` + runsTable

func (s *sqlStore) GetRun(ctx context.Context, id string) (*Run, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, s.rebind(selectRun+` WHERE id = ?`), id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

func (s *sqlStore) RecentRuns(ctx context.Context, limit int) ([]*Run, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, selectRun+` ORDER BY started_at DESC LIMIT `+strconv.Itoa(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(row scanner) (*Run, error) {
	var run Run
	var durationMS int64
	var methods sql.NullString
	err := row.Scan(&run.ID, &run.StartedAt, &durationMS,
		&run.Routes, &run.RoutesWithGaps, &run.Generated, &methods)
	if err != nil {
		return nil, err
	}
	run.Duration = time.Duration(durationMS) * time.Millisecond
	if methods.Valid && methods.String != "" {
		if err := json.Unmarshal([]byte(methods.String), &run.Methods); err != nil {
			return nil, fmt.Errorf("failed to decode methods: %w", err)
		}
	}
	return &run, nil
}
