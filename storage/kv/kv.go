// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package kv keeps a snapshot of a populated settlement dataset in a
// github.com/luxfi/database key-value store, so lookups can be served from
// the same database engine the Lux node uses.
package kv

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/luxfi/database"
	"github.com/luxfi/database/badgerdb"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/database/prefixdb"

	"github.com/luxfi/settlement/bucket"
	"github.com/luxfi/settlement/dataset"
)

// Prefixes for different data types in the KV store
var (
	PrefixBins = []byte("bin:")
	PrefixMeta = []byte("meta:")
)

// Meta keys
var (
	MetaRunID = []byte("run_id")
)

// ErrNotFound is returned when a meta key is absent
var ErrNotFound = errors.New("not found")

// Config for the KV store
type Config struct {
	// Path to the database directory
	Path string

	// DB is an existing database to share. When set, Path is ignored and the
	// store does not close it.
	DB database.Database

	// Prefix isolates settlement data inside a shared database
	Prefix []byte
}

// Store wraps a luxfi/database.Database with settlement-specific functionality
type Store struct {
	db    database.Database
	owned bool

	bins database.Database
	meta database.Database

	mu     sync.RWMutex
	closed bool
}

// New creates a new KV store
func New(cfg Config) (*Store, error) {
	var db database.Database
	var owned bool

	if cfg.DB != nil {
		prefix := cfg.Prefix
		if len(prefix) == 0 {
			prefix = []byte("settlement:")
		}
		db = prefixdb.New(prefix, cfg.DB)
	} else {
		var err error
		db, err = badgerdb.New(cfg.Path, nil, "", nil)
		if err != nil {
			return nil, fmt.Errorf("failed to open badgerdb: %w", err)
		}
		owned = true
	}
	return newStore(db, owned), nil
}

// NewMemory creates an in-memory KV store
func NewMemory() *Store {
	return newStore(memdb.New(), true)
}

func newStore(db database.Database, owned bool) *Store {
	return &Store{
		db:    db,
		owned: owned,
		bins:  prefixdb.New(PrefixBins, db),
		meta:  prefixdb.New(PrefixMeta, db),
	}
}

// Database returns the underlying database
func (s *Store) Database() database.Database {
	return s.db
}

func (s *Store) check() error {
	if s.closed {
		return database.ErrClosed
	}
	return nil
}

// WriteDataset replaces the stored snapshot with d in a single batch
func (s *Store) WriteDataset(d *dataset.Dataset, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}

	batch := s.bins.NewBatch()

	it := s.bins.NewIterator()
	for it.Next() {
		if err := batch.Delete(bytes.Clone(it.Key())); err != nil {
			it.Release()
			return err
		}
	}
	err := it.Error()
	it.Release()
	if err != nil {
		return fmt.Errorf("failed to scan snapshot: %w", err)
	}

	put := func(k dataset.RouteKey, label string, st dataset.BinStats) error {
		value, err := json.Marshal(st)
		if err != nil {
			return err
		}
		return batch.Put(BinKey(k, label), value)
	}
	for _, r := range d.Routes() {
		for _, b := range r.Buckets() {
			if err := put(r.Key, b.String(), r.Bins[b]); err != nil {
				return fmt.Errorf("failed to stage %s [%s]: %w", r.Key, b, err)
			}
		}
		for label, st := range r.Extra {
			if err := put(r.Key, label, st); err != nil {
				return fmt.Errorf("failed to stage %s [%s]: %w", r.Key, label, err)
			}
		}
	}

	if err := batch.Write(); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if runID != "" {
		return s.meta.Put(MetaRunID, []byte(runID))
	}
	return nil
}

// ReadDataset loads the stored snapshot
func (s *Store) ReadDataset() (*dataset.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.scan()
}

func (s *Store) scan() (*dataset.Dataset, error) {
	it := s.bins.NewIterator()
	defer it.Release()

	d := dataset.New()
	for it.Next() {
		k, label, err := ParseBinKey(it.Key())
		if err != nil {
			return nil, err
		}
		var st dataset.BinStats
		if err := json.Unmarshal(it.Value(), &st); err != nil {
			return nil, fmt.Errorf("failed to decode %s [%s]: %w", k, label, err)
		}
		if b, err := bucket.Parse(label); err == nil {
			d.Put(dataset.BinKey{Route: k, Bucket: b}, st)
		} else {
			d.PutExtra(k, label, st)
		}
	}
	return d, it.Error()
}

// RunID returns the id of the gap-fill run that wrote the snapshot
func (s *Store) RunID() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return "", err
	}
	v, err := s.meta.Get(MetaRunID)
	if errors.Is(err, database.ErrNotFound) {
		return "", ErrNotFound
	}
	return string(v), err
}

// HealthCheck performs a health check
func (s *Store) HealthCheck(ctx context.Context) (interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.db.HealthCheck(ctx)
}

// Close closes the store
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	// Only close if we own the database
	if s.owned {
		return s.db.Close()
	}
	return nil
}

// BinKey creates the key of one bin from origin, destination, asset and
// bucket label. Components may contain any byte, ':' included.
func BinKey(k dataset.RouteKey, label string) []byte {
	return CompositeKey([]byte(k.Origin), []byte(k.Destination), []byte(k.Asset), []byte(label))
}

// ParseBinKey splits a key created by BinKey
func ParseBinKey(key []byte) (dataset.RouteKey, string, error) {
	parts := make([]string, 0, 4)
	rest := key
	for len(parts) < 4 {
		n, w := binary.Uvarint(rest)
		if w <= 0 || uint64(len(rest)-w) < n {
			return dataset.RouteKey{}, "", fmt.Errorf("malformed bin key: %q", key)
		}
		rest = rest[w:]
		parts = append(parts, string(rest[:n]))
		rest = rest[n:]
	}
	if len(rest) != 0 {
		return dataset.RouteKey{}, "", fmt.Errorf("malformed bin key: %q", key)
	}
	return dataset.RouteKey{
		Origin:      parts[0],
		Destination: parts[1],
		Asset:       parts[2],
	}, parts[3], nil
}

// CompositeKey joins parts, each prefixed with its uvarint length
func CompositeKey(parts ...[]byte) []byte {
	size := 0
	for _, p := range parts {
		size += len(p) + binary.MaxVarintLen64
	}
	key := make([]byte, 0, size)
	for _, p := range parts {
		key = binary.AppendUvarint(key, uint64(len(p)))
		key = append(key, p...)
	}
	return key
}
