// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

var sqliteDialect = dialect{
	backend: BackendSQLite,
	sqlType: func(t ColumnType) string {
		switch t {
		case TypeText, TypeJSON:
			return "TEXT"
		case TypeInt, TypeBigInt, TypeBool:
			return "INTEGER"
		case TypeFloat:
			return "REAL"
		case TypeTimestamp:
			return "DATETIME"
		default:
			return "TEXT"
		}
	},
}

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	sqlStore
	path string
}

// NewSQLite creates a new SQLite store
func NewSQLite(cfg Config) (*SQLiteStore, error) {
	path := cfg.URL
	if path == "" {
		path = filepath.Join(cfg.DataDir, "settlement.db")
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&cache=shared", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support multiple writers
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}

	return &SQLiteStore{
		sqlStore: sqlStore{db: db, dialect: sqliteDialect},
		path:     path,
	}, nil
}

// Path returns the database file path
func (s *SQLiteStore) Path() string {
	return s.path
}
