// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

var postgresDialect = dialect{
	backend: BackendPostgres,
	placeholder: func(n int) string {
		return fmt.Sprintf("$%d", n)
	},
	sqlType: func(t ColumnType) string {
		switch t {
		case TypeText:
			return "TEXT"
		case TypeInt:
			return "INTEGER"
		case TypeBigInt:
			return "BIGINT"
		case TypeFloat:
			return "DOUBLE PRECISION"
		case TypeBool:
			return "BOOLEAN"
		case TypeTimestamp:
			return "TIMESTAMPTZ"
		case TypeJSON:
			return "JSONB"
		default:
			return "TEXT"
		}
	},
}

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	sqlStore
}

// NewPostgres creates a new PostgreSQL store
func NewPostgres(cfg Config) (*PostgresStore, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("postgres open: empty connection URL")
	}
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresStore{
		sqlStore: sqlStore{db: db, dialect: postgresDialect},
	}, nil
}
