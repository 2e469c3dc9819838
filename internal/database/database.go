// Keeper - Square POS Business Intelligence for Small Merchants
// Copyright 2026 raydawg88
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raydawg88/keeper

// Package database wraps Keeper's embedded DuckDB store: synced Square
// records, generated insights, and customer matches.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/raydawg88/keeper/internal/config"
	"github.com/raydawg88/keeper/internal/logging"
)

// DB wraps the DuckDB connection and provides data access methods.
type DB struct {
	conn *sql.DB
	cfg  config.DatabaseConfig
}

// New opens (or creates) the database at cfg.Path and applies the schema.
// The initial connection is retried with exponential backoff: on restart
// the previous process may still be flushing its WAL, and DuckDB holds an
// exclusive file lock until then.
func New(cfg config.DatabaseConfig) (*DB, error) {
	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	maxMemory := cfg.MaxMemory
	if maxMemory == "" {
		maxMemory = "512MB"
	}

	dbDir := filepath.Dir(cfg.Path)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", dbDir, err)
		}
	}

	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s",
		cfg.Path, threads, maxMemory)

	var conn *sql.DB
	open := func() error {
		c, err := sql.Open("duckdb", connStr)
		if err != nil {
			return backoff.Permanent(err)
		}
		if err := c.Ping(); err != nil {
			c.Close()
			logging.Warn().Err(err).Msg("Database not ready, retrying")
			return err
		}
		conn = c
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(open, bo); err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.Path, err)
	}

	// DuckDB is embedded; a single connection avoids write contention.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	db := &DB{conn: conn, cfg: cfg}
	if err := db.initialize(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	logging.Info().Str("path", cfg.Path).Msg("Database ready")
	return db, nil
}

// Conn exposes the underlying connection for packages that need direct
// query access.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Ping verifies the connection, for health checks.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the database.
func (db *DB) Close() error {
	return db.conn.Close()
}
