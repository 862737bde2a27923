// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage is the relational persistence layer for the indexing and
// sync core: entries, their closure and path denormalizations, content
// identities, sidecars, tags, the sync log and the leader lease table, all
// through database/sql over DuckDB. It implements internal/indexer's Store
// interface (indexer_store.go), a row-level persistence boundary for
// internal/synclog (synclog_store.go), and a durable home for LeaderRecord
// (leader_store.go) and JobReport (jobreport_store.go).
//
// Grounded on the teacher's internal/database/database.go: same driver
// (duckdb-go/v2), same "preload then open" extension pattern is not needed
// here (this schema uses no DuckDB extensions), and the same prepared
// statement cache keyed by query string.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/spacedriveapp/spacedrive-core/internal/logging"
)

// Store wraps a DuckDB connection and the prepared-statement cache every
// query path shares.
type Store struct {
	conn *sql.DB

	stmtMu    sync.RWMutex
	stmtCache map[string]*sql.Stmt
}

// New opens (creating if absent) the DuckDB file at path and applies the
// schema. An empty path or ":memory:" opens an in-memory database.
func New(path string) (*Store, error) {
	if path != "" && path != ":memory:" {
		dir := filepath.Dir(path)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("storage: create data directory %s: %w", dir, err)
			}
		}
	} else {
		path = ""
	}

	conn, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open duckdb: %w", err)
	}
	conn.SetMaxOpenConns(1) // DuckDB's single-writer model; serialize through one *sql.DB conn

	s := &Store{conn: conn, stmtCache: make(map[string]*sql.Stmt)}

	if _, err := conn.Exec(schema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("storage: apply schema: %w", err)
	}

	logging.WithComponent("storage").Info().Str("path", path).Msg("opened store")
	return s, nil
}

// Close releases the connection and every cached prepared statement.
func (s *Store) Close() error {
	s.stmtMu.Lock()
	for _, stmt := range s.stmtCache {
		_ = stmt.Close()
	}
	s.stmtCache = nil
	s.stmtMu.Unlock()

	return s.conn.Close()
}

// prepared returns a cached *sql.Stmt for query, preparing and caching it
// on first use. Caller must not Close the returned statement.
func (s *Store) prepared(ctx context.Context, query string) (*sql.Stmt, error) {
	s.stmtMu.RLock()
	stmt, ok := s.stmtCache[query]
	s.stmtMu.RUnlock()
	if ok {
		return stmt, nil
	}

	s.stmtMu.Lock()
	defer s.stmtMu.Unlock()
	if stmt, ok := s.stmtCache[query]; ok {
		return stmt, nil
	}

	stmt, err := s.conn.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	s.stmtCache[query] = stmt
	return stmt, nil
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on any error or panic (re-panicking after rollback).
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
