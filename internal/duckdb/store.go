// Package duckdb persists enriched visitors in a DuckDB database.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/tinytelemetry/tunnelscope/internal/duckdb/migrate"
)

// DefaultQueryTimeout bounds every query issued by the store.
const DefaultQueryTimeout = 30 * time.Second

// Store manages the DuckDB connection and provides visitor queries.
type Store struct {
	db           *sql.DB
	mu           sync.RWMutex
	dbPath       string
	readSlots    chan struct{}
	QueryTimeout time.Duration
}

// NewStore opens or creates a DuckDB database and applies migrations.
// An empty dbPath opens an in-memory database.
func NewStore(dbPath string, queryTimeout ...time.Duration) (*Store, error) {
	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("duckdb: create db dir: %w", err)
		}
	}

	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, fmt.Errorf("duckdb: open: %w", err)
	}

	qt := DefaultQueryTimeout
	if len(queryTimeout) > 0 && queryTimeout[0] > 0 {
		qt = queryTimeout[0]
	}

	ctx, cancel := context.WithTimeout(context.Background(), qt)
	defer cancel()
	if err := migrate.NewRunner(db).Run(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("duckdb: migrate: %w", err)
	}

	return &Store{
		db:           db,
		dbPath:       dbPath,
		QueryTimeout: qt,
	}, nil
}

// SetMaxConcurrentQueries caps concurrent read queries. Zero or less removes
// the cap. Call before the store is shared.
func (s *Store) SetMaxConcurrentQueries(n int) {
	if n <= 0 {
		s.readSlots = nil
		return
	}
	s.readSlots = make(chan struct{}, n)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// readCtx acquires a read slot and the shared read lock. The returned
// release func must be called when the query is done.
func (s *Store) readCtx() (context.Context, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.QueryTimeout)
	if s.readSlots != nil {
		select {
		case s.readSlots <- struct{}{}:
		case <-ctx.Done():
			cancel()
			return nil, nil, fmt.Errorf("duckdb: waiting for read slot: %w", ctx.Err())
		}
	}
	s.mu.RLock()
	return ctx, func() {
		s.mu.RUnlock()
		if s.readSlots != nil {
			<-s.readSlots
		}
		cancel()
	}, nil
}
