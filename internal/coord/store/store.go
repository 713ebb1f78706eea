// Package store provides relational persistence for agents, work items,
// memory entries, and the event log. All access goes through scopes: a
// ReadScope for query-only snapshots and a WriteScope wrapping a single
// transaction. The store exclusively owns entity state; services never
// touch the database directly.
package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/aiswarm/aiswarm/internal/common/clock"
	"github.com/aiswarm/aiswarm/internal/common/logger"
	"github.com/aiswarm/aiswarm/internal/db"
)

// Store is the relational persistence layer over a db.Pool.
type Store struct {
	pool   *db.Pool
	clock  clock.Clock
	logger *logger.Logger
}

// New creates a Store and initializes the schema.
func New(pool *db.Pool, clk clock.Clock, log *logger.Logger) (*Store, error) {
	if clk == nil {
		clk = clock.System{}
	}
	if log == nil {
		log = logger.Default()
	}
	s := &Store{pool: pool, clock: clk, logger: log}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Clock returns the store's time source.
func (s *Store) Clock() clock.Clock { return s.clock }

// Close closes the underlying pool.
func (s *Store) Close() error { return s.pool.Close() }

// queries carries the shared read operations. Both scope kinds embed it:
// a ReadScope reads through the reader pool, a WriteScope reads through
// its own transaction so it observes uncommitted writes.
type queries struct {
	ext   sqlx.ExtContext
	clock clock.Clock
}

// ReadScope is a query-only view. It holds no transaction; disposal is a
// no-op beyond releasing the handle.
type ReadScope struct {
	queries
}

// Read opens a ReadScope against the reader pool.
func (s *Store) Read() *ReadScope {
	return &ReadScope{queries{ext: s.pool.Reader(), clock: s.clock}}
}

// WriteScope wraps one transaction on the single writer connection.
// Complete commits; Close without Complete rolls back. A logical
// operation opens exactly one WriteScope and threads it through every
// service call that participates in the transaction.
type WriteScope struct {
	queries
	tx        *sqlx.Tx
	completed bool
}

// Write begins a transaction and returns the scope owning it.
func (s *Store) Write(ctx context.Context) (*WriteScope, error) {
	tx, err := s.pool.Writer().BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &WriteScope{queries: queries{ext: tx, clock: s.clock}, tx: tx}, nil
}

// Complete commits the transaction. The scope is unusable afterwards.
func (w *WriteScope) Complete() error {
	if w.completed {
		return nil
	}
	if err := w.tx.Commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	w.completed = true
	return nil
}

// Close rolls back the transaction unless Complete was called. Safe to
// defer unconditionally.
func (w *WriteScope) Close() error {
	if w.completed {
		return nil
	}
	return w.tx.Rollback()
}
