// Package postgres implements the store interfaces using PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"advsandbox/internal/store"

	"github.com/lib/pq"
)

// uniqueViolation is the Postgres error code for a duplicate key.
const uniqueViolation = "23505"

// Store provides PostgreSQL-backed implementations of all repositories.
type Store struct {
	db *sql.DB
}

var _ store.Backend = (*Store)(nil)

// New opens a connection pool and verifies it with a ping.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// DB exposes the pool for migrations.
func (s *Store) DB() *sql.DB {
	return s.db
}

// BeginTx starts a transaction.
func (s *Store) BeginTx(ctx context.Context) (store.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) getExecutor(tx store.DBTransaction) store.DBTransaction {
	if tx != nil {
		return tx
	}
	return s.db
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
