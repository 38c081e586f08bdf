package db

// Package db owns the Postgres schema and every SQL statement the order
// engine runs. All writes go through Store.InTx so that sequence allocation,
// stock reservation and order rows commit or roll back together.

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound                = errors.New("record not found")
	ErrInvalidStatusTransition = errors.New("invalid order status transition")
)

// StockShortageError is returned when a conditional decrement matched no row
// because the record holds fewer units than requested.
type StockShortageError struct {
	ProductID int64
	VariantID int64
	Requested int
	Available int
}

func (e *StockShortageError) Error() string {
	if e.VariantID != 0 {
		return fmt.Sprintf("variant %d of product %d has %d in stock, %d requested", e.VariantID, e.ProductID, e.Available, e.Requested)
	}
	return fmt.Sprintf("product %d has %d in stock, %d requested", e.ProductID, e.Available, e.Requested)
}

//go:embed schema.sql
var schemaSQL string

func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context is required")
	}

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	config.ConnConfig.Tracer = newQueryTracer()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// InTx runs fn inside a read-committed transaction. Returning an error from
// fn rolls everything back.
func (s *Store) InTx(ctx context.Context, fn func(Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

// View runs fn inside a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

type pgTx struct {
	tx pgx.Tx
}

var _ Tx = (*pgTx)(nil)

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
