// Package postgres is the Postgres warehouse backend, built on pgxpool.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sparkify/internal/warehouse"
)

func init() {
	warehouse.Register("postgres", Open)
}

// Gateway implements warehouse.Gateway for Postgres. One pgx transaction
// spans the statements between two commits.
type Gateway struct {
	pool    *pgxpool.Pool
	dialect warehouse.Dialect
	tx      pgx.Tx
}

// Open connects to cfg.DSN and verifies connectivity.
func Open(ctx context.Context, cfg warehouse.Config) (warehouse.Gateway, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	gw, err := New(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return gw, nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) (*Gateway, error) {
	d, err := NewDialect()
	if err != nil {
		return nil, err
	}
	return &Gateway{pool: pool, dialect: d}, nil
}

func (g *Gateway) begin(ctx context.Context) (pgx.Tx, error) {
	if g.tx != nil {
		return g.tx, nil
	}
	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin: %w", err)
	}
	g.tx = tx
	return tx, nil
}

// Exec implements warehouse.Gateway.
func (g *Gateway) Exec(ctx context.Context, stmt warehouse.Statement, args ...any) error {
	q, err := g.dialect.Text(stmt)
	if err != nil {
		return err
	}
	tx, err := g.begin(ctx)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, q, args...)
	return g.dialect.WrapExecErr(stmt, err)
}

// QueryOne implements warehouse.Gateway.
func (g *Gateway) QueryOne(ctx context.Context, stmt warehouse.Statement, args []any, dest ...any) (bool, error) {
	q, err := g.dialect.Text(stmt)
	if err != nil {
		return false, err
	}
	tx, err := g.begin(ctx)
	if err != nil {
		return false, err
	}
	err = tx.QueryRow(ctx, q, args...).Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, g.dialect.WrapExecErr(stmt, err)
	}
	return true, nil
}

// Commit implements warehouse.Gateway.
func (g *Gateway) Commit(ctx context.Context) error {
	if g.tx == nil {
		return nil
	}
	tx := g.tx
	g.tx = nil
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// Rollback implements warehouse.Gateway.
func (g *Gateway) Rollback(ctx context.Context) error {
	if g.tx == nil {
		return nil
	}
	tx := g.tx
	g.tx = nil
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("postgres: rollback: %w", err)
	}
	return nil
}

// EnsureSchema implements warehouse.Gateway.
func (g *Gateway) EnsureSchema(ctx context.Context) error {
	for _, q := range g.dialect.Schema {
		if _, err := g.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("postgres: ensure schema: %w", err)
		}
	}
	return nil
}

// Close rolls back any open transaction and closes the pool.
func (g *Gateway) Close() error {
	_ = g.Rollback(context.Background())
	g.pool.Close()
	return nil
}

var _ warehouse.Gateway = (*Gateway)(nil)
