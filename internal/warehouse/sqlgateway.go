package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SQLGateway implements Gateway over database/sql. The sqlite and mssql
// backends use it with their own Dialect.
type SQLGateway struct {
	db      *sql.DB
	dialect Dialect
	tx      *sql.Tx

	// bind rewrites arguments before they reach the driver (e.g. time
	// formatting for SQLite). May be nil.
	bind func(v any) any
}

// NewSQLGateway wraps db. bind may be nil.
func NewSQLGateway(db *sql.DB, d Dialect, bind func(v any) any) (*SQLGateway, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &SQLGateway{db: db, dialect: d, bind: bind}, nil
}

func (g *SQLGateway) begin(ctx context.Context) (*sql.Tx, error) {
	if g.tx != nil {
		return g.tx, nil
	}
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("warehouse: begin: %w", err)
	}
	g.tx = tx
	return tx, nil
}

func (g *SQLGateway) bindArgs(args []any) []any {
	if g.bind == nil {
		return args
	}
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = g.bind(a)
	}
	return out
}

// Exec implements Gateway.
func (g *SQLGateway) Exec(ctx context.Context, stmt Statement, args ...any) error {
	q, err := g.dialect.Text(stmt)
	if err != nil {
		return err
	}
	tx, err := g.begin(ctx)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, q, g.bindArgs(args)...)
	return g.dialect.WrapExecErr(stmt, err)
}

// QueryOne implements Gateway.
func (g *SQLGateway) QueryOne(ctx context.Context, stmt Statement, args []any, dest ...any) (bool, error) {
	q, err := g.dialect.Text(stmt)
	if err != nil {
		return false, err
	}
	tx, err := g.begin(ctx)
	if err != nil {
		return false, err
	}
	err = tx.QueryRowContext(ctx, q, g.bindArgs(args)...).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, g.dialect.WrapExecErr(stmt, err)
	}
	return true, nil
}

// Commit implements Gateway.
func (g *SQLGateway) Commit(ctx context.Context) error {
	if g.tx == nil {
		return nil
	}
	tx := g.tx
	g.tx = nil
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("warehouse: commit: %w", err)
	}
	return nil
}

// Rollback implements Gateway.
func (g *SQLGateway) Rollback(ctx context.Context) error {
	if g.tx == nil {
		return nil
	}
	tx := g.tx
	g.tx = nil
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("warehouse: rollback: %w", err)
	}
	return nil
}

// EnsureSchema implements Gateway. It runs outside any open transaction.
func (g *SQLGateway) EnsureSchema(ctx context.Context) error {
	for _, q := range g.dialect.Schema {
		if _, err := g.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("warehouse: %s: ensure schema: %w", g.dialect.Name, err)
		}
	}
	return nil
}

// Close rolls back any open transaction and closes the database.
func (g *SQLGateway) Close() error {
	_ = g.Rollback(context.Background())
	return g.db.Close()
}

// DB exposes the underlying handle.
func (g *SQLGateway) DB() *sql.DB { return g.db }

var _ Gateway = (*SQLGateway)(nil)
