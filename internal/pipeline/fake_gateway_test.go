package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"

	"sparkify/internal/warehouse"
)

type execCall struct {
	stmt warehouse.Statement
	args []any
}

type catalogKey struct {
	title    string
	duration float64
	artist   string
}

// fakeGateway records statements and answers SongSelect from catalog.
type fakeGateway struct {
	execs   []execCall
	queries []execCall
	catalog map[catalogKey][2]string

	// failOn makes Exec return err for the n-th (1-based) call with stmt.
	failOn   warehouse.Statement
	failAt   int
	failErr  error
	seen     map[warehouse.Statement]int
	queryErr error

	commits   atomic.Int64
	rollbacks atomic.Int64
	commitErr error
}

func (g *fakeGateway) Exec(ctx context.Context, stmt warehouse.Statement, args ...any) error {
	if g.seen == nil {
		g.seen = map[warehouse.Statement]int{}
	}
	g.seen[stmt]++
	if stmt == g.failOn && g.seen[stmt] == g.failAt {
		return g.failErr
	}
	g.execs = append(g.execs, execCall{stmt: stmt, args: args})
	return nil
}

func (g *fakeGateway) QueryOne(ctx context.Context, stmt warehouse.Statement, args []any, dest ...any) (bool, error) {
	g.queries = append(g.queries, execCall{stmt: stmt, args: args})
	if g.queryErr != nil {
		return false, g.queryErr
	}
	if stmt != warehouse.SongSelect || len(args) != 3 || len(dest) != 2 {
		return false, fmt.Errorf("unexpected query %s", stmt)
	}
	hit, ok := g.catalog[catalogKey{args[0].(string), args[1].(float64), args[2].(string)}]
	if !ok {
		return false, nil
	}
	*dest[0].(*string) = hit[0]
	*dest[1].(*string) = hit[1]
	return true, nil
}

func (g *fakeGateway) Commit(ctx context.Context) error {
	if g.commitErr != nil {
		return g.commitErr
	}
	g.commits.Add(1)
	return nil
}

func (g *fakeGateway) Rollback(ctx context.Context) error {
	g.rollbacks.Add(1)
	return nil
}

func (g *fakeGateway) EnsureSchema(ctx context.Context) error { return nil }
func (g *fakeGateway) Close() error                           { return nil }

func (g *fakeGateway) stmts() []warehouse.Statement {
	out := make([]warehouse.Statement, len(g.execs))
	for i, c := range g.execs {
		out[i] = c.stmt
	}
	return out
}

func (g *fakeGateway) count(stmt warehouse.Statement) int {
	n := 0
	for _, c := range g.execs {
		if c.stmt == stmt {
			n++
		}
	}
	return n
}

var _ warehouse.Gateway = (*fakeGateway)(nil)
