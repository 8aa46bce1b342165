// Package warehouse is the gateway between the load pipeline and the target
// database. The pipeline addresses SQL by role (Statement); each backend owns
// a Dialect that maps roles to its own SQL text.
package warehouse

import (
	"context"
	"fmt"
	"sync"
)

// Statement names a SQL statement by the role it plays in the load.
type Statement int

const (
	SongInsert Statement = iota + 1
	ArtistInsert
	TimeInsert
	UserInsert
	SongplayInsert
	SongSelect
)

var statementNames = map[Statement]string{
	SongInsert:     "song_insert",
	ArtistInsert:   "artist_insert",
	TimeInsert:     "time_insert",
	UserInsert:     "user_insert",
	SongplayInsert: "songplay_insert",
	SongSelect:     "song_select",
}

func (s Statement) String() string {
	if n, ok := statementNames[s]; ok {
		return n
	}
	return fmt.Sprintf("statement(%d)", int(s))
}

// Statements lists every role a Dialect must define.
func Statements() []Statement {
	return []Statement{SongInsert, ArtistInsert, TimeInsert, UserInsert, SongplayInsert, SongSelect}
}

// Gateway executes role-addressed statements against the warehouse.
//
// Transactions:
//   - The first Exec or QueryOne after Open, Commit or Rollback opens a
//     transaction; Commit and Rollback end it.
//   - Commit and Rollback without an open transaction are no-ops.
//
// A Gateway is used by a single goroutine.
type Gateway interface {
	// Exec runs a statement with positional args.
	Exec(ctx context.Context, stmt Statement, args ...any) error

	// QueryOne runs a select and scans the first row into dest. found is false
	// when the query returned no rows.
	QueryOne(ctx context.Context, stmt Statement, args []any, dest ...any) (found bool, err error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	// EnsureSchema creates the star-schema tables if they do not exist.
	EnsureSchema(ctx context.Context) error

	Close() error
}

// Config is the minimal configuration needed to open a Gateway.
//
// Kind must match a registered backend ("postgres", "sqlite", "mssql").
// DSN is passed through to the backend factory unchanged.
type Config struct {
	Kind string
	DSN  string
}

// Factory opens a Gateway for a backend kind.
type Factory func(ctx context.Context, cfg Config) (Gateway, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under kind. Backends call it from init().
//
// Panics if kind is empty, f is nil, or kind is already registered.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("warehouse: Register called with empty kind")
	}
	if f == nil {
		panic("warehouse: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("warehouse: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// Kinds returns the registered backend kinds.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	return out
}

// Open constructs a Gateway using the registered factory for cfg.Kind.
func Open(ctx context.Context, cfg Config) (Gateway, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("warehouse: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("warehouse: unsupported kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}
