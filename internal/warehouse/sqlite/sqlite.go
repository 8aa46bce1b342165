// Package sqlite is the SQLite warehouse backend on modernc.org/sqlite.
//
// SQLite has no native timestamp type, so start_time values are bound as
// RFC3339Nano UTC strings. That keeps equality on the time primary key
// stable and the stored values readable.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"sparkify/internal/warehouse"
)

func init() {
	warehouse.Register("sqlite", Open)
}

// Open opens cfg.DSN with the "sqlite" driver. The pool is capped at one
// connection; an in-memory database is private to its connection and
// SQLite serialises writers anyway.
func Open(ctx context.Context, cfg warehouse.Config) (warehouse.Gateway, error) {
	gw, err := OpenGateway(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	return gw, nil
}

// OpenGateway is Open with the concrete return type.
func OpenGateway(ctx context.Context, dsn string) (*warehouse.SQLGateway, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	d, err := NewDialect()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	gw, err := warehouse.NewSQLGateway(db, d, bindValue)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return gw, nil
}

// bindValue stores time.Time as TEXT.
func bindValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return formatSQLiteTime(t)
	}
	return v
}

// NewDialect returns the SQLite SQL surface for the star schema.
func NewDialect() (warehouse.Dialect, error) {
	tables := map[string]warehouse.TableSpec{}
	var schema []string
	for _, t := range warehouse.StarSchema() {
		tables[t.Name] = t
		ddl, err := buildCreateTableSQL(t)
		if err != nil {
			return warehouse.Dialect{}, err
		}
		schema = append(schema, ddl)
	}

	d := warehouse.Dialect{
		Name: "sqlite",
		Statements: map[warehouse.Statement]string{
			warehouse.SongInsert:     buildInsertSQL(tables[warehouse.TableSongs], `ON CONFLICT ("song_id") DO NOTHING`),
			warehouse.ArtistInsert:   buildInsertSQL(tables[warehouse.TableArtists], `ON CONFLICT ("artist_id") DO NOTHING`),
			warehouse.TimeInsert:     buildInsertSQL(tables[warehouse.TableTime], `ON CONFLICT ("start_time") DO NOTHING`),
			warehouse.UserInsert:     buildInsertSQL(tables[warehouse.TableUsers], `ON CONFLICT ("user_id") DO UPDATE SET "level" = excluded."level"`),
			warehouse.SongplayInsert: buildInsertSQL(tables[warehouse.TableSongplays], ""),
			warehouse.SongSelect: `SELECT s."song_id", a."artist_id" FROM "songs" s ` +
				`JOIN "artists" a ON s."artist_id" = a."artist_id" ` +
				`WHERE s."title" = ? AND s."duration" = ? AND a."name" = ? LIMIT 1`,
		},
		Schema:       schema,
		IsConstraint: isConstraint,
	}
	return d, d.Validate()
}

// isConstraint reports SQLITE_CONSTRAINT and its extended codes.
func isConstraint(err error) bool {
	var se *msqlite.Error
	if errors.As(err, &se) {
		return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}
	return false
}

func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func buildInsertSQL(t warehouse.TableSpec, onConflict string) string {
	cols := t.ColumnNames()
	idents := make([]string, len(cols))
	marks := make([]string, len(cols))
	for i, c := range cols {
		idents[i] = sqlIdent(c)
		marks[i] = "?"
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		sqlIdent(t.Name), strings.Join(idents, ", "), strings.Join(marks, ", "))
	if onConflict != "" {
		q += " " + onConflict
	}
	return q
}

// buildCreateTableSQL renders CREATE TABLE IF NOT EXISTS. A surrogate key
// becomes INTEGER PRIMARY KEY AUTOINCREMENT, i.e. the rowid.
func buildCreateTableSQL(t warehouse.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("table name is empty")
	}

	var parts []string
	if t.Surrogate != nil {
		parts = append(parts, fmt.Sprintf(`%s INTEGER PRIMARY KEY AUTOINCREMENT`, sqlIdent(t.Surrogate.Name)))
	}
	for _, c := range t.Columns {
		typ, err := columnType(c.Type)
		if err != nil {
			return "", fmt.Errorf("%s.%s: %w", t.Name, c.Name, err)
		}
		col := fmt.Sprintf("%s %s", sqlIdent(c.Name), typ)
		if !c.Nullable {
			col += " NOT NULL"
		}
		// Enforced only with PRAGMA foreign_keys=ON.
		if c.References != "" {
			col += " REFERENCES " + c.References
		}
		parts = append(parts, col)
	}
	if t.Surrogate == nil && len(t.PrimaryKey) > 0 {
		pk := make([]string, len(t.PrimaryKey))
		for i, c := range t.PrimaryKey {
			pk[i] = sqlIdent(c)
		}
		parts = append(parts, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(pk, ", ")))
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", sqlIdent(t.Name), strings.Join(parts, ",\n  ")), nil
}

func columnType(t warehouse.ColumnType) (string, error) {
	switch t {
	case warehouse.TypeKey, warehouse.TypeText, warehouse.TypeTimestamp:
		return "TEXT", nil
	case warehouse.TypeInt, warehouse.TypeBigInt:
		return "INTEGER", nil
	case warehouse.TypeDouble:
		return "REAL", nil
	default:
		return "", fmt.Errorf("unsupported column type %q", t)
	}
}

// formatSQLiteTime formats a time as RFC3339Nano in UTC.
func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTime parses a start_time value read back from SQLite.
//
// Accepted layouts:
//   - RFC3339Nano (what this package writes)
//   - RFC3339
//   - "2006-01-02 15:04:05Z07:00" and its fractional variant
//   - "2006-01-02 15:04:05" (interpreted as UTC)
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time string")
	}

	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05.999999999Z07:00",
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	if ts, err := time.ParseInLocation("2006-01-02 15:04:05", s, time.UTC); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("unsupported time format: %q", s)
}
