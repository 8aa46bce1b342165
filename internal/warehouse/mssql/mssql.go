// Package mssql is the SQL Server warehouse backend.
//
// SQL Server has no ON CONFLICT, so idempotent dimension inserts are
// INSERT ... SELECT ... WHERE NOT EXISTS, and the users upsert is a MERGE
// under HOLDLOCK.
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"

	"sparkify/internal/warehouse"
)

func init() {
	warehouse.Register("mssql", Open)
}

// SQL Server error numbers treated as constraint violations.
const (
	errUniqueKey  = 2627
	errUniqueIdx  = 2601
	errForeignKey = 547
	errNotNull    = 515
)

// Open connects with the "sqlserver" driver registered by go-mssqldb.
func Open(ctx context.Context, cfg warehouse.Config) (warehouse.Gateway, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("mssql: open: %w", err)
	}
	// The runner holds a single transaction; a small pool covers schema
	// bootstrap running beside it.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mssql: ping: %w", err)
	}

	d, err := NewDialect()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	gw, err := warehouse.NewSQLGateway(db, d, nil)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return gw, nil
}

// NewDialect returns the SQL Server SQL surface for the star schema.
func NewDialect() (warehouse.Dialect, error) {
	tables := map[string]warehouse.TableSpec{}
	var schema []string
	for _, t := range warehouse.StarSchema() {
		tables[t.Name] = t
		ddl, err := buildCreateSQL(t)
		if err != nil {
			return warehouse.Dialect{}, err
		}
		schema = append(schema, ddl)
	}

	d := warehouse.Dialect{
		Name: "mssql",
		Statements: map[warehouse.Statement]string{
			warehouse.SongInsert:     buildInsertNotExistsSQL(tables[warehouse.TableSongs], "song_id"),
			warehouse.ArtistInsert:   buildInsertNotExistsSQL(tables[warehouse.TableArtists], "artist_id"),
			warehouse.TimeInsert:     buildInsertNotExistsSQL(tables[warehouse.TableTime], "start_time"),
			warehouse.UserInsert:     buildMergeSQL(tables[warehouse.TableUsers], "user_id", "level"),
			warehouse.SongplayInsert: buildInsertSQL(tables[warehouse.TableSongplays]),
			warehouse.SongSelect:     buildSongSelectSQL(),
		},
		Schema:       schema,
		IsConstraint: isConstraint,
	}
	return d, d.Validate()
}

func isConstraint(err error) bool {
	var me mssql.Error
	if !errors.As(err, &me) {
		return false
	}
	switch me.Number {
	case errUniqueKey, errUniqueIdx, errForeignKey, errNotNull:
		return true
	}
	return false
}

func placeholders(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("@p%d", i+1)
	}
	return out
}

func buildInsertSQL(t warehouse.TableSpec) string {
	cols := t.ColumnNames()
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s);",
		mssqlIdent(t.Name), joinIdentList(cols), strings.Join(placeholders(len(cols)), ", "))
}

// buildInsertNotExistsSQL inserts one row unless a row with the same key
// already exists. The key parameter is reused by position.
func buildInsertNotExistsSQL(t warehouse.TableSpec, key string) string {
	cols := t.ColumnNames()
	ps := placeholders(len(cols))
	keyParam := ""
	for i, c := range cols {
		if c == key {
			keyParam = ps[i]
		}
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s WHERE NOT EXISTS (SELECT 1 FROM %s WITH (UPDLOCK, HOLDLOCK) WHERE %s = %s);",
		mssqlIdent(t.Name), joinIdentList(cols), strings.Join(ps, ", "),
		mssqlIdent(t.Name), mssqlIdent(key), keyParam,
	)
}

// buildMergeSQL upserts on key and updates only the listed columns.
func buildMergeSQL(t warehouse.TableSpec, key string, update ...string) string {
	cols := t.ColumnNames()
	ps := placeholders(len(cols))

	src := make([]string, len(cols))
	vals := make([]string, len(cols))
	for i, c := range cols {
		src[i] = fmt.Sprintf("%s AS %s", ps[i], mssqlIdent(c))
		vals[i] = "s." + mssqlIdent(c)
	}
	sets := make([]string, len(update))
	for i, c := range update {
		sets[i] = fmt.Sprintf("t.%s = s.%s", mssqlIdent(c), mssqlIdent(c))
	}

	return fmt.Sprintf(
		"MERGE %s WITH (HOLDLOCK) AS t USING (SELECT %s) AS s ON t.%s = s.%s "+
			"WHEN MATCHED THEN UPDATE SET %s "+
			"WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s);",
		mssqlIdent(t.Name), strings.Join(src, ", "), mssqlIdent(key), mssqlIdent(key),
		strings.Join(sets, ", "),
		joinIdentList(cols), strings.Join(vals, ", "),
	)
}

func buildSongSelectSQL() string {
	return "SELECT TOP 1 s.[song_id], a.[artist_id] FROM [songs] s " +
		"JOIN [artists] a ON s.[artist_id] = a.[artist_id] " +
		"WHERE s.[title] = @p1 AND s.[duration] = @p2 AND a.[name] = @p3;"
}

// buildCreateSQL wraps CREATE TABLE in an OBJECT_ID guard so schema
// bootstrap can run on every start.
func buildCreateSQL(t warehouse.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("mssql: table name is empty")
	}

	var parts []string
	if t.Surrogate != nil {
		parts = append(parts, fmt.Sprintf("%s BIGINT IDENTITY(1,1) PRIMARY KEY", mssqlIdent(t.Surrogate.Name)))
	}
	for _, c := range t.Columns {
		def, err := mssqlColumnDef(c)
		if err != nil {
			return "", fmt.Errorf("mssql: %s: %w", t.Name, err)
		}
		parts = append(parts, def)
	}
	if t.Surrogate == nil && len(t.PrimaryKey) > 0 {
		parts = append(parts, fmt.Sprintf("PRIMARY KEY (%s)", joinIdentList(t.PrimaryKey)))
	}

	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		t.Name, mssqlIdent(t.Name), strings.Join(parts, ", "),
	), nil
}

func mssqlColumnDef(c warehouse.ColumnSpec) (string, error) {
	if strings.TrimSpace(c.Name) == "" {
		return "", fmt.Errorf("column name is empty")
	}
	typ, err := columnType(c.Type)
	if err != nil {
		return "", fmt.Errorf("column %s: %w", c.Name, err)
	}

	var b strings.Builder
	b.WriteString(mssqlIdent(c.Name))
	b.WriteString(" ")
	b.WriteString(typ)
	if c.Nullable {
		b.WriteString(" NULL")
	} else {
		b.WriteString(" NOT NULL")
	}
	if ref := strings.TrimSpace(c.References); ref != "" {
		b.WriteString(" REFERENCES ")
		b.WriteString(ref)
	}
	return b.String(), nil
}

func columnType(t warehouse.ColumnType) (string, error) {
	switch t {
	case warehouse.TypeKey:
		return "NVARCHAR(64)", nil
	case warehouse.TypeText:
		return "NVARCHAR(512)", nil
	case warehouse.TypeInt:
		return "INT", nil
	case warehouse.TypeBigInt:
		return "BIGINT", nil
	case warehouse.TypeDouble:
		return "FLOAT", nil
	case warehouse.TypeTimestamp:
		return "DATETIME2", nil
	default:
		return "", fmt.Errorf("unsupported column type %q", t)
	}
}

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func joinIdentList(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = mssqlIdent(c)
	}
	return strings.Join(out, ", ")
}
