package postgres

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"sparkify/internal/warehouse"
)

// NewDialect returns the Postgres SQL surface for the star schema.
//
// Dimension inserts are idempotent through ON CONFLICT. Users upsert on
// user_id and keep the most recent level.
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
		Name: "postgres",
		Statements: map[warehouse.Statement]string{
			warehouse.SongInsert:     buildInsertSQL(tables[warehouse.TableSongs], doNothing("song_id")),
			warehouse.ArtistInsert:   buildInsertSQL(tables[warehouse.TableArtists], doNothing("artist_id")),
			warehouse.TimeInsert:     buildInsertSQL(tables[warehouse.TableTime], doNothing("start_time")),
			warehouse.UserInsert:     buildInsertSQL(tables[warehouse.TableUsers], doUpdate("user_id", "level")),
			warehouse.SongplayInsert: buildInsertSQL(tables[warehouse.TableSongplays], ""),
			warehouse.SongSelect:     buildSongSelectSQL(),
		},
		Schema:       schema,
		IsConstraint: isConstraint,
	}
	return d, d.Validate()
}

// isConstraint matches SQLSTATE class 23 (integrity constraint violation).
func isConstraint(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "23")
	}
	return false
}

func doNothing(conflict ...string) string {
	return " ON CONFLICT (" + joinIdents(conflict) + ") DO NOTHING"
}

func doUpdate(conflict string, update ...string) string {
	sets := make([]string, 0, len(update))
	for _, c := range update {
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", pgIdent(c), pgIdent(c)))
	}
	return " ON CONFLICT (" + pgIdent(conflict) + ") DO UPDATE SET " + strings.Join(sets, ", ")
}

// buildInsertSQL renders a single-row INSERT with $n placeholders followed
// by the optional conflict clause.
func buildInsertSQL(t warehouse.TableSpec, onConflict string) string {
	cols := t.ColumnNames()

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgIdent(t.Name))
	b.WriteString(" (")
	b.WriteString(joinIdents(cols))
	b.WriteString(") VALUES (")
	for i := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(fmt.Sprintf("$%d", i+1))
	}
	b.WriteString(")")
	b.WriteString(onConflict)
	return b.String()
}

// buildSongSelectSQL joins songs to artists on artist_id and matches
// (title, duration, artist name). LIMIT 1 leaves the pick among multiple
// matches to the planner.
func buildSongSelectSQL() string {
	return fmt.Sprintf(
		"SELECT s.%s, a.%s FROM %s s JOIN %s a ON s.%s = a.%s WHERE s.%s = $1 AND s.%s = $2 AND a.%s = $3 LIMIT 1",
		pgIdent("song_id"), pgIdent("artist_id"),
		pgIdent(warehouse.TableSongs), pgIdent(warehouse.TableArtists),
		pgIdent("artist_id"), pgIdent("artist_id"),
		pgIdent("title"), pgIdent("duration"), pgIdent("name"),
	)
}

// buildCreateSQL renders CREATE TABLE IF NOT EXISTS for t.
func buildCreateSQL(t warehouse.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("table name is empty")
	}

	cols := make([]string, 0, len(t.Columns)+2)
	if t.Surrogate != nil {
		cols = append(cols, fmt.Sprintf(`%s BIGSERIAL PRIMARY KEY`, pgIdent(t.Surrogate.Name)))
	}
	for _, c := range t.Columns {
		def, err := buildColumnDef(c)
		if err != nil {
			return "", fmt.Errorf("table %s: %w", t.Name, err)
		}
		cols = append(cols, def)
	}
	if t.Surrogate == nil && len(t.PrimaryKey) > 0 {
		cols = append(cols, "PRIMARY KEY ("+joinIdents(t.PrimaryKey)+")")
	}
	if len(cols) == 0 {
		return "", fmt.Errorf("table %s: no columns", t.Name)
	}

	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s);`, pgIdent(t.Name), strings.Join(cols, ", ")), nil
}

// buildColumnDef renders a single column definition. Foreign keys are
// expressed inline.
func buildColumnDef(c warehouse.ColumnSpec) (string, error) {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return "", fmt.Errorf("column name must be set")
	}
	typ, err := columnType(c.Type)
	if err != nil {
		return "", fmt.Errorf("column %s: %w", name, err)
	}

	var b strings.Builder
	b.WriteString(pgIdent(name))
	b.WriteString(" ")
	b.WriteString(typ)
	if !c.Nullable {
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
	case warehouse.TypeKey, warehouse.TypeText:
		return "TEXT", nil
	case warehouse.TypeInt:
		return "INTEGER", nil
	case warehouse.TypeBigInt:
		return "BIGINT", nil
	case warehouse.TypeDouble:
		return "DOUBLE PRECISION", nil
	case warehouse.TypeTimestamp:
		return "TIMESTAMP", nil
	default:
		return "", fmt.Errorf("unsupported column type %q", t)
	}
}

func pgIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func joinIdents(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = pgIdent(c)
	}
	return strings.Join(out, ", ")
}
