package warehouse

// TableSpec describes one warehouse table. It lives here so every backend
// can render DDL from the same description.
type TableSpec struct {
	Name string

	// Surrogate is an auto-generated key column rendered first.
	Surrogate *SurrogateKeySpec

	Columns []ColumnSpec

	// PrimaryKey lists natural-key columns. Ignored when Surrogate is set.
	PrimaryKey []string
}

// SurrogateKeySpec names a generated identity column.
type SurrogateKeySpec struct {
	Name string
}

// ColumnSpec is a single column. Type is a logical type; backends map it to
// their own SQL type names.
type ColumnSpec struct {
	Name       string
	Type       ColumnType
	Nullable   bool
	References string
}

// ColumnType is a backend-neutral column type.
type ColumnType string

const (
	// TypeKey is a short string used in keys and lookups.
	TypeKey       ColumnType = "key"
	TypeText      ColumnType = "text"
	TypeInt       ColumnType = "int"
	TypeBigInt    ColumnType = "bigint"
	TypeDouble    ColumnType = "double"
	TypeTimestamp ColumnType = "timestamp"
)

// Table names of the star schema.
const (
	TableSongs     = "songs"
	TableArtists   = "artists"
	TableUsers     = "users"
	TableTime      = "time"
	TableSongplays = "songplays"
)

// StarSchema returns the five tables in creation order: dimensions first,
// then the songplays fact table that references them.
func StarSchema() []TableSpec {
	return []TableSpec{
		{
			Name: TableSongs,
			Columns: []ColumnSpec{
				{Name: "song_id", Type: TypeKey},
				{Name: "title", Type: TypeText},
				{Name: "artist_id", Type: TypeKey},
				{Name: "year", Type: TypeInt},
				{Name: "duration", Type: TypeDouble},
			},
			PrimaryKey: []string{"song_id"},
		},
		{
			Name: TableArtists,
			Columns: []ColumnSpec{
				{Name: "artist_id", Type: TypeKey},
				{Name: "name", Type: TypeText},
				{Name: "location", Type: TypeText, Nullable: true},
				{Name: "latitude", Type: TypeDouble, Nullable: true},
				{Name: "longitude", Type: TypeDouble, Nullable: true},
			},
			PrimaryKey: []string{"artist_id"},
		},
		{
			Name: TableUsers,
			Columns: []ColumnSpec{
				{Name: "user_id", Type: TypeKey},
				{Name: "first_name", Type: TypeText, Nullable: true},
				{Name: "last_name", Type: TypeText, Nullable: true},
				{Name: "gender", Type: TypeText, Nullable: true},
				{Name: "level", Type: TypeText},
			},
			PrimaryKey: []string{"user_id"},
		},
		{
			Name: TableTime,
			Columns: []ColumnSpec{
				{Name: "start_time", Type: TypeTimestamp},
				{Name: "hour", Type: TypeInt},
				{Name: "day", Type: TypeInt},
				{Name: "week", Type: TypeInt},
				{Name: "month", Type: TypeInt},
				{Name: "year", Type: TypeInt},
				{Name: "weekday", Type: TypeInt},
			},
			PrimaryKey: []string{"start_time"},
		},
		{
			Name:      TableSongplays,
			Surrogate: &SurrogateKeySpec{Name: "songplay_id"},
			Columns: []ColumnSpec{
				{Name: "start_time", Type: TypeTimestamp},
				{Name: "user_id", Type: TypeKey},
				{Name: "level", Type: TypeText},
				{Name: "song_id", Type: TypeKey, Nullable: true, References: TableSongs + " (song_id)"},
				{Name: "artist_id", Type: TypeKey, Nullable: true, References: TableArtists + " (artist_id)"},
				{Name: "session_id", Type: TypeBigInt},
				{Name: "location", Type: TypeText, Nullable: true},
				{Name: "user_agent", Type: TypeText, Nullable: true},
			},
		},
	}
}

// ColumnNames returns the non-surrogate column names of t in order.
func (t TableSpec) ColumnNames() []string {
	out := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		out = append(out, c.Name)
	}
	return out
}

// Table returns the TableSpec called name from StarSchema.
func Table(name string) (TableSpec, bool) {
	for _, t := range StarSchema() {
		if t.Name == name {
			return t, true
		}
	}
	return TableSpec{}, false
}
