package sqlanalyzer

import "strings"

// Dialect distinguishes a handful of tokenizer/identifier-quoting behaviors.
// The analyzer's tokenizer already accepts double quotes, backticks, and
// brackets uniformly, so a Dialect currently only selects the nested-column
// separator used by a small number of warehouses (see NestedColSep and
// attachColumn).
type Dialect struct {
	Name          string
	NestedColSep  string // e.g. BigQuery's STRUCT field access via "__" in some generated SQL
}

var genericDialect = Dialect{Name: "generic"}

var dialects = map[string]Dialect{
	"bigquery":   {Name: "bigquery", NestedColSep: "__"},
	"databricks": {Name: "databricks"},
	"mysql":      {Name: "mysql"},
	"mariadb":    {Name: "mysql"},
	"postgres":   {Name: "postgres"},
	"redshift":   {Name: "postgres"},
	"supabase":   {Name: "postgres"},
	"snowflake":  genericDialect, // mapped to generic: see SPEC_FULL.md §4.5 dialect selection
	"mssql":      {Name: "mssql"},
	"sqlite":     {Name: "sqlite"},
	"hive":       {Name: "hive"},
	"clickhouse": {Name: "clickhouse"},
	"duckdb":     {Name: "duckdb"},
	"ansi":       genericDialect,
}

// resolveDialect maps a data-source dialect name to its Dialect, falling
// back to the generic dialect for anything unrecognised.
func resolveDialect(name string) Dialect {
	d, ok := dialects[strings.ToLower(name)]
	if !ok || d.Name == "" {
		return genericDialect
	}
	return d
}
