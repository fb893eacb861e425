package internal

import (
	"fmt"
	"strings"

	"github.com/lychee-technology/flexy"
)

// ViewSQLGenerator renders the CREATE VIEW statement for one dialect. The
// projection is text-typed: each attr_ column carries the populated typed
// column of the matching value row rendered as text, so the view shape is
// stable across field kind changes. The view spans every entity type, so
// callers pass the union of all tracked field names.
type ViewSQLGenerator interface {
	// ViewDDL renders the pivot view over the given known field names. An
	// empty name set yields the identity-only projection.
	ViewDDL(fieldNames []string) (string, error)
	// Dialect returns the generator's dialect tag.
	Dialect() string
}

// PostgresViewSQLGenerator renders the projection view for PostgreSQL.
type PostgresViewSQLGenerator struct {
	tables flexy.TableNames
	prefix string
}

func NewPostgresViewSQLGenerator(tables flexy.TableNames, columnPrefix string) *PostgresViewSQLGenerator {
	if columnPrefix == "" {
		columnPrefix = flexy.DefaultAttrColumnPrefix
	}
	return &PostgresViewSQLGenerator{tables: tables, prefix: columnPrefix}
}

func (g *PostgresViewSQLGenerator) Dialect() string { return flexy.DialectPostgres }

func (g *PostgresViewSQLGenerator) ViewDDL(fieldNames []string) (string, error) {
	return renderViewDDL(g.tables, g.prefix, fieldNames, postgresTextExpr)
}

// postgresTextExpr renders whichever typed column is populated as text.
func postgresTextExpr() string {
	return "COALESCE(v.value_string, v.value_int::text, v.value_decimal::text, v.value_boolean::text, " +
		"to_char(v.value_date, 'YYYY-MM-DD'), to_char(v.value_datetime, 'YYYY-MM-DD\"T\"HH24:MI:SS.USOF'), v.value_json::text)"
}

// DuckDBViewSQLGenerator renders the projection view for DuckDB, used when
// the value table has been replicated into an analytical snapshot.
type DuckDBViewSQLGenerator struct {
	tables flexy.TableNames
	prefix string
}

func NewDuckDBViewSQLGenerator(tables flexy.TableNames, columnPrefix string) *DuckDBViewSQLGenerator {
	if columnPrefix == "" {
		columnPrefix = flexy.DefaultAttrColumnPrefix
	}
	return &DuckDBViewSQLGenerator{tables: tables, prefix: columnPrefix}
}

func (g *DuckDBViewSQLGenerator) Dialect() string { return flexy.DialectDuckDB }

func (g *DuckDBViewSQLGenerator) ViewDDL(fieldNames []string) (string, error) {
	return renderViewDDL(g.tables, g.prefix, fieldNames, duckdbTextExpr)
}

func duckdbTextExpr() string {
	return "COALESCE(v.value_string, CAST(v.value_int AS VARCHAR), CAST(v.value_decimal AS VARCHAR), " +
		"CAST(v.value_boolean AS VARCHAR), strftime(v.value_date, '%Y-%m-%d'), " +
		"strftime(v.value_datetime, '%Y-%m-%dT%H:%M:%S.%f'), CAST(v.value_json AS VARCHAR))"
}

// renderViewDDL emits a plain CREATE VIEW: Postgres only lets CREATE OR
// REPLACE append trailing columns, so the projector drops the view first.
func renderViewDDL(tables flexy.TableNames, prefix string, fieldNames []string, textExpr func() string) (string, error) {
	for _, name := range fieldNames {
		if !flexy.ValidFieldName(name) {
			return "", fmt.Errorf("field name %q is not a legal view column", name)
		}
	}

	view := sanitizeIdentifier(tables.View)
	values := sanitizeIdentifier(tables.Values)

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE VIEW %s AS\nSELECT v.entity_type, v.entity_id, MAX(v.schema_code) AS schema_code", view)
	for _, name := range fieldNames {
		fmt.Fprintf(&b, ",\n    MAX(CASE WHEN v.field_name = '%s' THEN %s END) AS %s",
			name, textExpr(), sanitizeIdentifier(prefix+name))
	}
	fmt.Fprintf(&b, "\nFROM %s v\nGROUP BY v.entity_type, v.entity_id", values)
	return b.String(), nil
}
