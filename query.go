package flexy

import (
	"fmt"
	"regexp"
	"sort"
)

// DefaultAttrColumnPrefix matches ProjectionConfig.ColumnPrefix's default.
const DefaultAttrColumnPrefix = "attr_"

var attrNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidFieldName reports whether a field name is usable as a view column.
func ValidFieldName(name string) bool {
	return attrNamePattern.MatchString(name)
}

// AttrColumn returns the projection view column name for a field, e.g.
// AttrColumn("color") == "attr_color". Host query builders use this to
// filter and sort on ad-hoc attributes with plain relational predicates.
func AttrColumn(name string) string {
	return DefaultAttrColumnPrefix + name
}

// AttrColumnWithPrefix is AttrColumn for a non-default column prefix.
func AttrColumnWithPrefix(prefix, name string) string {
	return prefix + name
}

// WhereAttr returns a predicate fragment and its argument for an equality
// filter on a projected attribute column, using the given placeholder (e.g.
// "$1" for postgres, "?" for duckdb). Field names that cannot be projected
// are rejected rather than interpolated.
func WhereAttr(name, placeholder string, value any) (string, []any, error) {
	if !ValidFieldName(name) {
		return "", nil, fmt.Errorf("invalid attribute name: %q", name)
	}
	return fmt.Sprintf("%s = %s", AttrColumn(name), placeholder), []any{value}, nil
}

// WhereSchema returns a predicate fragment restricting view rows to one
// schema code.
func WhereSchema(placeholder string, code string) (string, []any) {
	return "schema_code = " + placeholder, []any{code}
}

// OrderByAttr returns an ORDER BY fragment for a projected attribute column.
func OrderByAttr(name string, descending bool) (string, error) {
	if !ValidFieldName(name) {
		return "", fmt.Errorf("invalid attribute name: %q", name)
	}
	direction := "ASC"
	if descending {
		direction = "DESC"
	}
	return AttrColumn(name) + " " + direction, nil
}

// SortFieldDefinitions orders definitions by sort ascending with insertion
// order breaking ties, matching ListFields semantics for in-memory slices.
func SortFieldDefinitions(defs []*FieldDefinition) {
	sort.SliceStable(defs, func(i, j int) bool {
		if defs[i].Sort != defs[j].Sort {
			return defs[i].Sort < defs[j].Sort
		}
		return defs[i].Position < defs[j].Position
	})
}
