package internal

import (
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// sanitizeIdentifier quotes a possibly schema-qualified identifier for safe
// interpolation into generated SQL.
func sanitizeIdentifier(name string) string {
	if name == "" {
		return ""
	}
	parts := strings.Split(name, ".")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.Trim(part, " \"")
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}
	if len(clean) == 0 {
		clean = []string{name}
	}
	return pgx.Identifier(clean).Sanitize()
}

// sortedNames returns a sorted copy so generated view columns have a
// deterministic order.
func sortedNames(names []string) []string {
	out := make([]string, len(names))
	copy(out, names)
	sort.Strings(out)
	return out
}

func nowMillis(now func() time.Time) int64 {
	if now == nil {
		return time.Now().UnixMilli()
	}
	return now().UnixMilli()
}
