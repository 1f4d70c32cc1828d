package resolve

import (
	"context"
	"strings"
)

// DefaultChunkSize bounds the number of values in one lookup.
const DefaultChunkSize = 100

// Lookup asks the target for the identifiers of ObjectType records whose
// Field equals one of Values.
type Lookup struct {
	ObjectType string
	Field      string
	Values     []string
}

// Querier runs natural-key lookups against the target. The result maps a
// value to the identifier of the record holding it.
type Querier interface {
	QueryIDs(ctx context.Context, lookup Lookup) (map[string]string, error)
}

// Filter renders the lookup as a text-query predicate with escaped literals.
func (l Lookup) Filter() string {
	quoted := make([]string, len(l.Values))
	for i, v := range l.Values {
		quoted[i] = "'" + Escape(v) + "'"
	}
	return l.Field + " IN (" + strings.Join(quoted, ", ") + ")"
}

var escaper = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	"\n", `\n`,
	"\r", `\r`,
)

// Escape prepares a value for use inside a single-quoted query literal.
func Escape(v string) string {
	return escaper.Replace(v)
}

func chunk(values []string, size int) [][]string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	var out [][]string
	for len(values) > size {
		out = append(out, values[:size:size])
		values = values[size:]
	}
	if len(values) > 0 {
		out = append(out, values)
	}
	return out
}
