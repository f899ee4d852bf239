// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"fmt"
	"strings"

	"github.com/lakesync/lakesync/pkg/source"
)

// selectQuery renders a SELECT against a source adapter's dialect: a
// column list, an optional WHERE clause, an ORDER BY over orderCols (when
// non-empty), and a trailing page clause (LIMIT/OFFSET or OFFSET/FETCH,
// supplied by the caller via adapter.PageClause).
func selectQuery(adapter source.Adapter, schema, table string, selectCols []string, where string, orderCols []string, pageClause string) string {
	quotedSelect := quoteAll(adapter, selectCols)

	query := fmt.Sprintf("SELECT %s FROM %s.%s",
		strings.Join(quotedSelect, ", "), adapter.QuoteIdentifier(schema), adapter.QuoteIdentifier(table))

	if where != "" {
		query += " WHERE " + where
	}

	if len(orderCols) > 0 {
		query += " ORDER BY " + strings.Join(quoteAll(adapter, orderCols), ", ")
	} else if nat := adapter.NaturalOrderClause(); nat != "" {
		query += " " + nat
	}

	if pageClause != "" {
		query += " " + pageClause
	}

	return query
}

func quoteAll(adapter source.Adapter, names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = adapter.QuoteIdentifier(n)
	}
	return out
}

func columnNames(cols []source.Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}

func lowerAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = strings.ToLower(n)
	}
	return out
}

// buildExistsWhere renders an equality-tuple OR predicate used to ask one
// side whether a batch of PK tuples from the other side still exists
// (spec §4.1.2 step 2).
func buildExistsWhere(adapter source.Adapter, pkCols []string, batch [][]string, argStart int) (clause string, args []any, nextArg int) {
	var orClauses []string
	n := argStart
	for _, row := range batch {
		var andClauses []string
		for i, c := range pkCols {
			andClauses = append(andClauses, fmt.Sprintf("%s = %s", adapter.QuoteIdentifier(c), adapter.Placeholder(n)))
			args = append(args, row[i])
			n++
		}
		orClauses = append(orClauses, "("+strings.Join(andClauses, " AND ")+")")
	}
	return strings.Join(orClauses, " OR "), args, n
}

// indexesOf returns, for each name in want, its position within names.
func indexesOf(names, want []string) []int {
	pos := make(map[string]int, len(names))
	for i, n := range names {
		pos[n] = i
	}
	out := make([]int, len(want))
	for i, w := range want {
		out[i] = pos[w]
	}
	return out
}
