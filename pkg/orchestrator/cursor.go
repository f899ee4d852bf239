// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"fmt"
	"strings"

	"github.com/lakesync/lakesync/pkg/source"
)

// cursorSeparator joins PK tuple components into the opaque cursor string
// (GLOSSARY: Cursor — "v1|v2|...|vn").
const cursorSeparator = "|"

func encodeCursor(values []string) string {
	return strings.Join(values, cursorSeparator)
}

func decodeCursor(cursor string) []string {
	if cursor == "" {
		return nil
	}
	return strings.Split(cursor, cursorSeparator)
}

// buildCursorWhere renders the keyset-pagination predicate for PK-strategy
// tables: "pk > last" for a single column, or the nested OR/AND expansion
// for composite keys (spec §9 "Cursor-based pagination vs. OFFSET"):
// (a>?) OR (a=? AND b>?) OR (a=? AND b=? AND c>?). Returns "" when there is
// no cursor yet (first chunk of a fresh load).
func buildCursorWhere(adapter source.Adapter, pkCols []string, cursorValues []string, argStart int) (clause string, args []any, nextArg int) {
	if len(cursorValues) == 0 || len(cursorValues) != len(pkCols) {
		return "", nil, argStart
	}

	n := argStart
	var orClauses []string

	for i := range pkCols {
		var andClauses []string
		for j := 0; j < i; j++ {
			andClauses = append(andClauses, fmt.Sprintf("%s = %s", adapter.QuoteIdentifier(pkCols[j]), adapter.Placeholder(n)))
			args = append(args, cursorValues[j])
			n++
		}
		andClauses = append(andClauses, fmt.Sprintf("%s > %s", adapter.QuoteIdentifier(pkCols[i]), adapter.Placeholder(n)))
		args = append(args, cursorValues[i])
		n++
		orClauses = append(orClauses, "("+strings.Join(andClauses, " AND ")+")")
	}

	return strings.Join(orClauses, " OR "), args, n
}
