// SPDX-License-Identifier: Apache-2.0

package writer

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
)

// buildStatement renders one INSERT (and, when pkCols is non-empty,
// ON CONFLICT DO UPDATE) statement for rows. Values are embedded as SQL
// literals via pq.QuoteLiteral rather than bound as placeholders: batches
// carry a variable number of rows and the writer's error-recovery path
// re-renders single-row statements from the same rows slice, so building
// one literal-valued statement keeps both paths identical.
func buildStatement(schema, table string, cols, pkCols []string, rows [][]any) string {
	qualified := fmt.Sprintf("%s.%s", pq.QuoteIdentifier(schema), pq.QuoteIdentifier(table))

	quotedCols := make([]string, len(cols))
	for i, c := range cols {
		quotedCols[i] = pq.QuoteIdentifier(c)
	}

	valueTuples := make([]string, len(rows))
	for i, row := range rows {
		literals := make([]string, len(row))
		for j, v := range row {
			literals[j] = literal(v)
		}
		valueTuples[i] = "(" + strings.Join(literals, ", ") + ")"
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		qualified, strings.Join(quotedCols, ", "), strings.Join(valueTuples, ", "))

	if len(pkCols) == 0 {
		return stmt
	}

	quotedPK := make([]string, len(pkCols))
	for i, c := range pkCols {
		quotedPK[i] = pq.QuoteIdentifier(c)
	}

	updates := make([]string, 0, len(cols))
	for _, c := range cols {
		if contains(pkCols, c) {
			continue
		}
		q := pq.QuoteIdentifier(c)
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", q, q))
	}

	if len(updates) == 0 {
		return fmt.Sprintf("%s ON CONFLICT (%s) DO NOTHING", stmt, strings.Join(quotedPK, ", "))
	}

	return fmt.Sprintf("%s ON CONFLICT (%s) DO UPDATE SET %s",
		stmt, strings.Join(quotedPK, ", "), strings.Join(updates, ", "))
}

// literal renders v as a SQL literal. nil becomes NULL; bools and Go
// integer and float values are written unquoted; a time.Time is quoted in
// timestamptz text form; everything else (including the normalizer's
// number-as-string values) is stringified and quoted.
func literal(v any) string {
	if v == nil {
		return "NULL"
	}
	switch t := v.(type) {
	case bool:
		return strconv.FormatBool(t)
	case int, int32, int64:
		return fmt.Sprintf("%d", t)
	case float32, float64:
		return fmt.Sprintf("%v", t)
	case time.Time:
		return pq.QuoteLiteral(t.Format("2006-01-02 15:04:05.999999-07"))
	default:
		return pq.QuoteLiteral(fmt.Sprintf("%v", t))
	}
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
