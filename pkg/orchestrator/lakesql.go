// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// lakeCount runs COUNT(*) against the lake, parsed defensively per spec
// §4.1 Step 0: any error yields 0 rather than propagating.
func (o *Orchestrator) lakeCount(ctx context.Context, schema, table string) int64 {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s.%s", pq.QuoteIdentifier(schema), pq.QuoteIdentifier(table))
	var n int64
	if err := o.lake.QueryRowContext(ctx, query).Scan(&n); err != nil || n < 0 {
		return 0
	}
	return n
}

// truncateLake unconditionally empties the target table (spec §4.1 Step 1).
func (o *Orchestrator) truncateLake(ctx context.Context, schema, table string) error {
	query := fmt.Sprintf("TRUNCATE TABLE %s.%s CASCADE", pq.QuoteIdentifier(schema), pq.QuoteIdentifier(table))
	_, err := o.lake.ExecContext(ctx, query)
	return err
}

// lakePKPage pages the lake's PK columns in ascending order, batchSize at a
// time, starting strictly after the given cursor values (spec §4.1.2 step
// 1). Returns rows of PK component strings.
func (o *Orchestrator) lakePKPage(ctx context.Context, schema, table string, pkCols []string, after []string, batchSize int) ([][]string, error) {
	quotedPK := make([]string, len(pkCols))
	for i, c := range pkCols {
		quotedPK[i] = pq.QuoteIdentifier(c)
	}

	var where string
	var args []any
	if len(after) == len(pkCols) && len(after) > 0 {
		var orClauses []string
		n := 1
		for i := range pkCols {
			var andClauses []string
			for j := 0; j < i; j++ {
				andClauses = append(andClauses, fmt.Sprintf("%s = $%d", quotedPK[j], n))
				args = append(args, after[j])
				n++
			}
			andClauses = append(andClauses, fmt.Sprintf("%s > $%d", quotedPK[i], n))
			args = append(args, after[i])
			n++
			orClauses = append(orClauses, "("+strings.Join(andClauses, " AND ")+")")
		}
		where = "WHERE " + strings.Join(orClauses, " OR ")
	}

	query := fmt.Sprintf("SELECT %s FROM %s.%s %s ORDER BY %s LIMIT %d",
		strings.Join(quotedPK, ", "), pq.QuoteIdentifier(schema), pq.QuoteIdentifier(table), where,
		strings.Join(quotedPK, ", "), batchSize)

	rows, err := o.lake.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var page [][]string
	for rows.Next() {
		vals := make([]sql.NullString, len(pkCols))
		ptrs := make([]any, len(pkCols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make([]string, len(pkCols))
		for i, v := range vals {
			if v.Valid {
				row[i] = v.String
			}
		}
		page = append(page, row)
	}
	return page, rows.Err()
}

// pkWhereClause renders a "col = $n AND col2 = $n+1 ..." predicate for
// one PK tuple, treating empty string as SQL NULL for components that were
// stored from a NULL lake value (spec boundary: "Row whose PK contains a
// NULL ... dropped with a warning" means such rows never reach the lake
// with a NULL PK, but deletes/updates still guard defensively).
func pkWhereClause(pkCols, values []string, argStart int) (string, []any, int) {
	var parts []string
	var args []any
	n := argStart
	for i, c := range pkCols {
		q := pq.QuoteIdentifier(c)
		if values[i] == "" {
			parts = append(parts, fmt.Sprintf("%s IS NULL", q))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s = $%d", q, n))
		args = append(args, values[i])
		n++
	}
	return strings.Join(parts, " AND "), args, n
}

// lakeDeleteByPK issues one DELETE covering every row tuple in rows, OR-ed
// together (spec §4.1.2 step 3).
func (o *Orchestrator) lakeDeleteByPK(ctx context.Context, schema, table string, pkCols []string, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}

	var orClauses []string
	var args []any
	n := 1
	for _, row := range rows {
		clause, rowArgs, next := pkWhereClause(pkCols, row, n)
		orClauses = append(orClauses, "("+clause+")")
		args = append(args, rowArgs...)
		n = next
	}

	query := fmt.Sprintf("DELETE FROM %s.%s WHERE %s",
		pq.QuoteIdentifier(schema), pq.QuoteIdentifier(table), strings.Join(orClauses, " OR "))
	_, err := o.lake.ExecContext(ctx, query, args...)
	return err
}

// lakeRowByPK fetches one row's named columns as strings, keyed by column
// name, for field-by-field comparison during update reconciliation (spec
// §4.1.3 step 3). ok is false when no matching row exists.
func (o *Orchestrator) lakeRowByPK(ctx context.Context, schema, table string, cols, pkCols, pkValues []string) (row map[string]string, ok bool, err error) {
	quotedCols := make([]string, len(cols))
	for i, c := range cols {
		quotedCols[i] = pq.QuoteIdentifier(strings.ToLower(c))
	}

	where, args, _ := pkWhereClause(pkCols, pkValues, 1)
	query := fmt.Sprintf("SELECT %s FROM %s.%s WHERE %s LIMIT 1",
		strings.Join(quotedCols, ", "), pq.QuoteIdentifier(schema), pq.QuoteIdentifier(table), where)

	vals := make([]sql.NullString, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}

	if err := o.lake.QueryRowContext(ctx, query, args...).Scan(ptrs...); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}

	row = make(map[string]string, len(cols))
	for i, c := range cols {
		if vals[i].Valid {
			row[strings.ToLower(c)] = vals[i].String
		}
	}
	return row, true, nil
}

// lakeContainsAll reports whether every PK tuple in batch exists in the
// lake, via one batched existence query (spec §4.1.1 consistency check).
func (o *Orchestrator) lakeContainsAll(ctx context.Context, schema, table string, pkCols []string, batch [][]string) (bool, error) {
	if len(batch) == 0 {
		return true, nil
	}

	var orClauses []string
	var args []any
	n := 1
	for _, row := range batch {
		clause, rowArgs, next := pkWhereClause(pkCols, row, n)
		orClauses = append(orClauses, "("+clause+")")
		args = append(args, rowArgs...)
		n = next
	}

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s.%s WHERE %s",
		pq.QuoteIdentifier(schema), pq.QuoteIdentifier(table), strings.Join(orClauses, " OR "))

	var count int64
	if err := o.lake.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, err
	}
	return count == int64(len(batch)), nil
}

// lakeUpdateRow issues a narrow UPDATE over only the changed columns (spec
// §4.1.3 step 3).
func (o *Orchestrator) lakeUpdateRow(ctx context.Context, schema, table string, pkCols, pkValues []string, changed map[string]any) error {
	if len(changed) == 0 {
		return nil
	}

	var setClauses []string
	var args []any
	n := 1
	for col, val := range changed {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", pq.QuoteIdentifier(strings.ToLower(col)), n))
		args = append(args, val)
		n++
	}

	where, whereArgs, _ := pkWhereClause(pkCols, pkValues, n)
	args = append(args, whereArgs...)

	query := fmt.Sprintf("UPDATE %s.%s SET %s WHERE %s",
		pq.QuoteIdentifier(schema), pq.QuoteIdentifier(table), strings.Join(setClauses, ", "), where)
	_, err := o.lake.ExecContext(ctx, query, args...)
	return err
}
