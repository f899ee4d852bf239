// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/lakesync/lakesync/pkg/catalog"
	"github.com/lakesync/lakesync/pkg/normalize"
	"github.com/lakesync/lakesync/pkg/source"
)

// maxUpdateReconciliationRows caps the per-cycle scan (spec §4.1.3 step 2).
const maxUpdateReconciliationRows = 10_000

// updateReconciliation applies the timestamp-column incremental update
// pass: rows modified on the source since last_sync_time are diffed
// field-by-field against the lake and patched with a narrow UPDATE (spec
// §4.1.3). A no-op when entry.LastSyncColumn is unset.
func (o *Orchestrator) updateReconciliation(ctx context.Context, entry *catalog.Entry, adapter source.Adapter, cols []source.Column) error {
	if entry.LastSyncColumn == "" {
		return nil
	}

	selectCols := columnNames(cols)
	where := fmt.Sprintf("%s > %s", adapter.QuoteIdentifier(entry.LastSyncColumn), adapter.Placeholder(1))
	query := selectQuery(adapter, entry.SchemaName, entry.TableName, selectCols, where,
		[]string{entry.LastSyncColumn}, adapter.PageClause(maxUpdateReconciliationRows, 0))

	ts := entry.LastSyncTime.Format("2006-01-02 15:04:05")
	rows, err := adapter.ExecuteQuery(ctx, query, ts)
	if err != nil {
		return err
	}

	pkIdx := indexesOf(selectCols, entry.PKColumns)

	for _, row := range rows {
		pkValues := make([]string, len(entry.PKColumns))
		for i, idx := range pkIdx {
			pkValues[i] = row.Cells[idx]
		}

		lakeRow, ok, err := o.lakeRowByPK(ctx, entry.SchemaName, entry.TableName, selectCols, entry.PKColumns, pkValues)
		if err != nil {
			return err
		}
		if !ok {
			// Absent on the lake; the transfer loop handles inserts.
			continue
		}

		changed := map[string]any{}
		for i, col := range selectCols {
			newVal := normalize.Value(entry.DBEngine, row.Cells[i], cols[i])
			lakeVal := lakeRow[strings.ToLower(col)]
			if fmt.Sprintf("%v", newVal) != lakeVal {
				changed[col] = newVal
			}
		}

		if len(changed) > 0 {
			if err := o.lakeUpdateRow(ctx, entry.SchemaName, entry.TableName, entry.PKColumns, pkValues, changed); err != nil {
				return err
			}
		}
	}

	return nil
}
