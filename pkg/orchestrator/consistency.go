// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"

	"github.com/lakesync/lakesync/pkg/catalog"
	"github.com/lakesync/lakesync/pkg/source"
)

// consistencyBatchSize is the sampling batch size for the subset check
// (spec §4.1.1).
const consistencyBatchSize = 1000

// consistencyCheck reports whether the source's PK set is a subset of the
// lake's, sampled batch-wise. No-PK tables compare only counts, which are
// already known equal by the caller (spec §4.1.1).
func (o *Orchestrator) consistencyCheck(ctx context.Context, entry *catalog.Entry, adapter source.Adapter) (bool, error) {
	if !entry.HasPK() {
		return true, nil
	}

	pkCols := entry.PKColumns
	var cursor []string

	for {
		where, args, _ := buildCursorWhere(adapter, pkCols, cursor, 1)
		query := selectQuery(adapter, entry.SchemaName, entry.TableName, pkCols, where, pkCols, adapter.PageClause(consistencyBatchSize, 0))

		rows, err := adapter.ExecuteQuery(ctx, query, args...)
		if err != nil {
			return false, err
		}
		if len(rows) == 0 {
			break
		}

		batch := make([][]string, len(rows))
		for i, r := range rows {
			batch[i] = r.Cells[:len(pkCols)]
		}

		ok, err := o.lakeContainsAll(ctx, entry.SchemaName, entry.TableName, pkCols, batch)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}

		cursor = batch[len(batch)-1]
		if len(rows) < consistencyBatchSize {
			break
		}
	}

	return true, nil
}
