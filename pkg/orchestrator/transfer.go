// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"time"

	"github.com/lakesync/lakesync/pkg/catalog"
	"github.com/lakesync/lakesync/pkg/normalize"
	"github.com/lakesync/lakesync/pkg/source"
	"github.com/lakesync/lakesync/pkg/synerr"
	"github.com/lakesync/lakesync/pkg/writer"
)

// maxChunkIterations guards against cursor non-progress bugs (spec §4.1
// Step 5 termination conditions, design default 10 000).
const maxChunkIterations = 10_000

// transferLoop runs Step 5: extract, normalize, and upsert chunks until
// one of the termination conditions fires. It returns the lake row count
// observed after the loop, whether the loop aborted on an error, and the
// error itself (nil on a clean stop).
func (o *Orchestrator) transferLoop(ctx context.Context, entry *catalog.Entry, adapter source.Adapter, cols []source.Column, sourceCount, targetCount int64) (finalTarget int64, aborted bool, err error) {
	start := time.Now()
	chunkSize := o.cfg.ChunkSize
	selectCols := columnNames(cols)
	lakeCols := lowerAll(selectCols)
	pkCols := entry.PKColumns
	usePK := entry.PKStrategy == catalog.StrategyPK && len(pkCols) > 0

	cursor := decodeCursor(entry.LastProcessedPK)
	offset := toInt(entry.SyncMetadata["last_offset"])

	for iteration := 1; ; iteration++ {
		if iteration > maxChunkIterations {
			return targetCount, true, &synerr.CursorStallError{Schema: entry.SchemaName, Table: entry.TableName, Reason: "chunk iteration cap exceeded"}
		}
		if time.Since(start) > o.cfg.MaxProcessingTime() {
			return targetCount, true, &synerr.CursorStallError{Schema: entry.SchemaName, Table: entry.TableName, Reason: "processing time budget exceeded"}
		}

		var query string
		var args []any
		if usePK {
			where, whereArgs, _ := buildCursorWhere(adapter, pkCols, cursor, 1)
			query = selectQuery(adapter, entry.SchemaName, entry.TableName, selectCols, where, pkCols, adapter.PageClause(chunkSize, 0))
			args = whereArgs
		} else {
			query = selectQuery(adapter, entry.SchemaName, entry.TableName, selectCols, "", nil, adapter.PageClause(chunkSize, offset))
		}

		rows, qerr := adapter.ExecuteQuery(ctx, query, args...)
		if qerr != nil {
			return targetCount, true, qerr
		}
		if len(rows) == 0 {
			break
		}

		batch := make([][]any, len(rows))
		for i, r := range rows {
			vals := make([]any, len(cols))
			for j, c := range cols {
				vals[j] = normalize.Value(entry.DBEngine, r.Cells[j], c)
			}
			batch[i] = vals
		}

		var result writer.Result
		var werr error
		if len(pkCols) > 0 {
			result, werr = o.writer.BulkUpsert(ctx, entry.SchemaName, entry.TableName, lakeCols, lowerAll(pkCols), batch)
		} else {
			result, werr = o.writer.BulkInsert(ctx, entry.SchemaName, entry.TableName, lakeCols, batch)
		}
		if werr != nil {
			return targetCount, true, werr
		}

		targetCount += int64(result.RowsProcessed)

		if usePK {
			last := rows[len(rows)-1]
			cursor = append([]string{}, last.Cells[:len(pkCols)]...)
			if err := o.catalog.UpdateCursor(ctx, entry, catalog.StatusInProgress, encodeCursor(cursor)); err != nil {
				return targetCount, true, err
			}
		} else {
			offset += len(rows)
			if err := o.catalog.MergeSyncMetadata(ctx, entry, catalog.StatusInProgress, map[string]any{"last_offset": offset}); err != nil {
				return targetCount, true, err
			}
		}

		if len(rows) < chunkSize {
			break
		}
		if targetCount >= sourceCount {
			break
		}
	}

	return targetCount, false, nil
}

func toInt(v any) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	case int64:
		return int(t)
	default:
		return 0
	}
}
