// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"sort"
	"time"

	"github.com/lakesync/lakesync/pkg/catalog"
	"github.com/lakesync/lakesync/pkg/normalize"
	"github.com/lakesync/lakesync/pkg/pipeline"
	"github.com/lakesync/lakesync/pkg/source"
	"github.com/lakesync/lakesync/pkg/synerr"
	"github.com/lakesync/lakesync/pkg/writer"
)

// pipelineMinRemainingRows is the remaining-row count above which Step 5
// uses the parallel chunk pipeline (C7, spec §4.5) instead of the serial
// transfer loop: small remainders don't amortise the fan-out's goroutine
// overhead.
const pipelineMinRemainingRows = 50_000

// transferPipeline runs Step 5 via the three-stage pipeline: a fetcher
// drives the same cursor logic as transferLoop, K preparers normalise and
// batch rows, and K inserters run the writer's error-recovery path.
// Ordering is not preserved between preparers and inserters, so the
// cursor is only advanced to the longest contiguous-from-zero run of
// successful chunks once the pipeline drains (spec §4.5).
func (o *Orchestrator) transferPipeline(ctx context.Context, entry *catalog.Entry, adapter source.Adapter, cols []source.Column, sourceCount, targetCount int64) (finalTarget int64, aborted bool, err error) {
	chunkSize := o.cfg.ChunkSize
	selectCols := columnNames(cols)
	lakeCols := lowerAll(selectCols)
	pkCols := entry.PKColumns
	usePK := entry.PKStrategy == catalog.StrategyPK && len(pkCols) > 0

	cursor := decodeCursor(entry.LastProcessedPK)
	offset := toInt(entry.SyncMetadata["last_offset"])

	chunkCursorAt := map[int]string{}
	chunkOffsetAt := map[int]int{}

	cfg := pipeline.Config{
		Preparers:     o.cfg.BatchPreparers,
		Inserters:     o.cfg.BatchInserters,
		QueueSize:     o.cfg.MaxQueueSize,
		RetryInterval: 100 * time.Millisecond,
		RetryBudget:   5 * time.Second,
	}

	start := time.Now()
	var fetchErr error
	var dropped bool

	fetch := func(ctx context.Context, push func(pipeline.DataChunk) bool) {
		chunkNo := 0
		for {
			if time.Since(start) > o.cfg.MaxProcessingTime() {
				fetchErr = &synerr.CursorStallError{Schema: entry.SchemaName, Table: entry.TableName, Reason: "processing time budget exceeded"}
				return
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
				fetchErr = qerr
				return
			}
			if len(rows) == 0 {
				return
			}

			chunk := pipeline.DataChunk{Rows: rowsToCells(rows), ChunkNo: chunkNo, Schema: entry.SchemaName, Table: entry.TableName}
			if !push(chunk) {
				dropped = true
				return
			}

			if usePK {
				last := rows[len(rows)-1]
				cursor = append([]string{}, last.Cells[:len(pkCols)]...)
				chunkCursorAt[chunkNo] = encodeCursor(cursor)
			} else {
				offset += len(rows)
				chunkOffsetAt[chunkNo] = offset
			}
			chunkNo++

			if len(rows) < chunkSize {
				return
			}
		}
	}

	prepare := func(ctx context.Context, chunk pipeline.DataChunk) (pipeline.PreparedBatch, error) {
		batch := make([][]any, len(chunk.Rows))
		for i, cells := range chunk.Rows {
			vals := make([]any, len(cols))
			for j, c := range cols {
				vals[j] = normalize.Value(entry.DBEngine, cells[j], c)
			}
			batch[i] = vals
		}
		return pipeline.PreparedBatch{Rows: batch, RowCount: len(batch), ChunkNo: chunk.ChunkNo, Schema: chunk.Schema, Table: chunk.Table}, nil
	}

	insert := func(ctx context.Context, pb pipeline.PreparedBatch) pipeline.ProcessedResult {
		var result writer.Result
		var werr error
		if len(pkCols) > 0 {
			result, werr = o.writer.BulkUpsert(ctx, entry.SchemaName, entry.TableName, lakeCols, lowerAll(pkCols), pb.Rows)
		} else {
			result, werr = o.writer.BulkInsert(ctx, entry.SchemaName, entry.TableName, lakeCols, pb.Rows)
		}
		return pipeline.ProcessedResult{ChunkNo: pb.ChunkNo, Schema: pb.Schema, Table: pb.Table, RowsProcessed: result.RowsProcessed, OK: werr == nil, Err: werr}
	}

	results := pipeline.Run(ctx, cfg, fetch, prepare, insert)

	if fetchErr != nil {
		return targetCount, true, fetchErr
	}

	sort.Slice(results, func(i, j int) bool { return results[i].ChunkNo < results[j].ChunkNo })

	safeChunks := 0
	var processed int64
	var failErr error
	for _, r := range results {
		if !r.OK || r.ChunkNo != safeChunks {
			if !r.OK {
				failErr = r.Err
			}
			break
		}
		processed += int64(r.RowsProcessed)
		safeChunks++
	}

	targetCount += processed

	if usePK && safeChunks > 0 {
		if c, ok := chunkCursorAt[safeChunks-1]; ok {
			_ = o.catalog.UpdateCursor(ctx, entry, catalog.StatusInProgress, c)
		}
	} else if !usePK && safeChunks > 0 {
		if off, ok := chunkOffsetAt[safeChunks-1]; ok {
			_ = o.catalog.MergeSyncMetadata(ctx, entry, catalog.StatusInProgress, map[string]any{"last_offset": off})
		}
	}

	if dropped {
		return targetCount, true, &synerr.CursorStallError{Schema: entry.SchemaName, Table: entry.TableName, Reason: "pipeline queue backpressure exceeded retry budget"}
	}
	if safeChunks < len(results) {
		if failErr == nil {
			failErr = &synerr.CursorStallError{Schema: entry.SchemaName, Table: entry.TableName, Reason: "pipeline reported a chunk failure"}
		}
		return targetCount, true, failErr
	}

	return targetCount, false, nil
}

func rowsToCells(rows []source.Row) [][]string {
	cells := make([][]string, len(rows))
	for i, r := range rows {
		cells[i] = r.Cells
	}
	return cells
}
