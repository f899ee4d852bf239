// SPDX-License-Identifier: Apache-2.0

// Package writer builds and executes batched INSERT and
// INSERT ... ON CONFLICT statements against the lake, with the
// error-class-specific recovery policy from spec §4.3.2.
package writer

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/lakesync/lakesync/pkg/config"
	"github.com/lakesync/lakesync/pkg/logging"
	"github.com/lakesync/lakesync/pkg/synerr"
)

// MaxBatchSize is the hard cap on rows per statement (spec §4.3.1).
const MaxBatchSize = 1000

// MaxQuerySize is the design-default cap on serialised query size in
// bytes, accounting for headers and conflict clauses (spec §4.3.1).
const MaxQuerySize = 1 << 20

// Writer executes bulk writes against the lake *sql.DB it is given. The
// scheduler builds one Writer per table task, every one over the same
// shared lake *sql.DB; no worker holds a lake connection of its own.
type Writer struct {
	conn   *sql.DB
	logger logging.Logger
	cfg    config.Config
}

// New returns a Writer bound to conn, the raw lake *sql.DB. The writer
// needs RawConn rather than the retry-wrapped db.DB because its error
// recovery paths issue DDL (ALTER COLUMN) and per-row transactions that
// must not be retried by the lock-timeout backoff in pkg/db — those are
// a different error class entirely.
func New(conn *sql.DB, logger logging.Logger, cfg config.Config) *Writer {
	return &Writer{conn: conn, logger: logger, cfg: cfg}
}

// Result is the outcome of one BulkInsert/BulkUpsert call.
type Result struct {
	RowsProcessed int
	RowsDropped   int
	RowsSkipped   int
}

// BulkInsert writes rows with no conflict handling — used when the target
// table has no primary key (spec §4.3.1).
func (w *Writer) BulkInsert(ctx context.Context, schema, table string, cols []string, rows [][]any) (Result, error) {
	return w.write(ctx, schema, table, cols, nil, rows)
}

// BulkUpsert writes rows with INSERT ... ON CONFLICT (pk) DO UPDATE. When
// pkCols is empty, it delegates to BulkInsert; there is no full-row
// conflict target. The CDC consumer upserts no-PK tables by passing the
// synthetic "_hash" column as pkCols (spec §4.3.1).
func (w *Writer) BulkUpsert(ctx context.Context, schema, table string, cols, pkCols []string, rows [][]any) (Result, error) {
	if len(pkCols) == 0 {
		return w.BulkInsert(ctx, schema, table, cols, rows)
	}
	return w.write(ctx, schema, table, cols, pkCols, rows)
}

func (w *Writer) write(ctx context.Context, schema, table string, cols, pkCols []string, rows [][]any) (Result, error) {
	result := Result{}

	deduped, dropped := collapseDuplicates(rows, pkColIndexes(cols, pkCols))
	result.RowsDropped = dropped

	for _, batch := range chunkBatches(deduped, len(cols), MaxBatchSize, MaxQuerySize) {
		processed, skipped, err := w.writeBatch(ctx, schema, table, cols, pkCols, batch)
		result.RowsProcessed += processed
		result.RowsSkipped += skipped
		if err != nil {
			return result, err
		}
	}
	return result, nil
}

// writeBatch executes one sub-batch, applying the three-class error
// recovery policy in spec §4.3.2. Every other error propagates to the
// orchestrator as a fatal cycle error.
func (w *Writer) writeBatch(ctx context.Context, schema, table string, cols, pkCols []string, rows [][]any) (processed, skipped int, err error) {
	query := buildStatement(schema, table, cols, pkCols, rows)

	if _, execErr := w.conn.ExecContext(ctx, query); execErr == nil {
		return len(rows), 0, nil
	} else {
		classified := synerr.ClassifyWriteError(execErr)

		switch e := classified.(type) {
		case *synerr.SchemaMismatchError:
			if relaxErr := w.relaxColumns(ctx, schema, table, e.Columns); relaxErr != nil {
				return 0, 0, relaxErr
			}
			w.logger.LogSchemaRelaxation(schema, table, e.Columns)

			if _, retryErr := w.conn.ExecContext(ctx, query); retryErr != nil {
				return 0, 0, fmt.Errorf("retrying batch after schema relaxation: %w", retryErr)
			}
			return len(rows), 0, nil

		case *synerr.TransactionAbortedError:
			return w.isolateRows(ctx, schema, table, cols, pkCols, rows, w.cfg.MaxIndividualRowRetries)

		case *synerr.BadEncodingError:
			return w.isolateRows(ctx, schema, table, cols, pkCols, rows, w.cfg.MaxBinaryErrorRetries)

		default:
			return 0, 0, classified
		}
	}
}

// isolateRows re-runs each row in its own transaction, bounded by maxRows,
// skipping rows that still fail after isolation (spec §4.3.2).
func (w *Writer) isolateRows(ctx context.Context, schema, table string, cols, pkCols []string, rows [][]any, maxRows int) (processed, skipped int, err error) {
	limit := len(rows)
	if maxRows > 0 && maxRows < limit {
		limit = maxRows
	}

	for i := 0; i < limit; i++ {
		query := buildStatement(schema, table, cols, pkCols, rows[i:i+1])
		if _, execErr := w.conn.ExecContext(ctx, query); execErr != nil {
			skipped++
			continue
		}
		processed++
	}

	if skipped > 0 {
		w.logger.LogRowIsolation(schema, table, skipped)
	}
	return processed, skipped, nil
}

// relaxColumns drops NOT NULL from each offending column (spec §4.3.2):
// a deliberate schema-relaxation policy where the lake is looser than the
// source.
func (w *Writer) relaxColumns(ctx context.Context, schema, table string, columns []string) error {
	for _, col := range columns {
		stmt := fmt.Sprintf("ALTER TABLE %s.%s ALTER COLUMN %s DROP NOT NULL",
			pq.QuoteIdentifier(schema), pq.QuoteIdentifier(table), pq.QuoteIdentifier(col))
		if _, err := w.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("relaxing column %s.%s.%s: %w", schema, table, col, err)
		}
	}
	return nil
}

// pkColIndexes maps pkCols onto their positions within cols.
func pkColIndexes(cols, pkCols []string) []int {
	if len(pkCols) == 0 {
		return nil
	}
	idx := make(map[string]int, len(cols))
	for i, c := range cols {
		idx[c] = i
	}
	indexes := make([]int, 0, len(pkCols))
	for _, pk := range pkCols {
		if i, ok := idx[pk]; ok {
			indexes = append(indexes, i)
		}
	}
	return indexes
}

// collapseDuplicates pre-scans rows, collapsing duplicates by PK
// fingerprint and retaining only the last occurrence (spec §4.3.3) — PG
// rejects ON CONFLICT targets that repeat within one VALUES list. Rows
// with an incomplete PK (any NULL component) are dropped.
func collapseDuplicates(rows [][]any, pkIdx []int) (deduped [][]any, dropped int) {
	if len(pkIdx) == 0 {
		return rows, 0
	}

	fps := make([]string, len(rows))
	complete := make([]bool, len(rows))
	last := make(map[string]int, len(rows))

	for i, row := range rows {
		fps[i], complete[i] = fingerprint(row, pkIdx)
		if !complete[i] {
			dropped++
			continue
		}
		last[fps[i]] = i
	}

	deduped = make([][]any, 0, len(last))
	for i, row := range rows {
		if complete[i] && last[fps[i]] == i {
			deduped = append(deduped, row)
		}
	}
	return deduped, dropped
}

// fingerprint builds the "v1|v2|...|vn" PK fingerprint with a <NULL>
// sentinel for any NULL component (spec §4.3.3). complete is false when
// any PK component is NULL, since such rows must be dropped rather than
// fingerprinted.
func fingerprint(row []any, pkIdx []int) (fp string, complete bool) {
	parts := make([]string, len(pkIdx))
	complete = true
	for i, idx := range pkIdx {
		if idx >= len(row) || row[idx] == nil {
			parts[i] = "<NULL>"
			complete = false
			continue
		}
		parts[i] = fmt.Sprintf("%v", row[idx])
	}
	return strings.Join(parts, "|"), complete
}

// chunkBatches splits rows into sub-batches such that neither row count
// exceeds maxRows nor the estimated serialised size exceeds maxBytes
// (spec §4.3.1).
func chunkBatches(rows [][]any, colCount, maxRows, maxBytes int) [][][]any {
	if len(rows) == 0 {
		return nil
	}

	var batches [][][]any
	var current [][]any
	size := 0

	for _, row := range rows {
		rowSize := estimateRowSize(row)
		if len(current) > 0 && (len(current) >= maxRows || size+rowSize > maxBytes) {
			batches = append(batches, current)
			current = nil
			size = 0
		}
		current = append(current, row)
		size += rowSize
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

func estimateRowSize(row []any) int {
	total := 4 // parens + comma overhead
	for _, v := range row {
		total += len(fmt.Sprintf("%v", v)) + 2
	}
	return total
}
