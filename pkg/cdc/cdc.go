// SPDX-License-Identifier: Apache-2.0

// Package cdc implements the incremental change feed consumer (spec
// §4.6): it drains datasync_metadata.ds_change_log for a table in
// LISTENING_CHANGES, applies deletes and upserts to the lake, and
// advances the table's change cursor only after the lake mutations
// commit, so a crash mid-batch replays rather than loses changes.
package cdc

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/lakesync/lakesync/pkg/catalog"
	"github.com/lakesync/lakesync/pkg/logging"
	"github.com/lakesync/lakesync/pkg/normalize"
	"github.com/lakesync/lakesync/pkg/orchestrator"
	"github.com/lakesync/lakesync/pkg/source"
	"github.com/lakesync/lakesync/pkg/writer"
)

const (
	changeLogSchema = "datasync_metadata"
	changeLogTable  = "ds_change_log"

	opDelete = "D"

	// hashColumn is the synthetic lake column standing in for a primary
	// key on tables with none: both the installed trigger (templates.go)
	// and the lake's own write path key upserts/deletes on it.
	hashColumn = "_hash"
)

var changeLogColumns = []string{"change_id", "operation", "schema_name", "table_name", "pk_values", "row_data"}

// Consumer drains the change log for one table at a time. It shares the
// writer and catalog store an orchestrator.Orchestrator already holds,
// reusing the orchestrator's dialect-aware query builders and delete
// primitive rather than duplicating them.
type Consumer struct {
	orch      *orchestrator.Orchestrator
	writer    *writer.Writer
	catalog   *catalog.Store
	logger    logging.Logger
	chunkSize int
}

// New returns a Consumer. orch supplies BuildExistsWhere/SelectQuery/
// ApplyCDCDeletes; w is the same lake writer the orchestrator's table
// worker owns.
func New(orch *orchestrator.Orchestrator, w *writer.Writer, store *catalog.Store, logger logging.Logger, chunkSize int) *Consumer {
	if chunkSize < 1 {
		chunkSize = 1000
	}
	return &Consumer{orch: orch, writer: w, catalog: store, logger: logger, chunkSize: chunkSize}
}

// Run drains ds_change_log for entry against adapter until a batch
// smaller than the configured chunk size is returned (spec §4.6 steps
// 1-7). It is the operation a table worker invokes once per cycle while
// entry.Status is LISTENING_CHANGES.
func (c *Consumer) Run(ctx context.Context, entry *catalog.Entry, adapter source.Adapter) error {
	lastChangeID := toInt64(entry.SyncMetadata["last_change_id"])

	for {
		rows, err := c.fetchBatch(ctx, adapter, entry, lastChangeID)
		if err != nil {
			return fmt.Errorf("cdc: fetch change batch for %s: %w", entry.Key(), err)
		}
		if len(rows) == 0 {
			return nil
		}

		pkCols := entry.PKColumns
		if len(pkCols) == 0 {
			pkCols = []string{hashColumn}
		}

		deletes, upserts, maxID, err := c.partition(rows, pkCols)
		if err != nil {
			return fmt.Errorf("cdc: parse change batch for %s: %w", entry.Key(), err)
		}

		if len(deletes) > 0 {
			if err := c.orch.ApplyCDCDeletes(ctx, entry.SchemaName, entry.TableName, pkCols, deletes); err != nil {
				return fmt.Errorf("cdc: apply deletes for %s: %w", entry.Key(), err)
			}
		}

		applied := len(deletes)
		if len(upserts) > 0 {
			n, err := c.applyUpserts(ctx, adapter, entry, pkCols, upserts)
			if err != nil {
				return fmt.Errorf("cdc: apply upserts for %s: %w", entry.Key(), err)
			}
			applied += n
		}

		lastChangeID = maxID
		if err := c.catalog.MergeSyncMetadata(ctx, entry, catalog.StatusListeningChanges, map[string]any{"last_change_id": lastChangeID}); err != nil {
			return fmt.Errorf("cdc: advance change cursor for %s: %w", entry.Key(), err)
		}

		// A fresh id per batch, not the pool's task id: one Run call can
		// drain several batches, and each committed independently
		// deserves its own trace id in the log.
		c.logger.LogCDCBatch(entry.SchemaName, entry.TableName, uuid.NewString(), lastChangeID, applied)

		if len(rows) < c.chunkSize {
			return nil
		}
	}
}

type changeRow struct {
	ChangeID  int64
	Operation string
	PKValues  map[string]string
	RowData   map[string]string
	hasRow    bool
}

func (c *Consumer) fetchBatch(ctx context.Context, adapter source.Adapter, entry *catalog.Entry, lastChangeID int64) ([]changeRow, error) {
	where := fmt.Sprintf("%s > %s AND %s = %s AND %s = %s",
		adapter.QuoteIdentifier("change_id"), adapter.Placeholder(1),
		adapter.QuoteIdentifier("schema_name"), adapter.Placeholder(2),
		adapter.QuoteIdentifier("table_name"), adapter.Placeholder(3),
	)
	query := orchestrator.SelectQuery(adapter, changeLogSchema, changeLogTable, changeLogColumns, where,
		[]string{"change_id"}, adapter.PageClause(c.chunkSize, 0))

	raw, err := adapter.ExecuteQuery(ctx, query, lastChangeID, entry.SchemaName, entry.TableName)
	if err != nil {
		return nil, err
	}

	rows := make([]changeRow, 0, len(raw))
	for _, r := range raw {
		changeID, err := strconv.ParseInt(r.Cells[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing change_id %q: %w", r.Cells[0], err)
		}

		pkValues, err := parseJSONStringMap(r.Cells[3])
		if err != nil {
			return nil, fmt.Errorf("parsing pk_values for change %d: %w", changeID, err)
		}

		rowData, hasRow := map[string]string{}, false
		if !normalize.IsNullSentinel(r.Cells[4]) && r.Cells[4] != "" {
			rowData, err = parseJSONStringMap(r.Cells[4])
			if err != nil {
				return nil, fmt.Errorf("parsing row_data for change %d: %w", changeID, err)
			}
			hasRow = true
		}

		rows = append(rows, changeRow{
			ChangeID:  changeID,
			Operation: strings.ToUpper(r.Cells[1]),
			PKValues:  pkValues,
			RowData:   rowData,
			hasRow:    hasRow,
		})
	}
	return rows, nil
}

// partition resolves, for each distinct primary key touched in the
// batch, the single row whose change_id is highest — the spec §5 rule
// that "on the same PK, the last occurrence in change_id order wins" —
// and only then splits those winners into delete PK tuples (ordered to
// match pkCols, since ApplyCDCDeletes builds positional equality clauses)
// and upsert rows. Grouping by operation type first, before resolving
// the winner, would let a stale insert for a PK get re-applied after a
// later delete for that same PK; resolving the winner across both
// operation classes first is what keeps that from happening. It also
// returns the highest change_id seen so the caller can advance the
// cursor once, after both kinds of mutation have committed.
func (c *Consumer) partition(rows []changeRow, pkCols []string) (deletes [][]string, upserts []changeRow, maxID int64, err error) {
	winners := make(map[string]changeRow, len(rows))
	order := make([]string, 0, len(rows))

	for _, r := range rows {
		if r.ChangeID > maxID {
			maxID = r.ChangeID
		}

		key, ok := pkKey(r.PKValues, pkCols)
		if !ok {
			if r.Operation == opDelete {
				c.logger.Warn("cdc: delete change row has no reconstructable primary key, skipping", "change_id", r.ChangeID)
				continue
			}
			// No reconstructable PK on a non-delete row: applyUpserts/
			// resolveRow handles the skip once it tries to resolve full
			// column data, so the row still needs to reach upserts.
			upserts = append(upserts, r)
			continue
		}

		existing, seen := winners[key]
		if !seen || r.ChangeID > existing.ChangeID {
			if !seen {
				order = append(order, key)
			}
			winners[key] = r
		}
	}

	for _, key := range order {
		winner := winners[key]
		if winner.Operation != opDelete {
			upserts = append(upserts, winner)
			continue
		}

		tuple, ok := pkTuple(winner.PKValues, pkCols)
		if !ok {
			c.logger.Warn("cdc: delete change row has no reconstructable primary key, skipping", "change_id", winner.ChangeID)
			continue
		}
		deletes = append(deletes, tuple)
	}

	return deletes, upserts, maxID, nil
}

// pkKey builds a stable composite key from pkCols' values in values, for
// grouping change rows by the primary key they touch. ok is false when a
// column is missing, mirroring pkTuple's reconstructability check.
func pkKey(values map[string]string, pkCols []string) (string, bool) {
	tuple, ok := pkTuple(values, pkCols)
	if !ok {
		return "", false
	}
	return strings.Join(tuple, "\x00"), true
}

// pkTuple reconstructs the PK tuple (ordered to match pkCols) from a
// change row's pk_values map, case-insensitively.
func pkTuple(values map[string]string, pkCols []string) ([]string, bool) {
	tuple := make([]string, len(pkCols))
	for i, pk := range pkCols {
		v, found := lookupCI(values, pk)
		if !found {
			return nil, false
		}
		tuple[i] = v
	}
	return tuple, true
}

// applyUpserts resolves each changed row to a full column set, either by
// projecting row_data or re-fetching the current row from the source by
// primary key (spec §4.6 step 4), then writes the resolved rows with a
// single bulk upsert.
func (c *Consumer) applyUpserts(ctx context.Context, adapter source.Adapter, entry *catalog.Entry, pkCols []string, rows []changeRow) (int, error) {
	cols, err := adapter.DiscoverSchema(ctx, entry.SchemaName, entry.TableName)
	if err != nil {
		return 0, fmt.Errorf("discovering schema: %w", err)
	}
	colNames := make([]string, len(cols))
	for i, col := range cols {
		colNames[i] = col.Name
	}

	usingHash := len(entry.PKColumns) == 0

	batch := make([][]any, 0, len(rows))
	for _, r := range rows {
		cells, ok, err := c.resolveRow(ctx, adapter, entry, colNames, r)
		if err != nil {
			return 0, err
		}
		if !ok {
			c.logger.Warn("cdc: change row has no reconstructable primary key, skipping",
				"schema", entry.SchemaName, "table", entry.TableName, "change_id", r.ChangeID)
			continue
		}

		vals := make([]any, len(cols), len(cols)+1)
		for i, col := range cols {
			vals[i] = normalize.Value(entry.DBEngine, cells[i], col)
		}
		if usingHash {
			hash, ok := lookupCI(r.PKValues, hashColumn)
			if !ok {
				c.logger.Warn("cdc: no-PK change row missing its row hash, skipping",
					"schema", entry.SchemaName, "table", entry.TableName, "change_id", r.ChangeID)
				continue
			}
			vals = append(vals, hash)
		}
		batch = append(batch, vals)
	}

	if len(batch) == 0 {
		return 0, nil
	}

	lakeCols := make([]string, len(colNames), len(colNames)+1)
	for i, n := range colNames {
		lakeCols[i] = strings.ToLower(n)
	}
	if usingHash {
		lakeCols = append(lakeCols, hashColumn)
	}
	lakePKCols := make([]string, len(pkCols))
	for i, n := range pkCols {
		lakePKCols[i] = strings.ToLower(n)
	}
	result, err := c.writer.BulkUpsert(ctx, entry.SchemaName, entry.TableName, lakeCols, lakePKCols, batch)
	return result.RowsProcessed, err
}

// resolveRow returns the complete, column-ordered cell set for one
// changed row. It first tries projecting row_data (fast path, no round
// trip to the source); if row_data is missing or doesn't cover every
// column, it falls back to re-reading the current row from the source by
// primary key. A row whose PK can't be reconstructed, or that the
// fallback finds already gone, returns ok=false with no error: the spec
// treats both as a benign skip, not a failure.
func (c *Consumer) resolveRow(ctx context.Context, adapter source.Adapter, entry *catalog.Entry, colNames []string, r changeRow) ([]string, bool, error) {
	if r.hasRow && containsAllCI(r.RowData, colNames) {
		cells := make([]string, len(colNames))
		for i, name := range colNames {
			cells[i], _ = lookupCI(r.RowData, name)
		}
		return cells, true, nil
	}

	pkCols := entry.PKColumns
	if len(pkCols) == 0 {
		return nil, false, nil
	}

	pkRow := make([]string, len(pkCols))
	for i, pk := range pkCols {
		v, ok := lookupCI(r.PKValues, pk)
		if !ok {
			return nil, false, nil
		}
		pkRow[i] = v
	}

	where, args, _ := orchestrator.BuildExistsWhere(adapter, pkCols, [][]string{pkRow}, 1)
	query := orchestrator.SelectQuery(adapter, entry.SchemaName, entry.TableName, colNames, where, nil, "")
	fetched, err := adapter.ExecuteQuery(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("re-fetching row for change %d: %w", r.ChangeID, err)
	}
	if len(fetched) == 0 {
		return nil, false, nil
	}
	return fetched[0].Cells, true, nil
}

func parseJSONStringMap(raw string) (map[string]string, error) {
	if raw == "" || normalize.IsNullSentinel(raw) {
		return map[string]string{}, nil
	}
	var generic map[string]any
	if err := json.Unmarshal([]byte(raw), &generic); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(generic))
	for k, v := range generic {
		if v == nil {
			out[k] = source.NullSentinel
			continue
		}
		out[k] = fmt.Sprintf("%v", v)
	}
	return out, nil
}

// lookupCI looks up key in m case-insensitively, since trigger-emitted
// JSON key casing may not match source.Column.Name casing across engines.
func lookupCI(m map[string]string, key string) (string, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

func containsAllCI(m map[string]string, keys []string) bool {
	for _, k := range keys {
		if _, ok := lookupCI(m, k); !ok {
			return false
		}
	}
	return true
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	default:
		return 0
	}
}
