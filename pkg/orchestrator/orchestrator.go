// SPDX-License-Identifier: Apache-2.0

// Package orchestrator implements the per-table replication state machine
// (spec §4.1): counts, truncate-on-FULL_LOAD/RESET, the equal-count
// consistency/update path, delete reconciliation, the chunked transfer
// loop, and the terminal status write. The scheduler builds a fresh
// Orchestrator for each table task; Run is the unit of work each table
// worker invokes once per cycle.
package orchestrator

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lakesync/lakesync/pkg/catalog"
	"github.com/lakesync/lakesync/pkg/config"
	"github.com/lakesync/lakesync/pkg/logging"
	"github.com/lakesync/lakesync/pkg/source"
	"github.com/lakesync/lakesync/pkg/writer"
)

// Orchestrator runs the Step 0-6 decision procedure for one table at a
// time, against a shared lake connection and catalog store.
type Orchestrator struct {
	catalog *catalog.Store
	lake    *sql.DB
	writer  *writer.Writer
	logger  logging.Logger
	cfg     config.Config
}

// New returns an Orchestrator. lake is the raw lake *sql.DB; the scheduler
// passes the same handle to every table task, so orchestrators running on
// different workers share it, each statement taking a pooled connection.
func New(catalogStore *catalog.Store, lake *sql.DB, w *writer.Writer, logger logging.Logger, cfg config.Config) *Orchestrator {
	return &Orchestrator{catalog: catalogStore, lake: lake, writer: w, logger: logger, cfg: cfg}
}

// Run executes one cycle's worth of work for entry, using adapter as the
// opened source connection. It always ends by writing a terminal status
// to the catalog (spec §4.1 Step 6) except where a fatal error prevents
// even that write, in which case the error is returned unwrapped for the
// pool to log and count.
func (o *Orchestrator) Run(ctx context.Context, entry *catalog.Entry, adapter source.Adapter) error {
	originalStatus := entry.Status

	cols, err := adapter.DiscoverSchema(ctx, entry.SchemaName, entry.TableName)
	if err != nil {
		return o.fail(ctx, entry, fmt.Errorf("discovering schema for %s: %w", entry.Key(), err))
	}

	sourceCount, err := adapter.Count(ctx, entry.SchemaName, entry.TableName)
	if err != nil {
		sourceCount = 0
	}
	targetCount := o.lakeCount(ctx, entry.SchemaName, entry.TableName)

	o.logger.LogTableDecision(entry.SchemaName, entry.TableName, string(originalStatus), sourceCount, targetCount)

	// Step 1 — truncate on FULL_LOAD/RESET, unconditionally.
	if originalStatus == catalog.StatusFullLoad || originalStatus == catalog.StatusReset {
		if err := o.truncateLake(ctx, entry.SchemaName, entry.TableName); err != nil {
			return o.fail(ctx, entry, err)
		}
		if err := o.catalog.ResetForTruncate(ctx, entry); err != nil {
			return o.fail(ctx, entry, err)
		}
		targetCount = 0
	}

	// Step 2 — empty-source shortcuts.
	if sourceCount == 0 && targetCount == 0 {
		return o.catalog.UpdateStatus(ctx, entry, catalog.StatusNoData)
	}
	if sourceCount == 0 && targetCount > 0 {
		return o.catalog.UpdateStatus(ctx, entry, catalog.StatusListeningChanges)
	}

	transferNeeded := false

	switch {
	case sourceCount == targetCount:
		// Step 3 — equal-count branch.
		if originalStatus == catalog.StatusFullLoad {
			return o.catalog.UpdateStatus(ctx, entry, catalog.StatusListeningChanges)
		}

		consistent, err := o.consistencyCheck(ctx, entry, adapter)
		if err != nil {
			return o.fail(ctx, entry, err)
		}

		if consistent {
			if entry.LastSyncColumn != "" {
				if err := o.updateReconciliation(ctx, entry, adapter, cols); err != nil {
					return o.fail(ctx, entry, err)
				}
			}
			return o.finishListening(ctx, entry, adapter)
		}
		// Mismatch despite equal counts: fall through to Step 5.
		transferNeeded = true

	case sourceCount < targetCount:
		// Step 4 — deletes detected.
		if entry.PKStrategy == catalog.StrategyOffset {
			if err := o.truncateLake(ctx, entry.SchemaName, entry.TableName); err != nil {
				return o.fail(ctx, entry, err)
			}
			if err := o.catalog.ResetForTruncate(ctx, entry); err != nil {
				return o.fail(ctx, entry, err)
			}
			return o.catalog.UpdateStatus(ctx, entry, catalog.StatusFullLoad)
		}

		if err := o.deleteReconciliation(ctx, entry, adapter); err != nil {
			return o.fail(ctx, entry, err)
		}
		targetCount = o.lakeCount(ctx, entry.SchemaName, entry.TableName)
		if sourceCount > targetCount {
			transferNeeded = true
		} else {
			return o.finishListening(ctx, entry, adapter)
		}

	default:
		// sourceCount > targetCount, or a forced reload from Step 1.
		transferNeeded = true
	}

	if !transferNeeded {
		return o.finishListening(ctx, entry, adapter)
	}

	// Step 5 — transfer loop. Large remaining transfers use the parallel
	// chunk pipeline (C7); smaller ones use the serial loop directly.
	remaining := sourceCount - targetCount
	if remaining < 0 {
		remaining = -remaining
	}

	var aborted bool
	var terr error
	if remaining > pipelineMinRemainingRows {
		_, aborted, terr = o.transferPipeline(ctx, entry, adapter, cols, sourceCount, targetCount)
	} else {
		_, aborted, terr = o.transferLoop(ctx, entry, adapter, cols, sourceCount, targetCount)
	}
	if terr != nil {
		if aborted {
			o.logger.LogTableError(entry.SchemaName, entry.TableName, terr)
			_ = o.catalog.UpdateStatus(ctx, entry, catalog.StatusError)
			return terr
		}
		return o.fail(ctx, entry, terr)
	}

	// Step 6 — terminal status.
	status := catalog.StatusListeningChanges
	o.logger.LogTableComplete(entry.SchemaName, entry.TableName, string(status), 0)
	return o.catalog.UpdateStatus(ctx, entry, status)
}

// finishListening writes LISTENING_CHANGES, persisting the tail-most PK
// when the table uses PK-strategy pagination (spec §4.1 Step 3).
func (o *Orchestrator) finishListening(ctx context.Context, entry *catalog.Entry, adapter source.Adapter) error {
	if !entry.HasPK() {
		return o.catalog.UpdateStatus(ctx, entry, catalog.StatusListeningChanges)
	}

	tail, err := o.tailPK(ctx, entry, adapter)
	if err != nil || tail == "" {
		return o.catalog.UpdateStatus(ctx, entry, catalog.StatusListeningChanges)
	}
	return o.catalog.UpdateCursor(ctx, entry, catalog.StatusListeningChanges, tail)
}

// tailPK fetches the maximal PK tuple on the source, used when the
// transfer loop didn't run this cycle but the cursor still needs to
// reflect the table's current tail (spec §4.1 Step 3).
func (o *Orchestrator) tailPK(ctx context.Context, entry *catalog.Entry, adapter source.Adapter) (string, error) {
	pkCols := entry.PKColumns
	quoted := quoteAll(adapter, pkCols)
	orderExpr := make([]string, len(quoted))
	for i, q := range quoted {
		orderExpr[i] = q + " DESC"
	}

	query := fmt.Sprintf("SELECT %s FROM %s.%s ORDER BY %s %s",
		strings.Join(quoted, ", "), adapter.QuoteIdentifier(entry.SchemaName), adapter.QuoteIdentifier(entry.TableName),
		strings.Join(orderExpr, ", "), adapter.PageClause(1, 0))

	rows, err := adapter.ExecuteQuery(ctx, query)
	if err != nil || len(rows) == 0 {
		return "", err
	}
	return encodeCursor(rows[0].Cells[:len(pkCols)]), nil
}

func (o *Orchestrator) fail(ctx context.Context, entry *catalog.Entry, err error) error {
	o.logger.LogTableError(entry.SchemaName, entry.TableName, err)
	_ = o.catalog.UpdateStatus(ctx, entry, catalog.StatusError)
	return err
}
