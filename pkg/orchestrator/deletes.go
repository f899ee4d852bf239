// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"strings"

	"github.com/lakesync/lakesync/pkg/catalog"
	"github.com/lakesync/lakesync/pkg/source"
)

// checkBatchSize bounds the existence-check query sent to the source per
// spec §4.1.2 step 2.
const checkBatchSize = 500

// deleteReconciliation pages the lake's PK space, asks the source which of
// those PKs still exist, and deletes the ones that don't (spec §4.1.2).
func (o *Orchestrator) deleteReconciliation(ctx context.Context, entry *catalog.Entry, adapter source.Adapter) error {
	pkCols := entry.PKColumns
	batchSize := o.cfg.ChunkSize
	var cursor []string

	for {
		page, err := o.lakePKPage(ctx, entry.SchemaName, entry.TableName, pkCols, cursor, batchSize)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			break
		}

		var toDelete [][]string
		for start := 0; start < len(page); start += checkBatchSize {
			end := start + checkBatchSize
			if end > len(page) {
				end = len(page)
			}
			sub := page[start:end]

			where, args, _ := buildExistsWhere(adapter, pkCols, sub, 1)
			query := selectQuery(adapter, entry.SchemaName, entry.TableName, pkCols, where, nil, "")

			rows, err := adapter.ExecuteQuery(ctx, query, args...)
			if err != nil {
				return err
			}

			existing := make(map[string]bool, len(rows))
			for _, r := range rows {
				existing[strings.Join(r.Cells[:len(pkCols)], cursorSeparator)] = true
			}
			for _, row := range sub {
				if !existing[strings.Join(row, cursorSeparator)] {
					toDelete = append(toDelete, row)
				}
			}
		}

		if len(toDelete) > 0 {
			if err := o.lakeDeleteByPK(ctx, entry.SchemaName, entry.TableName, pkCols, toDelete); err != nil {
				return err
			}
		}

		cursor = page[len(page)-1]
		if len(page) < batchSize {
			break
		}
	}

	return nil
}
