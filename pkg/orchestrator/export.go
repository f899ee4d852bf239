// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"

	"github.com/lakesync/lakesync/pkg/source"
)

// BuildExistsWhere exposes the tuple-equality WHERE builder used for
// delete reconciliation's existence checks, for reuse by the CDC
// consumer's fallback fetch path (spec §4.6 step 4).
func BuildExistsWhere(adapter source.Adapter, pkCols []string, batch [][]string, argStart int) (string, []any, int) {
	return buildExistsWhere(adapter, pkCols, batch, argStart)
}

// SelectQuery exposes the dialect-agnostic SELECT builder for reuse
// outside this package.
func SelectQuery(adapter source.Adapter, schema, table string, cols []string, where string, orderCols []string, pageClause string) string {
	return selectQuery(adapter, schema, table, cols, where, orderCols, pageClause)
}

// ApplyCDCDeletes deletes the given PK tuples from the lake, the same
// primitive delete reconciliation (§4.1.2) uses, exposed for the CDC
// consumer's delete-operation application (spec §4.6 step 5).
func (o *Orchestrator) ApplyCDCDeletes(ctx context.Context, schema, table string, pkCols []string, pkRows [][]string) error {
	return o.lakeDeleteByPK(ctx, schema, table, pkCols, pkRows)
}
