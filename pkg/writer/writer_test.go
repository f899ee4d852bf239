// SPDX-License-Identifier: Apache-2.0

package writer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollapseDuplicatesKeepsLastOccurrence(t *testing.T) {
	rows := [][]any{
		{1, "first"},
		{2, "only"},
		{1, "second"},
	}

	deduped, dropped := collapseDuplicates(rows, []int{0})

	assert.Equal(t, 0, dropped)
	assert.Len(t, deduped, 2)
	assert.Equal(t, []any{2, "only"}, deduped[0])
	assert.Equal(t, []any{1, "second"}, deduped[1])
}

func TestCollapseDuplicatesDropsIncompletePK(t *testing.T) {
	rows := [][]any{
		{nil, "no pk"},
		{1, "has pk"},
	}

	deduped, dropped := collapseDuplicates(rows, []int{0})

	assert.Equal(t, 1, dropped)
	assert.Len(t, deduped, 1)
	assert.Equal(t, []any{1, "has pk"}, deduped[0])
}

func TestCollapseDuplicatesNoPKIsNoop(t *testing.T) {
	rows := [][]any{{1, "a"}, {1, "b"}}
	deduped, dropped := collapseDuplicates(rows, nil)

	assert.Equal(t, 0, dropped)
	assert.Equal(t, rows, deduped)
}

func TestChunkBatchesRespectsRowCap(t *testing.T) {
	rows := make([][]any, 5)
	for i := range rows {
		rows[i] = []any{i}
	}

	batches := chunkBatches(rows, 1, 2, 1<<20)

	assert.Len(t, batches, 3)
	assert.Len(t, batches[0], 2)
	assert.Len(t, batches[1], 2)
	assert.Len(t, batches[2], 1)
}

func TestChunkBatchesRespectsByteCap(t *testing.T) {
	rows := [][]any{{"aaaaaaaaaa"}, {"bbbbbbbbbb"}, {"cccccccccc"}}

	batches := chunkBatches(rows, 1, 1000, 20)

	assert.True(t, len(batches) >= 2)
}

func TestBuildStatementPlainInsert(t *testing.T) {
	rows := [][]any{{1, "alice"}, {2, nil}}
	stmt := buildStatement("public", "users", []string{"id", "name"}, nil, rows)

	assert.Contains(t, stmt, `INSERT INTO "public"."users" ("id", "name") VALUES`)
	assert.Contains(t, stmt, "(1, 'alice')")
	assert.Contains(t, stmt, "(2, NULL)")
	assert.NotContains(t, stmt, "ON CONFLICT")
}

func TestBuildStatementUpsert(t *testing.T) {
	rows := [][]any{{1, "alice"}}
	stmt := buildStatement("public", "users", []string{"id", "name"}, []string{"id"}, rows)

	assert.Contains(t, stmt, `ON CONFLICT ("id") DO UPDATE SET "name" = EXCLUDED."name"`)
}

func TestBuildStatementUpsertAllColumnsArePK(t *testing.T) {
	rows := [][]any{{1}}
	stmt := buildStatement("public", "singleton", []string{"id"}, []string{"id"}, rows)

	assert.Contains(t, stmt, `ON CONFLICT ("id") DO NOTHING`)
}

func TestLiteralEscapesQuotes(t *testing.T) {
	assert.Equal(t, "NULL", literal(nil))
	assert.Equal(t, "true", literal(true))
	assert.Equal(t, `'O''Brien'`, literal("O'Brien"))
}
