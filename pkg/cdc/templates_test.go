// SPDX-License-Identifier: Apache-2.0

package cdc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildFunctionSQLWithCompositePK(t *testing.T) {
	t.Parallel()

	sql, err := buildFunctionSQL(functionConfig{
		FunctionName:    "ds_fn_public_orders",
		ChangeLogSchema: "datasync_metadata",
		ChangeLogTable:  "ds_change_log",
		SchemaName:      "public",
		TableName:       "orders",
		PKColumns:       []string{"tenant_id", "order_id"},
	})
	require.NoError(t, err)

	assert.Contains(t, sql, `CREATE OR REPLACE FUNCTION "ds_fn_public_orders"()`)
	assert.Contains(t, sql, `'tenant_id', (row_json ->> 'tenant_id')`)
	assert.Contains(t, sql, `'order_id', (row_json ->> 'order_id')`)
	assert.Contains(t, sql, `INSERT INTO "datasync_metadata"."ds_change_log"`)
}

func TestBuildFunctionSQLWithoutPKUsesRowHash(t *testing.T) {
	t.Parallel()

	sql, err := buildFunctionSQL(functionConfig{
		FunctionName:    "ds_fn_public_logs",
		ChangeLogSchema: "datasync_metadata",
		ChangeLogTable:  "ds_change_log",
		SchemaName:      "public",
		TableName:       "logs",
	})
	require.NoError(t, err)

	assert.Contains(t, sql, "jsonb_build_object('_hash', md5(row_json::text))")
}

func TestBuildTriggerSQL(t *testing.T) {
	t.Parallel()

	sql, err := buildTriggerSQL(triggerConfig{
		TriggerName:  "ds_tr_public_orders_ai",
		Operation:    "INSERT",
		SchemaName:   "public",
		TableName:    "orders",
		FunctionName: "ds_fn_public_orders",
	})
	require.NoError(t, err)

	assert.Equal(t, "CREATE TRIGGER \"ds_tr_public_orders_ai\" AFTER INSERT ON \"public\".\"orders\"\n  FOR EACH ROW EXECUTE FUNCTION \"ds_fn_public_orders\"();\n", sql)
}

func TestFunctionAndTriggerNamingConvention(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ds_fn_public_orders", functionName("public", "orders"))
	assert.Equal(t, "ds_tr_public_orders_ai", triggerName("public", "orders", "ai"))
}
