// SPDX-License-Identifier: Apache-2.0

package cdc

import (
	"context"
	"fmt"
	"strings"

	"github.com/lakesync/lakesync/pkg/catalog"
	"github.com/lakesync/lakesync/pkg/source"
)

// changeLogDDL creates the schema that holds the change log table used by
// every replicated table's trigger (spec §6 "ds_change_log"); the table
// itself is created by changeLogTableDDL.
const changeLogDDL = `CREATE SCHEMA IF NOT EXISTS %s`

const changeLogTableDDL = `CREATE TABLE IF NOT EXISTS %s.%s (
	change_id BIGSERIAL PRIMARY KEY,
	change_time TIMESTAMPTZ NOT NULL DEFAULT now(),
	operation CHAR(1) NOT NULL,
	schema_name TEXT NOT NULL,
	table_name TEXT NOT NULL,
	pk_values JSONB NOT NULL,
	row_data JSONB
)`

const changeLogIndexDDL = `CREATE INDEX IF NOT EXISTS %s ON %s.%s (schema_name, table_name, change_id)`

// EnsureChangeLog creates the change log schema, table, and index if they
// do not already exist. Idempotent; safe to call on every Setup.
func EnsureChangeLog(ctx context.Context, adapter source.Adapter) error {
	stmts := []string{
		fmt.Sprintf(changeLogDDL, quoteSchema(adapter, changeLogSchema)),
		fmt.Sprintf(changeLogTableDDL, quoteSchema(adapter, changeLogSchema), adapter.QuoteIdentifier(changeLogTable)),
		fmt.Sprintf(changeLogIndexDDL, adapter.QuoteIdentifier("ix_"+changeLogTable+"_lookup"), quoteSchema(adapter, changeLogSchema), adapter.QuoteIdentifier(changeLogTable)),
	}
	for _, stmt := range stmts {
		if _, err := adapter.ExecuteQuery(ctx, stmt); err != nil {
			return fmt.Errorf("cdc: ensure change log: %w", err)
		}
	}
	return nil
}

// Setup installs the trigger function and its three AFTER triggers for a
// single replicated table (spec §4.6 "Trigger setup"). Only PostgreSQL
// sources are supported: MySQL and Oracle CDC rely on binlog/OCI-level
// mechanisms outside the reach of adapter.ExecuteQuery, which is a
// query-only primitive with no facility for configuring a replication
// stream. A table on either engine is left without triggers and the
// consumer's Run call simply finds no rows in ds_change_log for it.
func Setup(ctx context.Context, adapter source.Adapter, entry *catalog.Entry) error {
	if entry.DBEngine != catalog.EnginePostgreSQL {
		return fmt.Errorf("cdc: trigger setup is only supported for postgres sources, got %s", entry.DBEngine)
	}

	if err := EnsureChangeLog(ctx, adapter); err != nil {
		return err
	}

	fnName := functionName(entry.SchemaName, entry.TableName)

	fnSQL, err := buildFunctionSQL(functionConfig{
		FunctionName:    fnName,
		ChangeLogSchema: changeLogSchema,
		ChangeLogTable:  changeLogTable,
		SchemaName:      entry.SchemaName,
		TableName:       entry.TableName,
		PKColumns:       entry.PKColumns,
	})
	if err != nil {
		return fmt.Errorf("cdc: build trigger function: %w", err)
	}
	if _, err := adapter.ExecuteQuery(ctx, fnSQL); err != nil {
		return fmt.Errorf("cdc: install trigger function: %w", err)
	}

	for suffix, op := range map[string]string{"ai": "INSERT", "au": "UPDATE", "ad": "DELETE"} {
		if err := installTrigger(ctx, adapter, entry, fnName, suffix, op); err != nil {
			return err
		}
	}
	return nil
}

func installTrigger(ctx context.Context, adapter source.Adapter, entry *catalog.Entry, fnName, suffix, op string) error {
	trName := triggerName(entry.SchemaName, entry.TableName, suffix)

	dropSQL := fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s.%s",
		adapter.QuoteIdentifier(trName), quoteSchema(adapter, entry.SchemaName), adapter.QuoteIdentifier(entry.TableName))
	if _, err := adapter.ExecuteQuery(ctx, dropSQL); err != nil {
		return fmt.Errorf("cdc: drop existing trigger %s: %w", trName, err)
	}

	trSQL, err := buildTriggerSQL(triggerConfig{
		TriggerName:  trName,
		Operation:    op,
		SchemaName:   entry.SchemaName,
		TableName:    entry.TableName,
		FunctionName: fnName,
	})
	if err != nil {
		return fmt.Errorf("cdc: build trigger %s: %w", trName, err)
	}
	if _, err := adapter.ExecuteQuery(ctx, trSQL); err != nil {
		return fmt.Errorf("cdc: install trigger %s: %w", trName, err)
	}
	return nil
}

// functionName and triggerName follow the naming convention spec §6 gives
// for generated DDL objects: ds_fn_<schema>_<table> and
// ds_tr_<schema>_<table>_<suffix>.
func functionName(schema, table string) string {
	return "ds_fn_" + sanitizeIdent(schema) + "_" + sanitizeIdent(table)
}

func triggerName(schema, table, suffix string) string {
	return "ds_tr_" + sanitizeIdent(schema) + "_" + sanitizeIdent(table) + "_" + suffix
}

func sanitizeIdent(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, ".", "_"))
}

func quoteSchema(adapter source.Adapter, schema string) string {
	return adapter.QuoteIdentifier(schema)
}
