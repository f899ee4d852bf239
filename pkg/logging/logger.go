// SPDX-License-Identifier: Apache-2.0

// Package logging provides the structured logger used across the
// synchronizer: cycle start/end, per-table decisions, writer recoveries,
// and CDC batch application all go through the same small interface.
package logging

import "github.com/pterm/pterm"

// Logger is responsible for logging synchronizer events.
type Logger interface {
	LogCycleStart(engine string, tableCount int)
	LogCycleComplete(engine string, tableCount int)

	LogTableDecision(schema, table, decision string, sourceCount, targetCount int64)
	LogTableComplete(schema, table, status string, rowsProcessed int64)
	LogTableError(schema, table string, err error)

	LogSchemaRelaxation(schema, table string, columns []string)
	LogRowIsolation(schema, table string, rowsSkipped int)

	LogCDCBatch(schema, table, traceID string, lastChangeID int64, applied int)

	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type syncLogger struct {
	logger pterm.Logger
}

type noopLogger struct{}

// NewLogger returns a Logger backed by pterm's default console logger.
func NewLogger() Logger {
	return &syncLogger{logger: pterm.DefaultLogger}
}

// NewNoopLogger returns a Logger that discards everything, for tests and
// library embedders that don't want console output.
func NewNoopLogger() Logger {
	return &noopLogger{}
}

func (l *syncLogger) LogCycleStart(engine string, tableCount int) {
	l.logger.Info("cycle starting", l.logger.Args([]any{
		"engine", engine,
		"table_count", tableCount,
	}))
}

func (l *syncLogger) LogCycleComplete(engine string, tableCount int) {
	l.logger.Info("cycle complete", l.logger.Args([]any{
		"engine", engine,
		"table_count", tableCount,
	}))
}

func (l *syncLogger) LogTableDecision(schema, table, decision string, sourceCount, targetCount int64) {
	l.logger.Info("table decision", l.logger.Args([]any{
		"schema", schema,
		"table", table,
		"decision", decision,
		"source_count", sourceCount,
		"target_count", targetCount,
	}))
}

func (l *syncLogger) LogTableComplete(schema, table, status string, rowsProcessed int64) {
	l.logger.Info("table cycle complete", l.logger.Args([]any{
		"schema", schema,
		"table", table,
		"status", status,
		"rows_processed", rowsProcessed,
	}))
}

func (l *syncLogger) LogTableError(schema, table string, err error) {
	l.logger.Error("table cycle failed", l.logger.Args([]any{
		"schema", schema,
		"table", table,
		"error", err.Error(),
	}))
}

func (l *syncLogger) LogSchemaRelaxation(schema, table string, columns []string) {
	l.logger.Warn("relaxing not-null columns", l.logger.Args([]any{
		"schema", schema,
		"table", table,
		"columns", columns,
	}))
}

func (l *syncLogger) LogRowIsolation(schema, table string, rowsSkipped int) {
	l.logger.Warn("rows skipped during isolation retry", l.logger.Args([]any{
		"schema", schema,
		"table", table,
		"rows_skipped", rowsSkipped,
	}))
}

func (l *syncLogger) LogCDCBatch(schema, table, traceID string, lastChangeID int64, applied int) {
	l.logger.Info("cdc batch applied", l.logger.Args([]any{
		"schema", schema,
		"table", table,
		"trace_id", traceID,
		"last_change_id", lastChangeID,
		"applied", applied,
	}))
}

func (l *syncLogger) Info(msg string, args ...any)  { l.logger.Info(msg, l.logger.Args(args)) }
func (l *syncLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, l.logger.Args(args)) }
func (l *syncLogger) Error(msg string, args ...any) { l.logger.Error(msg, l.logger.Args(args)) }

func (l *noopLogger) LogCycleStart(engine string, tableCount int)    {}
func (l *noopLogger) LogCycleComplete(engine string, tableCount int) {}
func (l *noopLogger) LogTableDecision(schema, table, decision string, sourceCount, targetCount int64) {
}
func (l *noopLogger) LogTableComplete(schema, table, status string, rowsProcessed int64) {}
func (l *noopLogger) LogTableError(schema, table string, err error)                     {}
func (l *noopLogger) LogSchemaRelaxation(schema, table string, columns []string)        {}
func (l *noopLogger) LogRowIsolation(schema, table string, rowsSkipped int)             {}
func (l *noopLogger) LogCDCBatch(schema, table, traceID string, lastChangeID int64, applied int) {}
func (l *noopLogger) Info(msg string, args ...any)                                      {}
func (l *noopLogger) Warn(msg string, args ...any)                                      {}
func (l *noopLogger) Error(msg string, args ...any)                                     {}
