// SPDX-License-Identifier: Apache-2.0

// Package source defines the capability interface every per-engine
// adapter implements (spec §4.2) and a registry so the orchestrator can
// obtain an adapter from a catalog entry's engine tag without knowing
// about concrete driver packages. Engines differ only in SQL dialect and
// connection setup; the orchestrator speaks only through this contract.
package source

import (
	"context"

	"github.com/lakesync/lakesync/pkg/catalog"
)

// NullSentinel marks a SQL NULL in a row returned by ExecuteQuery, since
// rows are plain [][]string and must distinguish NULL from "".
const NullSentinel = "NULL"

// MaxCellBytes is the per-cell truncation cap (spec §4.2, design default
// 32 KiB). Adapters MAY truncate larger cells but MUST report it via
// Row.Truncated. The orchestrator and the CDC consumer do not read
// Row.Truncated; a truncated cell is written to the lake as it is.
const MaxCellBytes = 32 * 1024

// Column describes one column discovered on a source table (spec §4.2
// DiscoverSchema). Column order is the declared column order on the
// source, which the bulk writer and value normalizer rely on for
// positional row mapping.
type Column struct {
	Name      string
	Type      string
	Nullable  bool
	PK        bool
	Length    int
	Precision int
	Scale     int
	Default   string
}

// Row is one extracted row: a slice of raw cell strings in column order,
// paired with truncation flags of the same length (Truncated[i] is only
// meaningful when Cells[i] was cut to MaxCellBytes).
type Row struct {
	Cells      []string
	Truncated  []bool
}

// Adapter is the uniform capability set implemented once per source
// engine (spec §4.2, §9 "per-engine polymorphism via capability
// interface"). The state machine in pkg/orchestrator never type-switches
// on engine; it only calls through this interface.
type Adapter interface {
	// Open parses connString with the permissive KEY=VALUE grammar (pkg/dsn)
	// and establishes the connection. Missing required fields fail with a
	// *synerr.ConnectionError before any network I/O.
	Open(ctx context.Context, connString string) error

	// TestConnection runs a minimal probe query. Called once per cycle
	// before Step 0 (spec SPEC_FULL §D) so connectivity loss is caught
	// before counts are trusted.
	TestConnection(ctx context.Context) error

	// ExecuteQuery runs a parameterised query and returns rows with NULL
	// marked by NullSentinel.
	ExecuteQuery(ctx context.Context, query string, args ...any) ([]Row, error)

	// Count runs a COUNT(*)-equivalent query and returns the row count,
	// defensively parsed: any parse failure or overflow yields 0 rather
	// than propagating (spec §4.1 Step 0).
	Count(ctx context.Context, schema, table string) (int64, error)

	// DiscoverSchema returns the ordered column set of schema.table.
	DiscoverSchema(ctx context.Context, schema, table string) ([]Column, error)

	// PrimaryKeyColumns returns the ordered PK column names of schema.table,
	// or an empty slice if the table has no primary key.
	PrimaryKeyColumns(ctx context.Context, schema, table string) ([]string, error)

	// QuoteIdentifier quotes name for inclusion in a query on this engine's
	// dialect (spec §9: "engines differ only in SQL dialect strings").
	QuoteIdentifier(name string) string

	// Placeholder returns the positional parameter marker for the n-th
	// (1-indexed) bound argument in this engine's dialect — "$1", "?",
	// "@p1", ":1" — so the orchestrator can build parameterised pagination
	// and delete-reconciliation queries without a per-engine type switch.
	Placeholder(n int) string

	// PageClause renders the trailing row-limiting clause for OFFSET-strategy
	// pagination (spec §4.1 Step 5, OFFSET branch), since LIMIT/OFFSET syntax
	// is one of the few places dialects genuinely diverge.
	PageClause(limit, offset int) string

	// NaturalOrderClause renders the ORDER BY clause OFFSET-mode pagination
	// needs for a stable (if arbitrary) row order. Empty where the dialect's
	// default row order is stable enough without one.
	NaturalOrderClause() string

	// Close releases the connection. Safe to call multiple times.
	Close() error
}

// Factory constructs a fresh, unopened Adapter for one engine.
type Factory func() Adapter

var registry = map[catalog.Engine]Factory{}

// Register associates an engine tag with an adapter Factory. Called from
// each engine subpackage's init(), mirroring the pack's tracker.Register
// pattern for pluggable per-backend implementations.
func Register(engine catalog.Engine, factory Factory) {
	registry[engine] = factory
}

// New returns a fresh Adapter for engine, or false if no adapter has been
// registered for it.
func New(engine catalog.Engine) (Adapter, bool) {
	factory, ok := registry[engine]
	if !ok {
		return nil, false
	}
	return factory(), true
}

// Document is one extracted MongoDB document: its _id, every scalar
// top-level field as a string in Fields, and every nested document or
// array in Extra. The orchestrator stores Extra, together with any Fields
// entry outside the sampled columns, in the reserved _document JSON
// column (spec §4.2).
type Document struct {
	ID     string
	Fields map[string]string
	Extra  map[string]any
}

// DocumentAdapter is the capability set for MongoDB, which has no SQL and
// so cannot implement Adapter (spec §4.2 "MongoDB adapter is structurally
// different"). The orchestrator tags on engine and calls through this
// interface instead for MongoDB catalog entries.
type DocumentAdapter interface {
	Open(ctx context.Context, connString string) error
	TestConnection(ctx context.Context) error
	Count(ctx context.Context, database, collection string) (int64, error)

	// DiscoverFields samples up to sampleSize documents to build the
	// projected scalar column set; any field not seen during sampling is
	// collapsed into the _document column at fetch time.
	DiscoverFields(ctx context.Context, database, collection string, sampleSize int) ([]Column, error)

	// FetchDocuments pages by _id ascending, starting strictly after the
	// given id (empty string for the first page).
	FetchDocuments(ctx context.Context, database, collection string, afterID string, limit int) ([]Document, error)

	Close() error
}

// DocumentFactory constructs a fresh, unopened DocumentAdapter.
type DocumentFactory func() DocumentAdapter

var documentRegistry = map[catalog.Engine]DocumentFactory{}

// RegisterDocument associates an engine tag with a DocumentAdapter factory.
func RegisterDocument(engine catalog.Engine, factory DocumentFactory) {
	documentRegistry[engine] = factory
}

// NewDocument returns a fresh DocumentAdapter for engine, or false if none
// is registered.
func NewDocument(engine catalog.Engine) (DocumentAdapter, bool) {
	factory, ok := documentRegistry[engine]
	if !ok {
		return nil, false
	}
	return factory(), true
}
