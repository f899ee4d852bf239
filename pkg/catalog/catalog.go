// SPDX-License-Identifier: Apache-2.0

// Package catalog is the durable control plane for the synchronizer:
// metadata.catalog holds one row per replicated table describing its
// engine, connection string, lifecycle status, pagination strategy, and
// progress cursor. The core only ever updates status/cursor/sync_metadata
// on existing rows — catalog discovery, which creates and deletes rows, is
// an external collaborator (spec §1, out of scope).
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/lakesync/lakesync/pkg/db"
)

// Status is the lifecycle state of a catalog entry (spec §3.1, §4.1.4).
type Status string

const (
	StatusFullLoad          Status = "FULL_LOAD"
	StatusReset             Status = "RESET"
	StatusListeningChanges  Status = "LISTENING_CHANGES"
	StatusNoData            Status = "NO_DATA"
	StatusInProgress        Status = "IN_PROGRESS"
	StatusError             Status = "ERROR"
)

// PKStrategy selects how a table is paginated or consumed (spec §3.1, GLOSSARY).
type PKStrategy string

const (
	StrategyPK     PKStrategy = "PK"
	StrategyOffset PKStrategy = "OFFSET"
	StrategyCDC    PKStrategy = "CDC"
)

// Engine identifies the source database driving an Entry.
type Engine string

const (
	EngineMariaDB    Engine = "MariaDB"
	EngineMSSQL      Engine = "MSSQL"
	EngineOracle     Engine = "Oracle"
	EnginePostgreSQL Engine = "PostgreSQL"
	EngineMongoDB    Engine = "MongoDB"
)

// Entry is one row of metadata.catalog (spec §3.1).
type Entry struct {
	SchemaName       string
	TableName        string
	DBEngine         Engine
	ConnectionString string
	Status           Status
	PKStrategy       PKStrategy
	PKColumns        []string
	LastProcessedPK  string
	LastSyncColumn   string
	LastSyncTime     time.Time
	SyncMetadata     map[string]any
	Active           bool
}

// HasPK is a shortcut for len(pk_columns) > 0 (spec §3.1).
func (e *Entry) HasPK() bool {
	return len(e.PKColumns) > 0
}

// Key uniquely identifies an Entry for in-progress tracking and logging.
func (e *Entry) Key() string {
	return fmt.Sprintf("%s/%s.%s", e.DBEngine, e.SchemaName, e.TableName)
}

const sqlInit = `
CREATE SCHEMA IF NOT EXISTS %[1]s;

CREATE TABLE IF NOT EXISTS %[1]s.catalog (
	schema_name        NAME NOT NULL,
	table_name         NAME NOT NULL,
	db_engine          TEXT NOT NULL,
	connection_string  TEXT NOT NULL,
	status             TEXT NOT NULL DEFAULT 'FULL_LOAD',
	pk_strategy        TEXT NOT NULL DEFAULT 'PK',
	pk_columns         TEXT[] NOT NULL DEFAULT '{}',
	last_processed_pk  TEXT,
	last_sync_column   TEXT,
	last_sync_time     TIMESTAMPTZ,
	sync_metadata      JSONB NOT NULL DEFAULT '{}'::jsonb,
	active             BOOLEAN NOT NULL DEFAULT true,

	PRIMARY KEY (schema_name, table_name, db_engine)
);
`

// Store is the catalog's read/write gateway. All status/cursor mutations
// are serialised by statusMu, a single process-wide mutex, per spec §5 —
// the catalog is global mutable state, not a local data structure, and
// read-modify-write across two statements without a lock would lose
// updates under the table worker pool's concurrency.
type Store struct {
	conn       db.DB
	schemaName string

	statusMu sync.Mutex
}

// Open connects to the lake and returns a catalog Store scoped to
// schemaName (normally "metadata").
func Open(ctx context.Context, lakeURL, schemaName string, statementTimeout time.Duration) (*Store, error) {
	rdb, err := db.Open(ctx, lakeURL, statementTimeout)
	if err != nil {
		return nil, fmt.Errorf("opening catalog connection: %w", err)
	}
	return &Store{conn: rdb, schemaName: schemaName}, nil
}

// Init creates metadata.catalog if it does not already exist. Catalog
// discovery owns row population; Init only guarantees the table shape
// exists, and is meant for bootstrap tooling and integration tests rather
// than the steady-state cycle path.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.conn.ExecContext(ctx, fmt.Sprintf(sqlInit, pq.QuoteIdentifier(s.schemaName)))
	return err
}

func (s *Store) Close() error {
	return s.conn.Close()
}

// ActiveTables returns every catalog row for engine that is eligible for
// this cycle, sorted deterministically (schema_name, table_name) so the
// caller can re-sort by priority (spec §4.4, §6).
func (s *Store) ActiveTables(ctx context.Context, engine Engine) ([]*Entry, error) {
	query := fmt.Sprintf(`
		SELECT schema_name, table_name, db_engine, connection_string, status,
		       pk_strategy, pk_columns, COALESCE(last_processed_pk, ''),
		       COALESCE(last_sync_column, ''), last_sync_time, sync_metadata, active
		FROM %s.catalog
		WHERE active = true AND db_engine = $1 AND status <> $2
		ORDER BY schema_name, table_name`,
		pq.QuoteIdentifier(s.schemaName))

	rows, err := s.conn.QueryContext(ctx, query, string(engine), string(StatusNoData))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		var pkColumns pq.StringArray
		var lastSyncTime sql.NullTime
		var rawMetadata []byte

		if err := rows.Scan(
			&e.SchemaName, &e.TableName, &e.DBEngine, &e.ConnectionString, &e.Status,
			&e.PKStrategy, &pkColumns, &e.LastProcessedPK,
			&e.LastSyncColumn, &lastSyncTime, &rawMetadata, &e.Active,
		); err != nil {
			return nil, err
		}

		e.PKColumns = []string(pkColumns)
		if lastSyncTime.Valid {
			e.LastSyncTime = lastSyncTime.Time
		}
		if len(rawMetadata) > 0 {
			if err := json.Unmarshal(rawMetadata, &e.SyncMetadata); err != nil {
				return nil, fmt.Errorf("unmarshalling sync_metadata for %s: %w", e.Key(), err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// UpdateStatus atomically sets status for an entry, leaving cursor and
// sync_metadata untouched. Used for terminal transitions that don't carry
// a new cursor (NO_DATA, ERROR, FULL_LOAD-after-RESET).
func (s *Store) UpdateStatus(ctx context.Context, e *Entry, status Status) error {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	query := fmt.Sprintf(`UPDATE %s.catalog SET status = $1 WHERE schema_name = $2 AND table_name = $3 AND db_engine = $4`,
		pq.QuoteIdentifier(s.schemaName))
	_, err := s.conn.ExecContext(ctx, query, string(status), e.SchemaName, e.TableName, string(e.DBEngine))
	if err == nil {
		e.Status = status
	}
	return err
}

// UpdateCursor atomically advances status and last_processed_pk together —
// a single statement, never a read-then-write — so that I3 (monotonic
// cursor) holds even under concurrent workers on distinct tables.
func (s *Store) UpdateCursor(ctx context.Context, e *Entry, status Status, lastProcessedPK string) error {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	query := fmt.Sprintf(`
		UPDATE %s.catalog
		SET status = $1, last_processed_pk = $2, last_sync_time = now()
		WHERE schema_name = $3 AND table_name = $4 AND db_engine = $5`,
		pq.QuoteIdentifier(s.schemaName))
	_, err := s.conn.ExecContext(ctx, query, string(status), lastProcessedPK, e.SchemaName, e.TableName, string(e.DBEngine))
	if err == nil {
		e.Status = status
		e.LastProcessedPK = lastProcessedPK
	}
	return err
}

// MergeSyncMetadata atomically sets status and JSON-merges patch into
// sync_metadata via the jsonb `||` operator (spec §6), used for CDC
// last_change_id and OFFSET-strategy last_offset advances.
func (s *Store) MergeSyncMetadata(ctx context.Context, e *Entry, status Status, patch map[string]any) error {
	raw, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("marshalling sync_metadata patch: %w", err)
	}

	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	query := fmt.Sprintf(`
		UPDATE %s.catalog
		SET status = $1, sync_metadata = sync_metadata || $2::jsonb
		WHERE schema_name = $3 AND table_name = $4 AND db_engine = $5`,
		pq.QuoteIdentifier(s.schemaName))
	_, err = s.conn.ExecContext(ctx, query, string(status), string(raw), e.SchemaName, e.TableName, string(e.DBEngine))
	if err != nil {
		return err
	}

	e.Status = status
	if e.SyncMetadata == nil {
		e.SyncMetadata = map[string]any{}
	}
	for k, v := range patch {
		e.SyncMetadata[k] = v
	}
	return nil
}

// ResetForTruncate clears last_processed_pk and sync_metadata, matching
// the Step 1 truncate-on-FULL_LOAD/RESET contract (spec §4.1 Step 1).
func (s *Store) ResetForTruncate(ctx context.Context, e *Entry) error {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	query := fmt.Sprintf(`
		UPDATE %s.catalog
		SET last_processed_pk = NULL, sync_metadata = '{}'::jsonb
		WHERE schema_name = $1 AND table_name = $2 AND db_engine = $3`,
		pq.QuoteIdentifier(s.schemaName))
	_, err := s.conn.ExecContext(ctx, query, e.SchemaName, e.TableName, string(e.DBEngine))
	if err == nil {
		e.LastProcessedPK = ""
		e.SyncMetadata = map[string]any{}
	}
	return err
}
