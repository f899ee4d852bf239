// SPDX-License-Identifier: Apache-2.0

// Package postgres implements the source.Adapter contract for PostgreSQL,
// used both as a replication source and, via pkg/db, as the lake engine
// itself. It is the one adapter that needs no cross-dialect translation —
// PG talking to PG — and so doubles as the baseline the other adapters
// diverge from (spec §4.2).
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/lakesync/lakesync/pkg/catalog"
	"github.com/lakesync/lakesync/pkg/dsn"
	"github.com/lakesync/lakesync/pkg/source"
	"github.com/lakesync/lakesync/pkg/synerr"
)

func init() {
	source.Register(catalog.EnginePostgreSQL, func() source.Adapter { return &Adapter{} })
}

// Adapter is the source.Adapter implementation for PostgreSQL.
type Adapter struct {
	conn *sql.DB
}

func (a *Adapter) Open(ctx context.Context, connString string) error {
	p, err := dsn.Parse(catalog.EnginePostgreSQL, connString)
	if err != nil {
		return err
	}

	pgURL := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		p.Host, p.Port, p.Database, p.User, p.Password)

	conn, err := sql.Open("postgres", pgURL)
	if err != nil {
		return &synerr.ConnectionError{Engine: "PostgreSQL", Err: err}
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return &synerr.ConnectionError{Engine: "PostgreSQL", Err: err}
	}

	a.conn = conn
	return nil
}

func (a *Adapter) TestConnection(ctx context.Context) error {
	var one int
	if err := a.conn.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return &synerr.ConnectionError{Engine: "PostgreSQL", Err: err}
	}
	return nil
}

func (a *Adapter) ExecuteQuery(ctx context.Context, query string, args ...any) ([]source.Row, error) {
	rows, err := a.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return source.ScanRows(rows)
}

func (a *Adapter) Count(ctx context.Context, schema, table string) (int64, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s.%s", pq.QuoteIdentifier(schema), pq.QuoteIdentifier(table))
	var n int64
	err := a.conn.QueryRowContext(ctx, query).Scan(&n)
	return source.ParseCountDefensive(n, err), nil
}

func (a *Adapter) DiscoverSchema(ctx context.Context, schema, table string) ([]source.Column, error) {
	query := `
		SELECT c.column_name, c.data_type, c.is_nullable = 'YES',
		       COALESCE(c.character_maximum_length, 0),
		       COALESCE(c.numeric_precision, 0),
		       COALESCE(c.numeric_scale, 0),
		       COALESCE(c.column_default, '')
		FROM information_schema.columns c
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position`

	rows, err := a.conn.QueryContext(ctx, query, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pkCols, err := a.PrimaryKeyColumns(ctx, schema, table)
	if err != nil {
		return nil, err
	}
	pkSet := make(map[string]bool, len(pkCols))
	for _, c := range pkCols {
		pkSet[c] = true
	}

	var cols []source.Column
	for rows.Next() {
		var c source.Column
		if err := rows.Scan(&c.Name, &c.Type, &c.Nullable, &c.Length, &c.Precision, &c.Scale, &c.Default); err != nil {
			return nil, err
		}
		c.PK = pkSet[c.Name]
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func (a *Adapter) PrimaryKeyColumns(ctx context.Context, schema, table string) ([]string, error) {
	query := `
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
		WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = $1 AND tc.table_name = $2
		ORDER BY kcu.ordinal_position`

	rows, err := a.conn.QueryContext(ctx, query, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func (a *Adapter) QuoteIdentifier(name string) string { return pq.QuoteIdentifier(name) }

func (a *Adapter) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (a *Adapter) PageClause(limit, offset int) string {
	return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
}

func (a *Adapter) NaturalOrderClause() string { return "" }

func (a *Adapter) Close() error {
	if a.conn == nil {
		return nil
	}
	return a.conn.Close()
}
