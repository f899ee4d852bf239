// SPDX-License-Identifier: Apache-2.0

// Package oracle implements the source.Adapter contract for Oracle
// sources via sijms/go-ora/v2, a pure-Go OCI-free driver.
package oracle

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	go_ora "github.com/sijms/go-ora/v2"

	"github.com/lakesync/lakesync/pkg/catalog"
	"github.com/lakesync/lakesync/pkg/dsn"
	"github.com/lakesync/lakesync/pkg/source"
	"github.com/lakesync/lakesync/pkg/synerr"
)

func init() {
	source.Register(catalog.EngineOracle, func() source.Adapter { return &Adapter{} })
}

// Adapter is the source.Adapter implementation for Oracle.
//
// Oracle's schema discovery is case-preserving and case-sensitive, unlike
// the lake-side folding the other adapters rely on (spec §9
// open question on case-folding) — DiscoverSchema and PrimaryKeyColumns
// therefore compare against schema/table names exactly as given, not
// lower-cased.
type Adapter struct {
	conn *sql.DB
}

func (a *Adapter) Open(ctx context.Context, connString string) error {
	p, err := dsn.Parse(catalog.EngineOracle, connString)
	if err != nil {
		return err
	}

	service := p.Service
	if service == "" {
		service = p.Database
	}

	oracleURL := go_ora.BuildUrl(p.Host, p.Port, service, p.User, p.Password, nil)

	conn, err := sql.Open("oracle", oracleURL)
	if err != nil {
		return &synerr.ConnectionError{Engine: "Oracle", Err: err}
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return &synerr.ConnectionError{Engine: "Oracle", Err: err}
	}

	a.conn = conn
	return nil
}

func (a *Adapter) TestConnection(ctx context.Context) error {
	var one int
	if err := a.conn.QueryRowContext(ctx, "SELECT 1 FROM DUAL").Scan(&one); err != nil {
		return &synerr.ConnectionError{Engine: "Oracle", Err: err}
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
	query := fmt.Sprintf(`SELECT COUNT(*) FROM "%s"."%s"`, schema, table)
	var n int64
	err := a.conn.QueryRowContext(ctx, query).Scan(&n)
	return source.ParseCountDefensive(n, err), nil
}

func (a *Adapter) DiscoverSchema(ctx context.Context, schema, table string) ([]source.Column, error) {
	query := `
		SELECT column_name, data_type, nullable = 'Y',
		       NVL(char_length, 0), NVL(data_precision, 0), NVL(data_scale, 0), NVL(data_default, '')
		FROM all_tab_columns
		WHERE owner = :1 AND table_name = :2
		ORDER BY column_id`

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
		SELECT cols.column_name
		FROM all_constraints cons
		JOIN all_cons_columns cols
		  ON cons.constraint_name = cols.constraint_name AND cons.owner = cols.owner
		WHERE cons.constraint_type = 'P' AND cons.owner = :1 AND cons.table_name = :2
		ORDER BY cols.position`

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

func (a *Adapter) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (a *Adapter) Placeholder(n int) string { return fmt.Sprintf(":%d", n) }

// PageClause uses the 12c+ row-limiting clause.
func (a *Adapter) PageClause(limit, offset int) string {
	return fmt.Sprintf("OFFSET %d ROWS FETCH NEXT %d ROWS ONLY", offset, limit)
}

func (a *Adapter) NaturalOrderClause() string { return "ORDER BY (SELECT 0 FROM DUAL)" }

func (a *Adapter) Close() error {
	if a.conn == nil {
		return nil
	}
	return a.conn.Close()
}
