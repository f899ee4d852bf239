// SPDX-License-Identifier: Apache-2.0

// Package mariadb implements the source.Adapter contract for MySQL and
// MariaDB sources via go-sql-driver/mysql.
package mariadb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"

	"github.com/lakesync/lakesync/pkg/catalog"
	"github.com/lakesync/lakesync/pkg/dsn"
	"github.com/lakesync/lakesync/pkg/source"
	"github.com/lakesync/lakesync/pkg/synerr"
)

func init() {
	source.Register(catalog.EngineMariaDB, func() source.Adapter { return &Adapter{} })
}

// Adapter is the source.Adapter implementation for MySQL/MariaDB.
type Adapter struct {
	conn *sql.DB
}

func (a *Adapter) Open(ctx context.Context, connString string) error {
	p, err := dsn.Parse(catalog.EngineMariaDB, connString)
	if err != nil {
		return err
	}

	mysqlDSN := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", p.User, p.Password, p.Host, p.Port, p.Database)

	conn, err := sql.Open("mysql", mysqlDSN)
	if err != nil {
		return &synerr.ConnectionError{Engine: "MariaDB", Err: err}
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return &synerr.ConnectionError{Engine: "MariaDB", Err: err}
	}

	a.conn = conn
	return nil
}

func (a *Adapter) TestConnection(ctx context.Context) error {
	var one int
	if err := a.conn.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return &synerr.ConnectionError{Engine: "MariaDB", Err: err}
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
	query := fmt.Sprintf("SELECT COUNT(*) FROM `%s`.`%s`", schema, table)
	var n int64
	err := a.conn.QueryRowContext(ctx, query).Scan(&n)
	return source.ParseCountDefensive(n, err), nil
}

func (a *Adapter) DiscoverSchema(ctx context.Context, schema, table string) ([]source.Column, error) {
	query := `
		SELECT column_name, data_type, is_nullable = 'YES',
		       COALESCE(character_maximum_length, 0),
		       COALESCE(numeric_precision, 0),
		       COALESCE(numeric_scale, 0),
		       COALESCE(column_default, '')
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position`

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
		SELECT column_name
		FROM information_schema.key_column_usage
		WHERE table_schema = ? AND table_name = ? AND constraint_name = 'PRIMARY'
		ORDER BY ordinal_position`

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
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (a *Adapter) Placeholder(n int) string { return "?" }

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
