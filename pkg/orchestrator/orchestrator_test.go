// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lakesync/lakesync/pkg/source"
)

// postgresDialect is a minimal source.Adapter stub exercising only the
// dialect helpers the pure query-building functions in this package need.
type postgresDialect struct{}

func (postgresDialect) Open(ctx context.Context, connString string) error { return nil }
func (postgresDialect) TestConnection(ctx context.Context) error         { return nil }
func (postgresDialect) ExecuteQuery(ctx context.Context, query string, args ...any) ([]source.Row, error) {
	return nil, nil
}
func (postgresDialect) Count(ctx context.Context, schema, table string) (int64, error) { return 0, nil }
func (postgresDialect) DiscoverSchema(ctx context.Context, schema, table string) ([]source.Column, error) {
	return nil, nil
}
func (postgresDialect) PrimaryKeyColumns(ctx context.Context, schema, table string) ([]string, error) {
	return nil, nil
}
func (postgresDialect) QuoteIdentifier(name string) string        { return `"` + name + `"` }
func (postgresDialect) Placeholder(n int) string                  { return fmt.Sprintf("$%d", n) }
func (postgresDialect) PageClause(limit, offset int) string       { return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset) }
func (postgresDialect) NaturalOrderClause() string                { return "" }
func (postgresDialect) Close() error                              { return nil }

func TestCursorEncodeDecode(t *testing.T) {
	assert.Equal(t, "1|2|3", encodeCursor([]string{"1", "2", "3"}))
	assert.Equal(t, []string{"1", "2", "3"}, decodeCursor("1|2|3"))
	assert.Nil(t, decodeCursor(""))
}

func TestBuildCursorWhereSingleColumn(t *testing.T) {
	clause, args, next := buildCursorWhere(postgresDialect{}, []string{"id"}, []string{"5"}, 1)

	assert.Equal(t, `("id" > $1)`, clause)
	assert.Equal(t, []any{"5"}, args)
	assert.Equal(t, 2, next)
}

func TestBuildCursorWhereCompositeColumn(t *testing.T) {
	clause, args, next := buildCursorWhere(postgresDialect{}, []string{"a", "b"}, []string{"1", "2"}, 1)

	assert.Equal(t, `("a" > $1) OR ("a" = $2 AND "b" > $3)`, clause)
	assert.Equal(t, []any{"1", "1", "2"}, args)
	assert.Equal(t, 4, next)
}

func TestBuildCursorWhereEmptyCursor(t *testing.T) {
	clause, args, next := buildCursorWhere(postgresDialect{}, []string{"id"}, nil, 1)

	assert.Equal(t, "", clause)
	assert.Nil(t, args)
	assert.Equal(t, 1, next)
}

func TestSelectQueryWithCursorAndOrder(t *testing.T) {
	query := selectQuery(postgresDialect{}, "hr", "emp", []string{"id", "name"}, `"id" > $1`, []string{"id"}, "LIMIT 2 OFFSET 0")

	assert.Equal(t, `SELECT "id", "name" FROM "hr"."emp" WHERE "id" > $1 ORDER BY "id" LIMIT 2 OFFSET 0`, query)
}

func TestIndexesOf(t *testing.T) {
	assert.Equal(t, []int{2, 0}, indexesOf([]string{"a", "b", "c"}, []string{"c", "a"}))
}

func TestToInt(t *testing.T) {
	assert.Equal(t, 0, toInt(nil))
	assert.Equal(t, 5, toInt(float64(5)))
	assert.Equal(t, 7, toInt(7))
}
