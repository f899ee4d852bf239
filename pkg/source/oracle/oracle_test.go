// SPDX-License-Identifier: Apache-2.0

package oracle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuoteIdentifierUsesDoubleQuotesAndDoublesEmbedded(t *testing.T) {
	t.Parallel()

	a := &Adapter{}
	assert.Equal(t, `"ORDERS"`, a.QuoteIdentifier("ORDERS"))
	assert.Equal(t, `"WEIRD""NAME"`, a.QuoteIdentifier(`WEIRD"NAME`))
}

func TestPlaceholderIsNamedColonParam(t *testing.T) {
	t.Parallel()

	a := &Adapter{}
	assert.Equal(t, ":1", a.Placeholder(1))
	assert.Equal(t, ":3", a.Placeholder(3))
}

func TestPageClauseUsesRowLimitingClause(t *testing.T) {
	t.Parallel()

	a := &Adapter{}
	assert.Equal(t, "OFFSET 200 ROWS FETCH NEXT 100 ROWS ONLY", a.PageClause(100, 200))
}

func TestNaturalOrderClauseSuppliesDualOrderBy(t *testing.T) {
	t.Parallel()

	a := &Adapter{}
	assert.Equal(t, "ORDER BY (SELECT 0 FROM DUAL)", a.NaturalOrderClause())
}

func TestCloseOnUnopenedAdapterIsNoop(t *testing.T) {
	t.Parallel()

	a := &Adapter{}
	assert.NoError(t, a.Close())
}
