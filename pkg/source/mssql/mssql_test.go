// SPDX-License-Identifier: Apache-2.0

package mssql

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuoteIdentifierUsesBracketsAndDoublesEmbedded(t *testing.T) {
	t.Parallel()

	a := &Adapter{}
	assert.Equal(t, "[orders]", a.QuoteIdentifier("orders"))
	assert.Equal(t, "[weird]]name]", a.QuoteIdentifier("weird]name"))
}

func TestPlaceholderIsNamedParam(t *testing.T) {
	t.Parallel()

	a := &Adapter{}
	assert.Equal(t, "@p1", a.Placeholder(1))
	assert.Equal(t, "@p9", a.Placeholder(9))
}

func TestPageClauseUsesOffsetFetch(t *testing.T) {
	t.Parallel()

	a := &Adapter{}
	assert.Equal(t, "OFFSET 200 ROWS FETCH NEXT 100 ROWS ONLY", a.PageClause(100, 200))
}

func TestNaturalOrderClauseSuppliesOrderByForOffsetFetch(t *testing.T) {
	t.Parallel()

	a := &Adapter{}
	assert.Equal(t, "ORDER BY (SELECT NULL)", a.NaturalOrderClause())
}

func TestCloseOnUnopenedAdapterIsNoop(t *testing.T) {
	t.Parallel()

	a := &Adapter{}
	assert.NoError(t, a.Close())
}
