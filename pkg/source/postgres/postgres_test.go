// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuoteIdentifierDoublesEmbeddedQuotes(t *testing.T) {
	t.Parallel()

	a := &Adapter{}
	assert.Equal(t, `"orders"`, a.QuoteIdentifier("orders"))
	assert.Equal(t, `"weird""name"`, a.QuoteIdentifier(`weird"name`))
}

func TestPlaceholderIsPositionalDollar(t *testing.T) {
	t.Parallel()

	a := &Adapter{}
	assert.Equal(t, "$1", a.Placeholder(1))
	assert.Equal(t, "$12", a.Placeholder(12))
}

func TestPageClauseUsesLimitOffset(t *testing.T) {
	t.Parallel()

	a := &Adapter{}
	assert.Equal(t, "LIMIT 100 OFFSET 200", a.PageClause(100, 200))
}

func TestNaturalOrderClauseIsEmpty(t *testing.T) {
	t.Parallel()

	a := &Adapter{}
	assert.Equal(t, "", a.NaturalOrderClause())
}

func TestCloseOnUnopenedAdapterIsNoop(t *testing.T) {
	t.Parallel()

	a := &Adapter{}
	assert.NoError(t, a.Close())
}
