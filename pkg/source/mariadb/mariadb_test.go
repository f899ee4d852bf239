// SPDX-License-Identifier: Apache-2.0

package mariadb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuoteIdentifierUsesBackticksAndDoublesEmbedded(t *testing.T) {
	t.Parallel()

	a := &Adapter{}
	assert.Equal(t, "`orders`", a.QuoteIdentifier("orders"))
	assert.Equal(t, "`weird``name`", a.QuoteIdentifier("weird`name"))
}

func TestPlaceholderIsPositionlessQuestionMark(t *testing.T) {
	t.Parallel()

	a := &Adapter{}
	assert.Equal(t, "?", a.Placeholder(1))
	assert.Equal(t, "?", a.Placeholder(7))
}

func TestPageClauseUsesLimitOffset(t *testing.T) {
	t.Parallel()

	a := &Adapter{}
	assert.Equal(t, "LIMIT 50 OFFSET 0", a.PageClause(50, 0))
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
