// SPDX-License-Identifier: Apache-2.0

package mongo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCloseOnUnopenedAdapterIsNoop(t *testing.T) {
	t.Parallel()

	a := &Adapter{}
	assert.NoError(t, a.Close())
}

func TestDocumentColumnNameIsReserved(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "_document", DocumentColumn)
}
