// SPDX-License-Identifier: Apache-2.0

package cdc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakesync/lakesync/pkg/logging"
)

func TestParseJSONStringMapProjectsScalars(t *testing.T) {
	t.Parallel()

	m, err := parseJSONStringMap(`{"id": 7, "name": "ada", "deleted": null}`)
	require.NoError(t, err)

	assert.Equal(t, "7", m["id"])
	assert.Equal(t, "ada", m["name"])
	assert.Equal(t, "NULL", m["deleted"])
}

func TestParseJSONStringMapHandlesEmptyAndNullSentinel(t *testing.T) {
	t.Parallel()

	m, err := parseJSONStringMap("")
	require.NoError(t, err)
	assert.Empty(t, m)

	m, err = parseJSONStringMap("NULL")
	require.NoError(t, err)
	assert.Empty(t, m)
}

func TestLookupCIIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	m := map[string]string{"ID": "1", "Name": "ada"}

	v, ok := lookupCI(m, "id")
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	v, ok = lookupCI(m, "NAME")
	assert.True(t, ok)
	assert.Equal(t, "ada", v)

	_, ok = lookupCI(m, "missing")
	assert.False(t, ok)
}

func TestContainsAllCIRequiresEveryKey(t *testing.T) {
	t.Parallel()

	m := map[string]string{"id": "1", "name": "ada"}

	assert.True(t, containsAllCI(m, []string{"ID", "Name"}))
	assert.False(t, containsAllCI(m, []string{"ID", "Email"}))
}

func TestToInt64ParsesEveryNumericKind(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int64(5), toInt64(int64(5)))
	assert.Equal(t, int64(5), toInt64(5))
	assert.Equal(t, int64(5), toInt64(5.0))
	assert.Equal(t, int64(5), toInt64("5"))
	assert.Equal(t, int64(0), toInt64(nil))
}

func TestConsumerPartitionSplitsDeletesAndUpsertsInPKOrder(t *testing.T) {
	t.Parallel()

	c := &Consumer{}
	rows := []changeRow{
		{ChangeID: 1, Operation: "I", PKValues: map[string]string{"id": "1"}},
		{ChangeID: 2, Operation: "D", PKValues: map[string]string{"ID": "2"}},
		{ChangeID: 3, Operation: "U", PKValues: map[string]string{"id": "3"}},
	}

	deletes, upserts, maxID, err := c.partition(rows, []string{"id"})
	require.NoError(t, err)

	require.Len(t, deletes, 1)
	assert.Equal(t, []string{"2"}, deletes[0])
	assert.Len(t, upserts, 2)
	assert.Equal(t, int64(3), maxID)
}

func TestConsumerPartitionLastChangeIDWinsAcrossOperationClasses(t *testing.T) {
	t.Parallel()

	c := &Consumer{logger: logging.NewNoopLogger()}
	rows := []changeRow{
		{ChangeID: 10, Operation: "I", PKValues: map[string]string{"id": "1"}, RowData: map[string]string{"id": "1"}},
		{ChangeID: 11, Operation: "D", PKValues: map[string]string{"id": "1"}},
	}

	deletes, upserts, maxID, err := c.partition(rows, []string{"id"})
	require.NoError(t, err)

	require.Len(t, deletes, 1)
	assert.Equal(t, []string{"1"}, deletes[0])
	assert.Empty(t, upserts)
	assert.Equal(t, int64(11), maxID)
}

func TestConsumerPartitionReappliesRowWhenUpdateFollowsDeleteForSamePK(t *testing.T) {
	t.Parallel()

	c := &Consumer{logger: logging.NewNoopLogger()}
	rows := []changeRow{
		{ChangeID: 20, Operation: "D", PKValues: map[string]string{"id": "1"}},
		{ChangeID: 21, Operation: "U", PKValues: map[string]string{"id": "1"}, RowData: map[string]string{"id": "1"}},
	}

	deletes, upserts, maxID, err := c.partition(rows, []string{"id"})
	require.NoError(t, err)

	assert.Empty(t, deletes)
	require.Len(t, upserts, 1)
	assert.Equal(t, int64(21), upserts[0].ChangeID)
	assert.Equal(t, int64(21), maxID)
}

func TestConsumerPartitionSkipsDeleteWithoutReconstructablePK(t *testing.T) {
	t.Parallel()

	c := &Consumer{logger: logging.NewNoopLogger()}

	rows := []changeRow{
		{ChangeID: 1, Operation: "D", PKValues: map[string]string{"other": "x"}},
	}

	deletes, _, maxID, err := c.partition(rows, []string{"id"})
	require.NoError(t, err)
	assert.Empty(t, deletes)
	assert.Equal(t, int64(1), maxID)
}
