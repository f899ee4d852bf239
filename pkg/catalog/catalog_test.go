// SPDX-License-Identifier: Apache-2.0

package catalog_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakesync/lakesync/internal/testutils"
	"github.com/lakesync/lakesync/pkg/catalog"
)

func TestMain(m *testing.M) {
	testutils.SharedTestMain(m)
}

func seedEntry(t *testing.T, conn *sql.DB, schema, table string, status catalog.Status) {
	t.Helper()
	_, err := conn.Exec(
		`INSERT INTO metadata.catalog (schema_name, table_name, db_engine, connection_string, status, pk_strategy, pk_columns)
		 VALUES ($1, $2, 'PostgreSQL', 'host=x', $3, 'PK', '{id}')`,
		schema, table, string(status))
	require.NoError(t, err)
}

func TestActiveTablesExcludesNoDataAndInactive(t *testing.T) {
	t.Parallel()

	testutils.WithCatalogAndConnectionToContainer(t, func(store *catalog.Store, conn *sql.DB) {
		ctx := context.Background()

		seedEntry(t, conn, "public", "orders", catalog.StatusFullLoad)
		seedEntry(t, conn, "public", "empty_table", catalog.StatusNoData)
		_, err := conn.Exec(`UPDATE metadata.catalog SET active = false WHERE table_name = 'empty_table'`)
		require.NoError(t, err)

		entries, err := store.ActiveTables(ctx, catalog.EnginePostgreSQL)
		require.NoError(t, err)

		require.Len(t, entries, 1)
		assert.Equal(t, "orders", entries[0].TableName)
		assert.Equal(t, []string{"id"}, entries[0].PKColumns)
	})
}

func TestUpdateCursorAdvancesStatusAndPK(t *testing.T) {
	t.Parallel()

	testutils.WithCatalogAndConnectionToContainer(t, func(store *catalog.Store, conn *sql.DB) {
		ctx := context.Background()
		seedEntry(t, conn, "public", "events", catalog.StatusFullLoad)

		entries, err := store.ActiveTables(ctx, catalog.EnginePostgreSQL)
		require.NoError(t, err)
		require.Len(t, entries, 1)

		entry := entries[0]
		err = store.UpdateCursor(ctx, entry, catalog.StatusInProgress, "42")
		require.NoError(t, err)

		assert.Equal(t, catalog.StatusInProgress, entry.Status)
		assert.Equal(t, "42", entry.LastProcessedPK)

		reloaded, err := store.ActiveTables(ctx, catalog.EnginePostgreSQL)
		require.NoError(t, err)
		require.Len(t, reloaded, 1)
		assert.Equal(t, "42", reloaded[0].LastProcessedPK)
	})
}

func TestMergeSyncMetadataPatchesJSON(t *testing.T) {
	t.Parallel()

	testutils.WithCatalogAndConnectionToContainer(t, func(store *catalog.Store, conn *sql.DB) {
		ctx := context.Background()
		seedEntry(t, conn, "public", "changes", catalog.StatusListeningChanges)

		entries, err := store.ActiveTables(ctx, catalog.EnginePostgreSQL)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		entry := entries[0]

		err = store.MergeSyncMetadata(ctx, entry, catalog.StatusListeningChanges, map[string]any{"last_change_id": float64(7)})
		require.NoError(t, err)
		assert.Equal(t, float64(7), entry.SyncMetadata["last_change_id"])

		err = store.MergeSyncMetadata(ctx, entry, catalog.StatusListeningChanges, map[string]any{"last_change_id": float64(9)})
		require.NoError(t, err)

		reloaded, err := store.ActiveTables(ctx, catalog.EnginePostgreSQL)
		require.NoError(t, err)
		require.Len(t, reloaded, 1)
		assert.Equal(t, float64(9), reloaded[0].SyncMetadata["last_change_id"])
	})
}

func TestResetForTruncateClearsCursorAndMetadata(t *testing.T) {
	t.Parallel()

	testutils.WithCatalogAndConnectionToContainer(t, func(store *catalog.Store, conn *sql.DB) {
		ctx := context.Background()
		seedEntry(t, conn, "public", "reset_me", catalog.StatusReset)

		entries, err := store.ActiveTables(ctx, catalog.EnginePostgreSQL)
		require.NoError(t, err)
		entry := entries[0]

		require.NoError(t, store.UpdateCursor(ctx, entry, catalog.StatusInProgress, "100"))
		require.NoError(t, store.ResetForTruncate(ctx, entry))

		assert.Equal(t, "", entry.LastProcessedPK)
		assert.Empty(t, entry.SyncMetadata)
	})
}
