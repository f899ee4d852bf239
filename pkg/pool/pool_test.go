// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakesync/lakesync/pkg/catalog"
	"github.com/lakesync/lakesync/pkg/logging"
)

func entry(schema, table string, status catalog.Status) *catalog.Entry {
	return &catalog.Entry{SchemaName: schema, TableName: table, Status: status}
}

func TestSortByPriorityOrdersClassesThenCatalogOrder(t *testing.T) {
	entries := []*catalog.Entry{
		entry("b", "z", catalog.StatusListeningChanges),
		entry("a", "a", catalog.StatusError),
		entry("a", "b", catalog.StatusReset),
		entry("a", "a", catalog.StatusFullLoad),
		entry("a", "z", catalog.StatusFullLoad),
	}

	SortByPriority(entries)

	got := make([]string, len(entries))
	for i, e := range entries {
		got[i] = e.Key()
	}
	assert.Equal(t,
		[]string{"/a.a", "/a.z", "/a.b", "/b.z", "/a.a"},
		got,
	)
}

func TestPoolRunsSubmittedTasksAndCountsOutcomes(t *testing.T) {
	var processed atomic.Int64

	p := New(context.Background(), 2, 4, func(ctx context.Context, e *catalog.Entry) error {
		processed.Add(1)
		if e.TableName == "bad" {
			return errors.New("boom")
		}
		return nil
	}, logging.NewNoopLogger(), nil)

	require.NoError(t, p.Submit(entry("s", "good", catalog.StatusFullLoad)))
	require.NoError(t, p.Submit(entry("s", "bad", catalog.StatusFullLoad)))
	require.NoError(t, p.Submit(entry("s", "good2", catalog.StatusFullLoad)))

	p.WaitForCompletion()

	assert.EqualValues(t, 3, processed.Load())
	assert.EqualValues(t, 2, p.CompletedTasks())
	assert.EqualValues(t, 1, p.FailedTasks())
	assert.EqualValues(t, 0, p.ActiveWorkers())
	assert.EqualValues(t, 0, p.PendingTasks())
}

func TestPoolSubmitAfterWaitForCompletionFails(t *testing.T) {
	p := New(context.Background(), 1, 1, func(ctx context.Context, e *catalog.Entry) error { return nil }, logging.NewNoopLogger(), nil)
	p.WaitForCompletion()

	err := p.Submit(entry("s", "t", catalog.StatusFullLoad))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPoolShutdownIsIdempotentAndUnblocksWorkers(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	p := New(context.Background(), 1, 1, func(ctx context.Context, e *catalog.Entry) error {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return ctx.Err()
	}, logging.NewNoopLogger(), nil)

	require.NoError(t, p.Submit(entry("s", "t", catalog.StatusFullLoad)))
	<-started

	done := make(chan struct{})
	go func() {
		p.Shutdown()
		p.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not return")
	}
}

func TestAcquireLeaseWithNilLeasePoolAlwaysAcquires(t *testing.T) {
	t.Parallel()

	p := &Pool{}
	release, acquired, err := p.acquireLease(context.Background(), entry("s", "t", catalog.StatusFullLoad))
	require.NoError(t, err)
	assert.True(t, acquired)
	require.NotNil(t, release)
	release()
}

func TestTableLockIDIsStablePerEntryKey(t *testing.T) {
	t.Parallel()

	a := entry("s", "t", catalog.StatusFullLoad)
	b := entry("s", "t", catalog.StatusListeningChanges)
	c := entry("s", "other", catalog.StatusFullLoad)

	assert.Equal(t, tableLockID(a), tableLockID(b))
	assert.NotEqual(t, tableLockID(a), tableLockID(c))
}
