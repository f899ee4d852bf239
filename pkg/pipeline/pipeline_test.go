// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunProcessesAllChunksAcrossWorkers(t *testing.T) {
	cfg := Config{Preparers: 3, Inserters: 3, QueueSize: 4, RetryInterval: time.Millisecond, RetryBudget: 50 * time.Millisecond}

	fetch := func(ctx context.Context, push func(DataChunk) bool) {
		for i := 0; i < 20; i++ {
			push(DataChunk{Rows: [][]string{{"a"}, {"b"}}, ChunkNo: i})
		}
	}
	prepare := func(ctx context.Context, c DataChunk) (PreparedBatch, error) {
		return PreparedBatch{Rows: make([][]any, len(c.Rows)), RowCount: len(c.Rows), ChunkNo: c.ChunkNo}, nil
	}
	insert := func(ctx context.Context, b PreparedBatch) ProcessedResult {
		return ProcessedResult{ChunkNo: b.ChunkNo, RowsProcessed: b.RowCount, OK: true}
	}

	results := Run(context.Background(), cfg, fetch, prepare, insert)

	assert.Len(t, results, 20)
	sort.Slice(results, func(i, j int) bool { return results[i].ChunkNo < results[j].ChunkNo })
	for i, r := range results {
		assert.Equal(t, i, r.ChunkNo)
		assert.True(t, r.OK)
		assert.Equal(t, 2, r.RowsProcessed)
	}
}

func TestRunReportsPrepareFailureWithoutInserting(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Preparers, cfg.Inserters = 1, 1

	fetch := func(ctx context.Context, push func(DataChunk) bool) {
		push(DataChunk{ChunkNo: 0})
		push(DataChunk{ChunkNo: 1})
	}
	prepare := func(ctx context.Context, c DataChunk) (PreparedBatch, error) {
		if c.ChunkNo == 1 {
			return PreparedBatch{}, errors.New("bad cell")
		}
		return PreparedBatch{RowCount: 1, ChunkNo: c.ChunkNo}, nil
	}
	insertCalls := 0
	insert := func(ctx context.Context, b PreparedBatch) ProcessedResult {
		insertCalls++
		return ProcessedResult{ChunkNo: b.ChunkNo, RowsProcessed: b.RowCount, OK: true}
	}

	results := Run(context.Background(), cfg, fetch, prepare, insert)

	assert.Len(t, results, 2)
	assert.Equal(t, 1, insertCalls)

	var failed, ok int
	for _, r := range results {
		if r.OK {
			ok++
		} else {
			failed++
			assert.Error(t, r.Err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, failed)
}

func TestBoundedSendDropsAfterRetryBudget(t *testing.T) {
	ch := make(chan int, 1)
	ch <- 1 // fill the queue

	cfg := Config{RetryInterval: time.Millisecond, RetryBudget: 20 * time.Millisecond}
	ok := boundedSend(context.Background(), ch, 2, cfg)

	assert.False(t, ok)
}

func TestBoundedSendSucceedsOnceRoomFrees(t *testing.T) {
	ch := make(chan int, 1)
	ch <- 1

	cfg := Config{RetryInterval: time.Millisecond, RetryBudget: time.Second}
	go func() {
		time.Sleep(5 * time.Millisecond)
		<-ch
	}()

	ok := boundedSend(context.Background(), ch, 2, cfg)
	assert.True(t, ok)
}
